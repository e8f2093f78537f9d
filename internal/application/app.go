// Package application wires the domain services and infrastructure into one
// running gateway and exposes the operations the channel adapters call.
package application

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/salmalm/salmalm/internal/domain/service"
	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
	"github.com/salmalm/salmalm/internal/infrastructure/cache"
	"github.com/salmalm/salmalm/internal/infrastructure/config"
	croninfra "github.com/salmalm/salmalm/internal/infrastructure/cron"
	"github.com/salmalm/salmalm/internal/infrastructure/llm"
	"github.com/salmalm/salmalm/internal/infrastructure/memory"
	"github.com/salmalm/salmalm/internal/infrastructure/monitoring"
	"github.com/salmalm/salmalm/internal/infrastructure/node"
	"github.com/salmalm/salmalm/internal/infrastructure/persistence"
	"github.com/salmalm/salmalm/internal/infrastructure/plugin"
	"github.com/salmalm/salmalm/internal/infrastructure/prompt"
	"github.com/salmalm/salmalm/internal/infrastructure/security"
	"github.com/salmalm/salmalm/internal/infrastructure/skills"
	toolinfra "github.com/salmalm/salmalm/internal/infrastructure/tool"
	"github.com/salmalm/salmalm/internal/infrastructure/usage"
	"github.com/salmalm/salmalm/internal/infrastructure/vault"
	"github.com/salmalm/salmalm/pkg/safego"
)

// App owns every long-lived component. One per process.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Vault     *vault.Vault
	Router    *service.ModelRouter
	Gateway   *llm.Gateway
	Usage     *usage.Meter
	Monitor   *monitoring.Monitor
	Sessions  *persistence.SessionStore
	Queue     *service.MessageQueue
	Abort     *service.AbortController
	Loop      *service.AgentLoop
	SubAgents *service.SubAgentManager
	Registry  *domaintool.Registry
	Tools     *toolinfra.Executor
	Memory    *memory.Store
	Skills    *skills.Loader
	Plugins   *plugin.Loader
	Prompt    *prompt.Builder
	Cron      *croninfra.Scheduler
	Audit     *persistence.AuditLog
	Nodes     *node.Server

	Alternatives *persistence.AlternativeRepo
	Bookmarks    *persistence.BookmarkRepo
	Groups       *persistence.GroupRepo

	db      *gorm.DB
	localDB *sql.DB
}

// New builds the full dependency graph. Nothing starts serving yet; Start
// launches the background pieces.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	for _, sub := range []string{"workspace", "uploads", "sessions", "memory", "skills", "plugins", "certs"} {
		if err := os.MkdirAll(filepath.Join(cfg.Home, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	a.Vault = vault.New(filepath.Join(cfg.Home, "vault"))
	if cfg.VaultPW != "" {
		if !a.Vault.Exists() {
			if err := a.Vault.Create(cfg.VaultPW); err != nil {
				return nil, err
			}
		} else if !a.Vault.Unlock(cfg.VaultPW) {
			return nil, fmt.Errorf("vault password rejected")
		}
	}

	a.Router = service.NewModelRouter(a.Vault, logger.With(zap.String("component", "router")))
	a.Monitor = monitoring.NewMonitor()

	db, err := persistence.Open(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.Usage = usage.NewMeter(cfg.LLM.CostCapUSD, persistence.NewUsageSink(db),
		logger.With(zap.String("component", "usage")))

	a.Gateway = llm.NewGateway(cfg, a.Router, a.Vault, cache.New(), a.Usage, a.Monitor,
		logger.With(zap.String("component", "gateway")))

	a.Memory, err = memory.NewStore(cfg.Home, logger.With(zap.String("component", "memory")))
	if err != nil {
		return nil, err
	}
	a.Skills = skills.NewLoader(cfg.Home, logger.With(zap.String("component", "skills")))
	if err := a.Skills.Reload(); err != nil {
		return nil, err
	}

	workspace := filepath.Join(cfg.Home, "workspace")
	a.Prompt = prompt.NewBuilder("", workspace)
	a.Prompt.SetMemory(a.Memory)
	a.Prompt.SetSkills(a.Skills)

	a.Sessions, err = persistence.NewSessionStore(db, filepath.Join(cfg.Home, "sessions"),
		a.Prompt.Build, logger.With(zap.String("component", "sessions")))
	if err != nil {
		return nil, err
	}
	a.Sessions.SetSummarizer(&llmSummarizer{gateway: a.Gateway})

	a.Abort = service.NewAbortController()
	a.Queue = service.NewMessageQueue(service.QueueOptions{
		Mode:     cfg.Queue.Mode,
		Debounce: cfg.Queue.Debounce,
		Cap:      cfg.Queue.Cap,
		Drop:     cfg.Queue.Drop,
	}, cfg.Queue.MaxConcurrent, cfg.Queue.MaxSubagent, a.Abort,
		logger.With(zap.String("component", "queue")))

	if cfg.Node.Listen != "" {
		a.Nodes = node.NewServer(filepath.Join(cfg.Home, "nodes.json"),
			logger.With(zap.String("component", "node")))
	}

	a.Registry = domaintool.NewRegistry()
	paths, err := security.NewPathPolicy(workspace, cfg.AllowHomeRead)
	if err != nil {
		return nil, err
	}
	a.Tools = toolinfra.NewExecutor(a.Registry, paths, logger.With(zap.String("component", "tools")))
	a.Tools.SetDefaultTimeout(cfg.Agent.ToolTimeout)

	a.localDB, err = persistence.OpenLocalDB(filepath.Join(cfg.Home, "salmalm.db"))
	if err != nil {
		return nil, err
	}
	a.Audit, err = persistence.NewAuditLog(a.localDB)
	if err != nil {
		return nil, err
	}
	a.Tools.SetAuditor(a.Audit)

	deps := toolinfra.BuiltinDeps{
		Guard:   &security.ExecGuard{AllowShellOps: cfg.AllowShell},
		Sandbox: security.NewPySandbox(workspace, 45*time.Second, logger),
		WorkDir: workspace,
		Logger:  logger,
	}
	if a.Nodes != nil {
		deps.Nodes = a.Nodes
	}
	if err := toolinfra.RegisterBuiltins(a.Registry, deps); err != nil {
		return nil, err
	}
	if err := toolinfra.RegisterMemoryTools(a.Registry, a.Memory); err != nil {
		return nil, err
	}

	a.Loop = service.NewAgentLoop(a.Gateway, a.Tools, a.Sessions, a.Abort, service.AgentLoopConfig{
		MaxIterations:    cfg.Agent.MaxIterations,
		TurnTimeout:      cfg.Agent.TurnTimeout,
		TurnCostUSD:      cfg.Agent.TurnBudgetUSD,
		MaxParallelTools: cfg.Agent.ToolParallel,
		MaxOutputChars:   cfg.Agent.MaxToolOutput,
		Temperature:      cfg.TempChat,
	}, logger.With(zap.String("component", "agent")))
	a.Loop.SetSteerSource(a.Queue)
	a.Loop.SetCostGuard(a.Usage)

	a.SubAgents = service.NewSubAgentManager(a.Queue, a.Loop, a.Sessions,
		logger.With(zap.String("component", "subagent")))
	if err := toolinfra.RegisterSubAgentTool(a.Registry, a.SubAgents); err != nil {
		return nil, err
	}

	a.Plugins = plugin.NewLoader(cfg.Home, a.Registry, logger.With(zap.String("component", "plugin")))
	if err := a.Plugins.Load(); err != nil {
		logger.Warn("external tool load failed", zap.Error(err))
	}

	cronStore, err := persistence.NewCronStore(a.localDB)
	if err != nil {
		return nil, err
	}
	a.Cron = croninfra.NewScheduler(cronStore, func(ctx context.Context, sessionID, text string) (string, error) {
		a.Monitor.Request("cron")
		return a.Queue.Process(ctx, sessionID, text, a.followupTurn)
	}, logger.With(zap.String("component", "cron")))

	a.Alternatives = persistence.NewAlternativeRepo(db)
	a.Bookmarks = persistence.NewBookmarkRepo(db)
	a.Groups = persistence.NewGroupRepo(db)
	return a, nil
}

// Start launches the background components: cron firing, plugin watching,
// and the node gateway listener.
func (a *App) Start(ctx context.Context) error {
	if err := a.Cron.Start(); err != nil {
		return err
	}
	if err := a.Plugins.Watch(ctx); err != nil {
		a.Logger.Warn("plugin watcher unavailable", zap.Error(err))
	}
	if a.Nodes != nil {
		safego.Go(a.Logger, "node-gateway", func() {
			if err := a.Nodes.Listen(a.Config.Node.Listen); err != nil {
				a.Logger.Error("node gateway stopped", zap.Error(err))
			}
		})
	}
	return nil
}

// Shutdown stops schedulers and closes storage.
func (a *App) Shutdown() {
	a.Cron.Stop()
	if a.Nodes != nil {
		a.Nodes.Stop()
	}
	if a.localDB != nil {
		a.localDB.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

// followupTurn is the processor used for injected messages (cron, notify):
// one merged text in, one agent turn out, no live event surface.
func (a *App) followupTurn(ctx context.Context, sessionID, text string) (string, error) {
	return a.Loop.Run(ctx, sessionID, text, service.RunOptions{Tier: 3}, nil)
}
