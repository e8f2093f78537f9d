package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
	"github.com/salmalm/salmalm/internal/infrastructure/config"
	"github.com/salmalm/salmalm/internal/infrastructure/logger"
	"github.com/salmalm/salmalm/internal/infrastructure/node"
	"github.com/salmalm/salmalm/internal/infrastructure/security"
	toolinfra "github.com/salmalm/salmalm/internal/infrastructure/tool"
)

func nodeCommand() *cobra.Command {
	var gateway, name string
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a remote tool executor that serves a gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(gateway, name)
		},
	}
	cmd.Flags().StringVar(&gateway, "gateway", "", "gateway grpc address (host:port)")
	cmd.Flags().StringVar(&name, "name", "", "node name (default hostname)")
	return cmd
}

func runNode(gateway, name string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if gateway == "" {
		gateway = cfg.Node.Gateway
	}
	if gateway == "" {
		return fmt.Errorf("no gateway address: pass --gateway or set node.gateway")
	}
	if name == "" {
		name = cfg.Node.Name
	}
	if name == "" {
		name, _ = os.Hostname()
	}

	log, err := logger.New(logger.Config{
		Level:      "info",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	workspace := filepath.Join(cfg.Home, "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	paths, err := security.NewPathPolicy(workspace, cfg.AllowHomeRead)
	if err != nil {
		return fmt.Errorf("path policy: %w", err)
	}

	registry := domaintool.NewRegistry()
	if err := toolinfra.RegisterBuiltins(registry, toolinfra.BuiltinDeps{
		Guard:   &security.ExecGuard{AllowShellOps: cfg.AllowShell},
		Sandbox: security.NewPySandbox(workspace, 45*time.Second, log),
		WorkDir: workspace,
		Logger:  log,
	}); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	executor := toolinfra.NewExecutor(registry, paths, log)
	executor.SetDefaultTimeout(cfg.Agent.ToolTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	log.Info("node starting",
		zap.String("name", name),
		zap.String("gateway", gateway),
	)
	return node.NewClient(name, gateway, executor, log).Run(ctx)
}
