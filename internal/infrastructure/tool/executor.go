package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
	"github.com/salmalm/salmalm/internal/infrastructure/persistence"
	"github.com/salmalm/salmalm/internal/infrastructure/security"
)

// pathArgNames are the argument keys treated as filesystem paths and run
// through the path policy before the handler sees them.
var pathArgNames = map[string]bool{
	"path":       true,
	"file_path":  true,
	"image_path": true,
	"audio_path": true,
	"file1":      true,
	"file2":      true,
}

// rawArgNames skip environment-expansion stripping: commands and code are
// passed through to their own guards verbatim.
var rawArgNames = map[string]bool{
	"command": true,
	"code":    true,
}

// Auditor records tool calls. The sqlite audit log implements it.
type Auditor interface {
	Append(e persistence.AuditEntry) error
}

// Executor dispatches tool calls with the gate sequence every call goes
// through: tier check, path sanitization, env-expansion stripping, timeout,
// audit. It never returns a Go error to the loop; failures come back as
// "❌ …" strings fed to the model as tool results.
type Executor struct {
	registry       *domaintool.Registry
	paths          *security.PathPolicy
	audit          Auditor
	cache          *resultCache
	logger         *zap.Logger
	defaultTimeout time.Duration
}

func NewExecutor(registry *domaintool.Registry, paths *security.PathPolicy, logger *zap.Logger) *Executor {
	return &Executor{
		registry:       registry,
		paths:          paths,
		cache:          newResultCache(30*time.Second, 100),
		logger:         logger.With(zap.String("component", "tool-executor")),
		defaultTimeout: 30 * time.Second,
	}
}

// SetAuditor wires the audit log in. Optional.
func (e *Executor) SetAuditor(a Auditor) { e.audit = a }

// SetDefaultTimeout overrides the per-call timeout used when a tool spec
// does not carry its own.
func (e *Executor) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		e.defaultTimeout = d
	}
}

// Definitions lists every registered tool. Per-call tier gating happens in
// Execute; a model may see a tool its channel cannot invoke.
func (e *Executor) Definitions() []entity.ToolDefinition {
	return e.registry.Definitions(1 << 30)
}

// Has reports whether a tool name is registered.
func (e *Executor) Has(name string) bool { return e.registry.Has(name) }

// Execute runs one tool call and returns its output string.
func (e *Executor) Execute(ctx context.Context, call entity.ToolCall, sessionID string, tier int) string {
	start := time.Now()
	out := e.run(ctx, call, tier)
	e.logCall(sessionID, call, out, time.Since(start))
	return out
}

func (e *Executor) run(ctx context.Context, call entity.ToolCall, tier int) (out string) {
	spec, ok := e.registry.Get(call.Name)
	if !ok {
		return "❌ unknown tool: " + call.Name
	}
	if tier < spec.Tier {
		return fmt.Sprintf("❌ tool %s requires permission tier %d", call.Name, spec.Tier)
	}

	args, err := e.prepareArgs(spec, call.Arguments)
	if err != nil {
		return "❌ " + err.Error()
	}

	if cacheableKind(spec.Kind) {
		if cached, hit := e.cache.get(call.Name, args); hit {
			e.logger.Debug("Tool cache hit", zap.String("tool", call.Name))
			return cached
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Tool panicked",
				zap.String("tool", call.Name), zap.Any("panic", r), zap.Stack("stack"))
			out = fmt.Sprintf("❌ tool %s crashed: %v", call.Name, r)
		}
	}()

	result, err := spec.Handler(ctx, args)
	if err != nil {
		return "❌ " + err.Error()
	}
	if cacheableKind(spec.Kind) {
		e.cache.put(call.Name, args, result)
	} else {
		e.cache.invalidate()
	}
	return result
}

// prepareArgs sanitizes path arguments and strips $VAR expansion from
// everything that is not a command or code body.
func (e *Executor) prepareArgs(spec *domaintool.Spec, in map[string]interface{}) (map[string]interface{}, error) {
	if len(in) == 1 {
		if _, malformed := in["raw"]; malformed {
			return nil, fmt.Errorf("invalid tool arguments: not valid JSON")
		}
	}
	out := make(map[string]interface{}, len(in))
	forWrite := domaintool.WriteKinds[spec.Kind]
	for key, value := range in {
		str, isString := value.(string)
		if !isString {
			out[key] = value
			continue
		}
		switch {
		case pathArgNames[key]:
			if e.paths == nil {
				return nil, fmt.Errorf("path arguments are disabled: no workspace policy")
			}
			clean, err := e.paths.Sanitize(str, forWrite)
			if err != nil {
				return nil, err
			}
			out[key] = clean
		case rawArgNames[key]:
			out[key] = str
		default:
			out[key] = security.StripEnvExpansion(str)
		}
	}
	return out, nil
}

func (e *Executor) logCall(sessionID string, call entity.ToolCall, out string, elapsed time.Duration) {
	success := !strings.HasPrefix(out, "❌")
	e.logger.Info("Tool executed",
		zap.String("tool", call.Name),
		zap.String("session", sessionID),
		zap.Bool("success", success),
		zap.Duration("elapsed", elapsed),
	)
	if e.audit == nil {
		return
	}
	entry := persistence.AuditEntry{
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		Tool:       call.Name,
		Args:       security.ScrubArgs(call.Arguments, 500),
		OK:         success,
		DurationMS: elapsed.Milliseconds(),
	}
	if err := e.audit.Append(entry); err != nil {
		e.logger.Warn("Audit append failed", zap.Error(err))
	}
}
