package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

// AgentLoopConfig bounds one agent turn.
type AgentLoopConfig struct {
	MaxIterations    int           // tool iterations per turn (default 10)
	TurnTimeout      time.Duration // wall clock per turn (default 180s)
	TurnCostUSD      float64       // extra spend allowed per turn, 0 disables
	MaxParallelTools int           // concurrent tool executions (default 4)
	MaxOutputChars   int           // tool output truncation (default 32000)
	Temperature      float64
}

// DefaultAgentLoopConfig returns the production defaults.
func DefaultAgentLoopConfig() AgentLoopConfig {
	return AgentLoopConfig{
		MaxIterations:    10,
		TurnTimeout:      180 * time.Second,
		MaxParallelTools: 4,
		MaxOutputChars:   32000,
		Temperature:      0.7,
	}
}

// SteerSource hands out queued steer messages at iteration boundaries. The
// message queue implements it.
type SteerSource interface {
	TakeSteer(sessionID string) (string, bool)
}

// RunOptions are per-turn knobs a channel adapter may set.
type RunOptions struct {
	ModelOverride string
	Thinking      ThinkingLevel
	Tier          int // tool permission tier for this channel
}

// EmitFunc receives turn events for live surfaces. May be nil.
type EmitFunc func(entity.AgentEvent)

// AgentLoop turns one user message into one assistant reply, dispatching
// tool calls between model iterations. All session mutation happens here,
// under the per-session serialization the queue provides.
type AgentLoop struct {
	llm      LLMCaller
	tools    ToolExecutor
	sessions SessionAccess
	abort    *AbortController
	steer    SteerSource
	cost     CostGuard
	cfg      AgentLoopConfig
	logger   *zap.Logger
}

func NewAgentLoop(llm LLMCaller, tools ToolExecutor, sessions SessionAccess, abort *AbortController, cfg AgentLoopConfig, logger *zap.Logger) *AgentLoop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 180 * time.Second
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = 4
	}
	if cfg.MaxOutputChars <= 0 {
		cfg.MaxOutputChars = 32000
	}
	return &AgentLoop{
		llm:      llm,
		tools:    tools,
		sessions: sessions,
		abort:    abort,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "agent-loop")),
	}
}

// SetSteerSource wires the message queue's steer slot in. Optional.
func (a *AgentLoop) SetSteerSource(s SteerSource) { a.steer = s }

// SetCostGuard wires the usage meter in. Optional.
func (a *AgentLoop) SetCostGuard(c CostGuard) { a.cost = c }

// Run executes one turn and returns the final assistant text. Events stream
// to emit while the turn runs; the reply is also persisted to the session
// before Run returns.
func (a *AgentLoop) Run(ctx context.Context, sessionID, userText string, opts RunOptions, emit EmitFunc) (string, error) {
	if emit == nil {
		emit = func(entity.AgentEvent) {}
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.TurnTimeout)
	defer cancel()

	a.abort.Clear(sessionID)

	sess, err := a.sessions.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	a.logger.Info("Turn started",
		zap.String("session", sessionID),
		zap.String("trace", TraceIDFromContext(ctx)),
	)
	sess.Append(entity.NewUserMessage(userText))

	model := opts.ModelOverride
	if model == "" {
		model = sess.ModelOverride
	}

	startCost := 0.0
	if a.cost != nil {
		startCost = a.cost.TotalCostUSD()
	}

	toolDefs := a.tools.Definitions()
	compacted := false

	for iter := 1; iter <= a.cfg.MaxIterations; iter++ {
		if stop, text := a.checkBoundary(ctx, sess, startCost, emit); stop {
			return text, a.sessions.Persist(context.WithoutCancel(ctx), sess)
		}
		if a.steer != nil {
			if text, ok := a.steer.TakeSteer(sessionID); ok {
				a.logger.Info("Steer injected", zap.String("session", sessionID))
				sess.Append(entity.NewUserMessage(text))
			}
		}

		a.abort.StartStreaming(sessionID)
		req := &LLMRequest{
			SessionID:   sessionID,
			Model:       model,
			Messages:    sess.Messages,
			Tools:       toolDefs,
			Temperature: a.cfg.Temperature,
			Thinking:    opts.Thinking,
		}
		streamCtx, stopStream := context.WithCancel(ctx)
		result, err := a.llm.Stream(streamCtx, req, func(ev StreamEvent) {
			switch ev.Type {
			case StreamTextDelta:
				a.abort.AccumulateToken(sessionID, ev.Text)
				if a.abort.IsAborted(sessionID) {
					stopStream()
					return
				}
				emit(entity.AgentEvent{Type: entity.EventTextDelta, SessionID: sessionID, Content: ev.Text})
			case StreamThinkingDelta:
				emit(entity.AgentEvent{Type: entity.EventThinking, SessionID: sessionID, Content: ev.Text})
			case StreamToolUseStart:
				emit(entity.AgentEvent{Type: entity.EventStatus, SessionID: sessionID,
					Content: "calling " + ev.ToolName})
			}
		})
		stopStream()
		if a.abort.IsAborted(sessionID) {
			// A mid-stream abort keeps the frozen partial; the rest of the
			// reply and any tool calls are discarded.
			text := a.abort.GetPartial(sessionID)
			if text == "" {
				text = "(aborted)"
			}
			finalModel := ""
			if result != nil {
				finalModel = result.Model
			}
			return a.finish(ctx, sess, text, finalModel, emit)
		}
		if err != nil {
			emit(entity.AgentEvent{Type: entity.EventError, SessionID: sessionID, Error: err.Error()})
			return "", err
		}

		if result.Error == ResultErrTokenOverflow && !compacted {
			compacted = true
			a.logger.Warn("Prompt overflow, compacting session", zap.String("session", sessionID))
			if _, cerr := a.sessions.Compact(ctx, sess); cerr != nil {
				a.logger.Error("Compaction failed", zap.Error(cerr))
			}
			continue
		}
		if result.Failed() {
			// Soft failures carry the user-visible explanation in Content.
			return a.finish(ctx, sess, result.Content, result.Model, emit)
		}

		if len(result.ToolCalls) == 0 {
			return a.finish(ctx, sess, result.Content, result.Model, emit)
		}

		assistant := entity.Message{
			Role:      entity.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
			Model:     result.Model,
			Timestamp: time.Now(),
		}
		sess.Append(assistant)

		for _, msg := range a.executeTools(ctx, sessionID, result.ToolCalls, opts.Tier, emit) {
			sess.Append(msg)
		}
	}

	text := fmt.Sprintf("⚠️ Stopped after %d tool iterations without a final answer.", a.cfg.MaxIterations)
	return a.finish(ctx, sess, text, model, emit)
}

// checkBoundary enforces abort, wall clock, and turn cost between
// iterations. When it reports stop, the final turn is already appended.
func (a *AgentLoop) checkBoundary(ctx context.Context, sess *entity.Session, startCost float64, emit EmitFunc) (bool, string) {
	if a.abort.IsAborted(sess.ID) {
		text := a.abort.GetPartial(sess.ID)
		if text == "" {
			text = "(aborted)"
		}
		sess.Append(entity.NewAssistantMessage(text, ""))
		emit(entity.AgentEvent{Type: entity.EventDone, SessionID: sess.ID, Content: text})
		return true, text
	}
	if ctx.Err() != nil {
		text := "⚠️ Stopped: ran out of time for this turn."
		sess.Append(entity.NewAssistantMessage(text, ""))
		emit(entity.AgentEvent{Type: entity.EventDone, SessionID: sess.ID, Content: text})
		return true, text
	}
	if a.cost != nil && a.cfg.TurnCostUSD > 0 {
		if spent := a.cost.TotalCostUSD() - startCost; spent >= a.cfg.TurnCostUSD {
			text := fmt.Sprintf("⚠️ Stopped: this turn spent $%.4f, over its $%.4f budget.", spent, a.cfg.TurnCostUSD)
			sess.Append(entity.NewAssistantMessage(text, ""))
			emit(entity.AgentEvent{Type: entity.EventDone, SessionID: sess.ID, Content: text})
			return true, text
		}
	}
	return false, ""
}

// finish appends the final assistant turn, persists, and signals done.
func (a *AgentLoop) finish(ctx context.Context, sess *entity.Session, content, model string, emit EmitFunc) (string, error) {
	content = StripReasoningTags(content)
	sess.Append(entity.NewAssistantMessage(content, model))
	// Persist even when the turn deadline already fired.
	if err := a.sessions.Persist(context.WithoutCancel(ctx), sess); err != nil {
		a.logger.Error("Persist failed", zap.String("session", sess.ID), zap.Error(err))
		return content, err
	}
	emit(entity.AgentEvent{Type: entity.EventDone, SessionID: sess.ID, Content: content, Model: model})
	return content, nil
}

// executeTools runs the iteration's tool calls, bounded by MaxParallelTools,
// and returns the tool-result messages in call order.
func (a *AgentLoop) executeTools(ctx context.Context, sessionID string, calls []entity.ToolCall, tier int, emit EmitFunc) []entity.Message {
	outputs := make([]string, len(calls))
	durations := make([]time.Duration, len(calls))

	var wg sync.WaitGroup
	sem := make(chan struct{}, a.cfg.MaxParallelTools)
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call entity.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outputs[idx] = "❌ cancelled before execution"
				return
			}
			if a.abort.IsAborted(sessionID) {
				outputs[idx] = "❌ aborted"
				return
			}
			start := time.Now()
			out := a.tools.Execute(ctx, call, sessionID, tier)
			durations[idx] = time.Since(start)
			outputs[idx] = truncateToolOutput(out, a.cfg.MaxOutputChars)
		}(i, call)
	}
	wg.Wait()

	msgs := make([]entity.Message, 0, len(calls))
	for i, call := range calls {
		ok := !strings.HasPrefix(outputs[i], "❌")
		emit(entity.AgentEvent{
			Type:      entity.EventToolCall,
			SessionID: sessionID,
			Tool: &entity.ToolEvent{
				ID:       call.ID,
				Name:     call.Name,
				Args:     call.Arguments,
				Output:   outputs[i],
				Success:  ok,
				Duration: durations[i],
			},
		})
		msgs = append(msgs, entity.NewToolResultMessage(call.ID, call.Name, outputs[i]))
	}
	return msgs
}

// truncateToolOutput keeps head and tail of an oversized tool output so the
// model still sees how the command ended.
func truncateToolOutput(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	head := max * 2 / 3
	tail := max - head
	return s[:head] + fmt.Sprintf("\n… [%d chars truncated] …\n", len(s)-max) + s[len(s)-tail:]
}
