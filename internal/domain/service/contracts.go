package service

import (
	"context"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

// ThinkingLevel selects the extended-thinking budget for providers that
// support it. Empty means off.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = ""
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
	ThinkingXHigh  ThinkingLevel = "xhigh"
)

// LLMRequest is the provider-neutral request handed to the gateway.
type LLMRequest struct {
	SessionID   string
	Model       string // "provider/model-id"; empty routes via ModelRouter
	Messages    []entity.Message
	Tools       []entity.ToolDefinition
	MaxTokens   int
	Temperature float64
	Thinking    ThinkingLevel
	NoCache     bool
	Intent      string // router classification tag carried into usage records
}

// Soft-failure codes carried in LLMResult.Error. The gateway never returns a
// Go error for conditions the agent loop must react to; it returns a result
// whose Error holds one of these and whose Content is the user-visible text.
const (
	ResultErrTokenOverflow = "token_overflow"
	ResultErrCostCap       = "cost_cap"
	ResultErrKeyMissing    = "key_missing"
	ResultErrAllFailed     = "all_failed"
)

// LLMResult is the provider-neutral outcome of a gateway call.
type LLMResult struct {
	Content   string
	Thinking  string
	ToolCalls []entity.ToolCall
	Usage     entity.TokenUsage
	Model     string // "provider/model-id" that actually answered
	Cached    bool
	Error     string // soft-failure code, empty on success
}

// Failed reports whether the result carries a soft-failure code.
func (r *LLMResult) Failed() bool {
	return r.Error != ""
}

// StreamEventType tags streaming events from a provider call.
type StreamEventType string

const (
	StreamTextDelta     StreamEventType = "text_delta"
	StreamThinkingDelta StreamEventType = "thinking_delta"
	StreamToolUseStart  StreamEventType = "tool_use_start"
	StreamToolUseDelta  StreamEventType = "tool_use_delta"
	StreamToolUseEnd    StreamEventType = "tool_use_end"
	StreamMessageEnd    StreamEventType = "message_end"
	StreamError         StreamEventType = "error"
)

// StreamEvent is one provider streaming event, already normalized.
type StreamEvent struct {
	Type        StreamEventType
	Text        string           // text_delta / thinking_delta payload
	ToolID      string           // tool_use_start / tool_use_delta / tool_use_end
	ToolName    string           // tool_use_start / tool_use_end
	PartialJSON string           // tool_use_delta payload
	ToolCall    *entity.ToolCall // tool_use_end payload with parsed arguments
	Result      *LLMResult       // message_end payload
	Err         string           // error payload
}

// StreamFunc receives streaming events in provider order.
type StreamFunc func(StreamEvent)

// LLMCaller is the gateway surface the agent loop talks to.
type LLMCaller interface {
	Call(ctx context.Context, req *LLMRequest) (*LLMResult, error)
	Stream(ctx context.Context, req *LLMRequest, fn StreamFunc) (*LLMResult, error)
}

// ToolExecutor dispatches tool calls. Implementations return the tool output
// string; failures come back as "❌ …" strings, never as panics.
type ToolExecutor interface {
	Execute(ctx context.Context, call entity.ToolCall, sessionID string, tier int) string
	Definitions() []entity.ToolDefinition
	Has(name string) bool
}

// SessionAccess is the slice of the session store the agent loop needs.
type SessionAccess interface {
	Load(ctx context.Context, id string) (*entity.Session, error)
	Persist(ctx context.Context, s *entity.Session) error
	Compact(ctx context.Context, s *entity.Session) (bool, error)
}

// CostGuard snapshots and checks spend, as enforced by the usage meter.
type CostGuard interface {
	TotalCostUSD() float64
	CheckCostCap() error
}

// Notifier announces sub-agent completion back to whatever channel spawned
// it. Channel adapters implement this; the sub-agent manager stays ignorant
// of Telegram or the web UI.
type Notifier interface {
	Notify(parentSessionID, text string)
}
