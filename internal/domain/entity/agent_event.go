package entity

import "time"

// AgentEventType defines the type of event emitted during an agent turn.
type AgentEventType string

const (
	EventStatus    AgentEventType = "status"
	EventTextDelta AgentEventType = "chunk"
	EventThinking  AgentEventType = "thinking"
	EventToolCall  AgentEventType = "tool"
	EventUICommand AgentEventType = "ui_cmd"
	EventDone      AgentEventType = "done"
	EventError     AgentEventType = "error"
)

// AgentEvent is a single event in an agent turn. Channel surfaces (SSE,
// WebSocket, Telegram draft streaming, TUI) subscribe to a stream of these.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	SessionID string         `json:"session,omitempty"`
	Content   string         `json:"content,omitempty"`
	Tool      *ToolEvent     `json:"tool,omitempty"`
	Model     string         `json:"model,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToolEvent describes a tool invocation inside an agent turn.
type ToolEvent struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Args     map[string]interface{} `json:"args,omitempty"`
	Output   string                 `json:"output,omitempty"`
	Success  bool                   `json:"success"`
	Duration time.Duration          `json:"duration,omitempty"`
}

// QueuedMessage is one inbound message held in a session lane until the
// lane's delivery mode releases it.
type QueuedMessage struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	ImageRef  string    `json:"image_ref,omitempty"`
}
