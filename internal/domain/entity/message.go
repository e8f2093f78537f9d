package entity

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates content blocks inside a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a multi-part message body.
// Exactly the fields for its Type are set; the rest stay zero.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image: either base64 Data+MediaType or a URL
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`

	// tool_use
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// ToolCall is a tool invocation requested by an assistant turn.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Message is one turn of the canonical conversation. Content holds plain
// text; Blocks holds an ordered multi-part body. When both are set, Blocks
// wins on the wire and Content is a plain-text projection.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Model      string         `json:"model,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`

	// Meta carries internal markers (keys starting with "_") that must be
	// stripped before a message reaches any provider.
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// NewUserMessage builds a plain-text user turn stamped with the current time.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

// NewSystemMessage builds a system turn.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// NewAssistantMessage builds an assistant turn attributed to model.
func NewAssistantMessage(text, model string) Message {
	return Message{Role: RoleAssistant, Content: text, Model: model}
}

// NewToolResultMessage builds a tool turn answering the given tool_use id.
func NewToolResultMessage(toolCallID, toolName, output string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Name: toolName, Content: output}
}

// Text returns the plain-text projection of the message body: Content when
// set, otherwise the concatenated text blocks.
func (m Message) Text() string {
	if m.Content != "" || len(m.Blocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			sb.WriteString(b.Text)
		case BlockToolResult:
			sb.WriteString(b.Content)
		}
	}
	return sb.String()
}

// HasToolCalls reports whether this assistant turn requested tools, either
// through ToolCalls or through tool_use blocks.
func (m Message) HasToolCalls() bool {
	if len(m.ToolCalls) > 0 {
		return true
	}
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// ImageBlocks returns the image blocks of the message body.
func (m Message) ImageBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockImage {
			out = append(out, b)
		}
	}
	return out
}

// CharLen is the message's contribution to session size accounting.
func (m Message) CharLen() int {
	n := len(m.Content)
	for _, b := range m.Blocks {
		n += len(b.Text) + len(b.Content) + len(b.Data)
	}
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + 32
	}
	return n
}

// CloneMessages deep-copies a message slice so callers can mutate freely.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if len(m.Blocks) > 0 {
			out[i].Blocks = append([]ContentBlock(nil), m.Blocks...)
		}
		if len(m.ToolCalls) > 0 {
			out[i].ToolCalls = make([]ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				out[i].ToolCalls[j] = tc
				if tc.Arguments != nil {
					args := make(map[string]interface{}, len(tc.Arguments))
					for k, v := range tc.Arguments {
						args[k] = v
					}
					out[i].ToolCalls[j].Arguments = args
				}
			}
		}
		if m.Meta != nil {
			meta := make(map[string]interface{}, len(m.Meta))
			for k, v := range m.Meta {
				meta[k] = v
			}
			out[i].Meta = meta
		}
	}
	return out
}
