package anthropic

// Anthropic Messages API wire types.
// Reference: https://docs.anthropic.com/en/api/messages
//
// Differences from OpenAI worth keeping in mind:
//   - message content is a list of typed blocks, not a flat string
//   - tool calls are "tool_use" blocks; results come back as "tool_result"
//     blocks inside a user turn
//   - the system prompt is a top-level array of text blocks, which is also
//     where prompt-cache markers live

// Request is the POST /v1/messages body.
type Request struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      []SystemBlock `json:"system,omitempty"`
	Messages    []Message     `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Thinking    *Thinking     `json:"thinking,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// SystemBlock is one block of the system prompt.
type SystemBlock struct {
	Type         string        `json:"type"` // "text"
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// CacheControl marks a block as a prompt-cache boundary.
type CacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

// Thinking enables extended thinking with a token budget.
type Thinking struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"` // "user" | "assistant"
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a polymorphic content element.
type ContentBlock struct {
	Type string `json:"type"` // text | image | tool_use | tool_result | thinking

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

// ImageSource carries base64 data or a URL.
type ImageSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool is a tool definition. The last tool carries a cache marker.
type Tool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	InputSchema  map[string]interface{} `json:"input_schema"`
	CacheControl *CacheControl          `json:"cache_control,omitempty"`
}

// Response is the non-streaming reply.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Usage reports token consumption including prompt-cache traffic.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// StreamEvent is one typed SSE event.
type StreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`

	ContentBlock *ContentBlock `json:"content_block,omitempty"` // content_block_start
	Delta        *DeltaBlock   `json:"delta,omitempty"`         // content_block_delta / message_delta
	Usage        *Usage        `json:"usage,omitempty"`         // message_delta
	Message      *Response     `json:"message,omitempty"`       // message_start
}

// DeltaBlock is incremental stream content.
type DeltaBlock struct {
	Type        string `json:"type"` // text_delta | input_json_delta | thinking_delta
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"` // message_delta
}
