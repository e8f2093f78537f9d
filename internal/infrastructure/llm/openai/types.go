package openai

import "encoding/json"

// OpenAI chat-completions wire types, shared by every OpenAI-compatible
// backend (OpenAI, xAI, OpenRouter, Ollama, DeepSeek, Mistral, Qwen, Meta).

// Request is the POST {base}/chat/completions body.
type Request struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Tools         []Tool         `json:"tools,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions requests usage on the final stream chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Message is one wire turn. Content is a string for plain turns or a part
// array when images are attached.
type Message struct {
	Role       string      `json:"role"`
	Content    interface{} `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	Name       string      `json:"name,omitempty"`
}

// ContentPart is one element of a multimodal content array.
type ContentPart struct {
	Type     string    `json:"type"` // "text" | "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an https or data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is a function invocation requested by the model. Arguments is a
// JSON string on the wire.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
	Index    *int         `json:"index,omitempty"` // streaming only
}

// FunctionCall is the function name plus serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool wraps a function definition.
type Tool struct {
	Type     string   `json:"type"` // "function"
	Function Function `json:"function"`
}

// Function is a function schema.
type Function struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Response is the non-streaming reply; choices[0].message carries the turn.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Error   *APIError `json:"error,omitempty"`
}

// Choice is one completion candidate.
type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant turn inside a choice.
type ChoiceMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is the error envelope some backends embed in a 200 body.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// StreamChunk is one streaming SSE data payload.
type StreamChunk struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// StreamChoice carries the delta.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// StreamDelta is the incremental content.
type StreamDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// --- /responses endpoint (reasoning models that reject chat/completions) ---

// ResponsesRequest is the POST {base}/responses body.
type ResponsesRequest struct {
	Model           string           `json:"model"`
	Input           []ResponsesInput `json:"input"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
}

// ResponsesInput is one input turn.
type ResponsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponsesReply is the /responses result envelope.
type ResponsesReply struct {
	ID     string           `json:"id"`
	Model  string           `json:"model"`
	Output []ResponsesItem  `json:"output"`
	Usage  ResponsesUsage   `json:"usage"`
	Error  *APIError        `json:"error,omitempty"`
}

// ResponsesItem is one output item; message items hold content parts.
type ResponsesItem struct {
	Type    string             `json:"type"` // "message" | "reasoning"
	Role    string             `json:"role,omitempty"`
	Content []ResponsesContent `json:"content,omitempty"`
}

// ResponsesContent is one content part of a message item.
type ResponsesContent struct {
	Type string `json:"type"` // "output_text"
	Text string `json:"text"`
}

// ResponsesUsage mirrors Usage under different key names.
type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MarshalArguments serializes a tool-call argument map for the wire.
func MarshalArguments(args map[string]interface{}) string {
	if args == nil {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
