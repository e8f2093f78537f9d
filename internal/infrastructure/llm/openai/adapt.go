package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

// Adapt converts canonical messages to the chat-completions shape. List
// content flattens into a single string unless images force a part array;
// Anthropic-style image blocks become image_url parts with data URIs.
func Adapt(messages []entity.Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case entity.RoleAssistant:
			m := Message{Role: "assistant", Content: flatten(msg)}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: MarshalArguments(tc.Arguments),
					},
				})
			}
			for _, b := range msg.Blocks {
				if b.Type == entity.BlockToolUse {
					m.ToolCalls = append(m.ToolCalls, ToolCall{
						ID:   b.ID,
						Type: "function",
						Function: FunctionCall{
							Name:      b.Name,
							Arguments: MarshalArguments(b.Input),
						},
					})
				}
			}
			out = append(out, m)

		case entity.RoleTool:
			out = append(out, Message{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				Name:       msg.Name,
			})

		default: // system, user
			images := msg.ImageBlocks()
			if len(images) == 0 {
				out = append(out, Message{Role: string(msg.Role), Content: flatten(msg)})
				continue
			}
			parts := []ContentPart{}
			if text := flatten(msg); text != "" {
				parts = append(parts, ContentPart{Type: "text", Text: text})
			}
			for _, img := range images {
				parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: imageURI(img)}})
			}
			out = append(out, Message{Role: string(msg.Role), Content: parts})
		}
	}
	return out
}

// flatten joins text and tool_result blocks into one string.
func flatten(msg entity.Message) string {
	if len(msg.Blocks) == 0 {
		return msg.Content
	}
	var sb strings.Builder
	if msg.Content != "" {
		sb.WriteString(msg.Content)
	}
	for _, b := range msg.Blocks {
		switch b.Type {
		case entity.BlockText:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		case entity.BlockToolResult:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Content)
		}
	}
	return sb.String()
}

func imageURI(img entity.ContentBlock) string {
	if img.URL != "" {
		return img.URL
	}
	mime := img.MediaType
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, img.Data)
}

// AdaptTools wraps tool definitions in the {type:"function"} envelope.
func AdaptTools(tools []entity.ToolDefinition) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, len(tools))
	for i, td := range tools {
		params := td.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out[i] = Tool{Type: "function", Function: Function{
			Name:        td.Name,
			Description: td.Description,
			Parameters:  params,
		}}
	}
	return out
}

// ParseToolCall converts a wire tool call back to the canonical form.
// Malformed argument JSON is wrapped as {"raw": <text>}.
func ParseToolCall(tc ToolCall) entity.ToolCall {
	args := map[string]interface{}{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]interface{}{"raw": tc.Function.Arguments}
		}
	}
	return entity.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args}
}

// AdaptResponsesInput degrades a conversation to the /responses input shape:
// flat role+text turns, tool machinery elided.
func AdaptResponsesInput(messages []entity.Message) []ResponsesInput {
	out := make([]ResponsesInput, 0, len(messages))
	for _, msg := range messages {
		role := string(msg.Role)
		if msg.Role == entity.RoleTool {
			role = "user"
		}
		text := flatten(msg)
		if text == "" {
			continue
		}
		out = append(out, ResponsesInput{Role: role, Content: text})
	}
	return out
}
