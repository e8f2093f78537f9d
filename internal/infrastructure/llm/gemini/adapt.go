package gemini

import (
	"fmt"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

// Adapt converts canonical messages to Gemini contents. System turns demote
// to an initial user turn, tool results become functionResponse parts in a
// user turn, and consecutive same-role contents merge into one.
func Adapt(messages []entity.Message) []Content {
	var out []Content

	push := func(c Content) {
		if len(c.Parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == c.Role {
			out[n-1].Parts = append(out[n-1].Parts, c.Parts...)
			return
		}
		out = append(out, c)
	}

	for _, msg := range messages {
		switch msg.Role {
		case entity.RoleAssistant:
			c := Content{Role: "model"}
			if text := msg.Text(); text != "" {
				c.Parts = append(c.Parts, Part{Text: text})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]interface{}{}
				}
				c.Parts = append(c.Parts, Part{FunctionCall: &FunctionCall{Name: tc.Name, Args: args}})
			}
			for _, b := range msg.Blocks {
				if b.Type == entity.BlockToolUse {
					input := b.Input
					if input == nil {
						input = map[string]interface{}{}
					}
					c.Parts = append(c.Parts, Part{FunctionCall: &FunctionCall{Name: b.Name, Args: input}})
				}
			}
			push(c)

		case entity.RoleTool:
			push(Content{Role: "user", Parts: []Part{{
				FunctionResponse: &FunctionResponse{
					Name:     msg.Name,
					Response: map[string]interface{}{"output": msg.Content},
				},
			}}})

		default: // system demotes to user; user stays user
			c := Content{Role: "user"}
			if len(msg.Blocks) == 0 {
				if msg.Content != "" {
					c.Parts = append(c.Parts, Part{Text: msg.Content})
				}
			} else {
				for _, b := range msg.Blocks {
					switch b.Type {
					case entity.BlockText:
						if b.Text != "" {
							c.Parts = append(c.Parts, Part{Text: b.Text})
						}
					case entity.BlockImage:
						c.Parts = append(c.Parts, Part{InlineData: &InlineData{
							MimeType: mimeOrDefault(b.MediaType),
							Data:     b.Data,
						}})
					case entity.BlockToolResult:
						if b.Content != "" {
							c.Parts = append(c.Parts, Part{Text: b.Content})
						}
					}
				}
			}
			push(c)
		}
	}
	return out
}

func mimeOrDefault(mime string) string {
	if mime == "" {
		return "image/png"
	}
	return mime
}

// AdaptTools converts tool definitions to one declaration group.
func AdaptTools(tools []entity.ToolDefinition) []ToolDeclaration {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]FunctionDeclaration, len(tools))
	for i, td := range tools {
		decls[i] = FunctionDeclaration{
			Name:        td.Name,
			Description: td.Description,
			Parameters:  ConvertSchema(td.Parameters),
		}
	}
	return []ToolDeclaration{{FunctionDeclarations: decls}}
}

// SynthesizeCallID builds a stable id for a functionCall, which Gemini does
// not assign one to.
func SynthesizeCallID(name string, ordinal int) string {
	return fmt.Sprintf("call_%s_%d", name, ordinal)
}
