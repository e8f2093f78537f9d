package anthropic

import (
	"strings"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

// CacheBoundary splits the merged system prompt into a two-block system with
// an ephemeral cache marker on each half. Only the first occurrence splits;
// later markers stay verbatim in the second block.
const CacheBoundary = "<!-- CACHE_BOUNDARY -->"

var ephemeral = &CacheControl{Type: "ephemeral"}

// AdaptSystem merges system-role messages into the system block array and
// places prompt-cache markers: on both halves of a boundary split, otherwise
// on the single block.
func AdaptSystem(messages []entity.Message) []SystemBlock {
	var parts []string
	for _, m := range messages {
		if m.Role == entity.RoleSystem && m.Text() != "" {
			parts = append(parts, m.Text())
		}
	}
	if len(parts) == 0 {
		return nil
	}
	merged := strings.Join(parts, "\n\n")

	if idx := strings.Index(merged, CacheBoundary); idx >= 0 {
		head := strings.TrimSpace(merged[:idx])
		tail := strings.TrimSpace(merged[idx+len(CacheBoundary):])
		return []SystemBlock{
			{Type: "text", Text: head, CacheControl: ephemeral},
			{Type: "text", Text: tail, CacheControl: ephemeral},
		}
	}
	return []SystemBlock{{Type: "text", Text: merged, CacheControl: ephemeral}}
}

// Adapt converts canonical messages (minus system turns) into Anthropic wire
// messages, then drops orphan tool_result blocks. Tool turns become user
// turns with a tool_result block; assistant tool calls become tool_use
// blocks after any text prefix.
func Adapt(messages []entity.Message) []Message {
	var out []Message
	for _, msg := range messages {
		switch msg.Role {
		case entity.RoleSystem:
			continue // carried in the top-level system field

		case entity.RoleAssistant:
			var blocks []ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, b := range msg.Blocks {
				if adapted, ok := adaptBlock(b); ok {
					blocks = append(blocks, adapted)
				}
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]interface{}{}
				}
				blocks = append(blocks, ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: args})
			}
			if len(blocks) > 0 {
				out = append(out, Message{Role: "assistant", Content: blocks})
			}

		case entity.RoleTool:
			out = append(out, Message{Role: "user", Content: []ContentBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}}})

		default: // user
			var blocks []ContentBlock
			if len(msg.Blocks) > 0 {
				for _, b := range msg.Blocks {
					if adapted, ok := adaptBlock(b); ok {
						blocks = append(blocks, adapted)
					}
				}
			} else if msg.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: msg.Content})
			}
			if len(blocks) > 0 {
				out = append(out, Message{Role: "user", Content: blocks})
			}
		}
	}
	return filterOrphans(out)
}

func adaptBlock(b entity.ContentBlock) (ContentBlock, bool) {
	switch b.Type {
	case entity.BlockText:
		return ContentBlock{Type: "text", Text: b.Text}, b.Text != ""
	case entity.BlockImage:
		src := &ImageSource{}
		if b.URL != "" {
			src.Type = "url"
			src.URL = b.URL
		} else {
			src.Type = "base64"
			src.MediaType = b.MediaType
			src.Data = b.Data
		}
		return ContentBlock{Type: "image", Source: src}, true
	case entity.BlockToolUse:
		input := b.Input
		if input == nil {
			input = map[string]interface{}{}
		}
		return ContentBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input}, true
	case entity.BlockToolResult:
		return ContentBlock{Type: "tool_result", ToolUseID: b.ToolUseID, Content: b.Content}, true
	}
	return ContentBlock{}, false
}

// filterOrphans removes tool_result blocks whose id never appeared as a
// tool_use in the adapted sequence. A message reduced to no blocks is
// dropped entirely.
func filterOrphans(messages []Message) []Message {
	useIDs := make(map[string]bool)
	for _, m := range messages {
		for _, b := range m.Content {
			if b.Type == "tool_use" {
				useIDs[b.ID] = true
			}
		}
	}

	out := messages[:0:0]
	for _, m := range messages {
		kept := m.Content[:0:0]
		for _, b := range m.Content {
			if b.Type == "tool_result" && !useIDs[b.ToolUseID] {
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			continue
		}
		m.Content = kept
		out = append(out, m)
	}
	return out
}

// AdaptTools converts tool definitions and marks the last one for prompt
// caching.
func AdaptTools(tools []entity.ToolDefinition) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, len(tools))
	for i, td := range tools {
		out[i] = Tool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: normalizeSchema(td.Parameters),
		}
	}
	out[len(out)-1].CacheControl = ephemeral
	return out
}

func normalizeSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	result := make(map[string]interface{}, len(schema)+1)
	for k, v := range schema {
		result[k] = v
	}
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result
}

// thinkingBudgets maps the requested level to a token budget. Extended
// thinking only applies to the opus and sonnet families.
var thinkingBudgets = map[string]int{
	"low":    4000,
	"medium": 10000,
	"high":   16000,
	"xhigh":  32000,
}

// ThinkingFor returns the thinking config and the minimum max_tokens for a
// model/level pair, or nil when thinking does not apply.
func ThinkingFor(model, level string) (*Thinking, int) {
	budget, ok := thinkingBudgets[level]
	if !ok {
		return nil, 0
	}
	if !strings.Contains(model, "opus") && !strings.Contains(model, "sonnet") {
		return nil, 0
	}
	return &Thinking{Type: "enabled", BudgetTokens: budget}, budget + 4000
}
