package service

import (
	"fmt"
	"strings"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

// internalMarkerKeys are message metadata keys that must never reach a
// provider. They are injected by memory recall, planning, and retrieval
// layers upstream of the gateway.
var internalMarkerKeys = []string{"_recall", "_plan_injected", "_rag_injected"}

// Normalize produces the canonical form of a message list for the wire:
// internal marker keys dropped, orphan tool results removed, and dangling
// tool calls on the trailing assistant turn stripped. Normalizing an
// already-normal list is a no-op, which keeps per-provider adaptation
// idempotent.
func Normalize(messages []entity.Message) []entity.Message {
	out := StripInternalMarkers(messages)
	out = FilterOrphanToolResults(out)
	return StripDanglingToolCalls(out)
}

// StripInternalMarkers removes internal marker keys from message metadata.
func StripInternalMarkers(messages []entity.Message) []entity.Message {
	out := entity.CloneMessages(messages)
	for i := range out {
		if out[i].Meta == nil {
			continue
		}
		for _, k := range internalMarkerKeys {
			delete(out[i].Meta, k)
		}
		if len(out[i].Meta) == 0 {
			out[i].Meta = nil
		}
	}
	return out
}

// FilterOrphanToolResults drops tool results whose id has no preceding
// tool_use in the sequence. Providers reject such histories; they appear
// after compaction or message editing. Both tool-role messages and
// tool_result blocks inside user turns are filtered.
func FilterOrphanToolResults(messages []entity.Message) []entity.Message {
	useIDs := make(map[string]bool)
	out := make([]entity.Message, 0, len(messages))

	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			useIDs[tc.ID] = true
		}
		for _, b := range msg.Blocks {
			if b.Type == entity.BlockToolUse && b.ID != "" {
				useIDs[b.ID] = true
			}
		}

		if msg.Role == entity.RoleTool && msg.ToolCallID != "" && !useIDs[msg.ToolCallID] {
			continue // orphan tool turn
		}

		if len(msg.Blocks) > 0 {
			kept := msg.Blocks[:0:0]
			for _, b := range msg.Blocks {
				if b.Type == entity.BlockToolResult && b.ToolUseID != "" && !useIDs[b.ToolUseID] {
					continue
				}
				kept = append(kept, b)
			}
			if len(kept) == 0 && msg.Content == "" {
				continue // message reduced to nothing
			}
			msg.Blocks = kept
		}

		out = append(out, msg)
	}
	return out
}

// StripDanglingToolCalls removes tool_calls from the last assistant turn
// when no matching results follow. This happens after an aborted turn or
// compaction; providers reject a trailing unanswered tool_use.
func StripDanglingToolCalls(messages []entity.Message) []entity.Message {
	if len(messages) == 0 {
		return messages
	}

	resultIDs := make(map[string]bool)
	for _, msg := range messages {
		if msg.Role == entity.RoleTool && msg.ToolCallID != "" {
			resultIDs[msg.ToolCallID] = true
		}
		for _, b := range msg.Blocks {
			if b.Type == entity.BlockToolResult && b.ToolUseID != "" {
				resultIDs[b.ToolUseID] = true
			}
		}
	}

	out := make([]entity.Message, len(messages))
	copy(out, messages)

	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role != entity.RoleAssistant || !out[i].HasToolCalls() {
			continue
		}
		answered := true
		for _, tc := range out[i].ToolCalls {
			if !resultIDs[tc.ID] {
				answered = false
				break
			}
		}
		for _, b := range out[i].Blocks {
			if b.Type == entity.BlockToolUse && !resultIDs[b.ID] {
				answered = false
				break
			}
		}
		if !answered {
			out[i].ToolCalls = nil
			if len(out[i].Blocks) > 0 {
				kept := out[i].Blocks[:0:0]
				for _, b := range out[i].Blocks {
					if b.Type != entity.BlockToolUse {
						kept = append(kept, b)
					}
				}
				out[i].Blocks = kept
			}
		}
		break // only the last assistant turn with tool calls can dangle
	}

	return out
}

// TruncateOutput trims tool output to maxChars, breaking at a newline when
// one falls in the final quarter, and appends a notice.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	breakAt := maxChars
	lastNewline := strings.LastIndex(output[:maxChars], "\n")
	if lastNewline > maxChars*3/4 {
		breakAt = lastNewline
	}

	truncated := output[:breakAt]
	remaining := len(output) - breakAt
	return fmt.Sprintf("%s\n\n[... truncated %d characters. Use read_file with line ranges for full content.]", truncated, remaining)
}
