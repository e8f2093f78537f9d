package openai

import (
	"testing"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

func TestAdaptFlattensToolResult(t *testing.T) {
	msgs := Adapt([]entity.Message{
		{Role: entity.RoleAssistant, ToolCalls: []entity.ToolCall{{ID: "c1", Name: "exec", Arguments: map[string]interface{}{"command": "ls"}}}},
		{Role: entity.RoleTool, ToolCallID: "c1", Name: "exec", Content: "bin  etc"},
	})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Type != "function" {
		t.Errorf("assistant tool_calls = %+v", msgs[0].ToolCalls)
	}
	if msgs[0].ToolCalls[0].Function.Arguments != `{"command":"ls"}` {
		t.Errorf("arguments = %q", msgs[0].ToolCalls[0].Function.Arguments)
	}
	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "c1" || msgs[1].Content != "bin  etc" {
		t.Errorf("tool turn = %+v", msgs[1])
	}
}

func TestAdaptImagesBecomeDataURIs(t *testing.T) {
	msgs := Adapt([]entity.Message{{
		Role: entity.RoleUser,
		Blocks: []entity.ContentBlock{
			{Type: entity.BlockText, Text: "describe"},
			{Type: entity.BlockImage, MediaType: "image/jpeg", Data: "aW1n"},
		},
	}})
	parts, ok := msgs[0].Content.([]ContentPart)
	if !ok {
		t.Fatalf("content should be a part array, got %T", msgs[0].Content)
	}
	if len(parts) != 2 || parts[0].Type != "text" {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != "data:image/jpeg;base64,aW1n" {
		t.Errorf("image part = %+v", parts[1])
	}
}

func TestAdaptPlainTextStaysString(t *testing.T) {
	msgs := Adapt([]entity.Message{{Role: entity.RoleUser, Content: "hello"}})
	if s, ok := msgs[0].Content.(string); !ok || s != "hello" {
		t.Errorf("content = %#v", msgs[0].Content)
	}
}

func TestParseToolCallMalformedArguments(t *testing.T) {
	tc := ParseToolCall(ToolCall{
		ID:       "c1",
		Function: FunctionCall{Name: "write_file", Arguments: `{"path": "a.txt", trunc`},
	})
	if tc.Arguments["raw"] != `{"path": "a.txt", trunc` {
		t.Errorf("malformed arguments must wrap as raw, got %+v", tc.Arguments)
	}
}

func TestAdaptToolsEnvelope(t *testing.T) {
	tools := AdaptTools([]entity.ToolDefinition{{Name: "probe"}})
	if tools[0].Type != "function" || tools[0].Function.Name != "probe" {
		t.Errorf("tool = %+v", tools[0])
	}
	if tools[0].Function.Parameters["type"] != "object" {
		t.Error("nil schema must normalize to an object schema")
	}
}

func TestAdaptResponsesInputElidesToolMachinery(t *testing.T) {
	in := AdaptResponsesInput([]entity.Message{
		{Role: entity.RoleSystem, Content: "rules"},
		{Role: entity.RoleUser, Content: "q"},
		{Role: entity.RoleAssistant, ToolCalls: []entity.ToolCall{{ID: "x", Name: "t"}}},
		{Role: entity.RoleTool, ToolCallID: "x", Content: "result"},
	})
	if len(in) != 3 {
		t.Fatalf("got %d turns, want 3 (empty assistant turn dropped)", len(in))
	}
	if in[2].Role != "user" || in[2].Content != "result" {
		t.Errorf("tool turn must demote to user, got %+v", in[2])
	}
}
