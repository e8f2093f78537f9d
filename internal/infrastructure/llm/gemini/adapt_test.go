package gemini

import (
	"testing"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

func TestAdaptSystemDemotesToUser(t *testing.T) {
	contents := Adapt([]entity.Message{
		{Role: entity.RoleSystem, Content: "rules"},
		{Role: entity.RoleUser, Content: "question"},
	})
	// System becomes user and merges with the adjacent user turn.
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	if contents[0].Role != "user" || len(contents[0].Parts) != 2 {
		t.Errorf("merged turn = %+v", contents[0])
	}
	if contents[0].Parts[0].Text != "rules" || contents[0].Parts[1].Text != "question" {
		t.Errorf("parts = %+v", contents[0].Parts)
	}
}

func TestAdaptSameRoleMerge(t *testing.T) {
	contents := Adapt([]entity.Message{
		{Role: entity.RoleUser, Content: "a"},
		{Role: entity.RoleAssistant, Content: "b"},
		{Role: entity.RoleAssistant, Content: "c"},
		{Role: entity.RoleUser, Content: "d"},
	})
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(contents))
	}
	if contents[1].Role != "model" || len(contents[1].Parts) != 2 {
		t.Errorf("model turn = %+v", contents[1])
	}
}

func TestAdaptToolResultBecomesFunctionResponse(t *testing.T) {
	contents := Adapt([]entity.Message{
		{Role: entity.RoleAssistant, ToolCalls: []entity.ToolCall{{ID: "x", Name: "read_file", Arguments: map[string]interface{}{"path": "a"}}}},
		{Role: entity.RoleTool, ToolCallID: "x", Name: "read_file", Content: "data"},
	})
	if len(contents) != 2 {
		t.Fatalf("got %d contents, want 2", len(contents))
	}
	if contents[0].Role != "model" || contents[0].Parts[0].FunctionCall == nil {
		t.Errorf("model turn = %+v", contents[0])
	}
	fr := contents[1].Parts[0].FunctionResponse
	if contents[1].Role != "user" || fr == nil || fr.Name != "read_file" || fr.Response["output"] != "data" {
		t.Errorf("tool turn = %+v", contents[1])
	}
}

func TestAdaptImageInlineData(t *testing.T) {
	contents := Adapt([]entity.Message{{
		Role: entity.RoleUser,
		Blocks: []entity.ContentBlock{
			{Type: entity.BlockText, Text: "look"},
			{Type: entity.BlockImage, MediaType: "image/jpeg", Data: "aW1n"},
		},
	}})
	parts := contents[0].Parts
	if len(parts) != 2 || parts[1].InlineData == nil {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[1].InlineData.MimeType != "image/jpeg" || parts[1].InlineData.Data != "aW1n" {
		t.Errorf("inline data = %+v", parts[1].InlineData)
	}
}

func TestConvertSchemaNil(t *testing.T) {
	s := ConvertSchema(nil)
	if s["type"] != "object" {
		t.Errorf("schema = %+v", s)
	}
}
