package anthropic

import (
	"testing"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

func TestAdaptSystemSingleBlock(t *testing.T) {
	blocks := AdaptSystem([]entity.Message{
		{Role: entity.RoleSystem, Content: "You are SalmAlm."},
	})
	if len(blocks) != 1 {
		t.Fatalf("got %d system blocks, want 1", len(blocks))
	}
	if blocks[0].CacheControl == nil || blocks[0].CacheControl.Type != "ephemeral" {
		t.Error("single system block must carry an ephemeral cache marker")
	}
}

func TestAdaptSystemCacheBoundary(t *testing.T) {
	blocks := AdaptSystem([]entity.Message{
		{Role: entity.RoleSystem, Content: "static rules\n" + CacheBoundary + "\ndynamic context\n" + CacheBoundary + "\ntail"},
	})
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2 (split at first boundary only)", len(blocks))
	}
	if blocks[0].Text != "static rules" {
		t.Errorf("head = %q", blocks[0].Text)
	}
	// Later markers stay verbatim in the tail.
	if blocks[1].Text != "dynamic context\n"+CacheBoundary+"\ntail" {
		t.Errorf("tail = %q", blocks[1].Text)
	}
	for i, b := range blocks {
		if b.CacheControl == nil {
			t.Errorf("block %d missing cache marker", i)
		}
	}
}

func TestAdaptToolRoleBecomesUserToolResult(t *testing.T) {
	msgs := Adapt([]entity.Message{
		{Role: entity.RoleAssistant, ToolCalls: []entity.ToolCall{{ID: "tu_1", Name: "read_file"}}},
		{Role: entity.RoleTool, ToolCallID: "tu_1", Content: "file contents"},
	})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "assistant" || msgs[0].Content[0].Type != "tool_use" {
		t.Errorf("assistant turn = %+v", msgs[0])
	}
	if msgs[1].Role != "user" {
		t.Errorf("tool turn must become role user, got %s", msgs[1].Role)
	}
	b := msgs[1].Content[0]
	if b.Type != "tool_result" || b.ToolUseID != "tu_1" || b.Content != "file contents" {
		t.Errorf("tool_result block = %+v", b)
	}
}

func TestAdaptAssistantTextPrefixBeforeToolUse(t *testing.T) {
	msgs := Adapt([]entity.Message{
		{Role: entity.RoleAssistant, Content: "Let me check.", ToolCalls: []entity.ToolCall{
			{ID: "tu_1", Name: "exec", Arguments: map[string]interface{}{"command": "ls"}},
		}},
		{Role: entity.RoleTool, ToolCallID: "tu_1", Content: "ok"},
	})
	blocks := msgs[0].Content
	if len(blocks) != 2 || blocks[0].Type != "text" || blocks[1].Type != "tool_use" {
		t.Fatalf("blocks = %+v", blocks)
	}
	if blocks[1].Input["command"] != "ls" {
		t.Errorf("tool_use input = %+v", blocks[1].Input)
	}
}

func TestOrphanToolResultsDropped(t *testing.T) {
	msgs := Adapt([]entity.Message{
		{Role: entity.RoleUser, Content: "hi"},
		// Orphan: no tool_use with this id anywhere.
		{Role: entity.RoleTool, ToolCallID: "tu_ghost", Content: "stale"},
		{Role: entity.RoleAssistant, Content: "hello"},
	})
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Type == "tool_result" {
				t.Fatalf("orphan tool_result survived adaptation: %+v", b)
			}
		}
	}
}

func TestToolUseAlwaysAnsweredInvariant(t *testing.T) {
	msgs := Adapt([]entity.Message{
		{Role: entity.RoleUser, Content: "list files"},
		{Role: entity.RoleAssistant, ToolCalls: []entity.ToolCall{{ID: "a", Name: "ls"}, {ID: "b", Name: "ls"}}},
		{Role: entity.RoleTool, ToolCallID: "a", Content: "1"},
		{Role: entity.RoleTool, ToolCallID: "b", Content: "2"},
		{Role: entity.RoleAssistant, Content: "done"},
	})

	uses := map[string]int{}
	results := map[string]int{}
	for i, m := range msgs {
		for _, b := range m.Content {
			switch b.Type {
			case "tool_use":
				uses[b.ID] = i
			case "tool_result":
				results[b.ToolUseID] = i
			}
		}
	}
	for id, ui := range uses {
		ri, ok := results[id]
		if !ok {
			t.Errorf("tool_use %s has no tool_result", id)
		} else if ri <= ui {
			t.Errorf("tool_result for %s precedes its tool_use", id)
		}
	}
	for id := range results {
		if _, ok := uses[id]; !ok {
			t.Errorf("tool_result %s has no matching tool_use", id)
		}
	}
}

func TestAdaptIdempotent(t *testing.T) {
	in := []entity.Message{
		{Role: entity.RoleUser, Content: "q"},
		{Role: entity.RoleAssistant, ToolCalls: []entity.ToolCall{{ID: "x", Name: "t"}}},
		{Role: entity.RoleTool, ToolCallID: "x", Content: "r"},
	}
	first := Adapt(in)
	second := Adapt(in)
	if len(first) != len(second) {
		t.Fatal("adaptation is not deterministic")
	}
}

func TestImageBlocks(t *testing.T) {
	msgs := Adapt([]entity.Message{{
		Role: entity.RoleUser,
		Blocks: []entity.ContentBlock{
			{Type: entity.BlockText, Text: "what is this"},
			{Type: entity.BlockImage, MediaType: "image/png", Data: "aW1n"},
			{Type: entity.BlockImage, URL: "https://example.com/x.jpg"},
		},
	}})
	blocks := msgs[0].Content
	if blocks[1].Source == nil || blocks[1].Source.Type != "base64" || blocks[1].Source.MediaType != "image/png" {
		t.Errorf("base64 image = %+v", blocks[1].Source)
	}
	if blocks[2].Source == nil || blocks[2].Source.Type != "url" {
		t.Errorf("url image = %+v", blocks[2].Source)
	}
}

func TestAdaptToolsCacheMarker(t *testing.T) {
	tools := AdaptTools([]entity.ToolDefinition{
		{Name: "a"}, {Name: "b"},
	})
	if tools[0].CacheControl != nil {
		t.Error("only the last tool carries the cache marker")
	}
	if tools[1].CacheControl == nil {
		t.Error("last tool must carry the cache marker")
	}
	if tools[0].InputSchema["type"] != "object" {
		t.Error("nil schema must normalize to an object schema")
	}
}

func TestThinkingBudgets(t *testing.T) {
	tests := []struct {
		model     string
		level     string
		budget    int
		minTokens int
	}{
		{"claude-opus-4-1", "low", 4000, 8000},
		{"claude-sonnet-4-20250514", "medium", 10000, 14000},
		{"claude-opus-4-1", "xhigh", 32000, 36000},
		{"claude-3-5-haiku-20241022", "high", 0, 0}, // not opus/sonnet
		{"claude-opus-4-1", "", 0, 0},
	}
	for _, tt := range tests {
		th, min := ThinkingFor(tt.model, tt.level)
		if tt.budget == 0 {
			if th != nil {
				t.Errorf("%s/%s: thinking should not apply", tt.model, tt.level)
			}
			continue
		}
		if th == nil || th.BudgetTokens != tt.budget || th.Type != "enabled" {
			t.Errorf("%s/%s: thinking = %+v", tt.model, tt.level, th)
		}
		if min != tt.minTokens {
			t.Errorf("%s/%s: min tokens = %d, want %d", tt.model, tt.level, min, tt.minTokens)
		}
	}
}
