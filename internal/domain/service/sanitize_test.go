package service

import (
	"testing"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

func TestFilterOrphanToolResults(t *testing.T) {
	msgs := []entity.Message{
		{Role: entity.RoleUser, Content: "hi"},
		{Role: entity.RoleAssistant, ToolCalls: []entity.ToolCall{{ID: "call-1", Name: "exec"}}},
		{Role: entity.RoleTool, ToolCallID: "call-1", Content: "ok"},
		{Role: entity.RoleTool, ToolCallID: "call-gone", Content: "orphan"},
	}
	out := FilterOrphanToolResults(msgs)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for _, m := range out {
		if m.ToolCallID == "call-gone" {
			t.Error("orphan tool result survived")
		}
	}
}

func TestStripDanglingToolCalls(t *testing.T) {
	msgs := []entity.Message{
		{Role: entity.RoleUser, Content: "hi"},
		{Role: entity.RoleAssistant, Content: "on it", ToolCalls: []entity.ToolCall{{ID: "call-1", Name: "exec"}}},
	}
	out := StripDanglingToolCalls(msgs)
	if len(out[1].ToolCalls) != 0 {
		t.Error("unanswered trailing tool call kept")
	}

	// An answered call stays.
	answered := append(msgs, entity.Message{Role: entity.RoleTool, ToolCallID: "call-1", Content: "done"})
	out = StripDanglingToolCalls(answered)
	if len(out[1].ToolCalls) != 1 {
		t.Error("answered tool call stripped")
	}
}

func TestStripInternalMarkers(t *testing.T) {
	msgs := []entity.Message{
		{Role: entity.RoleUser, Content: "hi", Meta: map[string]interface{}{"_recall": true, "lang": "en"}},
	}
	out := StripInternalMarkers(msgs)
	if _, ok := out[0].Meta["_recall"]; ok {
		t.Error("marker survived")
	}
	if out[0].Meta["lang"] != "en" {
		t.Error("ordinary meta dropped")
	}
	// Input untouched.
	if _, ok := msgs[0].Meta["_recall"]; !ok {
		t.Error("input mutated")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	msgs := []entity.Message{
		{Role: entity.RoleUser, Content: "hi"},
		{Role: entity.RoleAssistant, ToolCalls: []entity.ToolCall{{ID: "c1", Name: "exec"}}},
		{Role: entity.RoleTool, ToolCallID: "c1", Content: "ok"},
		{Role: entity.RoleAssistant, Content: "done"},
	}
	once := Normalize(msgs)
	twice := Normalize(once)
	if len(once) != len(msgs) || len(twice) != len(once) {
		t.Fatalf("lens = %d, %d, %d", len(msgs), len(once), len(twice))
	}
}
