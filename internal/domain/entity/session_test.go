package entity

import (
	"strings"
	"testing"
)

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"web", true},
		{"my-session_01", true},
		{strings.Repeat("a", 64), true},
		{"", false},
		{strings.Repeat("a", 65), false},
		{"has space", false},
		{"../escape", false},
		{"agent:abc", false},
		{"tg:12345", false},
		{"cron:job1", false},
	}
	for _, tt := range tests {
		if got := ValidSessionID(tt.id); got != tt.want {
			t.Errorf("ValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidLaneID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"web", true},
		{"agent:abc-123", true},
		{"tg:12345", true},
		{"cron:job1", true},
		{"agent:", false},
		{"agent:has space", false},
		{"other:abc", false},
		{"agent:nested:id", false},
	}
	for _, tt := range tests {
		if got := ValidLaneID(tt.id); got != tt.want {
			t.Errorf("ValidLaneID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
