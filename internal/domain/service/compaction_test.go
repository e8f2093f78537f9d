package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

func bigSession(pairs int) *entity.Session {
	s := &entity.Session{ID: "web"}
	s.Append(entity.NewSystemMessage("You are SalmAlm."))
	for i := 0; i < pairs; i++ {
		s.Append(entity.NewUserMessage(fmt.Sprintf("Question number %d. More detail follows.", i)))
		s.Append(entity.NewAssistantMessage(fmt.Sprintf("answer %d", i), "m"))
	}
	return s
}

func TestNeedsCompactionThresholds(t *testing.T) {
	if NeedsCompaction(bigSession(10)) {
		t.Error("small session should not compact")
	}
	if !NeedsCompaction(bigSession(CompactPairThreshold + 1)) {
		t.Error("pair threshold should trigger")
	}

	fat := &entity.Session{ID: "web"}
	fat.Append(entity.NewUserMessage(strings.Repeat("x", CompactSizeThreshold+1)))
	if !NeedsCompaction(fat) {
		t.Error("size threshold should trigger")
	}
}

func TestCompactKeepsAnchorsAndRecent(t *testing.T) {
	s := bigSession(130)
	before := len(s.Messages)

	if !CompactSession(context.Background(), s, nil, zap.NewNop()) {
		t.Fatal("compaction should run")
	}
	if len(s.Messages) >= before {
		t.Fatalf("compaction did not shrink: %d -> %d", before, len(s.Messages))
	}

	if s.Messages[0].Role != entity.RoleSystem || s.Messages[0].Content != "You are SalmAlm." {
		t.Error("system prompt must survive")
	}
	if s.Messages[1].Content != "Question number 0. More detail follows." {
		t.Errorf("first user turn must survive, got %q", s.Messages[1].Content)
	}

	var summary *entity.Message
	for i := range s.Messages {
		if strings.HasPrefix(s.Messages[i].Content, SummaryHeader) {
			summary = &s.Messages[i]
			break
		}
	}
	if summary == nil {
		t.Fatal("no summary message")
	}
	if summary.Role != entity.RoleSystem {
		t.Errorf("summary role = %s", summary.Role)
	}
	bullets := strings.Count(summary.Content, "\n- ")
	if bullets < 1 || bullets > 15 {
		t.Errorf("bullet count = %d", bullets)
	}

	// Most recent turn intact.
	last := s.Messages[len(s.Messages)-1]
	if last.Content != "answer 129" {
		t.Errorf("last message = %q", last.Content)
	}
}

func TestCompactBulletsAreUserFirstSentences(t *testing.T) {
	s := bigSession(130)
	CompactSession(context.Background(), s, nil, zap.NewNop())
	for _, m := range s.Messages {
		if strings.HasPrefix(m.Content, SummaryHeader) {
			if !strings.Contains(m.Content, "Question number 2.") {
				t.Errorf("summary should quote dropped user questions:\n%s", m.Content)
			}
			return
		}
	}
	t.Fatal("no summary message")
}

type fixedSummarizer struct{ bullets []string }

func (f *fixedSummarizer) Summarize(ctx context.Context, dropped []entity.Message) ([]string, error) {
	return f.bullets, nil
}

func TestCompactUsesSummarizer(t *testing.T) {
	s := bigSession(130)
	sum := &fixedSummarizer{bullets: []string{"a", "b", "c", "d", "e", "f"}}
	CompactSession(context.Background(), s, sum, zap.NewNop())
	for _, m := range s.Messages {
		if strings.HasPrefix(m.Content, SummaryHeader) {
			if !strings.Contains(m.Content, "- f") {
				t.Errorf("LLM bullets not used:\n%s", m.Content)
			}
			return
		}
	}
	t.Fatal("no summary message")
}

func TestCompactNoopWhenSmall(t *testing.T) {
	s := bigSession(5)
	if CompactSession(context.Background(), s, nil, zap.NewNop()) {
		t.Error("small session must not compact")
	}
}
