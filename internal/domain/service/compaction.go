package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

// Compaction thresholds and retention. A session compacts once it crosses
// either threshold; the result keeps the system prompt, the first two user
// turns as the intent anchor, the most recent turns, and a bullet summary
// standing in for everything dropped.
const (
	CompactPairThreshold = 120
	CompactSizeThreshold = 200 * 1024
	compactKeepRecent    = 40
	compactAnchorUsers   = 2
	summaryMinBullets    = 5
	summaryMaxBullets    = 15
)

// SummaryHeader prefixes the synthetic system message produced by compaction.
const SummaryHeader = "## Conversation Summary"

// Summarizer turns a dropped message span into summary bullets. The LLM-
// backed implementation lives in the application layer; a nil Summarizer or
// a failed call falls back to deterministic extraction.
type Summarizer interface {
	Summarize(ctx context.Context, dropped []entity.Message) ([]string, error)
}

// NeedsCompaction reports whether the session has outgrown its window.
func NeedsCompaction(s *entity.Session) bool {
	return s.TurnPairs() > CompactPairThreshold || s.CharSize() > CompactSizeThreshold
}

// CompactSession shrinks the session in place. Returns true when anything
// was dropped. The caller persists.
func CompactSession(ctx context.Context, s *entity.Session, summarizer Summarizer, logger *zap.Logger) bool {
	if !NeedsCompaction(s) {
		return false
	}

	msgs := s.Messages
	keep := make([]bool, len(msgs))

	// System prompt.
	if len(msgs) > 0 && msgs[0].Role == entity.RoleSystem {
		keep[0] = true
	}

	// Intent anchor: the first two user turns.
	anchored := 0
	for i, m := range msgs {
		if anchored == compactAnchorUsers {
			break
		}
		if m.Role == entity.RoleUser {
			keep[i] = true
			anchored++
		}
	}

	// Recent window.
	start := len(msgs) - compactKeepRecent
	if start < 0 {
		start = 0
	}
	// Never start the window on a tool turn; its tool_use lives in a
	// dropped assistant message.
	for start < len(msgs) && msgs[start].Role == entity.RoleTool {
		start++
	}
	for i := start; i < len(msgs); i++ {
		keep[i] = true
	}

	var dropped []entity.Message
	for i, m := range msgs {
		if !keep[i] {
			dropped = append(dropped, m)
		}
	}
	if len(dropped) == 0 {
		return false
	}

	bullets := summarize(ctx, dropped, summarizer, logger)
	summary := entity.Message{
		Role:    entity.RoleSystem,
		Content: SummaryHeader + "\n- " + strings.Join(bullets, "\n- "),
	}

	// Rebuild: kept head, summary, kept tail.
	rebuilt := make([]entity.Message, 0, len(msgs)-len(dropped)+1)
	for i := 0; i < start; i++ {
		if keep[i] {
			rebuilt = append(rebuilt, msgs[i])
		}
	}
	rebuilt = append(rebuilt, summary)
	rebuilt = append(rebuilt, msgs[start:]...)

	if logger != nil {
		logger.Info("Session compacted",
			zap.String("session", s.ID),
			zap.Int("before", len(msgs)),
			zap.Int("after", len(rebuilt)),
			zap.Int("dropped", len(dropped)),
		)
	}
	s.Messages = rebuilt
	return true
}

func summarize(ctx context.Context, dropped []entity.Message, summarizer Summarizer, logger *zap.Logger) []string {
	if summarizer != nil {
		bullets, err := summarizer.Summarize(ctx, dropped)
		if err == nil && len(bullets) >= summaryMinBullets {
			if len(bullets) > summaryMaxBullets {
				bullets = bullets[:summaryMaxBullets]
			}
			return bullets
		}
		if err != nil && logger != nil {
			logger.Warn("Summarizer failed, extracting bullets deterministically", zap.Error(err))
		}
	}
	return extractBullets(dropped)
}

// extractBullets builds the deterministic fallback summary: the first
// sentence of each dropped user turn, capped at the bullet ceiling.
func extractBullets(dropped []entity.Message) []string {
	var bullets []string
	for _, m := range dropped {
		if m.Role != entity.RoleUser {
			continue
		}
		s := firstSentence(m.Text())
		if s == "" {
			continue
		}
		bullets = append(bullets, s)
		if len(bullets) == summaryMaxBullets {
			break
		}
	}
	if len(bullets) == 0 {
		bullets = []string{"earlier conversation omitted"}
	}
	return bullets
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	for _, sep := range []string{". ", "? ", "! ", "\n"} {
		if idx := strings.Index(text, sep); idx >= 0 {
			text = text[:idx+1]
			break
		}
	}
	text = strings.TrimSpace(text)
	if len(text) > 160 {
		text = text[:160]
	}
	return text
}
