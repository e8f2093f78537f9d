package service

import (
	"regexp"
	"strings"
)

// Local and open-weight models leak their chain of thought as inline
// <think>/<thinking> tags instead of a separate stream. Stripping runs on
// every final reply, model-agnostic, so no thinking content reaches a
// channel. Tags inside code fences and inline code spans are literal text
// and stay.

var (
	quickTagRe    = regexp.MustCompile(`(?i)<\s*/?\s*(?:think(?:ing)?|thought|final)\b`)
	finalTagRe    = regexp.MustCompile(`(?i)<\s*/?\s*final\b[^<>]*>`)
	thinkingTagRe = regexp.MustCompile(`(?i)<\s*(/?)\s*(?:think(?:ing)?|thought)\b[^<>]*>`)
	inlineCodeRe  = regexp.MustCompile("`+[^`]+`+")
)

// StripReasoningTags removes reasoning markup from model output. <final>
// tags drop but keep their content; <think> tags drop with their content.
// An unclosed <think> swallows the rest of the text.
func StripReasoningTags(text string) string {
	if text == "" || !quickTagRe.MatchString(text) {
		return text
	}

	cleaned := text
	if finalTagRe.MatchString(cleaned) {
		code := codeSpans(cleaned)
		matches := finalTagRe.FindAllStringIndex(cleaned, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			if m := matches[i]; !insideSpan(m[0], code) {
				cleaned = cleaned[:m[0]] + cleaned[m[1]:]
			}
		}
	}

	code := codeSpans(cleaned)
	var out strings.Builder
	out.Grow(len(cleaned))

	last := 0
	inThinking := false
	for _, m := range thinkingTagRe.FindAllStringSubmatchIndex(cleaned, -1) {
		if insideSpan(m[0], code) {
			continue
		}
		closing := m[2] != m[3]
		if !inThinking {
			out.WriteString(cleaned[last:m[0]])
			if !closing {
				inThinking = true
			}
		} else if closing {
			inThinking = false
		}
		last = m[1]
	}
	if !inThinking {
		out.WriteString(cleaned[last:])
	}
	return strings.TrimSpace(out.String())
}

type span struct{ start, end int }

func insideSpan(pos int, spans []span) bool {
	for _, s := range spans {
		if pos >= s.start && pos < s.end {
			return true
		}
	}
	return false
}

// codeSpans locates fenced blocks and inline code so tag matches inside
// them can be skipped.
func codeSpans(text string) []span {
	var spans []span
	spans = append(spans, fencedBlocks(text, "```")...)
	spans = append(spans, fencedBlocks(text, "~~~")...)
	for _, m := range inlineCodeRe.FindAllStringIndex(text, -1) {
		if !insideSpan(m[0], spans) {
			spans = append(spans, span{m[0], m[1]})
		}
	}
	return spans
}

// fencedBlocks scans for fence-delimited blocks. RE2 has no backreferences,
// so this walks the text by hand. Fences count only at line starts; an
// unclosed fence runs to the end.
func fencedBlocks(text, fence string) []span {
	var spans []span
	offset := 0
	for offset < len(text) {
		idx := strings.Index(text[offset:], fence)
		if idx < 0 {
			break
		}
		start := offset + idx
		if start > 0 && text[start-1] != '\n' {
			offset = start + len(fence)
			continue
		}
		lineEnd := strings.Index(text[start:], "\n")
		if lineEnd < 0 {
			spans = append(spans, span{start, len(text)})
			break
		}
		closeIdx := closingFence(text, start+lineEnd+1, fence)
		if closeIdx < 0 {
			spans = append(spans, span{start, len(text)})
			break
		}
		end := closeIdx + len(fence)
		if nl := strings.Index(text[end:], "\n"); nl >= 0 {
			end += nl + 1
		} else {
			end = len(text)
		}
		spans = append(spans, span{start, end})
		offset = end
	}
	return spans
}

func closingFence(text string, from int, fence string) int {
	pos := from
	for pos < len(text) {
		idx := strings.Index(text[pos:], fence)
		if idx < 0 {
			return -1
		}
		cand := pos + idx
		if cand == 0 || text[cand-1] == '\n' {
			return cand
		}
		pos = cand + len(fence)
	}
	return -1
}
