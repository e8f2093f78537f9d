package telegram

import "strings"

// MessageLimit is Telegram's hard cap on one message body.
const MessageLimit = 4096

// Chunk splits text into Telegram-sized pieces, preferring paragraph, then
// line, then sentence, then word boundaries before cutting mid-word.
func Chunk(text string) []string {
	if len(text) <= MessageLimit {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > MessageLimit {
		cut := splitPoint(remaining)
		chunks = append(chunks, strings.TrimRight(remaining[:cut], "\n "))
		remaining = strings.TrimLeft(remaining[cut:], "\n ")
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func splitPoint(text string) int {
	window := text[:MessageLimit]
	// A boundary in the first half is worse than a harder cut near the
	// limit; require the split to land past the midpoint.
	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if idx := strings.LastIndex(window, sep); idx >= MessageLimit/2 {
			return idx + len(sep)
		}
	}
	return MessageLimit
}
