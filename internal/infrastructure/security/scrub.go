package security

import (
	"encoding/json"
	"regexp"
)

// credentialPattern matches credential-shaped strings: any run of 20+
// alphanumerics, underscores, or dashes. Provider keys, JWTs, and session
// tokens all fall in this class.
var credentialPattern = regexp.MustCompile(`[A-Za-z0-9_-]{20,}`)

// Scrub replaces credential-shaped substrings with ***. Every provider
// response body or tool argument that reaches a log goes through here first.
func Scrub(s string) string {
	return credentialPattern.ReplaceAllString(s, "***")
}

// ScrubArgs renders a tool-argument map as a scrubbed, size-bounded preview
// for the audit log.
func ScrubArgs(args map[string]interface{}, maxLen int) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return "<unserializable>"
	}
	preview := Scrub(string(raw))
	if maxLen > 0 && len(preview) > maxLen {
		preview = preview[:maxLen] + "…"
	}
	return preview
}
