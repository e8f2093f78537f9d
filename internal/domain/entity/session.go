package entity

import (
	"regexp"
	"strings"
	"time"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// lanePrefixes mark internal session lanes. External ids never carry a
// colon, so a prefixed id cannot collide with anything a caller supplies.
var lanePrefixes = []string{"agent:", "tg:", "cron:"}

// ValidSessionID reports whether id is safe as an externally supplied
// session key and a filename stem: 1-64 chars of [a-zA-Z0-9_-].
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// ValidLaneID additionally accepts internal lane ids: a reserved prefix
// followed by a valid stem. Adapters and schedulers route through this;
// external surfaces stick to ValidSessionID.
func ValidLaneID(id string) bool {
	if ValidSessionID(id) {
		return true
	}
	for _, p := range lanePrefixes {
		if rest, ok := strings.CutPrefix(id, p); ok {
			return sessionIDPattern.MatchString(rest)
		}
	}
	return false
}

// Session is the durable conversation state for one session id.
type Session struct {
	ID              string    `json:"id"`
	UserID          int64     `json:"user_id"`
	Messages        []Message `json:"messages"`
	ParentSessionID string    `json:"parent_session_id,omitempty"`
	Title           string    `json:"title,omitempty"`
	ModelOverride   string    `json:"model_override,omitempty"`
	LastActive      time.Time `json:"last_active"`
	TTSEnabled      bool      `json:"tts_enabled,omitempty"`
	TTSVoice        string    `json:"tts_voice,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionInfo is the listing projection of a session.
type SessionInfo struct {
	ID              string    `json:"id"`
	UserID          int64     `json:"user_id"`
	Title           string    `json:"title"`
	ParentSessionID string    `json:"parent_session_id,omitempty"`
	MessageCount    int       `json:"message_count"`
	LastActive      time.Time `json:"last_active"`
}

// Info derives the listing projection.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:              s.ID,
		UserID:          s.UserID,
		Title:           s.Title,
		ParentSessionID: s.ParentSessionID,
		MessageCount:    len(s.Messages),
		LastActive:      s.LastActive,
	}
}

// Append adds a message and bumps LastActive.
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.LastActive = time.Now()
}

// DeriveTitle sets Title from the first user message when unset.
func (s *Session) DeriveTitle() {
	if s.Title != "" {
		return
	}
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			t := strings.TrimSpace(m.Text())
			if len(t) > 48 {
				t = t[:48]
			}
			if t != "" {
				s.Title = t
			}
			return
		}
	}
}

// CharSize sums CharLen over all messages.
func (s *Session) CharSize() int {
	total := 0
	for _, m := range s.Messages {
		total += m.CharLen()
	}
	return total
}

// TurnPairs counts user/assistant exchanges, used by compaction thresholds
// and rollback.
func (s *Session) TurnPairs() int {
	pairs := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			pairs++
		}
	}
	return pairs
}

// IsSubAgent reports whether the session belongs to a spawned background
// agent (lane kind selection and listing filters key off this).
func (s *Session) IsSubAgent() bool {
	return IsSubAgentSession(s.ID)
}

// IsSubAgentSession reports whether a session id names a sub-agent lane.
func IsSubAgentSession(id string) bool {
	return strings.HasPrefix(id, "agent:")
}
