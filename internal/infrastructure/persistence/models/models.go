// Package models holds the gorm table definitions. Conversions to and from
// domain entities live in the repositories, not here.
package models

import "time"

// SessionModel is the durable session row. Messages serialize to JSON in
// Data; a per-session JSON snapshot on disk mirrors it.
type SessionModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	UserID        int64  `gorm:"index"`
	Title         string `gorm:"size:128"`
	ParentID      string `gorm:"size:64;index"`
	ModelOverride string `gorm:"size:128"`
	Data          string `gorm:"type:text"`
	TTSEnabled    bool
	TTSVoice      string `gorm:"size:64"`
	LastActive    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (SessionModel) TableName() string { return "sessions" }

// UsageStatModel is the per-day per-model rollup, upserted on every call.
type UsageStatModel struct {
	Day          string `gorm:"primaryKey;size:10"` // 2006-01-02
	Model        string `gorm:"primaryKey;size:128"`
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Calls        int64
	UpdatedAt    time.Time
}

func (UsageStatModel) TableName() string { return "usage_stats" }

// UsageDetailModel is one provider call.
type UsageDetailModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SessionID    string `gorm:"index;size:64"`
	Model        string `gorm:"size:128"`
	Intent       string `gorm:"size:32"`
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	CreatedAt    time.Time `gorm:"index"`
}

func (UsageDetailModel) TableName() string { return "usage_detail" }

// AlternativeModel preserves an assistant turn replaced by /chat/regenerate.
type AlternativeModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SessionID    string `gorm:"index;size:64"`
	MessageIndex int
	Content      string `gorm:"type:text"`
	Model        string `gorm:"size:128"`
	CreatedAt    time.Time
}

func (AlternativeModel) TableName() string { return "message_alternatives" }

// BookmarkModel marks a message worth finding again.
type BookmarkModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SessionID    string `gorm:"index;size:64"`
	MessageIndex int
	Note         string `gorm:"size:256"`
	CreatedAt    time.Time
}

func (BookmarkModel) TableName() string { return "bookmarks" }

// SessionGroupModel assigns a session to a named group.
type SessionGroupModel struct {
	SessionID string `gorm:"primaryKey;size:64"`
	GroupName string `gorm:"index;size:64"`
	UpdatedAt time.Time
}

func (SessionGroupModel) TableName() string { return "session_groups" }
