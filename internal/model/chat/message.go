package chat

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zhouzirui/serenity/backend/internal/analysis/mood"
)

// HistoryLimit bounds the rolling context window in exchanges.
const HistoryLimit = 8

// TimestampLayout 为前端展示使用的时间格式。
const TimestampLayout = "15:04:05"

// Turn persists one user/bot exchange.
type Turn struct {
	ID         string     `gorm:"primaryKey;size:26" bson:"_id" json:"id"`
	SessionID  string     `gorm:"size:64;not null;index:idx_turn_session_created,priority:1" bson:"session_id" json:"sessionId"`
	UserText   string     `gorm:"type:text;not null" bson:"user_text" json:"userText"`
	BotText    string     `gorm:"type:text;not null" bson:"bot_text" json:"botText"`
	Mood       mood.Label `gorm:"size:16;not null" bson:"mood" json:"mood"`
	Suggestion string     `gorm:"type:text" bson:"suggestion,omitempty" json:"suggestion,omitempty"`
	CreatedAt  time.Time  `gorm:"index:idx_turn_session_created,priority:2" bson:"created_at" json:"createdAt"`
}

func (Turn) TableName() string { return "chat_turns" }

// HistoryEntry is one exchange as the browser sends and receives it.
type HistoryEntry struct {
	User      string     `json:"user"`
	Bot       string     `json:"bot"`
	Mood      mood.Label `json:"mood,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
}

// Entry converts a stored turn into its wire form. Timestamps display in local time.
func (t Turn) Entry() HistoryEntry {
	entry := HistoryEntry{User: t.UserText, Bot: t.BotText, Mood: t.Mood}
	if !t.CreatedAt.IsZero() {
		entry.Timestamp = t.CreatedAt.Local().Format(TimestampLayout)
	}
	return entry
}

// Entries converts turns in order.
func Entries(turns []Turn) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Entry())
	}
	return out
}

// TrimEntries 保留最近的 limit 条对话。
func TrimEntries(entries []HistoryEntry, limit int) []HistoryEntry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return entries[len(entries)-limit:]
}

// TrimTurns keeps the newest limit turns.
func TrimTurns(turns []Turn, limit int) []Turn {
	if limit <= 0 || len(turns) <= limit {
		return turns
	}
	return turns[len(turns)-limit:]
}

// NewID returns a time-sortable record identifier.
func NewID() string {
	return ulid.Make().String()
}
