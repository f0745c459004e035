package chat

import (
	"time"

	"github.com/zhouzirui/serenity/backend/internal/analysis/mood"
)

// MoodLog is an append-only record of a non-neutral mood.
type MoodLog struct {
	ID        string     `gorm:"primaryKey;size:26" bson:"_id" json:"id"`
	SessionID string     `gorm:"size:64;not null;index:idx_mood_session_created,priority:1" bson:"session_id" json:"sessionId"`
	Mood      mood.Label `gorm:"size:16;not null" bson:"mood" json:"mood"`
	CreatedAt time.Time  `gorm:"index:idx_mood_session_created,priority:2" bson:"created_at" json:"createdAt"`
}

func (MoodLog) TableName() string { return "mood_logs" }

// DefaultMoodLogLimit 为读取最近情绪记录的默认条数。
const DefaultMoodLogLimit = 10
