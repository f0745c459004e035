package chat

import (
	"fmt"
	"time"
)

// JoinDateLayout formats Profile.JoinDate.
const JoinDateLayout = "January 2006"

// User is created the first time a session id is seen.
type User struct {
	SessionID         string     `gorm:"primaryKey;size:64" bson:"_id" json:"sessionId"`
	Name              string     `gorm:"size:128;not null" bson:"name" json:"name"`
	Email             string     `gorm:"size:128" bson:"email" json:"email"`
	CreatedAt         time.Time  `bson:"created_at" json:"createdAt"`
	LastActive        *time.Time `bson:"last_active" json:"lastActive,omitempty"`
	DaysActive        int        `gorm:"not null;default:0" bson:"days_active" json:"daysActive"`
	SessionsCompleted int        `gorm:"not null;default:0" bson:"sessions_completed" json:"sessionsCompleted"`
	ProgressScore     int        `gorm:"not null;default:0" bson:"progress_score" json:"progressScore"`
}

func (User) TableName() string { return "users" }

// NewUser 按默认资料构造新用户。
func NewUser(sessionID string, now time.Time) *User {
	prefix := sessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &User{
		SessionID: sessionID,
		Name:      "Serenity User",
		Email:     fmt.Sprintf("user_%s@serenity.app", prefix),
		CreatedAt: now.UTC(),
	}
}

// ActiveOn reports whether the user was already counted active on now's UTC day.
func (u *User) ActiveOn(now time.Time) bool {
	if u.LastActive == nil {
		return false
	}
	y1, m1, d1 := u.LastActive.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Profile is the read model served by the profile endpoint.
type Profile struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	JoinDate          string `json:"joinDate"`
	SessionsCompleted int    `json:"sessionsCompleted"`
	DaysActive        int    `json:"daysActive"`
	MoodEntries       int    `json:"moodEntries"`
	Progress          int    `json:"progress"`
}

// BuildProfile assembles a Profile from a user and its mood log count.
func BuildProfile(u *User, moodEntries int) *Profile {
	joinDate := "Unknown"
	if !u.CreatedAt.IsZero() {
		joinDate = u.CreatedAt.UTC().Format(JoinDateLayout)
	}
	return &Profile{
		Name:              u.Name,
		Email:             u.Email,
		JoinDate:          joinDate,
		SessionsCompleted: u.SessionsCompleted,
		DaysActive:        u.DaysActive,
		MoodEntries:       moodEntries,
		Progress:          u.ProgressScore,
	}
}
