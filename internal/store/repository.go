// Package store provides persistence for users, chat turns and mood logs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrSessionRequired = errors.New("session id is required")
)

// Repository defines the persistence operations of the chat backend.
type Repository interface {
	// GetOrCreateUser returns the user for sessionID, creating it with defaults on first sight.
	GetOrCreateUser(ctx context.Context, sessionID string) (*chat.User, error)

	// AppendTurn stores one finished exchange.
	AppendTurn(ctx context.Context, turn *chat.Turn) error

	// AppendMoodLog stores one mood record.
	AppendMoodLog(ctx context.Context, log *chat.MoodLog) error

	// History returns up to limit most recent turns, oldest first.
	History(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error)

	// RecentMoodLogs returns up to limit most recent mood logs, newest first.
	RecentMoodLogs(ctx context.Context, sessionID string, limit int) ([]chat.MoodLog, error)

	// TouchActivity bumps days_active at most once per UTC day and reports whether it did.
	TouchActivity(ctx context.Context, sessionID string, now time.Time) (bool, error)

	// Profile assembles the profile read model. Returns ErrNotFound for unknown sessions.
	Profile(ctx context.Context, sessionID string) (*chat.Profile, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
