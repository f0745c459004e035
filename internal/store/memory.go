package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

// MemoryStore implements Repository with maps, suitable for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*chat.User
	turns map[string][]chat.Turn
	moods map[string][]chat.MoodLog
	now   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*chat.User),
		turns: make(map[string][]chat.Turn),
		moods: make(map[string][]chat.MoodLog),
		now:   time.Now,
	}
}

func (s *MemoryStore) GetOrCreateUser(_ context.Context, sessionID string) (*chat.User, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[sessionID]
	if !ok {
		u = chat.NewUser(sessionID, s.now())
		s.users[sessionID] = u
	}
	copied := *u
	return &copied, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, turn *chat.Turn) error {
	if turn == nil || turn.SessionID == "" {
		return ErrSessionRequired
	}
	if turn.ID == "" {
		turn.ID = chat.NewID()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.turns[turn.SessionID] {
		if existing.ID == turn.ID {
			return nil
		}
	}
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], *turn)
	return nil
}

func (s *MemoryStore) AppendMoodLog(_ context.Context, log *chat.MoodLog) error {
	if log == nil || log.SessionID == "" {
		return ErrSessionRequired
	}
	if log.ID == "" {
		log.ID = chat.NewID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.moods[log.SessionID] {
		if existing.ID == log.ID {
			return nil
		}
	}
	s.moods[log.SessionID] = append(s.moods[log.SessionID], *log)
	return nil
}

func (s *MemoryStore) History(_ context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	limit = normalizeLimit(limit, chat.HistoryLimit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := chat.TrimTurns(s.turns[sessionID], limit)
	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

func (s *MemoryStore) RecentMoodLogs(_ context.Context, sessionID string, limit int) ([]chat.MoodLog, error) {
	limit = normalizeLimit(limit, chat.DefaultMoodLogLimit)

	s.mu.RLock()
	logs := make([]chat.MoodLog, len(s.moods[sessionID]))
	copy(logs, s.moods[sessionID])
	s.mu.RUnlock()

	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].CreatedAt.After(logs[j].CreatedAt)
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *MemoryStore) TouchActivity(_ context.Context, sessionID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if u.ActiveOn(now) {
		return false, nil
	}

	ts := now.UTC()
	u.DaysActive++
	u.LastActive = &ts
	return true, nil
}

func (s *MemoryStore) Profile(_ context.Context, sessionID string) (*chat.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return chat.BuildProfile(u, len(s.moods[sessionID])), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
