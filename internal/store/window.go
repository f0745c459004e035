package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/serenity/backend/internal/config"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

// Window keeps the most recent exchanges of each session as model context.
type Window interface {
	// Append adds turn and returns the window after trimming, oldest first.
	Append(ctx context.Context, sessionID string, turn chat.Turn) ([]chat.Turn, error)
	// Load returns the current window, oldest first.
	Load(ctx context.Context, sessionID string) ([]chat.Turn, error)
	Close() error
}

// OpenWindow returns the Window selected by cfg.Driver.
func OpenWindow(ctx context.Context, cfg config.WindowConfig) (Window, error) {
	switch cfg.Driver {
	case config.WindowMemory, "":
		return NewMemoryWindow(chat.HistoryLimit, cfg.TTL), nil
	case config.WindowRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		log.Printf("[store] using redis window at %s", cfg.RedisAddr)
		return NewRedisWindow(client, chat.HistoryLimit, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported window driver %q", cfg.Driver)
	}
}

// DefaultWindowTTL 是未配置时会话窗口的空闲过期时间。
const DefaultWindowTTL = 24 * time.Hour

// MemoryWindow is a process-local Window. Sessions idle longer than ttl are
// treated as empty and swept on later appends.
type MemoryWindow struct {
	mu        sync.Mutex
	limit     int
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	sessions  map[string]*memorySession
}

type memorySession struct {
	turns   []chat.Turn
	touched time.Time
}

// NewMemoryWindow returns a MemoryWindow bounded to limit turns per session.
// A non-positive ttl falls back to DefaultWindowTTL.
func NewMemoryWindow(limit int, ttl time.Duration) *MemoryWindow {
	if ttl <= 0 {
		ttl = DefaultWindowTTL
	}
	return &MemoryWindow{
		limit:    normalizeLimit(limit, chat.HistoryLimit),
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*memorySession),
	}
}

func (w *MemoryWindow) Append(_ context.Context, sessionID string, turn chat.Turn) ([]chat.Turn, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.sweep(now)

	sess, ok := w.sessions[sessionID]
	if !ok || w.expired(sess, now) {
		sess = &memorySession{}
		w.sessions[sessionID] = sess
	}
	turns := append(sess.turns, turn)
	if len(turns) > w.limit {
		// 拷贝到新切片，避免底层数组无限增长
		turns = append([]chat.Turn(nil), turns[len(turns)-w.limit:]...)
	}
	sess.turns = turns
	sess.touched = now
	return append([]chat.Turn(nil), turns...), nil
}

func (w *MemoryWindow) Load(_ context.Context, sessionID string) ([]chat.Turn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sess, ok := w.sessions[sessionID]
	if !ok {
		return []chat.Turn{}, nil
	}
	if w.expired(sess, w.now()) {
		delete(w.sessions, sessionID)
		return []chat.Turn{}, nil
	}
	return append([]chat.Turn(nil), sess.turns...), nil
}

// Len reports how many sessions are currently held.
func (w *MemoryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

func (w *MemoryWindow) expired(sess *memorySession, now time.Time) bool {
	return now.Sub(sess.touched) > w.ttl
}

// sweep 最多每 sweepInterval 遍历一次，调用方需持有锁
func (w *MemoryWindow) sweep(now time.Time) {
	if now.Sub(w.lastSweep) < w.sweepInterval() {
		return
	}
	w.lastSweep = now
	for id, sess := range w.sessions {
		if w.expired(sess, now) {
			delete(w.sessions, id)
		}
	}
}

func (w *MemoryWindow) sweepInterval() time.Duration {
	return min(w.ttl, time.Minute)
}

func (w *MemoryWindow) Close() error { return nil }
