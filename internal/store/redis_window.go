package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

const windowKeyPrefix = "serenity:window:"

// RedisWindow stores each session window in a Redis list so several API
// instances share context.
type RedisWindow struct {
	client redis.UniversalClient
	limit  int
	ttl    time.Duration
}

// NewRedisWindow wraps client. A zero ttl keeps windows forever.
func NewRedisWindow(client redis.UniversalClient, limit int, ttl time.Duration) *RedisWindow {
	return &RedisWindow{
		client: client,
		limit:  normalizeLimit(limit, chat.HistoryLimit),
		ttl:    ttl,
	}
}

func windowKey(sessionID string) string {
	return windowKeyPrefix + sessionID
}

func (w *RedisWindow) Append(ctx context.Context, sessionID string, turn chat.Turn) ([]chat.Turn, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	payload, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}

	key := windowKey(sessionID)
	var items *redis.StringSliceCmd
	_, err = w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, int64(-w.limit), -1)
		if w.ttl > 0 {
			pipe.Expire(ctx, key, w.ttl)
		}
		items = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append window: %w", err)
	}
	return decodeTurns(items.Val())
}

func (w *RedisWindow) Load(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	items, err := w.client.LRange(ctx, windowKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	return decodeTurns(items)
}

func (w *RedisWindow) Close() error {
	return w.client.Close()
}

func decodeTurns(items []string) ([]chat.Turn, error) {
	turns := make([]chat.Turn, 0, len(items))
	for _, item := range items {
		var t chat.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
