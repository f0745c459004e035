package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/serenity/backend/internal/analysis/mood"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/store"
	"github.com/zhouzirui/serenity/backend/internal/store/rabbitmq"
)

// Recorder persists finished exchanges without holding up the request.
type Recorder interface {
	Record(ctx context.Context, turn chat.Turn)
	Close() error
}

// Apply writes one exchange: user, activity, turn, then a mood log for non-neutral moods.
func Apply(ctx context.Context, repo store.Repository, turn chat.Turn) error {
	if turn.SessionID == "" {
		return store.ErrSessionRequired
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	if _, err := repo.GetOrCreateUser(ctx, turn.SessionID); err != nil {
		return fmt.Errorf("get or create user: %w", err)
	}
	if _, err := repo.TouchActivity(ctx, turn.SessionID, turn.CreatedAt); err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	if err := repo.AppendTurn(ctx, &turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	if turn.Mood == "" || turn.Mood == mood.Neutral {
		return nil
	}
	// 与对话记录共用 ID，重试时不会重复写入
	if err := repo.AppendMoodLog(ctx, &chat.MoodLog{
		ID:        turn.ID,
		SessionID: turn.SessionID,
		Mood:      turn.Mood,
		CreatedAt: turn.CreatedAt,
	}); err != nil {
		return fmt.Errorf("append mood log: %w", err)
	}
	return nil
}

// Async applies exchanges on a bounded in-process worker pool.
type Async struct {
	repo    store.Repository
	jobs    chan chat.Turn
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync starts workers goroutines draining a queue of size buffer.
func NewAsync(repo store.Repository, workers, buffer int) *Async {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = workers
	}

	r := &Async{
		repo:    repo,
		jobs:    make(chan chat.Turn, buffer),
		timeout: 10 * time.Second,
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.work(i)
	}
	return r
}

// Record enqueues turn. It drops the exchange when the queue is full or closed.
func (r *Async) Record(_ context.Context, turn chat.Turn) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		log.Printf("[recorder] closed, dropping exchange session=%s", turn.SessionID)
		return
	}

	select {
	case r.jobs <- turn:
	default:
		log.Printf("[recorder] queue full, dropping exchange session=%s", turn.SessionID)
	}
}

// Close stops accepting exchanges and waits for queued ones to be applied.
func (r *Async) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *Async) work(workerID int) {
	defer r.wg.Done()
	for turn := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := Apply(ctx, r.repo, turn); err != nil {
			log.Printf("[recorder] worker=%d session=%s apply failed: %v", workerID, turn.SessionID, err)
		}
		cancel()
	}
}

// Publisher is the queue side of a broker connection.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
	Close() error
}

// Queued hands exchanges to a message broker; cmd/worker applies them.
type Queued struct {
	pub Publisher
}

func NewQueued(pub Publisher) *Queued {
	return &Queued{pub: pub}
}

func (q *Queued) Record(ctx context.Context, turn chat.Turn) {
	body, err := Encode(turn)
	if err != nil {
		log.Printf("[recorder] encode exchange failed: %v", err)
		return
	}
	// 请求结束后上下文会被取消，发布不应受其影响
	if err := q.pub.Publish(context.WithoutCancel(ctx), body); err != nil {
		log.Printf("[recorder] publish exchange session=%s failed: %v", turn.SessionID, err)
	}
}

func (q *Queued) Close() error {
	return q.pub.Close()
}

// Encode serializes an exchange for the broker.
func Encode(turn chat.Turn) ([]byte, error) {
	return json.Marshal(turn)
}

// Decode parses a broker message produced by Encode. Malformed bodies are
// permanent failures.
func Decode(body []byte) (chat.Turn, error) {
	var turn chat.Turn
	if err := json.Unmarshal(body, &turn); err != nil {
		return chat.Turn{}, rabbitmq.Permanent(fmt.Errorf("decode exchange: %w", err))
	}
	if turn.SessionID == "" {
		return chat.Turn{}, rabbitmq.Permanent(store.ErrSessionRequired)
	}
	return turn, nil
}

// Handler returns a broker handler applying decoded exchanges to repo.
func Handler(repo store.Repository) func(ctx context.Context, body []byte) error {
	return func(ctx context.Context, body []byte) error {
		turn, err := Decode(body)
		if err != nil {
			return err
		}
		return Apply(ctx, repo, turn)
	}
}
