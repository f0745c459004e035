package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/serenity/backend/internal/analysis/mood"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/store"
	"github.com/zhouzirui/serenity/backend/internal/store/rabbitmq"
)

func TestApplyWritesUserTurnAndMoodLog(t *testing.T) {
	repo := store.NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)

	turn := chat.Turn{ID: chat.NewID(), SessionID: "s1", UserText: "I feel lonely", BotText: "I'm here.", Mood: mood.Sad, CreatedAt: at}
	if err := Apply(ctx, repo, turn); err != nil {
		t.Fatalf("Apply err: %v", err)
	}

	profile, err := repo.Profile(ctx, "s1")
	if err != nil {
		t.Fatalf("Profile err: %v", err)
	}
	if profile.DaysActive != 1 || profile.MoodEntries != 1 {
		t.Fatalf("unexpected profile %+v", profile)
	}

	history, err := repo.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 1 || history[0].BotText != "I'm here." {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestApplySkipsNeutralMoodLog(t *testing.T) {
	repo := store.NewMemoryStore()
	ctx := context.Background()

	if err := Apply(ctx, repo, chat.Turn{SessionID: "s1", UserText: "hi", BotText: "hello", Mood: mood.Neutral}); err != nil {
		t.Fatalf("Apply err: %v", err)
	}
	logs, err := repo.RecentMoodLogs(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("RecentMoodLogs err: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("expected no mood logs for neutral, got %d", len(logs))
	}
}

func TestApplyRequiresSession(t *testing.T) {
	if err := Apply(context.Background(), store.NewMemoryStore(), chat.Turn{}); !errors.Is(err, store.ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
}

func TestAsyncDrainsOnClose(t *testing.T) {
	repo := store.NewMemoryStore()
	rec := NewAsync(repo, 2, 16)

	for i := 0; i < 5; i++ {
		rec.Record(context.Background(), chat.Turn{ID: chat.NewID(), SessionID: "s1", UserText: "u", BotText: "b", Mood: mood.Anxious})
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	history, err := repo.History(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 turns after drain, got %d", len(history))
	}

	// Record after Close must not panic.
	rec.Record(context.Background(), chat.Turn{SessionID: "s1"})
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close err: %v", err)
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, body []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestQueuedPublishesAndHandlerApplies(t *testing.T) {
	pub := &fakePublisher{}
	rec := NewQueued(pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // request already finished
	rec.Record(ctx, chat.Turn{ID: chat.NewID(), SessionID: "s1", UserText: "so angry", BotText: "Let's pause.", Mood: mood.Angry})

	if len(pub.bodies) != 1 {
		t.Fatalf("expected 1 published body, got %d", len(pub.bodies))
	}

	repo := store.NewMemoryStore()
	handle := Handler(repo)
	for i := 0; i < 2; i++ {
		if err := handle(context.Background(), pub.bodies[0]); err != nil {
			t.Fatalf("handler err: %v", err)
		}
	}

	logs, err := repo.RecentMoodLogs(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("RecentMoodLogs err: %v", err)
	}
	if len(logs) != 1 || logs[0].Mood != mood.Angry {
		t.Fatalf("expected one angry log after redelivery, got %+v", logs)
	}

	if err := handle(context.Background(), []byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestHandlerMarksMalformedBodiesPermanent(t *testing.T) {
	handle := Handler(store.NewMemoryStore())

	for _, body := range []string{"not json", `{"id":"x","userText":"hi"}`} {
		err := handle(context.Background(), []byte(body))
		if !errors.Is(err, rabbitmq.ErrPermanent) {
			t.Fatalf("body %q: expected permanent error, got %v", body, err)
		}
	}
}
