package chat

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/serenity/backend/internal/analysis/mood"
	"github.com/zhouzirui/serenity/backend/internal/config"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
	"github.com/zhouzirui/serenity/backend/internal/service/ai/aitest"
	"github.com/zhouzirui/serenity/backend/internal/store"
)

type captureRecorder struct {
	mu    sync.Mutex
	turns []chat.Turn
}

func (r *captureRecorder) Record(_ context.Context, turn chat.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn)
}

func (r *captureRecorder) Close() error { return nil }

func (r *captureRecorder) Turns() []chat.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Turn(nil), r.turns...)
}

func newGenerator(t *testing.T, fake *aitest.ChatModel, stream bool) *ai.Service {
	t.Helper()
	svc, err := ai.NewServiceWithModel(context.Background(), fake, config.AIConfig{
		Provider:       config.ProviderOllama,
		Model:          "test",
		Timeout:        time.Second,
		Temperature:    0.7,
		MaxTokens:      128,
		StreamResponse: stream,
	})
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}
	return svc
}

func fixedNow() time.Time {
	return time.Date(2024, time.March, 3, 14, 5, 9, 0, time.Local)
}

func newTestService(t *testing.T, gen *ai.Service, rec *captureRecorder) *Service {
	t.Helper()
	return NewService(Dependencies{
		Generator: gen,
		Window:    store.NewMemoryWindow(chat.HistoryLimit, store.DefaultWindowTTL),
		Recorder:  rec,
		Rand:      rand.New(rand.NewSource(7)),
		Now:       fixedNow,
	})
}

func TestRespondGrowsHistory(t *testing.T) {
	svc := newTestService(t, newGenerator(t, aitest.NewChatModel("I'm listening."), false), &captureRecorder{})

	var history []chat.HistoryEntry
	for i := 1; i <= 3; i++ {
		reply := svc.Respond(context.Background(), Request{Message: "hello there", History: history})
		if len(reply.History) != i {
			t.Fatalf("request %d: expected history length %d, got %d", i, i, len(reply.History))
		}
		history = reply.History
	}
	if history[2].User != "hello there" || history[2].Bot != "I'm listening." {
		t.Fatalf("unexpected last entry %+v", history[2])
	}
}

func TestRespondHistoryBounded(t *testing.T) {
	svc := newTestService(t, newGenerator(t, aitest.NewChatModel("ok"), false), &captureRecorder{})

	history := make([]chat.HistoryEntry, 12)
	for i := range history {
		history[i] = chat.HistoryEntry{User: "u", Bot: "b"}
	}
	reply := svc.Respond(context.Background(), Request{Message: "newest", History: history})
	if len(reply.History) != chat.HistoryLimit {
		t.Fatalf("expected %d entries, got %d", chat.HistoryLimit, len(reply.History))
	}
	if reply.History[chat.HistoryLimit-1].User != "newest" {
		t.Fatalf("expected newest entry last, got %+v", reply.History[chat.HistoryLimit-1])
	}
}

func TestRespondEmptyMessage(t *testing.T) {
	rec := &captureRecorder{}
	fake := aitest.NewChatModel("unused")
	svc := newTestService(t, newGenerator(t, fake, false), rec)

	reply := svc.Respond(context.Background(), Request{Message: "   "})
	if reply.Response != EmptyMessageReply || reply.Mood != mood.Neutral {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.History == nil || len(reply.History) != 0 {
		t.Fatalf("expected empty history, got %+v", reply.History)
	}
	if len(fake.Calls()) != 0 {
		t.Fatal("expected generator not to be called")
	}
	if len(rec.Turns()) != 0 {
		t.Fatal("expected nothing recorded")
	}
}

func TestRespondFallbackOnGeneratorError(t *testing.T) {
	svc := newTestService(t, newGenerator(t, aitest.NewFailingChatModel(errors.New("offline")), false), &captureRecorder{})

	reply := svc.Respond(context.Background(), Request{Message: "hello"})
	found := false
	for _, text := range fallbackReplies {
		if reply.Response == text {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a fallback reply, got %q", reply.Response)
	}
	if reply.Mood != mood.Neutral {
		t.Fatalf("expected neutral, got %s", reply.Mood)
	}
}

func TestRespondWithoutGeneratorUsesFallback(t *testing.T) {
	svc := newTestService(t, nil, &captureRecorder{})
	reply := svc.Respond(context.Background(), Request{Message: "hello"})
	if reply.Response == "" || len(reply.History) != 1 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestRespondFormatsMoodReply(t *testing.T) {
	rec := &captureRecorder{}
	svc := newTestService(t, newGenerator(t, aitest.NewChatModel("That sounds heavy."), false), rec)

	reply := svc.Respond(context.Background(), Request{Message: "I feel very overwhelmed and sad today"})
	if reply.Mood != mood.Sad && reply.Mood != mood.Anxious {
		t.Fatalf("expected sad or anxious, got %s", reply.Mood)
	}
	if reply.Suggestion == "" {
		t.Fatal("expected a suggestion")
	}
	if reply.Triage != mood.LevelSelfCare {
		t.Fatalf("expected self-care triage, got %q", reply.Triage)
	}
	if !strings.HasSuffix(reply.Response, "That sounds heavy.") || reply.Response == "That sounds heavy." {
		t.Fatalf("expected opening before reply, got %q", reply.Response)
	}
	if reply.Timestamp != "14:05:09" {
		t.Fatalf("unexpected timestamp %q", reply.Timestamp)
	}
	if reply.SessionID == "" {
		t.Fatal("expected a session id to be issued")
	}

	turns := rec.Turns()
	if len(turns) != 1 || turns[0].SessionID != reply.SessionID || turns[0].Mood != reply.Mood {
		t.Fatalf("unexpected recorded turns %+v", turns)
	}
	if turns[0].CreatedAt.Location() != time.UTC || !turns[0].CreatedAt.Equal(fixedNow()) {
		t.Fatalf("expected UTC creation time, got %v", turns[0].CreatedAt)
	}
	if last := reply.History[len(reply.History)-1]; last.Timestamp != "14:05:09" {
		t.Fatalf("expected local display time in history, got %q", last.Timestamp)
	}
}

func TestRespondNeutralHasNoSuggestion(t *testing.T) {
	svc := newTestService(t, newGenerator(t, aitest.NewChatModel("Hi! How's your day?"), false), &captureRecorder{})
	reply := svc.Respond(context.Background(), Request{Message: "hello"})
	if reply.Response != "Hi! How's your day?" || reply.Suggestion != "" || reply.Triage != mood.LevelNone {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestRespondUsesSessionWindow(t *testing.T) {
	fake := aitest.NewChatModel("first", "second")
	svc := newTestService(t, newGenerator(t, fake, false), &captureRecorder{})
	ctx := context.Background()

	first := svc.Respond(ctx, Request{Message: "one", SessionID: "s1"})
	if first.SessionID != "s1" {
		t.Fatalf("expected session id to be kept, got %q", first.SessionID)
	}
	second := svc.Respond(ctx, Request{Message: "two", SessionID: "s1"})
	if len(second.History) != 2 || second.History[0].Bot != "first" {
		t.Fatalf("expected window history, got %+v", second.History)
	}

	// system + one exchange + user
	if msgs := fake.Calls()[1]; len(msgs) != 4 {
		t.Fatalf("expected window context in prompt, got %d messages", len(msgs))
	}

	history, err := svc.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
}

func TestRespondStream(t *testing.T) {
	svc := newTestService(t, newGenerator(t, aitest.NewChatModel("Let's breathe together."), true), &captureRecorder{})
	if !svc.StreamingEnabled() {
		t.Fatal("expected streaming to be enabled")
	}

	var deltas []string
	reply := svc.RespondStream(context.Background(), Request{Message: "hello"}, func(delta string) {
		deltas = append(deltas, delta)
	})
	if strings.Join(deltas, "") != "Let's breathe together." {
		t.Fatalf("unexpected deltas %q", deltas)
	}
	if reply.Response != "Let's breathe together." || len(reply.History) != 1 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestRespondStreamWithoutStreamingEmitsOnce(t *testing.T) {
	svc := newTestService(t, newGenerator(t, aitest.NewChatModel("whole reply"), false), &captureRecorder{})

	var deltas []string
	reply := svc.RespondStream(context.Background(), Request{Message: "hello"}, func(delta string) {
		deltas = append(deltas, delta)
	})
	if len(deltas) != 1 || deltas[0] != "whole reply" || reply.Response != "whole reply" {
		t.Fatalf("unexpected stream result %q / %+v", deltas, reply)
	}
}

func TestReadEndpointsRequireSession(t *testing.T) {
	svc := NewService(Dependencies{Repository: store.NewMemoryStore()})
	ctx := context.Background()

	if _, err := svc.History(ctx, ""); !errors.Is(err, ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
	if _, err := svc.Moods(ctx, ""); !errors.Is(err, ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
	if _, err := svc.Profile(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
