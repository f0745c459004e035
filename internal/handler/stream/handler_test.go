package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/serenity/backend/internal/config"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
	"github.com/zhouzirui/serenity/backend/internal/service/ai/aitest"
	chatservice "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/internal/store"
)

func newHandler(t *testing.T, reply string) (*Handler, store.Window) {
	t.Helper()
	gen, err := ai.NewServiceWithModel(context.Background(), aitest.NewChatModel(reply), config.AIConfig{
		Provider:       config.ProviderOllama,
		Model:          "test",
		Timeout:        time.Second,
		StreamResponse: true,
	})
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}
	window := store.NewMemoryWindow(chat.HistoryLimit, store.DefaultWindowTTL)
	chatSvc := chatservice.NewService(chatservice.Dependencies{Generator: gen, Window: window})
	return New(chatSvc), window
}

func readEvents(t *testing.T, body string) []StreamResponse {
	t.Helper()
	var events []StreamResponse
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestStreamEventsInOrder(t *testing.T) {
	handler, window := newHandler(t, "You are not alone in this.")

	req := httptest.NewRequest(http.MethodGet, "/api/stream?session_id=s1&message=I+feel+so+lonely", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := readEvents(t, resp.Body.String())
	if len(events) < 5 {
		t.Fatalf("expected at least 5 events, got %d", len(events))
	}
	if events[0].Event != "start" || events[len(events)-1].Event != "end" || !events[len(events)-1].Finished {
		t.Fatalf("unexpected framing %+v", events)
	}

	var deltas strings.Builder
	var message, moodEvent StreamResponse
	for _, ev := range events {
		switch ev.Event {
		case "delta":
			deltas.WriteString(ev.Content)
		case "message":
			message = ev
		case "mood":
			moodEvent = ev
		}
		if ev.SessionID != "s1" {
			t.Fatalf("unexpected session id in %+v", ev)
		}
	}
	if deltas.String() != "You are not alone in this." {
		t.Fatalf("unexpected deltas %q", deltas.String())
	}
	if !strings.HasSuffix(message.Content, "You are not alone in this.") {
		t.Fatalf("unexpected message %q", message.Content)
	}

	var payload moodPayload
	if err := json.Unmarshal([]byte(moodEvent.Content), &payload); err != nil {
		t.Fatalf("decode mood payload: %v", err)
	}
	if payload.Mood != "sad" || payload.Suggestion == "" {
		t.Fatalf("unexpected mood payload %+v", payload)
	}

	turns, err := window.Load(context.Background(), "s1")
	if err != nil || len(turns) != 1 {
		t.Fatalf("expected window to hold one turn, got %d (%v)", len(turns), err)
	}
}

func TestStreamRequiresMessage(t *testing.T) {
	handler, _ := newHandler(t, "unused")

	req := httptest.NewRequest(http.MethodGet, "/api/stream?session_id=s1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStreamIssuesSessionID(t *testing.T) {
	handler, _ := newHandler(t, "Hello.")

	req := httptest.NewRequest(http.MethodGet, "/api/stream?message=hi", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	events := readEvents(t, resp.Body.String())
	if len(events) == 0 || events[0].SessionID == "" {
		t.Fatalf("expected issued session id, got %+v", events)
	}
}
