package mood

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/serenity/backend/internal/analysis/mood"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/service/ai/aitest"
)

func TestClassifyUsesModelTag(t *testing.T) {
	fake := aitest.NewChatModel("[mood: anxious]")
	svc, err := NewService(context.Background(), fake, Config{Enabled: true})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}

	history := []chat.HistoryEntry{
		{User: "one", Bot: "two"},
		{User: "three", Bot: "four"},
		{User: "five", Bot: "six"},
	}
	got := svc.Classify(context.Background(), history, "exams tomorrow")
	if got.Label != analysis.Anxious || got.Source != SourceModel {
		t.Fatalf("unexpected result %+v", got)
	}

	msgs := fake.Calls()[0]
	// system + last 4 history messages + user
	if len(msgs) != 6 {
		t.Fatalf("expected 6 prompt messages, got %d", len(msgs))
	}
	if msgs[1].Content != "three" || msgs[1].Role != schema.User {
		t.Fatalf("expected history to start at 'three', got %+v", msgs[1])
	}

	opts := fake.LastOptions()
	if opts.MaxTokens == nil || *opts.MaxTokens != 15 {
		t.Fatalf("expected classification max tokens, got %+v", opts)
	}
}

func TestClassifyIntentTag(t *testing.T) {
	svc, err := NewService(context.Background(), aitest.NewChatModel("[intent: serious_distress]"), Config{Enabled: true})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	if got := svc.Classify(context.Background(), nil, "I can't go on"); got.Label != analysis.Distress {
		t.Fatalf("expected distress, got %+v", got)
	}
}

func TestClassifyFallsBackToKeywords(t *testing.T) {
	cases := map[string]*aitest.ChatModel{
		"error":   aitest.NewFailingChatModel(errors.New("offline")),
		"garbage": aitest.NewChatModel("I think the user is sad"),
		"neutral": aitest.NewChatModel("[mood: neutral]"),
	}
	for name, fake := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewService(context.Background(), fake, Config{Enabled: true})
			if err != nil {
				t.Fatalf("NewService err: %v", err)
			}
			got := svc.Classify(context.Background(), nil, "I feel so lonely")
			if got.Label != analysis.Sad || got.Source != SourceKeywords {
				t.Fatalf("unexpected result %+v", got)
			}
		})
	}
}

func TestClassifyDisabled(t *testing.T) {
	fake := aitest.NewChatModel("[mood: happy]")
	svc, err := NewService(context.Background(), fake, Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("expected disabled service")
	}
	if got := svc.Classify(context.Background(), nil, "so frustrated"); got.Label != analysis.Angry {
		t.Fatalf("expected keyword label angry, got %+v", got)
	}
	if len(fake.Calls()) != 0 {
		t.Fatal("expected model not to be called")
	}

	var nilSvc *Service
	if got := nilSvc.Classify(context.Background(), nil, "hello"); got.Label != analysis.Neutral {
		t.Fatalf("expected neutral from nil service, got %+v", got)
	}
}

func TestClassifyKeepsStrongerKeywordLabel(t *testing.T) {
	cases := []struct {
		name       string
		reply      string
		message    string
		wantLabel  analysis.Label
		wantSource string
	}{
		{"distress beats happy", "[mood: happy]", "I want to die", analysis.Distress, SourceKeywords},
		{"concerned beats calm", "[mood: calm]", "this headache won't stop", analysis.Concerned, SourceKeywords},
		{"model sad beats keyword happy", "[mood: sad]", "had a great day but", analysis.Sad, SourceModel},
		{"model kept without keywords", "[mood: angry]", "ugh", analysis.Angry, SourceModel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewService(context.Background(), aitest.NewChatModel(tc.reply), Config{Enabled: true})
			if err != nil {
				t.Fatalf("NewService err: %v", err)
			}
			got := svc.Classify(context.Background(), nil, tc.message)
			if got.Label != tc.wantLabel || got.Source != tc.wantSource {
				t.Fatalf("unexpected result %+v", got)
			}
		})
	}
}

func TestClassifyHonoursTimeout(t *testing.T) {
	svc, err := NewService(context.Background(), aitest.NewBlockingChatModel(), Config{Enabled: true, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}

	start := time.Now()
	got := svc.Classify(context.Background(), nil, "I feel so lonely")
	if got.Label != analysis.Sad || got.Source != SourceKeywords {
		t.Fatalf("expected keyword fallback, got %+v", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("classification not bounded by timeout, took %s", elapsed)
	}
}
