package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/serenity/backend/internal/analysis/mood"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
	moodservice "github.com/zhouzirui/serenity/backend/internal/service/mood"
	"github.com/zhouzirui/serenity/backend/internal/service/recorder"
	"github.com/zhouzirui/serenity/backend/internal/store"
)

var (
	ErrEmptyMessage    = errors.New("message is required")
	ErrSessionRequired = store.ErrSessionRequired
)

const (
	// EmptyMessageReply answers blank input.
	EmptyMessageReply = "I'm here when you're ready to share. Take your time."
	// ListeningReply is used when the request itself could not be understood.
	ListeningReply = "I'm here to listen. Could you tell me more about how you're feeling?"
)

var fallbackReplies = []string{
	"I'm here to listen to you. Could you tell me more about what you're experiencing?",
	"Thank you for sharing that with me. How has that been affecting you?",
	"I understand this might be difficult to talk about. Take your time.",
	"Your feelings are completely valid. Would you like to explore this further?",
	"I'm listening carefully. Please continue when you feel comfortable.",
}

// Request is one chat message with the context the client holds.
type Request struct {
	Message   string
	History   []chat.HistoryEntry
	SessionID string
}

// Reply is the structured answer rendered by the chat UI.
type Reply struct {
	Response   string              `json:"response"`
	Mood       mood.Label          `json:"mood"`
	Suggestion string              `json:"suggestion,omitempty"`
	Triage     mood.Level          `json:"triage,omitempty"`
	Timestamp  string              `json:"timestamp"`
	History    []chat.HistoryEntry `json:"history"`
	SessionID  string              `json:"session_id,omitempty"`
}

// Dependencies wires the collaborators of Service. Only Window may not be nil;
// a nil Generator degrades to fallback replies.
type Dependencies struct {
	Generator  *ai.Service
	Classifier *moodservice.Service
	Window     store.Window
	Repository store.Repository
	Recorder   recorder.Recorder
	Rand       *rand.Rand
	Now        func() time.Time
}

// Service turns a message into a formatted reply and keeps session context.
type Service struct {
	generator  *ai.Service
	classifier *moodservice.Service
	window     store.Window
	repo       store.Repository
	recorder   recorder.Recorder
	now        func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService builds the chat service.
func NewService(deps Dependencies) *Service {
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	window := deps.Window
	if window == nil {
		window = store.NewMemoryWindow(chat.HistoryLimit, store.DefaultWindowTTL)
	}

	return &Service{
		generator:  deps.Generator,
		classifier: deps.Classifier,
		window:     window,
		repo:       deps.Repository,
		recorder:   deps.Recorder,
		now:        now,
		rng:        rng,
	}
}

// StreamingEnabled reports whether replies can be streamed token by token.
func (s *Service) StreamingEnabled() bool {
	return s.generator != nil && s.generator.StreamingEnabled()
}

// Respond answers req. It never fails: generator errors produce a fallback reply.
func (s *Service) Respond(ctx context.Context, req Request) Reply {
	message, history, sessionID := s.prepare(ctx, req)
	if message == "" {
		return s.emptyReply(history, sessionID)
	}

	label := s.classify(ctx, history, message)

	text, err := s.generate(ctx, message, history, label)
	if err != nil {
		log.Printf("[chat] generator failed, use fallback: %v", err)
		text = s.fallback()
	}

	return s.finish(ctx, sessionID, message, history, label, text)
}

// RespondStream behaves like Respond and reports reply chunks to onDelta as they arrive.
func (s *Service) RespondStream(ctx context.Context, req Request, onDelta func(string)) Reply {
	message, history, sessionID := s.prepare(ctx, req)
	if message == "" {
		return s.emptyReply(history, sessionID)
	}

	label := s.classify(ctx, history, message)

	text, err := s.stream(ctx, message, history, label, onDelta)
	if err != nil {
		log.Printf("[chat] stream failed, use fallback: %v", err)
		text = s.fallback()
	}

	return s.finish(ctx, sessionID, message, history, label, text)
}

// ListeningReplyFor returns the reply used when a request body cannot be decoded.
func (s *Service) ListeningReplyFor(history []chat.HistoryEntry) Reply {
	return Reply{
		Response:  ListeningReply,
		Mood:      mood.Neutral,
		Timestamp: s.timestamp(),
		History:   nonNil(chat.TrimEntries(history, chat.HistoryLimit)),
	}
}

// History returns the stored exchanges of a session, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]chat.HistoryEntry, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if s.repo == nil {
		turns, err := s.window.Load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return nonNil(chat.Entries(turns)), nil
	}

	turns, err := s.repo.History(ctx, sessionID, chat.HistoryLimit)
	if err != nil {
		return nil, err
	}
	return nonNil(chat.Entries(turns)), nil
}

// Moods returns the most recent mood logs of a session, newest first.
func (s *Service) Moods(ctx context.Context, sessionID string) ([]chat.MoodLog, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if s.repo == nil {
		return []chat.MoodLog{}, nil
	}
	logs, err := s.repo.RecentMoodLogs(ctx, sessionID, chat.DefaultMoodLogLimit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []chat.MoodLog{}
	}
	return logs, nil
}

// Profile returns the profile of a session's user.
func (s *Service) Profile(ctx context.Context, sessionID string) (*chat.Profile, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if s.repo == nil {
		return nil, store.ErrNotFound
	}
	return s.repo.Profile(ctx, sessionID)
}

// prepare normalizes the message, resolves context and assigns a session id.
func (s *Service) prepare(ctx context.Context, req Request) (string, []chat.HistoryEntry, string) {
	message := strings.TrimSpace(req.Message)
	sessionID := strings.TrimSpace(req.SessionID)

	history := chat.TrimEntries(req.History, chat.HistoryLimit)
	if len(history) == 0 && sessionID != "" {
		turns, err := s.window.Load(ctx, sessionID)
		if err != nil {
			log.Printf("[chat] load window session=%s failed: %v", sessionID, err)
		}
		history = chat.Entries(turns)
	}

	if sessionID == "" && message != "" {
		sessionID = uuid.NewString()
	}
	return message, history, sessionID
}

func (s *Service) emptyReply(history []chat.HistoryEntry, sessionID string) Reply {
	return Reply{
		Response:  EmptyMessageReply,
		Mood:      mood.Neutral,
		Timestamp: s.timestamp(),
		History:   nonNil(history),
		SessionID: sessionID,
	}
}

func (s *Service) classify(ctx context.Context, history []chat.HistoryEntry, message string) mood.Label {
	if s.classifier == nil {
		return mood.Classify(message)
	}
	return s.classifier.Classify(ctx, history, message).Label
}

func (s *Service) generate(ctx context.Context, message string, history []chat.HistoryEntry, label mood.Label) (string, error) {
	if s.generator == nil {
		return "", ai.ErrModelNotEnabled
	}
	return s.generator.Generate(ctx, message, history, ai.WithMood(label))
}

func (s *Service) stream(ctx context.Context, message string, history []chat.HistoryEntry, label mood.Label, onDelta func(string)) (string, error) {
	if !s.StreamingEnabled() {
		text, err := s.generate(ctx, message, history, label)
		if err != nil {
			return "", err
		}
		if onDelta != nil {
			onDelta(text)
		}
		return text, nil
	}

	reader, err := s.generator.Stream(ctx, message, history, ai.WithMood(label))
	if err != nil {
		return "", err
	}
	defer reader.Close()

	chunks := make([]*schema.Message, 0, 16)
	for {
		chunk, recvErr := reader.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			if len(chunks) == 0 {
				return "", recvErr
			}
			// 已经推送了部分内容，保留已有部分
			log.Printf("[chat] stream interrupted after %d chunks: %v", len(chunks), recvErr)
			break
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" && onDelta != nil {
			onDelta(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return "", ai.ErrEmptyReply
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	text := ai.CleanReply(full.Content)
	if text == "" {
		return "", ai.ErrEmptyReply
	}
	return text, nil
}

// finish formats the reply, updates the window and hands the turn to the recorder.
func (s *Service) finish(ctx context.Context, sessionID, message string, history []chat.HistoryEntry, label mood.Label, text string) Reply {
	s.rngMu.Lock()
	opening := mood.Opening(label, s.rng)
	suggestion := mood.Suggestion(label, s.rng)
	s.rngMu.Unlock()

	response := text
	if opening != "" {
		response = opening + " " + text
	}

	now := s.now()
	turn := chat.Turn{
		ID:         chat.NewID(),
		SessionID:  sessionID,
		UserText:   message,
		BotText:    response,
		Mood:       label,
		Suggestion: suggestion,
		CreatedAt:  now.UTC(),
	}

	entries := make([]chat.HistoryEntry, 0, len(history)+1)
	entries = append(entries, history...)
	entries = append(entries, turn.Entry())

	if _, err := s.window.Append(ctx, sessionID, turn); err != nil {
		log.Printf("[chat] append window session=%s failed: %v", sessionID, err)
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, turn)
	}

	log.Printf("[chat] replied session=%s mood=%s length=%d", sessionID, label, len(response))
	return Reply{
		Response:   response,
		Mood:       label,
		Suggestion: suggestion,
		Triage:     mood.Triage(label),
		Timestamp:  now.Format(chat.TimestampLayout),
		History:    chat.TrimEntries(entries, chat.HistoryLimit),
		SessionID:  sessionID,
	}
}

func (s *Service) fallback() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return fallbackReplies[s.rng.Intn(len(fallbackReplies))]
}

func (s *Service) timestamp() string {
	return s.now().Format(chat.TimestampLayout)
}

func nonNil(entries []chat.HistoryEntry) []chat.HistoryEntry {
	if entries == nil {
		return []chat.HistoryEntry{}
	}
	return entries
}
