package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/serenity/backend/internal/analysis/mood"
	chatHandler "github.com/zhouzirui/serenity/backend/internal/handler/chat"
	chatService "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/pkg/utils"
)

var errStreamingUnsupported = errors.New("streaming unsupported")

// Handler manages streaming chat replies via Server-Sent Events
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a new stream handler
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// moodPayload is the content of the "mood" event.
type moodPayload struct {
	Mood       mood.Label `json:"mood"`
	Suggestion string     `json:"suggestion,omitempty"`
	Triage     mood.Level `json:"triage,omitempty"`
	Timestamp  string     `json:"timestamp"`
}

// ServeHTTP handles GET /api/stream?session_id=&message=.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, chatService.ErrEmptyMessage.Error())
		return
	}

	sessionID := chatHandler.SessionIDFrom(r)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, message); err != nil {
		log.Printf("[stream] error handling request: %v", err)
		if errors.Is(err, errStreamingUnsupported) {
			utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		}
	}
}

// HandleStreamRequest streams one reply for a chat session
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errStreamingUnsupported
	}

	utils.SetupSSEHeaders(w)

	if err := h.sendSSE(w, flusher, StreamResponse{Event: "start", SessionID: sessionID}); err != nil {
		return err
	}

	// 客户端断开后不再推送增量，但仍完成回复以便记录
	var sendErr error
	reply := h.chatSvc.RespondStream(ctx, chatService.Request{
		Message:   userMessage,
		SessionID: sessionID,
	}, func(delta string) {
		if sendErr != nil {
			return
		}
		sendErr = h.sendSSE(w, flusher, StreamResponse{
			Event:     "delta",
			SessionID: sessionID,
			Content:   delta,
		})
	})
	if sendErr != nil {
		return sendErr
	}

	if err := h.sendSSE(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		Content:   reply.Response,
	}); err != nil {
		return err
	}

	moodJSON, err := json.Marshal(moodPayload{
		Mood:       reply.Mood,
		Suggestion: reply.Suggestion,
		Triage:     reply.Triage,
		Timestamp:  reply.Timestamp,
	})
	if err == nil {
		if err := h.sendSSE(w, flusher, StreamResponse{
			Event:     "mood",
			SessionID: sessionID,
			Content:   string(moodJSON),
		}); err != nil {
			return err
		}
	}

	if err := h.sendSSE(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
	}); err != nil {
		return err
	}

	log.Printf("[stream] completed response for session=%s mood=%s", sessionID, reply.Mood)
	return nil
}

func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) error {
	return utils.SendSSEChunk(w, flusher, response)
}
