package chat

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	chatService "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/internal/store"
	"github.com/zhouzirui/serenity/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// chatRequest is the body of POST /chat. Prompt is accepted for older UI builds.
type chatRequest struct {
	Message   string              `json:"message"`
	Prompt    string              `json:"prompt"`
	History   []chat.HistoryEntry `json:"history"`
	SessionID string              `json:"session_id"`
}

// RegisterRoutes 注册 /api 下的聊天路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Get("/history", h.handleHistory)
	r.Get("/moods", h.handleMoods)
	r.Get("/profile", h.handleProfile)
}

// HandleChat answers one chat message. It always responds 200 with a reply.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		log.Printf("[chat] invalid request body: %v", err)
		utils.RespondJSON(w, http.StatusOK, h.chatSvc.ListeningReplyFor(nil))
		return
	}

	message := payload.Message
	if strings.TrimSpace(message) == "" {
		message = payload.Prompt
	}

	reply := h.chatSvc.Respond(r.Context(), chatService.Request{
		Message:   message,
		History:   payload.History,
		SessionID: payload.SessionID,
	})
	utils.RespondJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.chatSvc.History(r.Context(), SessionIDFrom(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *Handler) handleMoods(w http.ResponseWriter, r *http.Request) {
	moods, err := h.chatSvc.Moods(r.Context(), SessionIDFrom(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"moods": moods})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.chatSvc.Profile(r.Context(), SessionIDFrom(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

// SessionIDFrom reads the session id from the query string or the X-Session-ID header.
func SessionIDFrom(r *http.Request) string {
	if sid := strings.TrimSpace(r.URL.Query().Get("session_id")); sid != "" {
		return sid
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionRequired):
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
	case errors.Is(err, store.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	default:
		log.Printf("[chat] store error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
