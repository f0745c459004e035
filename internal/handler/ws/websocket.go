package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	chatHandler "github.com/zhouzirui/serenity/backend/internal/handler/chat"
	chatservice "github.com/zhouzirui/serenity/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler WebSocket聊天处理器
type Handler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器。allowedOrigins 为空或包含 "*" 时接受任意来源
func New(chatSvc *chatservice.Service, allowedOrigins []string) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	StreamMode *bool `json:"streamMode,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type connectionState struct {
	sessionID  string
	streamMode bool
}

// ServeHTTP 处理WebSocket连接
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chatHandler.SessionIDFrom(r)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	state := &connectionState{sessionID: sessionID, streamMode: true}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	h.sendInfo(conn, sessionID, map[string]any{
		"type":       "connected",
		"streamMode": state.streamMode,
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(conn, "session mismatch")
			continue
		}

		h.handleMessage(ctx, conn, state, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		h.handleTextMessage(ctx, conn, state, msg.Data)
	case "config":
		h.handleConfigMessage(conn, state, msg.Data)
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) handleTextMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		h.sendError(conn, "invalid text payload")
		return
	}
	userText := strings.TrimSpace(text.Text)
	if userText == "" {
		h.sendError(conn, chatservice.ErrEmptyMessage.Error())
		return
	}

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type": "user",
		"text": userText,
	})

	req := chatservice.Request{Message: userText, SessionID: state.sessionID}

	var reply chatservice.Reply
	if state.streamMode {
		reply = h.chatSvc.RespondStream(ctx, req, func(delta string) {
			h.sendInfo(conn, state.sessionID, map[string]any{
				"type": "ai_delta",
				"text": delta,
			})
		})
	} else {
		reply = h.chatSvc.Respond(ctx, req)
	}

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":    "ai",
		"text":    reply.Response,
		"isFinal": true,
	})
	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":       "mood",
		"mood":       reply.Mood,
		"suggestion": reply.Suggestion,
		"triage":     reply.Triage,
		"timestamp":  reply.Timestamp,
	})
}

func (h *Handler) handleConfigMessage(conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		h.sendError(conn, "invalid config payload")
		return
	}
	applyConfig(state, cfg)

	log.Printf("[websocket] config applied session=%s streamMode=%v", state.sessionID, state.streamMode)
	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":       "config",
		"streamMode": state.streamMode,
	})
}

func applyConfig(state *connectionState, cfg ConfigMessage) {
	if cfg.StreamMode != nil {
		state.streamMode = *cfg.StreamMode
	}
}

func (h *Handler) sendInfo(conn *websocket.Conn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write info failed: %v", err)
	}
}

func (h *Handler) sendError(conn *websocket.Conn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// pingLoop 定期发送ping消息。WriteControl 可与其他写操作并发调用
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
