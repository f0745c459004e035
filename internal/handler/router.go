package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/serenity/backend/internal/config"
	"github.com/zhouzirui/serenity/backend/internal/handler/chat"
	"github.com/zhouzirui/serenity/backend/internal/handler/health"
	"github.com/zhouzirui/serenity/backend/internal/handler/stream"
	"github.com/zhouzirui/serenity/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/serenity/backend/internal/middleware"
	chatService "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/web"
)

// NewRouter wires HTTP routes to core services. repo may be nil.
func NewRouter(cfg config.ServerConfig, chatSvc *chatService.Service, repo health.Pinger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.AllowedOrigins))

	// Create handlers
	chatHandler := chat.New(chatSvc)
	streamHandler := stream.New(chatSvc)
	wsHandler := ws.New(chatSvc, cfg.AllowedOrigins)
	healthHandler := health.New(repo)

	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)
	r.Post("/chat", chatHandler.HandleChat)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		api.Method(http.MethodGet, "/stream", streamHandler)
		api.Method(http.MethodGet, "/ws", wsHandler)
	})

	r.Handle("/*", http.FileServer(http.FS(web.Static())))

	return r
}
