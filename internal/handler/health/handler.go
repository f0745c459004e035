package health

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/zhouzirui/serenity/backend/pkg/utils"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler 健康检查处理器
type Handler struct {
	store Pinger
}

// New 创建健康检查处理器，store 可以为 nil
func New(store Pinger) *Handler {
	return &Handler{store: store}
}

// Live 始终返回健康状态
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "Serenity chat backend is running",
	})
}

// Ready 检查存储是否可用
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			log.Printf("[health] store ping failed: %v", err)
			utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unavailable",
				"message": "store unreachable",
			})
			return
		}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
