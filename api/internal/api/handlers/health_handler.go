package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

type HealthHandler struct {
	store domain.SecretStore
}

func NewHealthHandler(store domain.SecretStore) *HealthHandler {
	return &HealthHandler{store: store}
}

// Check handles GET /healthz
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	// 🛡️ SLA: Use a tight timeout for health checks
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if pinger, ok := h.store.(domain.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			// 🚨 FAIL: The relay is up, but its store is unreachable
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: secret store unreachable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}
