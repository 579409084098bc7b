package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/irgordon/whisper/api/internal/api/middleware"
	"github.com/irgordon/whisper/api/internal/core/domain"
)

// StreamReceiptsSSE handles GET /api/v1/secrets/{id}/receipts.
// It is the Server-Sent Events twin of StreamReceipts for clients that cannot
// speak websocket: one `receipt` event, then the stream ends.
func (h *ReceiptHandler) StreamReceiptsSSE(w http.ResponseWriter, r *http.Request) {
	secretID := chi.URLParam(r, "id")

	if err := h.Relay.Authorize(secretID, middleware.BurnToken(r.Context())); err != nil {
		HandleError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		HandleError(w, r, fmt.Errorf("streaming unsupported"))
		return
	}

	events := h.Hub.Subscribe(secretID)
	defer h.Hub.Unsubscribe(secretID, events)

	expiresAt, exists, err := h.Relay.Lookup(r.Context(), secretID)
	if err != nil {
		HandleError(w, r, err)
		return
	}

	// 🛡️ Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if !exists {
		h.writeSSE(w, flusher, domain.SecretEvent{ID: secretID, Type: domain.EventGone, At: h.Relay.Now()})
		return
	}

	keepAlive := time.NewTicker(pingPeriod)
	defer keepAlive.Stop()
	expiry := time.NewTimer(max(expiresAt.Sub(h.Relay.Now()), 0))
	defer expiry.Stop()

	// 🛡️ Continuous Relay Loop
	for {
		select {
		case <-r.Context().Done():
			h.Logger.Info("SSE client disconnected", slog.String("id", secretID))
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == domain.EventCreated {
				continue
			}
			h.writeSSE(w, flusher, ev)
			return

		case <-expiry.C:
			h.writeSSE(w, flusher, domain.SecretEvent{ID: secretID, Type: domain.EventExpired, At: expiresAt})
			return

		case <-keepAlive.C:
			// Comment lines keep idle proxies from cutting the stream
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *ReceiptHandler) writeSSE(w http.ResponseWriter, flusher http.Flusher, ev domain.SecretEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.Logger.Error("Failed to encode receipt", slog.String("id", ev.ID), slog.Any("error", err))
		return
	}
	if _, err := fmt.Fprintf(w, "event: receipt\ndata: %s\n\n", payload); err != nil {
		h.Logger.Warn("Failed to write to SSE client", slog.String("id", ev.ID), slog.Any("error", err))
		return
	}
	// Force push the buffer to the client
	flusher.Flush()
}
