// api/internal/api/handlers/websocket.go
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/irgordon/whisper/api/internal/api/middleware"
	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/core/services"
	"github.com/irgordon/whisper/api/internal/telemetry"
)

// ==============================================================================
// 1. WebSocket Configuration & Constants
// ==============================================================================

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. (We only stream OUT, so inbound is tiny).
	maxMessageSize = 512
)

// CheckOrigin returns true because the chi CORS middleware has already
// validated the Origin header, and the burn token is the real credential.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ==============================================================================
// 2. The Handler Struct (Dependency Injection)
// ==============================================================================

// ReceiptHandler lets the creator of a secret learn when it was read, burned
// or expired. Exactly one event is delivered, then the socket closes.
type ReceiptHandler struct {
	Relay  *services.RelayService
	Hub    *telemetry.Hub
	Logger *slog.Logger
}

func NewReceiptHandler(relay *services.RelayService, hub *telemetry.Hub, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{Relay: relay, Hub: hub, Logger: logger}
}

// ==============================================================================
// 3. HTTP Methods (The Upgrader)
// ==============================================================================

// StreamReceipts handles GET /api/v1/ws/secrets/{id}/receipts
func (h *ReceiptHandler) StreamReceipts(w http.ResponseWriter, r *http.Request) {
	secretID := chi.URLParam(r, "id")

	// 1. The burn token proves this caller created the secret
	if err := h.Relay.Authorize(secretID, middleware.BurnToken(r.Context())); err != nil {
		HandleError(w, r, err)
		return
	}

	// 2. Subscribe before probing so a take racing this request is not missed.
	// The expiry timer follows the stored record, never the token.
	events := h.Hub.Subscribe(secretID)
	defer h.Hub.Unsubscribe(secretID, events)

	expiresAt, exists, err := h.Relay.Lookup(r.Context(), secretID)
	if err != nil {
		HandleError(w, r, err)
		return
	}

	// 3. Upgrade the HTTP connection to a full-duplex WebSocket connection
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("Failed to upgrade WebSocket connection",
			slog.String("id", secretID),
			slog.String("error", err.Error()),
		)
		return
	}

	if !exists {
		h.finish(ws, domain.SecretEvent{ID: secretID, Type: domain.EventGone, At: h.Relay.Now()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The Read Pump handles control frames and tells us when the client leaves.
	go h.readPump(ws, secretID, cancel)

	// The Write Pump blocks until one event is delivered or the client goes away.
	h.writePump(ctx, ws, events, secretID, expiresAt)
}

// ==============================================================================
// 4. The Write Pump
// ==============================================================================

func (h *ReceiptHandler) writePump(ctx context.Context, ws *websocket.Conn, events <-chan domain.SecretEvent, secretID string, expiresAt time.Time) {
	defer ws.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// The relay clock decides expiry, the same clock the store uses
	expiry := time.NewTimer(max(expiresAt.Sub(h.Relay.Now()), 0))
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == domain.EventCreated {
				continue
			}
			h.finish(ws, ev)
			return

		case <-expiry.C:
			h.finish(ws, domain.SecretEvent{ID: secretID, Type: domain.EventExpired, At: expiresAt})
			return

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Client disconnected, exit the loop
			}
		}
	}
}

// finish writes the terminal event and closes cleanly.
func (h *ReceiptHandler) finish(ws *websocket.Conn, ev domain.SecretEvent) {
	defer ws.Close()

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(ev); err != nil {
		h.Logger.Error("Failed to write receipt",
			slog.String("id", ev.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Type)))
}

// ==============================================================================
// 5. The Read Pump (Connection Keep-Alive)
// ==============================================================================

func (h *ReceiptHandler) readPump(ws *websocket.Conn, secretID string, cancel context.CancelFunc) {
	defer cancel()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))

	// Every time we receive a Pong from the client, we reset the deadline
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Warn("WebSocket closed unexpectedly",
					slog.String("id", secretID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}
