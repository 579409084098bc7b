// api/internal/api/router/router.go
package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/irgordon/whisper/api/internal/api/handlers"
	relay_middleware "github.com/irgordon/whisper/api/internal/api/middleware"
	"github.com/irgordon/whisper/api/internal/metrics"
)

// maxBodyBytes fits the largest legal blob (10,000 four-byte characters,
// base64 encoded) with room to spare.
const maxBodyBytes = 128 << 10

// RouterConfig defines the strict dependencies required to build the API routing tree.
type RouterConfig struct {
	AllowedOrigins []string
	SecretHandler  *handlers.SecretHandler
	ReceiptHandler *handlers.ReceiptHandler
	HealthHandler  *handlers.HealthHandler
	RateLimiter    *relay_middleware.RateLimiter // optional
	Metrics        *metrics.Metrics              // optional
	Logger         *slog.Logger
}

// NewRouter constructs the Chi multiplexer, attaches global middleware, and wires all endpoints.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// =========================================================================
	// 1. Global Gateway Middleware Pipeline
	// =========================================================================

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(relay_middleware.StructuredLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	// Strict CORS Configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// =========================================================================
	// 2. API v1 Routing Tree
	// =========================================================================

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(relay_middleware.NoStore)

		// 🛡️ In-memory token bucket rate limiting
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Handler)
		}

		r.Get("/ttls", cfg.SecretHandler.ListTTLs)

		// ---------------------------------------------------------------------
		// Ciphertext Relay (possession of the id is the only credential)
		// ---------------------------------------------------------------------
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// 🛡️ Limit all incoming JSON requests (OOM Protection)
			r.Use(relay_middleware.MaxBytes(maxBodyBytes))

			r.Post("/secrets", cfg.SecretHandler.Create)
			r.Get("/secrets/{id}", cfg.SecretHandler.Exists)
			r.Post("/secrets/{id}/take", cfg.SecretHandler.Take)

			// --- Creator-only (Requires the burn token minted at creation) ---
			r.With(relay_middleware.RequireBurnToken).
				Delete("/secrets/{id}", cfg.SecretHandler.Burn)
		})

		// ---------------------------------------------------------------------
		// Read Receipts (long-lived; no request timeout)
		// ---------------------------------------------------------------------
		if cfg.ReceiptHandler != nil {
			r.With(relay_middleware.RequireBurnToken).
				Get("/secrets/{id}/receipts", cfg.ReceiptHandler.StreamReceiptsSSE)

			r.With(relay_middleware.RequireBurnToken).
				Get("/ws/secrets/{id}/receipts", cfg.ReceiptHandler.StreamReceipts)
		}
	})

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Check)
	}

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	return r
}
