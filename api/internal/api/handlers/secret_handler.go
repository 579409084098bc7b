package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/irgordon/whisper/api/internal/api/middleware"
	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/core/services"
)

// ==============================================================================
// 1. Response Payloads
// ==============================================================================

type existsResponse struct {
	Exists    bool       `json:"exists"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// takeResponse is the only payload that ever carries a stored blob.
type takeResponse struct {
	Ciphertext        string    `json:"ciphertext"`
	PasswordProtected bool      `json:"password_protected"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// ==============================================================================
// 2. The Handler Struct (Dependency Injection)
// ==============================================================================

type SecretHandler struct {
	Relay *services.RelayService
}

func NewSecretHandler(relay *services.RelayService) *SecretHandler {
	return &SecretHandler{Relay: relay}
}

// ==============================================================================
// 3. HTTP Methods
// ==============================================================================

// ListTTLs handles GET /api/v1/ttls
func (h *SecretHandler) ListTTLs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.TTLOptions)
}

// Create handles POST /api/v1/secrets
func (h *SecretHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.StoreSecretInput
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, r, err)
		return
	}

	stored, err := h.Relay.Store(r.Context(), req)
	if err != nil {
		HandleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

// Exists handles GET /api/v1/secrets/{id}. It never consumes the secret.
func (h *SecretHandler) Exists(w http.ResponseWriter, r *http.Request) {
	expiresAt, exists, err := h.Relay.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, r, err)
		return
	}

	resp := existsResponse{Exists: exists}
	if exists {
		resp.ExpiresAt = &expiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// Take handles POST /api/v1/secrets/{id}/take
func (h *SecretHandler) Take(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Relay.Take(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, takeResponse{
		Ciphertext:        rec.Ciphertext,
		PasswordProtected: rec.PasswordProtected,
		CreatedAt:         rec.CreatedAt,
		ExpiresAt:         rec.ExpiresAt,
	})
}

// Burn handles DELETE /api/v1/secrets/{id}
func (h *SecretHandler) Burn(w http.ResponseWriter, r *http.Request) {
	err := h.Relay.Burn(r.Context(), chi.URLParam(r, "id"), middleware.BurnToken(r.Context()))
	if err != nil {
		HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
