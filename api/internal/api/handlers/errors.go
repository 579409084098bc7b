package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

type errorResponse struct {
	Message string                    `json:"message"`
	Fields  []*domain.ValidationError `json:"fields,omitempty"`
}

// HandleError maps domain errors onto HTTP statuses. Backend detail is
// logged, never returned.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Message: domain.PublicMessage(err)}

	var fieldErrs domain.ValidationErrors
	var fieldErr *domain.ValidationError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &fieldErrs):
		status = http.StatusBadRequest
		resp.Fields = fieldErrs
	case errors.As(err, &fieldErr):
		status = http.StatusBadRequest
		resp.Fields = []*domain.ValidationError{fieldErr}
	case errors.As(err, &maxBytesErr):
		status = http.StatusRequestEntityTooLarge
		resp.Message = "request body too large"
	case errors.Is(err, domain.ErrNotFoundOrExpired):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case domain.IsStorage(err):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		slog.Default().Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		return domain.NewValidationError("body", "invalid JSON payload")
	}
	return nil
}
