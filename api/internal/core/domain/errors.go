package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFoundOrExpired is returned when there is nothing left to read.
	// Absent, expired and already-consumed secrets are indistinguishable on purpose.
	ErrNotFoundOrExpired = errors.New("secret not found or expired")

	// ErrEncryption wraps any failure of the sealing primitives.
	ErrEncryption = errors.New("failed to encrypt message")

	// ErrDecryption is the single, generic decrypt failure. It never says
	// whether the password was wrong or the blob was corrupted.
	ErrDecryption = errors.New("failed to decrypt message; it may have been tampered with or the password is incorrect")

	// ErrUnauthorized is returned for missing or invalid burn tokens.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError reports bad caller input before any crypto or storage work.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every field problem found in one request.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StorageError wraps a backend failure (I/O, serialization, unavailable).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a validation failure.
func IsValidation(err error) bool {
	var single *ValidationError
	var multi ValidationErrors
	return errors.As(err, &single) || errors.As(err, &multi)
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// PublicMessage maps any error onto a string that is safe to show a user.
// Backend details, keys and passwords never make it through.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		var single *ValidationError
		if errors.As(err, &single) {
			return single.Error()
		}
		var multi ValidationErrors
		errors.As(err, &multi)
		return multi.Error()
	case errors.Is(err, ErrNotFoundOrExpired):
		return ErrNotFoundOrExpired.Error()
	case IsStorage(err):
		// A master-key unseal failure is a backend fault, not a bad password.
		return "storage unavailable"
	case errors.Is(err, ErrDecryption):
		return ErrDecryption.Error()
	case errors.Is(err, ErrEncryption):
		return ErrEncryption.Error()
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized.Error()
	default:
		return "internal error"
	}
}
