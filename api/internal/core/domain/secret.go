package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SecretRecord is the persisted, encrypted form of a one-time secret.
// 🛡️ SLA: Ciphertext is opaque to every store and must never reach a log line.
type SecretRecord struct {
	ID                string    `json:"id" db:"id"`
	Ciphertext        string    `json:"ciphertext" db:"ciphertext"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	ExpiresAt         time.Time `json:"expires_at" db:"expires_at"`
	PasswordProtected bool      `json:"password_protected" db:"password_protected"`
}

// NewSecretRecord is the caller-supplied half of a record. The store fills in
// the id and the timestamps.
type NewSecretRecord struct {
	Ciphertext        string
	PasswordProtected bool
}

// IsExpired reports whether the record is no longer visible at now.
func (r *SecretRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// LogValue redacts the ciphertext so a record can be handed to slog safely.
func (r SecretRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.Time("created_at", r.CreatedAt),
		slog.Time("expires_at", r.ExpiresAt),
		slog.Bool("password_protected", r.PasswordProtected),
	)
}

func (r SecretRecord) String() string {
	return fmt.Sprintf("SecretRecord{id=%s expires_at=%s password_protected=%t}",
		r.ID, r.ExpiresAt.Format(time.RFC3339), r.PasswordProtected)
}

// NewSecretID allocates a random, collision-resistant identifier (UUIDv4).
func NewSecretID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("secret id: %w", err)
	}
	return id.String(), nil
}

// IsValidSecretID reports whether id has the canonical shape produced by NewSecretID.
func IsValidSecretID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// BuildRecord validates the input and stamps a fresh record. Every store
// implementation goes through here so id and timestamp rules stay identical.
func BuildRecord(in NewSecretRecord, now time.Time, ttl time.Duration) (*SecretRecord, error) {
	if ttl <= 0 {
		return nil, NewValidationError("expires_in", "ttl must be positive")
	}
	if in.Ciphertext == "" {
		return nil, NewValidationError("ciphertext", "ciphertext is required")
	}

	id, err := NewSecretID()
	if err != nil {
		return nil, &StorageError{Op: "allocate id", Err: err}
	}

	createdAt := now.UTC().Truncate(time.Millisecond)
	return &SecretRecord{
		ID:                id,
		Ciphertext:        in.Ciphertext,
		CreatedAt:         createdAt,
		ExpiresAt:         createdAt.Add(ttl),
		PasswordProtected: in.PasswordProtected,
	}, nil
}

// SecretStore is the keyed persistence contract behind the lifecycle coordinator.
type SecretStore interface {
	// Put allocates an id, stamps CreatedAt/ExpiresAt = now+ttl and persists
	// the record. Implementations sweep expired records opportunistically.
	Put(ctx context.Context, rec NewSecretRecord, ttl time.Duration) (string, error)

	// TakeAndDelete atomically removes and returns the live record for id.
	// It returns (nil, nil) when the id is absent or expired.
	TakeAndDelete(ctx context.Context, id string) (*SecretRecord, error)

	// Exists is a read-only check for a live record.
	Exists(ctx context.Context, id string) (bool, error)

	// ExpiresAt reports the stamped expiry of the live record for id without
	// consuming it. ok is false when the id is absent or expired.
	ExpiresAt(ctx context.Context, id string) (expiresAt time.Time, ok bool, err error)

	// SweepExpired removes every record with ExpiresAt <= now and returns the count.
	SweepExpired(ctx context.Context) (int64, error)
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Clock abstracts wall-clock time so expiry can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
