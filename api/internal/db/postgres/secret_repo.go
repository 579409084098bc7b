package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// NewPool opens and verifies a pgx connection pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// SecretRepository implements domain.SecretStore on PostgreSQL.
// 🛡️ SLA: Every destructive read is one DELETE ... RETURNING statement, so
// the row lock makes concurrent takes of one id mutually exclusive.
type SecretRepository struct {
	pool  *pgxpool.Pool
	clock domain.Clock
}

func NewSecretRepository(pool *pgxpool.Pool, clock domain.Clock) *SecretRepository {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &SecretRepository{pool: pool, clock: clock}
}

// Migrate creates the secrets table when it does not exist yet.
func (r *SecretRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return &domain.StorageError{Op: "migrate", Err: err}
	}
	return nil
}

func (r *SecretRepository) Put(ctx context.Context, in domain.NewSecretRecord, ttl time.Duration) (string, error) {
	now := r.clock.Now()

	// Opportunistic sweep; a failure here means the backend is unhealthy, so abort before writing.
	if _, err := r.pool.Exec(ctx, `DELETE FROM secrets WHERE expires_at <= $1`, now); err != nil {
		return "", &domain.StorageError{Op: "put", Err: err}
	}

	const query = `
		INSERT INTO secrets (id, ciphertext, created_at, expires_at, password_protected)
		VALUES ($1, $2, $3, $4, $5)
	`

	for attempt := 0; attempt < 3; attempt++ {
		rec, err := domain.BuildRecord(in, now, ttl)
		if err != nil {
			return "", err
		}

		_, err = r.pool.Exec(ctx, query, rec.ID, rec.Ciphertext, rec.CreatedAt, rec.ExpiresAt, rec.PasswordProtected)
		if err == nil {
			return rec.ID, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			continue
		}
		return "", &domain.StorageError{Op: "put", Err: err}
	}
	return "", &domain.StorageError{Op: "put", Err: errors.New("could not allocate a unique secret id")}
}

func (r *SecretRepository) TakeAndDelete(ctx context.Context, id string) (*domain.SecretRecord, error) {
	// Malformed ids can never exist; don't let them reach the uuid cast.
	if !domain.IsValidSecretID(id) {
		return nil, nil
	}

	const query = `
		DELETE FROM secrets
		WHERE id = $1
		RETURNING id::text, ciphertext, created_at, expires_at, password_protected
	`

	var rec domain.SecretRecord
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Ciphertext, &rec.CreatedAt, &rec.ExpiresAt, &rec.PasswordProtected,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &domain.StorageError{Op: "take", Err: err}
	}

	if rec.IsExpired(r.clock.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (r *SecretRepository) Exists(ctx context.Context, id string) (bool, error) {
	if !domain.IsValidSecretID(id) {
		return false, nil
	}

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM secrets WHERE id = $1 AND expires_at > $2)`,
		id, r.clock.Now(),
	).Scan(&exists)
	if err != nil {
		return false, &domain.StorageError{Op: "exists", Err: err}
	}
	return exists, nil
}

func (r *SecretRepository) ExpiresAt(ctx context.Context, id string) (time.Time, bool, error) {
	if !domain.IsValidSecretID(id) {
		return time.Time{}, false, nil
	}

	var expiresAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT expires_at FROM secrets WHERE id = $1 AND expires_at > $2`,
		id, r.clock.Now(),
	).Scan(&expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, &domain.StorageError{Op: "expires_at", Err: err}
	}
	return expiresAt.UTC(), true, nil
}

func (r *SecretRepository) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM secrets WHERE expires_at <= $1`, r.clock.Now())
	if err != nil {
		return 0, &domain.StorageError{Op: "sweep", Err: err}
	}
	return tag.RowsAffected(), nil
}

func (r *SecretRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
