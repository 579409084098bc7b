// Package sqlite is the single-file durable SecretStore for one-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS secrets (
    id                 TEXT    PRIMARY KEY,
    ciphertext         TEXT    NOT NULL,
    created_at         INTEGER NOT NULL,
    expires_at         INTEGER NOT NULL,
    password_protected BOOLEAN NOT NULL DEFAULT 0,
    CHECK (expires_at > created_at)
);
CREATE INDEX IF NOT EXISTS secrets_expires_at_idx ON secrets (expires_at);
`

// secretRow is the on-disk shape; timestamps are unix milliseconds.
type secretRow struct {
	ID                string `db:"id"`
	Ciphertext        string `db:"ciphertext"`
	CreatedAt         int64  `db:"created_at"`
	ExpiresAt         int64  `db:"expires_at"`
	PasswordProtected bool   `db:"password_protected"`
}

func (r secretRow) toRecord() *domain.SecretRecord {
	return &domain.SecretRecord{
		ID:                r.ID,
		Ciphertext:        r.Ciphertext,
		CreatedAt:         time.UnixMilli(r.CreatedAt).UTC(),
		ExpiresAt:         time.UnixMilli(r.ExpiresAt).UTC(),
		PasswordProtected: r.PasswordProtected,
	}
}

// SecretRepository implements domain.SecretStore on SQLite through sqlx.
type SecretRepository struct {
	db    *sqlx.DB
	clock domain.Clock
}

// Open creates (or reuses) the database file at path and applies the schema.
func Open(path string, clock domain.Clock) (*SecretRepository, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// CRITICAL: one connection serializes every writer, which is what makes take-and-delete atomic
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &SecretRepository{db: db, clock: clock}, nil
}

func (r *SecretRepository) Put(ctx context.Context, in domain.NewSecretRecord, ttl time.Duration) (string, error) {
	now := r.clock.Now()

	rec, err := domain.BuildRecord(in, now, ttl)
	if err != nil {
		return "", err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", &domain.StorageError{Op: "put", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE expires_at <= ?`, now.UnixMilli()); err != nil {
		return "", &domain.StorageError{Op: "put", Err: err}
	}

	row := secretRow{
		ID:                rec.ID,
		Ciphertext:        rec.Ciphertext,
		CreatedAt:         rec.CreatedAt.UnixMilli(),
		ExpiresAt:         rec.ExpiresAt.UnixMilli(),
		PasswordProtected: rec.PasswordProtected,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO secrets (id, ciphertext, created_at, expires_at, password_protected)
		VALUES (:id, :ciphertext, :created_at, :expires_at, :password_protected)
	`, row)
	if err != nil {
		return "", &domain.StorageError{Op: "put", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return "", &domain.StorageError{Op: "put", Err: err}
	}
	return rec.ID, nil
}

func (r *SecretRepository) TakeAndDelete(ctx context.Context, id string) (*domain.SecretRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, &domain.StorageError{Op: "take", Err: err}
	}
	defer tx.Rollback()

	var row secretRow
	err = tx.GetContext(ctx, &row, `SELECT * FROM secrets WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &domain.StorageError{Op: "take", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id); err != nil {
		return nil, &domain.StorageError{Op: "take", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &domain.StorageError{Op: "take", Err: err}
	}

	rec := row.toRecord()
	if rec.IsExpired(r.clock.Now()) {
		return nil, nil
	}
	return rec, nil
}

func (r *SecretRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM secrets WHERE id = ? AND expires_at > ?)`,
		id, r.clock.Now().UnixMilli(),
	)
	if err != nil {
		return false, &domain.StorageError{Op: "exists", Err: err}
	}
	return exists, nil
}

func (r *SecretRepository) ExpiresAt(ctx context.Context, id string) (time.Time, bool, error) {
	var expiresMs int64
	err := r.db.GetContext(ctx, &expiresMs,
		`SELECT expires_at FROM secrets WHERE id = ? AND expires_at > ?`,
		id, r.clock.Now().UnixMilli(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, &domain.StorageError{Op: "expires_at", Err: err}
	}
	return time.UnixMilli(expiresMs).UTC(), true, nil
}

func (r *SecretRepository) SweepExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM secrets WHERE expires_at <= ?`, r.clock.Now().UnixMilli())
	if err != nil {
		return 0, &domain.StorageError{Op: "sweep", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.StorageError{Op: "sweep", Err: err}
	}
	return n, nil
}

func (r *SecretRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SecretRepository) Close() error {
	return r.db.Close()
}
