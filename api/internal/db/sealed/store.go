// Package sealed wraps any SecretStore and re-encrypts the stored blob under
// the server master key, so a leaked table or dump holds nothing usable even
// before the per-secret key is considered.
package sealed

import (
	"context"
	"fmt"
	"time"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

// Store is a domain.SecretStore decorator.
type Store struct {
	inner  domain.SecretStore
	crypto domain.CryptoService
}

func New(inner domain.SecretStore, crypto domain.CryptoService) *Store {
	return &Store{inner: inner, crypto: crypto}
}

// associatedData binds the password flag to the sealed blob; flipping the
// flag in the backend breaks the tag.
func associatedData(passwordProtected bool) []byte {
	return []byte(fmt.Sprintf("whisper/secret/v1;password_protected=%t", passwordProtected))
}

func (s *Store) Put(ctx context.Context, in domain.NewSecretRecord, ttl time.Duration) (string, error) {
	if in.Ciphertext == "" {
		return s.inner.Put(ctx, in, ttl)
	}

	sealed, err := s.crypto.Encrypt(ctx, []byte(in.Ciphertext), associatedData(in.PasswordProtected))
	if err != nil {
		return "", &domain.StorageError{Op: "seal", Err: err}
	}
	in.Ciphertext = sealed
	return s.inner.Put(ctx, in, ttl)
}

func (s *Store) TakeAndDelete(ctx context.Context, id string) (*domain.SecretRecord, error) {
	rec, err := s.inner.TakeAndDelete(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}

	opened, err := s.crypto.Decrypt(ctx, rec.Ciphertext, associatedData(rec.PasswordProtected))
	if err != nil {
		return nil, &domain.StorageError{Op: "unseal", Err: err}
	}
	rec.Ciphertext = string(opened)
	return rec, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return s.inner.Exists(ctx, id)
}

func (s *Store) ExpiresAt(ctx context.Context, id string) (time.Time, bool, error) {
	return s.inner.ExpiresAt(ctx, id)
}

func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	return s.inner.SweepExpired(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.inner.(domain.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
