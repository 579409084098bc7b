// Package redis is the networked SecretStore for multi-node relay deployments.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

// DefaultKeyPrefix namespaces every record key.
const DefaultKeyPrefix = "whisper:secret:v1:"

// SecretStore implements domain.SecretStore on Redis.
//
// Records carry a native PX expiry, so Redis drops them on its own; the
// expiresAt stamped in the payload is still checked against the store clock.
// TakeAndDelete is a single GETDEL, which Redis executes atomically.
type SecretStore struct {
	client    redis.UniversalClient
	keyPrefix string
	clock     domain.Clock
	closeOnce sync.Once
}

// NewSecretStore wraps an existing client (redis.Client or redis.ClusterClient).
func NewSecretStore(client redis.UniversalClient, keyPrefix string, clock domain.Clock) *SecretStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &SecretStore{client: client, keyPrefix: keyPrefix, clock: clock}
}

func (s *SecretStore) key(id string) string { return s.keyPrefix + id }

func (s *SecretStore) Put(ctx context.Context, in domain.NewSecretRecord, ttl time.Duration) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		rec, err := domain.BuildRecord(in, s.clock.Now(), ttl)
		if err != nil {
			return "", err
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return "", &domain.StorageError{Op: "put", Err: fmt.Errorf("encode record: %w", err)}
		}

		// NX: never overwrite a live record on an id collision
		ok, err := s.client.SetNX(ctx, s.key(rec.ID), payload, ttl).Result()
		if err != nil {
			return "", &domain.StorageError{Op: "put", Err: err}
		}
		if ok {
			return rec.ID, nil
		}
	}
	return "", &domain.StorageError{Op: "put", Err: errors.New("could not allocate a unique secret id")}
}

func (s *SecretStore) TakeAndDelete(ctx context.Context, id string) (*domain.SecretRecord, error) {
	if id == "" {
		return nil, nil
	}

	raw, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, &domain.StorageError{Op: "take", Err: err}
	}

	var rec domain.SecretRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &domain.StorageError{Op: "take", Err: fmt.Errorf("decode record: %w", err)}
	}
	if rec.IsExpired(s.clock.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *SecretStore) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	rec, err := s.peek(ctx, s.key(id))
	if err != nil {
		return false, &domain.StorageError{Op: "exists", Err: err}
	}
	return rec != nil && !rec.IsExpired(s.clock.Now()), nil
}

func (s *SecretStore) ExpiresAt(ctx context.Context, id string) (time.Time, bool, error) {
	if id == "" {
		return time.Time{}, false, nil
	}

	rec, err := s.peek(ctx, s.key(id))
	if err != nil {
		return time.Time{}, false, &domain.StorageError{Op: "expires_at", Err: err}
	}
	if rec == nil || rec.IsExpired(s.clock.Now()) {
		return time.Time{}, false, nil
	}
	return rec.ExpiresAt, true, nil
}

// SweepExpired scans the key space for records that are expired by the store
// clock but not yet evicted by Redis. Normally this finds nothing.
func (s *SecretStore) SweepExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var removed int64

	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		rec, err := s.peek(ctx, key)
		if err != nil {
			return removed, &domain.StorageError{Op: "sweep", Err: err}
		}
		if rec == nil || !rec.IsExpired(now) {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return removed, &domain.StorageError{Op: "sweep", Err: err}
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, &domain.StorageError{Op: "sweep", Err: err}
	}
	return removed, nil
}

// peek reads a record without consuming it. A vanished key is (nil, nil).
func (s *SecretStore) peek(ctx context.Context, key string) (*domain.SecretRecord, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec domain.SecretRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func (s *SecretStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
// Safe to call multiple times
func (s *SecretStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.client.Close()
	})
	return err
}
