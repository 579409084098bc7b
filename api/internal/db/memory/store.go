// Package memory is the in-process SecretStore. It is the default backend for
// single-node deployments and the reference implementation for tests.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

const shardCount = 32

// maxIDAttempts bounds the retry loop on the (astronomically unlikely) id collision.
const maxIDAttempts = 3

type shard struct {
	mu      sync.Mutex
	records map[string]domain.SecretRecord
}

// Store shards records by id so unrelated ids never contend on one lock, while
// every operation on a single id is serialized by its shard mutex.
type Store struct {
	shards [shardCount]*shard
	clock  domain.Clock
}

type Option func(*Store)

// WithClock swaps the wall clock, mainly for expiry tests.
func WithClock(c domain.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func New(opts ...Option) *Store {
	s := &Store{clock: domain.SystemClock{}}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]domain.SecretRecord)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

func (s *Store) Put(ctx context.Context, in domain.NewSecretRecord, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.StorageError{Op: "put", Err: err}
	}

	// Opportunistic sweep before insertion
	if _, err := s.SweepExpired(ctx); err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		rec, err := domain.BuildRecord(in, s.clock.Now(), ttl)
		if err != nil {
			return "", err
		}

		sh := s.shardFor(rec.ID)
		sh.mu.Lock()
		if _, taken := sh.records[rec.ID]; !taken {
			sh.records[rec.ID] = *rec
			sh.mu.Unlock()
			return rec.ID, nil
		}
		sh.mu.Unlock()
	}
	return "", &domain.StorageError{Op: "put", Err: errIDCollision}
}

func (s *Store) TakeAndDelete(ctx context.Context, id string) (*domain.SecretRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.StorageError{Op: "take", Err: err}
	}

	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return nil, nil
	}
	// Removed unconditionally; an expired hit is indistinguishable from a miss.
	delete(sh.records, id)
	if rec.IsExpired(s.clock.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &domain.StorageError{Op: "exists", Err: err}
	}

	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	return ok && !rec.IsExpired(s.clock.Now()), nil
}

func (s *Store) ExpiresAt(ctx context.Context, id string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, &domain.StorageError{Op: "expires_at", Err: err}
	}

	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok || rec.IsExpired(s.clock.Now()) {
		return time.Time{}, false, nil
	}
	return rec.ExpiresAt, true, nil
}

func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var removed int64

	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, rec := range sh.records {
			if rec.IsExpired(now) {
				delete(sh.records, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len counts records currently held, expired or not.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
