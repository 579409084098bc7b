// Package storetest holds the behavioural contract every domain.SecretStore
// backend must satisfy. Backend packages run it from their own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

// FakeClock is a manually advanced domain.Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.Truncate(time.Millisecond)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Factory builds an empty store wired to the given clock.
type Factory func(t *testing.T, clock domain.Clock) domain.SecretStore

// Run executes the full contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Put then TakeAndDelete returns the record once", func(t *testing.T) {
		testViewOnce(t, newStore)
	})
	t.Run("Concurrent takes yield exactly one winner", func(t *testing.T) {
		testConcurrentTake(t, newStore)
	})
	t.Run("Expiry boundary", func(t *testing.T) {
		testExpiryBoundary(t, newStore)
	})
	t.Run("Exists is read only", func(t *testing.T) {
		testExistsReadOnly(t, newStore)
	})
	t.Run("ExpiresAt reports the stamped expiry", func(t *testing.T) {
		testExpiresAt(t, newStore)
	})
	t.Run("SweepExpired keeps live records", func(t *testing.T) {
		testSweep(t, newStore)
	})
	t.Run("Put rejects non-positive ttl", func(t *testing.T) {
		testRejectsBadTTL(t, newStore)
	})
	t.Run("Unknown ids are absent", func(t *testing.T) {
		testUnknownID(t, newStore)
	})
}

func put(t *testing.T, s domain.SecretStore, blob string, ttl time.Duration) string {
	t.Helper()
	id, err := s.Put(context.Background(), domain.NewSecretRecord{Ciphertext: blob}, ttl)
	require.NoError(t, err)
	require.True(t, domain.IsValidSecretID(id), "store returned malformed id %q", id)
	return id
}

func testViewOnce(t *testing.T, newStore Factory) {
	clock := NewFakeClock(time.Now())
	s := newStore(t, clock)
	ctx := context.Background()

	id, err := s.Put(ctx, domain.NewSecretRecord{Ciphertext: "blob-1", PasswordProtected: true}, time.Minute)
	require.NoError(t, err)

	rec, err := s.TakeAndDelete(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "blob-1", rec.Ciphertext)
	assert.True(t, rec.PasswordProtected)
	assert.WithinDuration(t, clock.Now(), rec.CreatedAt, time.Millisecond)
	assert.WithinDuration(t, clock.Now().Add(time.Minute), rec.ExpiresAt, time.Millisecond)

	for i := 0; i < 3; i++ {
		again, err := s.TakeAndDelete(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, again)
	}

	exists, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func testConcurrentTake(t *testing.T, newStore Factory) {
	s := newStore(t, NewFakeClock(time.Now()))
	ctx := context.Background()

	const ids = 5
	const takers = 16

	for i := 0; i < ids; i++ {
		id := put(t, s, "contended", time.Hour)

		var winners atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})

		for j := 0; j < takers; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				rec, err := s.TakeAndDelete(ctx, id)
				assert.NoError(t, err)
				if rec != nil {
					winners.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), winners.Load(), "id %s was observed by more than one taker", id)
	}
}

func testExpiryBoundary(t *testing.T, newStore Factory) {
	const ttl = 60 * time.Second
	ctx := context.Background()

	clock := NewFakeClock(time.Now())
	s := newStore(t, clock)

	start := clock.Now()
	early := put(t, s, "early", ttl)
	late := put(t, s, "late", ttl)

	clock.Set(start.Add(ttl - time.Millisecond))
	exists, err := s.Exists(ctx, early)
	require.NoError(t, err)
	assert.True(t, exists)

	rec, err := s.TakeAndDelete(ctx, early)
	require.NoError(t, err)
	require.NotNil(t, rec, "record must still be retrievable at T-1ms")

	clock.Set(start.Add(ttl + time.Millisecond))
	exists, err = s.Exists(ctx, late)
	require.NoError(t, err)
	assert.False(t, exists)

	rec, err = s.TakeAndDelete(ctx, late)
	require.NoError(t, err)
	assert.Nil(t, rec, "record must be treated as absent at T+1ms")

	// Rolling the clock back must not resurrect an expired record the take already removed.
	clock.Set(start)
	rec, err = s.TakeAndDelete(ctx, late)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func testExistsReadOnly(t *testing.T, newStore Factory) {
	s := newStore(t, NewFakeClock(time.Now()))
	ctx := context.Background()
	id := put(t, s, "peek", time.Hour)

	for i := 0; i < 5; i++ {
		exists, err := s.Exists(ctx, id)
		require.NoError(t, err)
		require.True(t, exists)
	}

	rec, err := s.TakeAndDelete(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func testExpiresAt(t *testing.T, newStore Factory) {
	clock := NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 900_000_000, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()
	id := put(t, s, "stamped", time.Hour)

	expiresAt, ok, err := s.ExpiresAt(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, expiresAt.Equal(clock.Now().Add(time.Hour)), "got %s", expiresAt)

	// Read only: the record is still there to take
	clock.Advance(time.Hour - time.Millisecond)
	_, ok, err = s.ExpiresAt(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok, err = s.ExpiresAt(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.ExpiresAt(ctx, "8f14e45f-ceea-4e6a-9a3b-0c9d0e1f2a3b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSweep(t *testing.T, newStore Factory) {
	clock := NewFakeClock(time.Now())
	s := newStore(t, clock)
	ctx := context.Background()

	var expired []string
	for i := 0; i < 2; i++ {
		expired = append(expired, put(t, s, "short", time.Minute))
	}
	var live []string
	for i := 0; i < 3; i++ {
		live = append(live, put(t, s, "long", time.Hour))
	}

	clock.Advance(2 * time.Minute)

	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Idempotent
	n, err = s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Even with the clock rolled back, swept records are gone for good.
	clock.Advance(-2 * time.Minute)
	for _, id := range expired {
		exists, err := s.Exists(ctx, id)
		require.NoError(t, err)
		assert.False(t, exists)
	}
	for _, id := range live {
		exists, err := s.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func testRejectsBadTTL(t *testing.T, newStore Factory) {
	s := newStore(t, NewFakeClock(time.Now()))

	for _, ttl := range []time.Duration{0, -time.Second} {
		id, err := s.Put(context.Background(), domain.NewSecretRecord{Ciphertext: "x"}, ttl)
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
		assert.Empty(t, id)
	}

	n, err := s.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testUnknownID(t *testing.T, newStore Factory) {
	s := newStore(t, NewFakeClock(time.Now()))
	ctx := context.Background()

	for _, id := range []string{"", "not-a-uuid", "4d2c6c1e-8b41-4a7e-9f0a-6a1f0d0f9b77"} {
		rec, err := s.TakeAndDelete(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)

		exists, err := s.Exists(ctx, id)
		require.NoError(t, err)
		assert.False(t, exists)
	}
}
