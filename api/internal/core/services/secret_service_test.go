package services_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/core/services"
	"github.com/irgordon/whisper/api/internal/db/memory"
	"github.com/irgordon/whisper/api/internal/db/storetest"
	"github.com/irgordon/whisper/api/internal/infrastructure/crypto"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// recorder captures published lifecycle events.
type recorder struct {
	mu     sync.Mutex
	events []domain.SecretEvent
}

func (r *recorder) Publish(ev domain.SecretEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []domain.SecretEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SecretEventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc    *services.SecretService
	store  *memory.Store
	clock  *storetest.FakeClock
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := storetest.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New(memory.WithClock(clock))
	cipher, err := crypto.NewSecretCipher(0)
	require.NoError(t, err)

	events := &recorder{}
	svc := services.NewSecretService(store, cipher, quietLogger,
		services.WithEvents(events),
		services.WithClock(clock),
	)
	return &fixture{svc: svc, store: store, clock: clock, events: events}
}

func TestSecretService_HelloScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loc, err := f.svc.Create(ctx, services.CreateSecretInput{Message: "hello", ExpiresIn: 3600000})
	require.NoError(t, err)
	assert.True(t, domain.IsValidSecretID(loc.ID))
	assert.Len(t, loc.Key, 32)
	assert.False(t, loc.PasswordProtected())

	plaintext, err := f.svc.Access(ctx, loc.ID, loc.Key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plaintext))

	_, err = f.svc.Access(ctx, loc.ID, loc.Key)
	assert.ErrorIs(t, err, domain.ErrNotFoundOrExpired)

	assert.Equal(t, []domain.SecretEventType{domain.EventCreated, domain.EventConsumed}, f.events.types())
}

func TestSecretService_PasswordScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loc, err := f.svc.Create(ctx, services.CreateSecretInput{
		Message:     "classified",
		ExpiresIn:   60000,
		UsePassword: true,
		Password:    "p@ss",
	})
	require.NoError(t, err)
	assert.Empty(t, loc.Key)
	assert.True(t, loc.PasswordProtected())

	// A wrong password still destroys the record
	_, err = f.svc.Access(ctx, loc.ID, "nope")
	assert.ErrorIs(t, err, domain.ErrDecryption)

	_, err = f.svc.Access(ctx, loc.ID, "p@ss")
	assert.ErrorIs(t, err, domain.ErrNotFoundOrExpired)
}

func TestSecretService_PasswordRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loc, err := f.svc.Create(ctx, services.CreateSecretInput{
		Message: "classified", ExpiresIn: 60000, UsePassword: true, Password: "p@ss",
	})
	require.NoError(t, err)

	plaintext, err := f.svc.Open(ctx, *loc, "p@ss")
	require.NoError(t, err)
	assert.Equal(t, "classified", string(plaintext))
}

func TestSecretService_OpenWithoutPasswordKeepsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loc, err := f.svc.Create(ctx, services.CreateSecretInput{
		Message: "classified", ExpiresIn: 60000, UsePassword: true, Password: "p@ss",
	})
	require.NoError(t, err)

	_, err = f.svc.Open(ctx, *loc, "")
	assert.True(t, domain.IsValidation(err))

	exists, err := f.svc.Exists(ctx, loc.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSecretService_Expiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loc, err := f.svc.Create(ctx, services.CreateSecretInput{Message: "short lived", ExpiresIn: 60000})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.svc.Access(ctx, loc.ID, loc.Key)
	assert.ErrorIs(t, err, domain.ErrNotFoundOrExpired)
}

func TestSecretService_ConcurrentAccessHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loc, err := f.svc.Create(ctx, services.CreateSecretInput{Message: "race", ExpiresIn: 60000})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		notFound int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Access(ctx, loc.ID, loc.Key)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if assert.ErrorIs(t, err, domain.ErrNotFoundOrExpired) {
				notFound++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 7, notFound)
}

func TestSecretService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]struct {
		in    services.CreateSecretInput
		field string
	}{
		"empty message":    {services.CreateSecretInput{ExpiresIn: 60000}, "message"},
		"blank message":    {services.CreateSecretInput{Message: " \t\n ", ExpiresIn: 60000}, "message"},
		"message too long": {services.CreateSecretInput{Message: strings.Repeat("a", 10001), ExpiresIn: 60000}, "message"},
		"unknown ttl":      {services.CreateSecretInput{Message: "x", ExpiresIn: 1234}, "expires_in"},
		"short password":   {services.CreateSecretInput{Message: "x", ExpiresIn: 60000, UsePassword: true, Password: "abc"}, "password"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.in)
			require.Error(t, err)

			var errs domain.ValidationErrors
			require.ErrorAs(t, err, &errs)
			fields := make([]string, 0, len(errs))
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tc.field)
		})
	}

	assert.Zero(t, f.store.Len())
}

func TestSecretService_MessageKeepsSurroundingWhitespace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loc, err := f.svc.Create(ctx, services.CreateSecretInput{Message: "  indented\n", ExpiresIn: 60000})
	require.NoError(t, err)

	plaintext, err := f.svc.Access(ctx, loc.ID, loc.Key)
	require.NoError(t, err)
	assert.Equal(t, "  indented\n", string(plaintext))
}

func TestSecretService_MessageLimitCountsCharacters(t *testing.T) {
	f := newFixture(t)

	// 10,000 multi-byte characters are within the limit
	msg := strings.Repeat("é", domain.MaxMessageLength)
	loc, err := f.svc.Create(context.Background(), services.CreateSecretInput{Message: msg, ExpiresIn: 60000})
	require.NoError(t, err)

	plaintext, err := f.svc.Access(context.Background(), loc.ID, loc.Key)
	require.NoError(t, err)
	assert.Equal(t, msg, string(plaintext))
}

func TestSecretService_PasswordIgnoredWhenDisabled(t *testing.T) {
	f := newFixture(t)

	loc, err := f.svc.Create(context.Background(), services.CreateSecretInput{
		Message: "x", ExpiresIn: 60000, Password: "ab",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, loc.Key)
}

func TestSecretService_Burn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loc, err := f.svc.Create(ctx, services.CreateSecretInput{Message: "revoke me", ExpiresIn: 60000})
	require.NoError(t, err)

	require.NoError(t, f.svc.Burn(ctx, loc.ID))
	assert.ErrorIs(t, f.svc.Burn(ctx, loc.ID), domain.ErrNotFoundOrExpired)

	_, err = f.svc.Access(ctx, loc.ID, loc.Key)
	assert.ErrorIs(t, err, domain.ErrNotFoundOrExpired)
	assert.Contains(t, f.events.types(), domain.EventBurned)
}

func TestSecretService_UnknownIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Access(ctx, "not-a-uuid", "key")
	assert.ErrorIs(t, err, domain.ErrNotFoundOrExpired)

	exists, err := f.svc.Exists(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.False(t, exists)
}
