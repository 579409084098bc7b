package telemetry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/telemetry"
)

func TestHub_PublishReachesOnlyThatSecret(t *testing.T) {
	hub := telemetry.NewHub()
	a := hub.Subscribe("a")
	b := hub.Subscribe("b")

	hub.Publish(domain.SecretEvent{ID: "a", Type: domain.EventConsumed, At: time.Now()})

	select {
	case ev := <-a:
		assert.Equal(t, domain.EventConsumed, ev.Type)
	default:
		t.Fatal("expected event on a")
	}

	select {
	case ev := <-b:
		t.Fatalf("unexpected event on b: %+v", ev)
	default:
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := telemetry.NewHub()
	ch := hub.Subscribe("a")
	require.Equal(t, 1, hub.Listeners("a"))

	hub.Unsubscribe("a", ch)
	assert.Equal(t, 0, hub.Listeners("a"))

	_, open := <-ch
	assert.False(t, open)

	// Publishing after the last listener left is a no-op
	hub.Publish(domain.SecretEvent{ID: "a", Type: domain.EventBurned})
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	hub := telemetry.NewHub()
	ch := hub.Subscribe("a")

	for i := 0; i < 100; i++ {
		hub.Publish(domain.SecretEvent{ID: "a", Type: domain.EventCreated})
	}
	assert.Equal(t, cap(ch), len(ch))
}
