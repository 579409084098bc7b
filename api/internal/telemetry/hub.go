package telemetry

import (
	"sync"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

var _ domain.EventPublisher = (*Hub)(nil)

// Hub fans secret lifecycle events out to read-receipt listeners.
// It is in-memory only: a receipt watcher must be connected to the node
// that handles the take.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan domain.SecretEvent // secretID -> list of client channels
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string][]chan domain.SecretEvent),
	}
}

// Subscribe registers a listener for one secret
func (h *Hub) Subscribe(secretID string) chan domain.SecretEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan domain.SecretEvent, 4) // A secret has very few transitions
	h.subscribers[secretID] = append(h.subscribers[secretID], ch)
	return ch
}

// Unsubscribe removes a client channel and closes it
func (h *Hub) Unsubscribe(secretID string, ch chan domain.SecretEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[secretID]
	for i, sub := range subs {
		if sub == ch {
			subs = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(subs) == 0 {
		delete(h.subscribers, secretID)
		return
	}
	h.subscribers[secretID] = subs
}

// Publish sends an event to all listeners of a secret
func (h *Hub) Publish(ev domain.SecretEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[ev.ID] {
		select {
		case ch <- ev:
		default: // Drop event if buffer is full to preserve SLA stability
		}
	}
}

// Listeners reports how many channels are subscribed to secretID.
func (h *Hub) Listeners(secretID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[secretID])
}
