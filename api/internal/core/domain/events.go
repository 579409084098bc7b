package domain

import "time"

// SecretEventType names a lifecycle transition.
type SecretEventType string

const (
	EventCreated  SecretEventType = "created"
	EventConsumed SecretEventType = "consumed"
	EventBurned   SecretEventType = "burned"
	EventExpired  SecretEventType = "expired"
	// EventGone is emitted to late subscribers when the record is already absent.
	EventGone SecretEventType = "gone"
)

// SecretEvent is a lifecycle notification. It carries no secret material.
type SecretEvent struct {
	ID   string          `json:"id"`
	Type SecretEventType `json:"type"`
	At   time.Time       `json:"at"`
}

// EventPublisher fans lifecycle events out to interested listeners.
type EventPublisher interface {
	Publish(ev SecretEvent)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(SecretEvent) {}

// Publishers fans one event out to several publishers in order.
type Publishers []EventPublisher

func (p Publishers) Publish(ev SecretEvent) {
	for _, pub := range p {
		pub.Publish(ev)
	}
}
