package service

import "procurement/internal/model"

// EventPublisher receives events after their transaction has committed.
// Publish must not block the caller.
type EventPublisher interface {
	Publish(event model.Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(model.Event) {}
