// Package eventbus provides the publish/subscribe bus used for run lifecycle
// notifications and business event ingestion.
package eventbus

import (
	"context"

	"github.com/barkbase/automation/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Discard is a publisher that drops every event. Components that publish
// lifecycle events use it when no bus is configured.
var Discard EventPublisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, Event) error {
	return nil
}
