// Package events defines the messages carried by the event bus: run lifecycle
// notifications and incoming business events.
package events

import (
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	Topic         = "automation.events"          // Run and flow lifecycle events
	BusinessTopic = "automation.business.events" // Business events that trigger flows
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunCreatedEvent    EventType = "run.created"
	RunCompletedEvent  EventType = "run.completed"
	RunFailedEvent     EventType = "run.failed"
	FlowPublishedEvent EventType = "flow.published"

	// BusinessEventReceived wraps a domain event such as pet.created.
	BusinessEventReceived EventType = "business.event"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TenantID  string         `json:"tenant_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent creates a BaseEvent with a fresh id and the current time.
func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
	}
}

type RunCreated struct {
	BaseEvent

	RunID       string             `json:"run_id"`
	FlowID      string             `json:"flow_id"`
	FlowVersion int                `json:"flow_version"`
	TriggerType models.TriggerType `json:"trigger_type"`
}

func (RunCreated) GetType() EventType {
	return RunCreatedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID    string        `json:"run_id"`
	FlowID   string        `json:"flow_id"`
	Duration time.Duration `json:"duration"`
}

func (RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	RunID    string `json:"run_id"`
	FlowID   string `json:"flow_id"`
	StepID   string `json:"step_id"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

func (RunFailed) GetType() EventType {
	return RunFailedEvent
}

type FlowPublished struct {
	BaseEvent

	FlowID      string             `json:"flow_id"`
	Version     int                `json:"version"`
	TriggerType models.TriggerType `json:"trigger_type"`
}

func (FlowPublished) GetType() EventType {
	return FlowPublishedEvent
}

// BusinessEvent is a domain event emitted by the rest of the product, e.g.
// pet.created, that event-triggered flows listen to.
type BusinessEvent struct {
	BaseEvent

	Event          string         `json:"event"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

func (BusinessEvent) GetType() EventType {
	return BusinessEventReceived
}

// New returns an empty event value for eventType, ready to be decoded into.
// It returns nil for unknown types.
func New(eventType EventType) any {
	switch eventType {
	case RunCreatedEvent:
		return &RunCreated{}
	case RunCompletedEvent:
		return &RunCompleted{}
	case RunFailedEvent:
		return &RunFailed{}
	case FlowPublishedEvent:
		return &FlowPublished{}
	case BusinessEventReceived:
		return &BusinessEvent{}
	default:
		return nil
	}
}

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType EventType) string {
	if eventType == BusinessEventReceived {
		return BusinessTopic
	}

	return Topic
}
