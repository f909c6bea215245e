// Package models defines the core domain models for tenant automation flows.
package models

import "time"

// FlowStatus represents the lifecycle state of a flow.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"     // Editable, not executable
	FlowStatusPublished FlowStatus = "published" // Frozen, executable
	FlowStatusArchived  FlowStatus = "archived"  // Terminal, rejects new runs
)

// FlowStatuses lists every valid flow status.
var FlowStatuses = []FlowStatus{FlowStatusDraft, FlowStatusPublished, FlowStatusArchived}

// TriggerType identifies what spawns runs of a flow.
type TriggerType string

const (
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeManual   TriggerType = "manual"
)

// TriggerTypes lists every valid trigger type.
var TriggerTypes = []TriggerType{TriggerTypeEvent, TriggerTypeSchedule, TriggerTypeManual}

// Trigger is the single trigger of a flow. Config is a type-specific bag,
// e.g. {"event": "pet.created"} or {"cron": "0 9 * * *"}.
type Trigger struct {
	Type   TriggerType    `json:"type"             validate:"required,oneof=event schedule manual"`
	Config map[string]any `json:"config,omitempty"`
}

// EventType returns the business event an event trigger listens to.
func (t Trigger) EventType() string {
	event, _ := t.Config["event"].(string)

	return event
}

// CronExpression returns the cron spec of a schedule trigger.
func (t Trigger) CronExpression() string {
	spec, _ := t.Config["cron"].(string)

	return spec
}

// Flow is a tenant-owned automation definition.
type Flow struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Name        string     `json:"name"                   validate:"required,min=1,max=255"`
	Description string     `json:"description,omitempty"`
	Status      FlowStatus `json:"status"`
	Trigger     Trigger    `json:"trigger"`
	Definition  Definition `json:"definition"`
	Version     int        `json:"version"`
	CreatedBy   string     `json:"created_by,omitempty"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// IsDraft reports whether the flow definition may still be mutated.
func (f *Flow) IsDraft() bool {
	return f.Status == FlowStatusDraft
}

// IsRunnable reports whether new runs may be created for the flow.
func (f *Flow) IsRunnable() bool {
	return f.Status == FlowStatusPublished
}
