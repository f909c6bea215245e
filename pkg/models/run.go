package models

import (
	"strconv"
	"strings"
	"time"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether a run in this status is frozen.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunContext is the data a run carries from its trigger through its steps.
type RunContext struct {
	TriggerType TriggerType    `json:"trigger_type"`
	Payload     map[string]any `json:"payload"`
	Steps       map[string]any `json:"steps,omitempty"` // Outputs keyed by step id
}

// TemplateData exposes the run context to placeholders and conditions.
func (c RunContext) TemplateData(run *Run) map[string]any {
	data := map[string]any{
		"payload":      c.Payload,
		"trigger_type": string(c.TriggerType),
		"steps":        c.Steps,
	}

	if run != nil {
		data["run"] = map[string]any{
			"id":        run.ID,
			"flow_id":   run.FlowID,
			"tenant_id": run.TenantID,
			"attempt":   run.Attempt,
		}
	}

	return data
}

// Run is one execution instance of a published flow.
type Run struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	FlowID         string     `json:"flow_id"`
	FlowVersion    int        `json:"flow_version"`
	Status         RunStatus  `json:"status"`
	CurrentStepID  string     `json:"current_step_id"`
	IdempotencyKey string     `json:"idempotency_key"`
	RunKey         string     `json:"run_key"`
	Context        RunContext `json:"context"`
	Attempt        int        `json:"attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// RunKey builds the uniqueness key of a run. Scoping by version keeps runs
// of a republished flow from colliding with runs of an older definition.
func RunKey(flowID string, flowVersion int, idempotencyKey string) string {
	return strings.Join([]string{flowID, strconv.Itoa(flowVersion), idempotencyKey}, "::")
}
