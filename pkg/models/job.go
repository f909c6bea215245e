package models

import "time"

// Job is a scheduled, claimable unit of work advancing a run by one step.
type Job struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	RunID       string         `json:"run_id"`
	StepID      string         `json:"step_id"`
	DueAt       time.Time      `json:"due_at"`
	LockedBy    string         `json:"locked_by,omitempty"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsClaimable reports whether the job is due and its lock is empty or older
// than lockTTL.
func (j *Job) IsClaimable(now time.Time, lockTTL time.Duration) bool {
	if j.DueAt.After(now) {
		return false
	}

	if j.LockedBy == "" || j.LockedAt == nil {
		return true
	}

	return j.LockedAt.Before(now.Add(-lockTTL))
}

// Job payload keys.
const (
	JobPayloadDelayElapsed = "delay_elapsed"
)
