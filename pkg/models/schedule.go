package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a flow has no usable schedule.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is the cron registration of a published schedule-triggered flow.
type Schedule struct {
	TenantID       string    `json:"tenant_id"`
	FlowID         string    `json:"flow_id"`
	FlowVersion    int       `json:"flow_version"`
	CronExpression string    `json:"cron_expression"`
	Timezone       string    `json:"timezone,omitempty"`
	NextDueAt      time.Time `json:"next_due_at"`
}

// NewSchedule builds the schedule of flow and computes its first firing after now.
func NewSchedule(flow *Flow, now time.Time) (*Schedule, error) {
	if flow.Trigger.Type != TriggerTypeSchedule || flow.Trigger.CronExpression() == "" {
		return nil, ErrInvalidSchedule
	}

	timezone, _ := flow.Trigger.Config["timezone"].(string)

	schedule := &Schedule{
		TenantID:       flow.TenantID,
		FlowID:         flow.ID,
		FlowVersion:    flow.Version,
		CronExpression: flow.Trigger.CronExpression(),
		Timezone:       timezone,
	}

	parsed, err := schedule.Parse()
	if err != nil {
		return nil, err
	}

	schedule.NextDueAt = parsed.Next(now)

	return schedule, nil
}

// Spec returns the cron spec including the timezone prefix when one is set.
func (s *Schedule) Spec() string {
	if s.Timezone == "" {
		return s.CronExpression
	}

	return "CRON_TZ=" + s.Timezone + " " + s.CronExpression
}

// Parse parses the schedule's spec.
func (s *Schedule) Parse() (cron.Schedule, error) {
	parsed, err := scheduleParser.Parse(s.Spec())
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}

	return parsed, nil
}

// Key identifies the registration; a change of version or spec yields a new key.
func (s *Schedule) Key() string {
	return RunKey(s.FlowID, s.FlowVersion, s.Spec())
}
