package models

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// StepKind is the closed set of step kinds a flow graph may contain.
type StepKind string

const (
	StepKindAction    StepKind = "action"
	StepKindCondition StepKind = "condition"
	StepKindDelay     StepKind = "delay"
	StepKindBranch    StepKind = "branch"
)

// StepKinds lists every valid step kind.
var StepKinds = []StepKind{StepKindAction, StepKindCondition, StepKindDelay, StepKindBranch}

// IsValid reports whether k belongs to the fixed kind set.
func (k StepKind) IsValid() bool {
	switch k {
	case StepKindAction, StepKindCondition, StepKindDelay, StepKindBranch:
		return true
	default:
		return false
	}
}

// AllowsMultipleEdges reports whether a step of this kind may fan out.
func (k StepKind) AllowsMultipleEdges() bool {
	return k == StepKindBranch || k == StepKindCondition
}

// Edge handles used by condition steps.
const (
	HandleTrue    = "true"
	HandleFalse   = "false"
	HandleDefault = "default"
)

// Step is one node of the flow graph.
type Step struct {
	ID     string         `json:"id"`
	Kind   StepKind       `json:"kind"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// ActionType returns the registry action type of an action step.
func (s *Step) ActionType() string {
	action, _ := s.Config["action"].(string)

	return action
}

// ErrInvalidDelay is returned when a delay step has no positive duration.
var ErrInvalidDelay = errors.New("delay requires a positive duration")

// DelayDuration returns how long a delay step waits. The duration is the sum
// of config.seconds, config.minutes and config.hours, or config.duration as a
// Go duration string such as "90m".
func (s *Step) DelayDuration() (time.Duration, error) {
	if raw, ok := s.Config["duration"].(string); ok {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidDelay, err)
		}

		if d <= 0 {
			return 0, ErrInvalidDelay
		}

		return d, nil
	}

	var total time.Duration

	units := []struct {
		key  string
		unit time.Duration
	}{
		{"seconds", time.Second},
		{"minutes", time.Minute},
		{"hours", time.Hour},
	}

	for _, u := range units {
		switch v := s.Config[u.key].(type) {
		case float64:
			total += time.Duration(v * float64(u.unit))
		case int:
			total += time.Duration(v) * u.unit
		}
	}

	if total <= 0 {
		return 0, ErrInvalidDelay
	}

	return total, nil
}

// Edge connects two steps. Handle distinguishes the outgoing paths of
// condition and branch steps.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Handle string `json:"handle,omitempty"`
}

// Definition is the flow graph: an arena of steps indexed by id plus an
// adjacency list of edges.
type Definition struct {
	EntryStepID string  `json:"entry_step_id"`
	Steps       []*Step `json:"steps"`
	Edges       []*Edge `json:"edges"`
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (*Step, bool) {
	for _, step := range d.Steps {
		if step != nil && step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// Outgoing returns the edges leaving the given step, in declaration order.
func (d *Definition) Outgoing(stepID string) []*Edge {
	var edges []*Edge

	for _, edge := range d.Edges {
		if edge != nil && edge.Source == stepID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Clone returns a deep copy of the definition.
func (d Definition) Clone() Definition {
	out := Definition{
		EntryStepID: d.EntryStepID,
		Steps:       make([]*Step, 0, len(d.Steps)),
		Edges:       make([]*Edge, 0, len(d.Edges)),
	}

	for _, step := range d.Steps {
		if step == nil {
			continue
		}

		c := *step
		c.Config = cloneMap(step.Config)
		out.Steps = append(out.Steps, &c)
	}

	for _, edge := range d.Edges {
		if edge == nil {
			continue
		}

		c := *edge
		out.Edges = append(out.Edges, &c)
	}

	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	maps.Copy(out, in)

	return out
}
