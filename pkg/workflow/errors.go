// Package workflow runs published flows: it creates runs idempotently,
// dispatches business events to matching flows, and advances runs one step
// at a time through the job queue.
package workflow

import "errors"

var (
	// ErrEntryStepMissing is returned when a flow's entry step cannot be found.
	ErrEntryStepMissing = errors.New("flow entry step does not exist")

	// ErrStepNotFound is returned when a job points at a step the flow lacks.
	ErrStepNotFound = errors.New("step not found in flow definition")

	// ErrUnknownStepKind is returned for a step kind with no handler.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrFlowVersionMismatch is returned when the stored flow no longer matches
	// the version a run was created from.
	ErrFlowVersionMismatch = errors.New("flow version does not match run")
)
