// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrRunNotFound indicates a run was not found.
	ErrRunNotFound = errors.New("run not found")

	// ErrJobNotFound indicates a job was not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists indicates the run already has an outstanding job.
	ErrJobExists = errors.New("run already has an outstanding job")

	// ErrMaxAttemptsExceeded indicates a job cannot be rescheduled again.
	ErrMaxAttemptsExceeded = errors.New("job max attempts exceeded")

	// ErrJobLockLost indicates the job is no longer locked by the caller.
	ErrJobLockLost = errors.New("job lock held by another worker")
)

// RecordError wraps persistence errors with the operation and record involved.
type RecordError struct {
	Op       string // Operation being performed (e.g., "GetByID", "Reschedule")
	Resource string // "flow", "run", "job" or "run_log"
	ID       string // Record ID if applicable
	Err      error  // Underlying error
}

func (e *RecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Resource, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Resource, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for record errors.
func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op, flowID string, err error) *RecordError {
	return &RecordError{Op: op, Resource: "flow", ID: flowID, Err: err}
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RecordError {
	return &RecordError{Op: op, Resource: "run", ID: runID, Err: err}
}

// NewJobError creates a new job error with context.
func NewJobError(op, jobID string, err error) *RecordError {
	return &RecordError{Op: op, Resource: "job", ID: jobID, Err: err}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsMaxAttemptsExceeded checks if a job ran out of attempts.
func IsMaxAttemptsExceeded(err error) bool {
	return errors.Is(err, ErrMaxAttemptsExceeded)
}

// IsJobLockLost checks if another worker has claimed the job since the caller did.
func IsJobLockLost(err error) bool {
	return errors.Is(err, ErrJobLockLost)
}
