// Package protocol defines the contracts between the engine and pluggable actions.
package protocol

import (
	"context"
	"errors"
	"log/slog"
)

// ActionInput is everything an action sees when a step executes.
type ActionInput struct {
	TenantID string
	RunID    string
	StepID   string
	// Context is the run's template data: payload, trigger_type, steps and run.
	Context map[string]any
	// Config is the step configuration with placeholders already rendered.
	Config map[string]any
	Logger *slog.Logger
}

// Action executes one step. Actions must tolerate being executed more than
// once for the same step, since delivery is at least once.
type Action interface {
	Execute(ctx context.Context, input ActionInput) (map[string]any, error)
}

// ActionFactory creates actions and describes their configuration.
type ActionFactory interface {
	// Create builds an action from the step configuration, already rendered
	// against the run context.
	Create(ctx context.Context, config map[string]any) (Action, error)

	// ID is the action type referenced by a step's config.action.
	ID() string

	Name() string
	Description() string

	// Schema returns the JSON schema for the step configuration.
	Schema() map[string]any
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as one that will never succeed on retry. The executor
// fails the run immediately instead of rescheduling.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err, or any error it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var permanent *permanentError

	return errors.As(err, &permanent)
}
