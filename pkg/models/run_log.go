package models

import "time"

// LogLevel is the severity of a run log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogKind tells operators what a run log entry means for the run.
type LogKind string

const (
	LogKindStep      LogKind = "step"      // A step executed
	LogKindRun       LogKind = "run"       // Run-level transition
	LogKindRetryable LogKind = "retryable" // Failure that may succeed on retry
	LogKindFatal     LogKind = "fatal"     // Failure that will never succeed
)

// RunLog is an append-only audit record of a run's execution.
type RunLog struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	RunID     string         `json:"run_id"`
	StepID    *string        `json:"step_id,omitempty"`
	Level     LogLevel       `json:"level"`
	Kind      LogKind        `json:"kind"`
	Message   string         `json:"message"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     *string        `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
