// Package services provides the flow store: draft authoring, validation,
// publishing and archiving of tenant automation flows.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/barkbase/automation/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidStatus  = errors.New("invalid flow status")

	// Business Logic Conflicts (409 Conflict).
	ErrFlowNotDraft    = errors.New("flow is not a draft")
	ErrFlowNotRunnable = errors.New("flow is not published")
	ErrFlowArchived    = errors.New("flow is archived")

	// Plan restrictions (403 Forbidden).
	ErrFeatureNotAllowed = errors.New("feature not allowed")

	// ErrFlowNotFound is returned when a flow does not exist for the tenant.
	ErrFlowNotFound = persistence.ErrFlowNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// DefinitionError lists every reason a flow cannot be published.
type DefinitionError struct {
	Errors []string
}

func (e *DefinitionError) Error() string {
	return "invalid flow definition: " + strings.Join(e.Errors, "; ")
}

// IsDefinitionError reports whether err carries definition violations and
// returns them.
func IsDefinitionError(err error) (*DefinitionError, bool) {
	var defErr *DefinitionError
	if errors.As(err, &defErr) {
		return defErr, true
	}

	return nil, false
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	if _, ok := IsDefinitionError(err); ok {
		return true
	}

	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrFlowNotDraft) ||
		errors.Is(err, ErrFlowNotRunnable) ||
		errors.Is(err, ErrFlowArchived)
}

// IsForbiddenError checks if an error is a plan restriction that should return HTTP 403.
func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrFeatureNotAllowed)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
