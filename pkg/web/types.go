// Package web provides the HTTP API of the automation engine.
package web

import (
	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/services"
)

// CreateFlowRequest is the body of POST /flows.
type CreateFlowRequest struct {
	Name        string            `json:"name"        validate:"required,min=1,max=255"`
	Description string            `json:"description"`
	Trigger     models.Trigger    `json:"trigger"`
	Definition  models.Definition `json:"definition"`
}

func (r CreateFlowRequest) input() services.FlowInput {
	return services.FlowInput{
		Name:        r.Name,
		Description: r.Description,
		Trigger:     r.Trigger,
		Definition:  r.Definition,
	}
}

// UpdateFlowRequest is the body of PATCH /flows/:id. Omitted fields are kept.
type UpdateFlowRequest struct {
	Name        *string            `json:"name,omitempty"        validate:"omitempty,min=1,max=255"`
	Description *string            `json:"description,omitempty"`
	Trigger     *models.Trigger    `json:"trigger,omitempty"`
	Definition  *models.Definition `json:"definition,omitempty"`
}

func (r UpdateFlowRequest) patch() services.FlowPatch {
	return services.FlowPatch{
		Name:        r.Name,
		Description: r.Description,
		Trigger:     r.Trigger,
		Definition:  r.Definition,
	}
}

// RunFlowRequest is the optional body of POST /flows/:id/run.
type RunFlowRequest struct {
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotencyKey" validate:"omitempty,max=255"`
}

// EventRequest is a business event posted by a product service. TenantID is
// optional and must match the tenant header when present.
type EventRequest struct {
	TenantID       string         `json:"tenantId"`
	Type           string         `json:"type"           validate:"required,max=255"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotencyKey" validate:"omitempty,max=255"`
}

type EventResponse struct {
	CreatedRuns int `json:"createdRuns"`
}

// ValidateRequest is the body of POST /flows/validate.
type ValidateRequest struct {
	Definition models.Definition `json:"definition"`
}

type FlowListResponse struct {
	Flows []*models.Flow `json:"flows"`
	Total int            `json:"total"`
}

type RunLogsResponse struct {
	Logs []*models.RunLog `json:"logs"`
}
