package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/barkbase/automation/pkg/eventbus"
	"github.com/barkbase/automation/pkg/events"
	"github.com/barkbase/automation/pkg/features"
	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/registry"
)

// FlowInput is the content of a new draft.
type FlowInput struct {
	Name        string            `json:"name"        validate:"required,min=1,max=255"`
	Description string            `json:"description"`
	Trigger     models.Trigger    `json:"trigger"`
	Definition  models.Definition `json:"definition"`
}

// FlowPatch changes a draft. Nil fields are left untouched.
type FlowPatch struct {
	Name        *string            `json:"name,omitempty"        validate:"omitempty,min=1,max=255"`
	Description *string            `json:"description,omitempty"`
	Trigger     *models.Trigger    `json:"trigger,omitempty"`
	Definition  *models.Definition `json:"definition,omitempty"`
}

type Flows struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	gate        features.Gate
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewFlows creates the flow store service. gate and publisher may be nil.
func NewFlows(
	persistence persistence.Persistence,
	registry *registry.Registry,
	gate features.Gate,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Flows {
	if gate == nil {
		gate = features.AllowAll{}
	}

	if publisher == nil {
		publisher = eventbus.Discard
	}

	return &Flows{
		persistence: persistence,
		registry:    registry,
		gate:        gate,
		publisher:   publisher,
		logger:      logger.With("module", "flows_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck checks the health of the persistence layer.
func (f *Flows) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateDraft stores a new draft at version 1. Drafts may be incomplete; the
// definition is only enforced on publish.
func (f *Flows) CreateDraft(ctx context.Context, tenantID, actor string, input FlowInput) (*models.Flow, error) {
	if tenantID == "" {
		return nil, NewValidationError("CreateDraft", "TENANT_REQUIRED", "tenant id is required", ErrInvalidRequest)
	}

	err := validate.Struct(input)
	if err != nil {
		return nil, NewValidationError("CreateDraft", "INVALID_FLOW", err.Error(), ErrInvalidRequest)
	}

	now := f.now()
	flow := &models.Flow{
		TenantID:    tenantID,
		Name:        input.Name,
		Description: input.Description,
		Status:      models.FlowStatusDraft,
		Trigger:     input.Trigger,
		Definition:  input.Definition.Clone(),
		Version:     1,
		CreatedBy:   actor,
		UpdatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = f.persistence.FlowRepository().Save(ctx, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return flow, nil
}

// Update applies patch to a draft. Changing the trigger or definition bumps
// the version.
func (f *Flows) Update(ctx context.Context, tenantID, flowID, actor string, patch FlowPatch) (*models.Flow, error) {
	err := validate.Struct(patch)
	if err != nil {
		return nil, NewValidationError("Update", "INVALID_FLOW", err.Error(), ErrInvalidRequest)
	}

	flow, err := f.Get(ctx, tenantID, flowID)
	if err != nil {
		return nil, err
	}

	if !flow.IsDraft() {
		return nil, &ServiceError{Op: "Update", Code: "FLOW_NOT_DRAFT", Message: fmt.Sprintf("flow %s is %s", flowID, flow.Status), Err: ErrFlowNotDraft}
	}

	if patch.Name != nil {
		flow.Name = *patch.Name
	}

	if patch.Description != nil {
		flow.Description = *patch.Description
	}

	structural := false

	if patch.Trigger != nil {
		flow.Trigger = *patch.Trigger
		structural = true
	}

	if patch.Definition != nil {
		flow.Definition = patch.Definition.Clone()
		structural = true
	}

	if structural {
		flow.Version++
	}

	flow.UpdatedBy = actor
	flow.UpdatedAt = f.now()

	err = f.persistence.FlowRepository().Save(ctx, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return flow, nil
}

// Publish freezes a valid draft. Publishing an already published flow
// returns it unchanged.
func (f *Flows) Publish(ctx context.Context, tenantID, flowID, actor string) (*models.Flow, error) {
	flow, err := f.Get(ctx, tenantID, flowID)
	if err != nil {
		return nil, err
	}

	switch flow.Status {
	case models.FlowStatusPublished:
		return flow, nil
	case models.FlowStatusArchived:
		return nil, &ServiceError{Op: "Publish", Code: "FLOW_ARCHIVED", Message: "archived flows cannot be published", Err: ErrFlowArchived}
	case models.FlowStatusDraft:
	}

	if errs := f.publishErrors(flow); len(errs) > 0 {
		return nil, &DefinitionError{Errors: errs}
	}

	err = f.gate.CanPublish(ctx, tenantID, flow)
	if err != nil {
		return nil, &ServiceError{Op: "Publish", Code: "FEATURE_NOT_ALLOWED", Message: err.Error(), Err: errors.Join(ErrFeatureNotAllowed, err)}
	}

	now := f.now()
	flow.Status = models.FlowStatusPublished
	flow.PublishedAt = &now
	flow.UpdatedAt = now
	flow.UpdatedBy = actor

	err = f.persistence.FlowRepository().Save(ctx, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to publish flow: %w", err)
	}

	err = f.publisher.Publish(ctx, flow.ID, events.FlowPublished{
		BaseEvent:   events.NewBaseEvent(events.FlowPublishedEvent, tenantID),
		FlowID:      flow.ID,
		Version:     flow.Version,
		TriggerType: flow.Trigger.Type,
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to publish flow.published event", "flow_id", flow.ID, "tenant_id", tenantID, "error", err)
	}

	f.logger.InfoContext(ctx, "flow published", "flow_id", flow.ID, "tenant_id", tenantID, "version", flow.Version)

	return flow, nil
}

func (f *Flows) publishErrors(flow *models.Flow) []string {
	errs := ValidateFlow(flow).Errors
	errs = append(errs, validateDelays(flow.Definition)...)

	if f.registry != nil {
		errs = append(errs, validateActions(f.registry, flow.Definition)...)
	}

	return errs
}

// Archive makes the flow terminal. Archived flows reject new runs; runs
// already in flight finish.
func (f *Flows) Archive(ctx context.Context, tenantID, flowID, actor string) (*models.Flow, error) {
	flow, err := f.Get(ctx, tenantID, flowID)
	if err != nil {
		return nil, err
	}

	if flow.Status == models.FlowStatusArchived {
		return flow, nil
	}

	now := f.now()
	flow.Status = models.FlowStatusArchived
	flow.ArchivedAt = &now
	flow.UpdatedAt = now
	flow.UpdatedBy = actor

	err = f.persistence.FlowRepository().Save(ctx, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to archive flow: %w", err)
	}

	f.logger.InfoContext(ctx, "flow archived", "flow_id", flow.ID, "tenant_id", tenantID)

	return flow, nil
}

func (f *Flows) Get(ctx context.Context, tenantID, flowID string) (*models.Flow, error) {
	flow, err := f.persistence.FlowRepository().GetByID(ctx, tenantID, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	return flow, nil
}

// List returns the tenant's flows, optionally restricted to one status.
func (f *Flows) List(ctx context.Context, tenantID string, status *models.FlowStatus) ([]*models.Flow, error) {
	if tenantID == "" {
		return nil, NewValidationError("List", "TENANT_REQUIRED", "tenant id is required", ErrInvalidRequest)
	}

	if status != nil && !validStatus(*status) {
		return nil, NewValidationError("List", "INVALID_STATUS", fmt.Sprintf("unknown status %q", *status), ErrInvalidStatus)
	}

	flows, err := f.persistence.FlowRepository().List(ctx, persistence.ListFlowsOptions{
		TenantID: tenantID,
		Status:   status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return flows, nil
}

// Delete removes a draft. Published flows are archived instead so runs keep a
// valid reference; deleting an archived flow is a no-op.
func (f *Flows) Delete(ctx context.Context, tenantID, flowID, actor string) error {
	flow, err := f.Get(ctx, tenantID, flowID)
	if err != nil {
		return err
	}

	if !flow.IsDraft() {
		_, err = f.Archive(ctx, tenantID, flowID, actor)

		return err
	}

	err = f.persistence.FlowRepository().Delete(ctx, tenantID, flowID)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	return nil
}

func validStatus(status models.FlowStatus) bool {
	for _, s := range models.FlowStatuses {
		if s == status {
			return true
		}
	}

	return false
}
