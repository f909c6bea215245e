package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/barkbase/automation/pkg/eventbus"
	"github.com/barkbase/automation/pkg/events"
	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
)

// Dispatcher fans a business event out to the tenant's published flows that
// listen for it.
type Dispatcher struct {
	flows  persistence.FlowRepository
	runs   *RunCreator
	logger *slog.Logger
}

func NewDispatcher(flows persistence.FlowRepository, runs *RunCreator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		flows:  flows,
		runs:   runs,
		logger: logger.With("module", "event_dispatcher"),
	}
}

// HandleEvent creates a run for every matching flow and returns how many runs
// were newly created. A failing flow does not stop the others; their errors
// are joined.
func (d *Dispatcher) HandleEvent(ctx context.Context, tenantID, eventType string, payload map[string]any, idempotencyKey string) (int, error) {
	status := models.FlowStatusPublished
	trigger := models.TriggerTypeEvent

	flows, err := d.flows.List(ctx, persistence.ListFlowsOptions{
		TenantID:    tenantID,
		Status:      &status,
		TriggerType: &trigger,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list flows: %w", err)
	}

	var (
		created int
		errs    []error
	)

	for _, flow := range flows {
		if flow.Trigger.EventType() != eventType {
			continue
		}

		result, err := d.runs.CreateRunIfAbsent(ctx, tenantID, flow, payload, idempotencyKey, models.TriggerTypeEvent)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to create run", "tenant_id", tenantID, "flow_id", flow.ID, "event", eventType, "error", err)
			errs = append(errs, fmt.Errorf("flow %s: %w", flow.ID, err))

			continue
		}

		if result.Created {
			created++
		}
	}

	d.logger.InfoContext(ctx, "event dispatched", "tenant_id", tenantID, "event", eventType, "created_runs", created)

	return created, errors.Join(errs...)
}

// Subscribe feeds business events from bus into HandleEvent and starts
// consuming.
func (d *Dispatcher) Subscribe(ctx context.Context, bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.BusinessEventReceived, func(ctx context.Context, event any) error {
		businessEvent, ok := event.(*events.BusinessEvent)
		if !ok {
			d.logger.ErrorContext(ctx, "invalid event type for business event")

			return nil
		}

		_, err := d.HandleEvent(ctx, businessEvent.TenantID, businessEvent.Event, businessEvent.Payload, businessEvent.IdempotencyKey)

		return err
	})
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}
