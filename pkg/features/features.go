// Package features decides which automation capabilities a tenant's plan
// allows. Billing owns the plans; the engine only asks.
package features

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/barkbase/automation/pkg/models"
)

// ErrNotAllowed is returned when the tenant's plan does not include a capability.
var ErrNotAllowed = errors.New("feature not allowed by plan")

// Gate is consulted before publishing a flow and before starting a run.
type Gate interface {
	CanPublish(ctx context.Context, tenantID string, flow *models.Flow) error
	CanRun(ctx context.Context, tenantID string, flow *models.Flow) error
}

// AllowAll permits everything.
type AllowAll struct{}

func (AllowAll) CanPublish(context.Context, string, *models.Flow) error { return nil }

func (AllowAll) CanRun(context.Context, string, *models.Flow) error { return nil }

// Plan lists what a tenant may use. A zero MaxPublishedFlows means unlimited.
type Plan struct {
	Name              string
	Triggers          []models.TriggerType
	MaxPublishedFlows int
}

func (p Plan) allowsTrigger(trigger models.TriggerType) bool {
	for _, allowed := range p.Triggers {
		if allowed == trigger {
			return true
		}
	}

	return false
}

// PublishedCounter counts a tenant's published flows.
type PublishedCounter func(ctx context.Context, tenantID string) (int, error)

// StaticGate resolves plans from an in-memory assignment. Tenants without an
// assignment get the default plan.
type StaticGate struct {
	mu          sync.RWMutex
	defaultPlan Plan
	plans       map[string]Plan
	published   PublishedCounter
}

func NewStaticGate(defaultPlan Plan, published PublishedCounter) *StaticGate {
	return &StaticGate{
		defaultPlan: defaultPlan,
		plans:       make(map[string]Plan),
		published:   published,
	}
}

// Assign sets the plan of a tenant.
func (g *StaticGate) Assign(tenantID string, plan Plan) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.plans[tenantID] = plan
}

func (g *StaticGate) plan(tenantID string) Plan {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if plan, ok := g.plans[tenantID]; ok {
		return plan
	}

	return g.defaultPlan
}

func (g *StaticGate) CanPublish(ctx context.Context, tenantID string, flow *models.Flow) error {
	plan := g.plan(tenantID)

	if !plan.allowsTrigger(flow.Trigger.Type) {
		return fmt.Errorf("%w: plan %q does not include %s triggers", ErrNotAllowed, plan.Name, flow.Trigger.Type)
	}

	if plan.MaxPublishedFlows == 0 || g.published == nil {
		return nil
	}

	count, err := g.published(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to count published flows: %w", err)
	}

	if count >= plan.MaxPublishedFlows {
		return fmt.Errorf("%w: plan %q allows %d published flows", ErrNotAllowed, plan.Name, plan.MaxPublishedFlows)
	}

	return nil
}

func (g *StaticGate) CanRun(_ context.Context, tenantID string, flow *models.Flow) error {
	plan := g.plan(tenantID)

	if !plan.allowsTrigger(flow.Trigger.Type) {
		return fmt.Errorf("%w: plan %q does not include %s triggers", ErrNotAllowed, plan.Name, flow.Trigger.Type)
	}

	return nil
}
