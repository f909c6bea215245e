package cmd

import (
	"context"

	"github.com/barkbase/automation/pkg/features"
	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
)

// NewFeatureGate returns a gate giving every tenant all trigger types and at
// most maxPublishedFlows published flows (0 for no limit).
func NewFeatureGate(p persistence.Persistence, maxPublishedFlows int) *features.StaticGate {
	plan := features.Plan{
		Name:              "default",
		Triggers:          models.TriggerTypes,
		MaxPublishedFlows: maxPublishedFlows,
	}

	return features.NewStaticGate(plan, func(ctx context.Context, tenantID string) (int, error) {
		status := models.FlowStatusPublished

		flows, err := p.FlowRepository().List(ctx, persistence.ListFlowsOptions{TenantID: tenantID, Status: &status})
		if err != nil {
			return 0, err
		}

		return len(flows), nil
	})
}
