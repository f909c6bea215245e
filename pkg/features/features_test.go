package features

import (
	"context"
	"errors"
	"testing"

	"github.com/barkbase/automation/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flowWithTrigger(trigger models.TriggerType) *models.Flow {
	return &models.Flow{Trigger: models.Trigger{Type: trigger}}
}

func TestAllowAll(t *testing.T) {
	var gate Gate = AllowAll{}

	assert.NoError(t, gate.CanPublish(context.Background(), "tenant-a", flowWithTrigger(models.TriggerTypeSchedule)))
	assert.NoError(t, gate.CanRun(context.Background(), "tenant-a", flowWithTrigger(models.TriggerTypeManual)))
}

func TestStaticGate(t *testing.T) {
	ctx := context.Background()
	published := map[string]int{"tenant-a": 2, "tenant-b": 0}

	gate := NewStaticGate(
		Plan{Name: "basic", Triggers: []models.TriggerType{models.TriggerTypeManual, models.TriggerTypeEvent}, MaxPublishedFlows: 2},
		func(_ context.Context, tenantID string) (int, error) {
			return published[tenantID], nil
		},
	)
	gate.Assign("tenant-pro", Plan{Name: "pro", Triggers: models.TriggerTypes})

	tests := []struct {
		name    string
		tenant  string
		trigger models.TriggerType
		publish bool
		wantErr bool
	}{
		{name: "basic run manual", tenant: "tenant-b", trigger: models.TriggerTypeManual},
		{name: "basic run schedule", tenant: "tenant-b", trigger: models.TriggerTypeSchedule, wantErr: true},
		{name: "basic publish under limit", tenant: "tenant-b", trigger: models.TriggerTypeEvent, publish: true},
		{name: "basic publish at limit", tenant: "tenant-a", trigger: models.TriggerTypeEvent, publish: true, wantErr: true},
		{name: "pro publish schedule", tenant: "tenant-pro", trigger: models.TriggerTypeSchedule, publish: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.publish {
				err = gate.CanPublish(ctx, tt.tenant, flowWithTrigger(tt.trigger))
			} else {
				err = gate.CanRun(ctx, tt.tenant, flowWithTrigger(tt.trigger))
			}

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNotAllowed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStaticGate_CounterError(t *testing.T) {
	boom := errors.New("boom")
	gate := NewStaticGate(
		Plan{Name: "basic", Triggers: models.TriggerTypes, MaxPublishedFlows: 1},
		func(context.Context, string) (int, error) { return 0, boom },
	)

	err := gate.CanPublish(context.Background(), "tenant-a", flowWithTrigger(models.TriggerTypeEvent))
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotAllowed)
}
