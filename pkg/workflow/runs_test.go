package workflow

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/barkbase/automation/pkg/features"
	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type denyRuns struct {
	features.AllowAll
}

func (denyRuns) CanRun(context.Context, string, *models.Flow) error {
	return features.ErrNotAllowed
}

func TestIdempotencyKey(t *testing.T) {
	a, err := IdempotencyKey(map[string]any{"petName": "Rex", "age": 3})
	require.NoError(t, err)

	b, err := IdempotencyKey(map[string]any{"age": 3, "petName": "Rex"})
	require.NoError(t, err)

	c, err := IdempotencyKey(map[string]any{"petName": "Tom", "age": 3})
	require.NoError(t, err)

	assert.Equal(t, a, b, "key order does not matter")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	empty, err := IdempotencyKey(nil)
	require.NoError(t, err)

	fromEmptyMap, err := IdempotencyKey(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, empty, fromEmptyMap)
}

func TestRunManually_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("log", map[string]any{"message": "hi"}))

	first, err := h.runs.RunManually(ctx, tenantA, flow.ID, map[string]any{"petName": "Rex"}, "booking-42")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.RunID)

	second, err := h.runs.RunManually(ctx, tenantA, flow.ID, map[string]any{"petName": "Other"}, "booking-42")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.RunID, second.RunID)

	run := h.run(t, first.RunID)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, "notify", run.CurrentStepID)
	assert.Equal(t, models.TriggerTypeManual, run.Context.TriggerType)
	assert.Equal(t, DefaultMaxAttempts, run.MaxAttempts)
	assert.Equal(t, models.RunKey(flow.ID, 1, "booking-42"), run.RunKey)

	job, err := h.store.JobQueue().GetByRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, "notify", job.StepID)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)

	assert.Equal(t, []string{"run.created"}, h.publisher.types())
}

func TestCreateRunIfAbsent_RejectsUnrunnableFlows(t *testing.T) {
	tests := []struct {
		name   string
		status models.FlowStatus
	}{
		{name: "draft", status: models.FlowStatusDraft},
		{name: "archived", status: models.FlowStatusArchived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := t.Context()

			flow := h.publish(t, tenantA, manualTrigger(), singleAction("log", map[string]any{"message": "hi"}))
			flow.Status = tt.status
			require.NoError(t, h.store.FlowRepository().Save(ctx, flow))

			_, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, services.ErrFlowNotRunnable)
			assert.Empty(t, h.publisher.types())
		})
	}
}

func TestCreateRunIfAbsent_OtherTenantsFlow(t *testing.T) {
	h := newHarness(t)

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("log", map[string]any{"message": "hi"}))

	_, err := h.runs.CreateRunIfAbsent(t.Context(), "tenant-b", flow, nil, "", models.TriggerTypeManual)
	assert.True(t, persistence.IsFlowNotFound(err))

	_, err = h.runs.RunManually(t.Context(), "tenant-b", flow.ID, nil, "")
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestCreateRunIfAbsent_MissingEntryStep(t *testing.T) {
	h := newHarness(t)

	flow := h.publish(t, tenantA, manualTrigger(), models.Definition{EntryStepID: "nowhere"})

	_, err := h.runs.RunManually(t.Context(), tenantA, flow.ID, nil, "")
	assert.ErrorIs(t, err, ErrEntryStepMissing)
}

func TestCreateRunIfAbsent_FeatureGate(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("log", map[string]any{"message": "hi"}))

	first, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "before-downgrade")
	require.NoError(t, err)

	gated := NewRunCreator(h.store, denyRuns{}, h.publisher, slog.Default(), WithRunClock(h.clock.Now))

	_, err = gated.RunManually(ctx, tenantA, flow.ID, nil, "after-downgrade")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrFeatureNotAllowed)
	assert.True(t, services.IsForbiddenError(err))

	existing, err := gated.RunManually(ctx, tenantA, flow.ID, nil, "before-downgrade")
	require.NoError(t, err, "replays of existing runs are not gated")
	assert.Equal(t, first.RunID, existing.RunID)
}

func TestCreateRunIfAbsent_Concurrent(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, eventTrigger("pet.created"), singleAction("log", map[string]any{"message": "hi"}))
	payload := map[string]any{"petName": "Rex"}

	const callers = 100

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		runIDs  = map[string]struct{}{}
	)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := h.runs.CreateRunIfAbsent(ctx, tenantA, flow, payload, "", models.TriggerTypeEvent)
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			defer mu.Unlock()

			runIDs[result.RunID] = struct{}{}

			if result.Created {
				created++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, created)
	require.Len(t, runIDs, 1)

	for runID := range runIDs {
		job, err := h.store.JobQueue().GetByRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, "notify", job.StepID)
	}

	claimed, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed, "exactly one job")
}

func TestCreateRunIfAbsent_RepairsMissingEntryJob(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("log", map[string]any{"message": "hi"}))

	first, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "crash")
	require.NoError(t, err)

	job, err := h.store.JobQueue().GetByRun(ctx, first.RunID)
	require.NoError(t, err)
	require.NoError(t, h.store.JobQueue().Delete(ctx, job.ID, ""))

	again, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "crash")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.RunID, again.RunID)

	repaired, err := h.store.JobQueue().GetByRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, "notify", repaired.StepID)

	require.NoError(t, h.worker.Drain(ctx))
	assert.Equal(t, models.RunStatusCompleted, h.run(t, first.RunID).Status)
}

func TestCreateRunIfAbsent_VersionScopesKey(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("log", map[string]any{"message": "hi"}))

	v1, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "same")
	require.NoError(t, err)

	flow.Version = 2
	require.NoError(t, h.store.FlowRepository().Save(ctx, flow))

	v2, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "same")
	require.NoError(t, err)

	assert.True(t, v2.Created)
	assert.NotEqual(t, v1.RunID, v2.RunID)
}
