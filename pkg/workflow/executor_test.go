package workflow

import (
	"testing"
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_PetCreatedWelcome(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, eventTrigger("pet.created"), singleAction("log", map[string]any{
		"message": "Welcome {{ .payload.petName }}!",
	}))

	payload := map[string]any{"petName": "Rex"}

	created, err := h.dispatcher.HandleEvent(ctx, tenantA, "pet.created", payload, "")
	require.NoError(t, err)
	require.Equal(t, 1, created)

	require.NoError(t, h.worker.Drain(ctx))

	key, err := IdempotencyKey(payload)
	require.NoError(t, err)

	run, err := h.store.RunRepository().GetByKey(ctx, tenantA, models.RunKey(flow.ID, flow.Version, key))
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, "Welcome Rex!", run.Context.Steps["notify"].(map[string]any)["message"])

	entries := h.logs(t, run.ID)
	notify := filterLogs(entries, forStep("notify", models.LogLevelInfo))
	require.Len(t, notify, 1)
	assert.Equal(t, models.LogKindStep, notify[0].Kind)
	assert.Equal(t, "Welcome Rex!", notify[0].Input["message"])
	assert.Empty(t, filterLogs(entries, byLevel(models.LogLevelError)))

	_, err = h.store.JobQueue().GetByRun(ctx, run.ID)
	assert.True(t, persistence.IsJobNotFound(err))

	assert.Equal(t, []string{"run.created", "run.completed"}, h.publisher.types())

	again, err := h.dispatcher.HandleEvent(ctx, tenantA, "pet.created", map[string]any{"petName": "Rex"}, "")
	require.NoError(t, err)
	assert.Equal(t, 0, again, "same payload is deduplicated")
}

func TestScenario_AlwaysFailingActionExhaustsAttempts(t *testing.T) {
	failing := &scriptedFactory{id: "charge_card", fail: func(int) error { return errUpstream }}
	h := newHarness(t, failing)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("charge_card", nil))

	result, err := h.runs.RunManually(ctx, tenantA, flow.ID, map[string]any{"amount": 10}, "")
	require.NoError(t, err)
	require.True(t, result.Created)

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, h.worker.Drain(ctx))
		assert.Equal(t, attempt, failing.Calls())
		h.clock.Advance(time.Minute)
	}

	require.NoError(t, h.worker.Drain(ctx))
	assert.Equal(t, 3, failing.Calls(), "no attempt beyond the budget")

	run := h.run(t, result.RunID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 3, run.Attempt)
	assert.Equal(t, errUpstream.Error(), run.Error)

	_, err = h.store.JobQueue().GetByRun(ctx, result.RunID)
	assert.True(t, persistence.IsJobNotFound(err), "job deleted")

	logs := h.logs(t, result.RunID)
	errorsLogged := filterLogs(logs, byLevel(models.LogLevelError))
	require.Len(t, errorsLogged, 3)

	for _, entry := range errorsLogged {
		assert.Equal(t, models.LogKindRetryable, entry.Kind)
		require.NotNil(t, entry.Error)
		assert.Equal(t, errUpstream.Error(), *entry.Error)
	}

	assert.Empty(t, filterLogs(logs, forStep("notify", models.LogLevelInfo)), "no success entry")

	terminal := filterLogs(logs, byLevel(models.LogLevelWarn))
	require.Len(t, terminal, 1)
	assert.Equal(t, models.LogKindRun, terminal[0].Kind)

	assert.Equal(t, []string{"run.created", "run.failed"}, h.publisher.types())
}

func TestExecutor_RetryThenSucceed(t *testing.T) {
	flaky := &scriptedFactory{id: "flaky", fail: func(call int) error {
		if call == 1 {
			return errUpstream
		}

		return nil
	}}
	h := newHarness(t, flaky)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("flaky", nil))

	result, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "once")
	require.NoError(t, err)

	require.NoError(t, h.worker.Drain(ctx))

	job, err := h.store.JobQueue().GetByRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	assert.WithinDuration(t, h.clock.Now().Add(time.Second), job.DueAt, 0, "first retry after the initial backoff")
	assert.Equal(t, models.RunStatusRunning, h.run(t, result.RunID).Status)

	h.clock.Advance(time.Second)
	require.NoError(t, h.worker.Drain(ctx))

	run := h.run(t, result.RunID)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, flaky.Calls())

	logs := h.logs(t, result.RunID)
	assert.Len(t, filterLogs(logs, byLevel(models.LogLevelError)), 1)
	assert.Len(t, filterLogs(logs, forStep("notify", models.LogLevelInfo)), 1)
}

func TestExecutor_PermanentFailureIsNotRetried(t *testing.T) {
	rejected := &scriptedFactory{id: "rejected", fail: func(int) error {
		return protocol.Permanent(errUpstream)
	}}
	h := newHarness(t, rejected)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("rejected", nil))

	result, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "")
	require.NoError(t, err)
	require.NoError(t, h.worker.Drain(ctx))

	run := h.run(t, result.RunID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 1, rejected.Calls())

	errorsLogged := filterLogs(h.logs(t, result.RunID), byLevel(models.LogLevelError))
	require.Len(t, errorsLogged, 1)
	assert.Equal(t, models.LogKindFatal, errorsLogged[0].Kind)
}

func TestExecutor_UnregisteredActionIsFatal(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("send_fax", nil))

	result, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "")
	require.NoError(t, err)
	require.NoError(t, h.worker.Drain(ctx))

	run := h.run(t, result.RunID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "send_fax")

	errorsLogged := filterLogs(h.logs(t, result.RunID), byLevel(models.LogLevelError))
	require.Len(t, errorsLogged, 1)
	assert.Equal(t, models.LogKindFatal, errorsLogged[0].Kind)
}

func conditionDefinition() models.Definition {
	return models.Definition{
		EntryStepID: "is_dog",
		Steps: []*models.Step{
			{ID: "is_dog", Kind: models.StepKindCondition, Name: "Is dog", Config: map[string]any{
				"field": "species", "operator": "eq", "value": "dog",
			}},
			{ID: "walk", Kind: models.StepKindAction, Name: "Book walk", Config: map[string]any{"action": "log", "message": "walk {{ .payload.name }}"}},
			{ID: "groom", Kind: models.StepKindAction, Name: "Book grooming", Config: map[string]any{"action": "log", "message": "groom {{ .payload.name }}"}},
		},
		Edges: []*models.Edge{
			{Source: "is_dog", Target: "walk", Handle: models.HandleTrue},
			{Source: "is_dog", Target: "groom", Handle: models.HandleFalse},
		},
	}
}

func TestExecutor_Condition(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		wantStep string
		skipStep string
	}{
		{name: "true edge", payload: map[string]any{"species": "dog", "name": "Rex"}, wantStep: "walk", skipStep: "groom"},
		{name: "false edge", payload: map[string]any{"species": "cat", "name": "Tom"}, wantStep: "groom", skipStep: "walk"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := t.Context()

			flow := h.publish(t, tenantA, manualTrigger(), conditionDefinition())

			result, err := h.runs.RunManually(ctx, tenantA, flow.ID, tt.payload, "")
			require.NoError(t, err)
			require.NoError(t, h.worker.Drain(ctx))

			run := h.run(t, result.RunID)
			assert.Equal(t, models.RunStatusCompleted, run.Status)
			assert.Contains(t, run.Context.Steps, "is_dog")
			assert.Contains(t, run.Context.Steps, tt.wantStep)
			assert.NotContains(t, run.Context.Steps, tt.skipStep)
			assert.Equal(t, tt.wantStep, run.CurrentStepID)
		})
	}
}

func TestExecutor_Branch(t *testing.T) {
	def := models.Definition{
		EntryStepID: "by_size",
		Steps: []*models.Step{
			{ID: "by_size", Kind: models.StepKindBranch, Name: "By size", Config: map[string]any{"field": "payload.size"}},
			{ID: "large", Kind: models.StepKindAction, Name: "Large kennel", Config: map[string]any{"action": "log", "message": "large"}},
			{ID: "small", Kind: models.StepKindAction, Name: "Small kennel", Config: map[string]any{"action": "log", "message": "small"}},
			{ID: "other", Kind: models.StepKindAction, Name: "Ask staff", Config: map[string]any{"action": "log", "message": "other"}},
		},
		Edges: []*models.Edge{
			{Source: "by_size", Target: "large", Handle: "large"},
			{Source: "by_size", Target: "small", Handle: "small"},
			{Source: "by_size", Target: "other", Handle: models.HandleDefault},
		},
	}

	tests := []struct {
		size     any
		wantStep string
	}{
		{size: "large", wantStep: "large"},
		{size: "small", wantStep: "small"},
		{size: "medium", wantStep: "other"},
		{size: nil, wantStep: "other"},
	}

	for _, tt := range tests {
		t.Run("size "+tt.wantStep, func(t *testing.T) {
			h := newHarness(t)
			ctx := t.Context()

			flow := h.publish(t, tenantA, manualTrigger(), def)

			result, err := h.runs.RunManually(ctx, tenantA, flow.ID, map[string]any{"size": tt.size}, "")
			require.NoError(t, err)
			require.NoError(t, h.worker.Drain(ctx))

			run := h.run(t, result.RunID)
			assert.Equal(t, models.RunStatusCompleted, run.Status)
			assert.Contains(t, run.Context.Steps, tt.wantStep)
			assert.Len(t, run.Context.Steps, 2)
		})
	}
}

func TestExecutor_Delay(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), models.Definition{
		EntryStepID: "wait",
		Steps: []*models.Step{
			{ID: "wait", Kind: models.StepKindDelay, Name: "Wait", Config: map[string]any{"minutes": 5.0}},
			{ID: "remind", Kind: models.StepKindAction, Name: "Remind", Config: map[string]any{"action": "log", "message": "reminder"}},
		},
		Edges: []*models.Edge{{Source: "wait", Target: "remind"}},
	})

	result, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "")
	require.NoError(t, err)
	require.NoError(t, h.worker.Drain(ctx))

	job, err := h.store.JobQueue().GetByRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "wait", job.StepID)
	assert.WithinDuration(t, h.clock.Now().Add(5*time.Minute), job.DueAt, 0)
	assert.Equal(t, 0, job.Attempts, "waiting is not a failed attempt")
	assert.Equal(t, true, job.Payload[models.JobPayloadDelayElapsed])

	h.clock.Advance(4 * time.Minute)
	claimed, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed, "not due yet")

	h.clock.Advance(time.Minute)
	require.NoError(t, h.worker.Drain(ctx))

	run := h.run(t, result.RunID)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Contains(t, run.Context.Steps, "remind")
	assert.Equal(t, 300.0, run.Context.Steps["wait"].(map[string]any)["delayed_seconds"])
}

func TestExecutor_MultiStepCarriesOutputs(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), models.Definition{
		EntryStepID: "first",
		Steps: []*models.Step{
			{ID: "first", Kind: models.StepKindAction, Name: "First", Config: map[string]any{"action": "log", "message": "hello {{ .payload.owner }}"}},
			{ID: "second", Kind: models.StepKindAction, Name: "Second", Config: map[string]any{"action": "log", "message": "previous said: {{ .steps.first.message }}"}},
		},
		Edges: []*models.Edge{{Source: "first", Target: "second"}},
	})

	result, err := h.runs.RunManually(ctx, tenantA, flow.ID, map[string]any{"owner": "Ana"}, "")
	require.NoError(t, err)

	claimed, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, claimed)

	run := h.run(t, result.RunID)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, "second", run.CurrentStepID)

	job, err := h.store.JobQueue().GetByRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "second", job.StepID)

	require.NoError(t, h.worker.Drain(ctx))

	run = h.run(t, result.RunID)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "previous said: hello Ana", run.Context.Steps["second"].(map[string]any)["message"])
}

func TestExecutor_OrphanJobOfFinishedRun(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("log", map[string]any{"message": "hi"}))

	result, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "")
	require.NoError(t, err)

	run := h.run(t, result.RunID)
	run.Status = models.RunStatusCompleted
	require.NoError(t, h.store.RunRepository().Update(ctx, run))

	require.NoError(t, h.worker.Drain(ctx))

	_, err = h.store.JobQueue().GetByRun(ctx, result.RunID)
	assert.True(t, persistence.IsJobNotFound(err))
	assert.Empty(t, h.logs(t, result.RunID), "nothing executed")
}

func TestExecutor_StepMissingFromDefinition(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), singleAction("log", map[string]any{"message": "hi"}))

	result, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "")
	require.NoError(t, err)

	job, err := h.store.JobQueue().GetByRun(ctx, result.RunID)
	require.NoError(t, err)
	require.NoError(t, h.store.JobQueue().Replace(ctx, job.ID, "", &models.Job{
		TenantID: tenantA, RunID: result.RunID, StepID: "ghost", MaxAttempts: 3,
	}))

	require.NoError(t, h.worker.Drain(ctx))

	run := h.run(t, result.RunID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, ErrStepNotFound.Error())
}

func TestExecutor_StaleWorkerLeavesReclaimedJobAlone(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	flow := h.publish(t, tenantA, manualTrigger(), models.Definition{
		EntryStepID: "first",
		Steps: []*models.Step{
			{ID: "first", Kind: models.StepKindAction, Name: "First", Config: map[string]any{"action": "log", "message": "one"}},
			{ID: "second", Kind: models.StepKindAction, Name: "Second", Config: map[string]any{"action": "log", "message": "two"}},
		},
		Edges: []*models.Edge{{Source: "first", Target: "second"}},
	})

	result, err := h.runs.RunManually(ctx, tenantA, flow.ID, nil, "")
	require.NoError(t, err)

	stale, err := h.store.JobQueue().ClaimNext(ctx, "slow-worker")
	require.NoError(t, err)
	require.NotNil(t, stale)

	h.clock.Advance(persistence.DefaultLockTTL + time.Second)

	fresh, err := h.store.JobQueue().ClaimNext(ctx, "fast-worker")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	require.Equal(t, stale.ID, fresh.ID)

	require.NoError(t, h.executor.Process(ctx, stale))

	job, err := h.store.JobQueue().GetByRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "first", job.StepID, "the stale worker must not advance the job")
	assert.Equal(t, "fast-worker", job.LockedBy)

	require.NoError(t, h.executor.Process(ctx, fresh))

	job, err = h.store.JobQueue().GetByRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "second", job.StepID)

	require.NoError(t, h.worker.Drain(ctx))
	assert.Equal(t, models.RunStatusCompleted, h.run(t, result.RunID).Status)
}

func TestNextStep(t *testing.T) {
	def := conditionDefinition()
	def.Steps = append(def.Steps,
		&models.Step{ID: "route", Kind: models.StepKindBranch, Name: "Route"},
		&models.Step{ID: "end", Kind: models.StepKindAction, Name: "End"},
	)
	def.Edges = append(def.Edges,
		&models.Edge{Source: "walk", Target: "end"},
		&models.Edge{Source: "route", Target: "walk", Handle: "a"},
		&models.Edge{Source: "route", Target: "end", Handle: models.HandleDefault},
	)

	step := func(id string) *models.Step {
		s, ok := def.Step(id)
		require.True(t, ok)

		return s
	}

	tests := []struct {
		name   string
		step   string
		handle string
		want   string
	}{
		{name: "condition true", step: "is_dog", handle: models.HandleTrue, want: "walk"},
		{name: "condition false", step: "is_dog", handle: models.HandleFalse, want: "groom"},
		{name: "linear", step: "walk", want: "end"},
		{name: "terminal", step: "end", want: ""},
		{name: "branch match", step: "route", handle: "a", want: "walk"},
		{name: "branch default", step: "route", handle: "zzz", want: "end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextStep(&def, step(tt.step), tt.handle))
		})
	}
}
