package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	logaction "github.com/barkbase/automation/pkg/actions/log"
	"github.com/barkbase/automation/pkg/eventbus"
	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence/memory"
	"github.com/barkbase/automation/pkg/protocol"
	"github.com/barkbase/automation/pkg/registry"
	"github.com/stretchr/testify/require"
)

const tenantA = "tenant-a"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, string(event.GetType()))
	}

	return types
}

// scriptedFactory builds actions whose outcome per call is decided by fail.
type scriptedFactory struct {
	id   string
	fail func(call int) error

	mu    sync.Mutex
	calls int
}

func (f *scriptedFactory) Create(context.Context, map[string]any) (protocol.Action, error) {
	return f, nil
}

func (f *scriptedFactory) Execute(_ context.Context, input protocol.ActionInput) (map[string]any, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return nil, err
		}
	}

	return map[string]any{"call": call, "step": input.StepID}, nil
}

func (f *scriptedFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func (f *scriptedFactory) ID() string             { return f.id }
func (f *scriptedFactory) Name() string           { return f.id }
func (f *scriptedFactory) Description() string    { return "scripted test action" }
func (f *scriptedFactory) Schema() map[string]any { return nil }

type harness struct {
	clock      *testClock
	store      *memory.Persistence
	registry   *registry.Registry
	publisher  *recordingPublisher
	runs       *RunCreator
	dispatcher *Dispatcher
	executor   *Executor
	worker     *Worker
	recorder   *Recorder
}

func newHarness(t *testing.T, factories ...protocol.ActionFactory) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	logger := slog.Default()

	store := memory.NewPersistence(memory.WithClock(clock.Now))

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(logaction.NewActionFactory())

	for _, factory := range factories {
		reg.RegisterAction(factory)
	}

	publisher := &recordingPublisher{}
	runs := NewRunCreator(store, nil, publisher, logger, WithRunClock(clock.Now))
	executor := NewExecutor(store, reg, logger,
		WithExecutorClock(clock.Now),
		WithPublisher(publisher),
		WithBackoff(BackoffPolicy{Initial: time.Second, Max: time.Minute}),
	)

	return &harness{
		clock:      clock,
		store:      store,
		registry:   reg,
		publisher:  publisher,
		runs:       runs,
		dispatcher: NewDispatcher(store.FlowRepository(), runs, logger),
		executor:   executor,
		worker:     NewWorker("worker-1", store.JobQueue(), executor, time.Millisecond, logger),
		recorder:   NewRecorder(store.RunLogRepository(), logger),
	}
}

// publish stores a published flow directly.
func (h *harness) publish(t *testing.T, tenantID string, trigger models.Trigger, def models.Definition) *models.Flow {
	t.Helper()

	now := h.clock.Now()
	flow := &models.Flow{
		TenantID:    tenantID,
		Name:        "flow",
		Status:      models.FlowStatusPublished,
		Trigger:     trigger,
		Definition:  def,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: &now,
	}

	require.NoError(t, h.store.FlowRepository().Save(t.Context(), flow))

	return flow
}

func (h *harness) run(t *testing.T, runID string) *models.Run {
	t.Helper()

	run, err := h.store.RunRepository().GetByID(t.Context(), tenantA, runID)
	require.NoError(t, err)

	return run
}

func (h *harness) logs(t *testing.T, runID string) []*models.RunLog {
	t.Helper()

	logs, err := h.recorder.Logs(t.Context(), tenantA, runID)
	require.NoError(t, err)

	return logs
}

func eventTrigger(event string) models.Trigger {
	return models.Trigger{Type: models.TriggerTypeEvent, Config: map[string]any{"event": event}}
}

func manualTrigger() models.Trigger {
	return models.Trigger{Type: models.TriggerTypeManual}
}

func singleAction(action string, config map[string]any) models.Definition {
	stepConfig := map[string]any{"action": action}
	for k, v := range config {
		stepConfig[k] = v
	}

	return models.Definition{
		EntryStepID: "notify",
		Steps: []*models.Step{
			{ID: "notify", Kind: models.StepKindAction, Name: "Notify", Config: stepConfig},
		},
	}
}

func filterLogs(logs []*models.RunLog, keep func(*models.RunLog) bool) []*models.RunLog {
	var out []*models.RunLog

	for _, entry := range logs {
		if keep(entry) {
			out = append(out, entry)
		}
	}

	return out
}

func byLevel(level models.LogLevel) func(*models.RunLog) bool {
	return func(entry *models.RunLog) bool { return entry.Level == level }
}

func forStep(stepID string, level models.LogLevel) func(*models.RunLog) bool {
	return func(entry *models.RunLog) bool {
		return entry.StepID != nil && *entry.StepID == stepID && entry.Level == level
	}
}

var errUpstream = errors.New("upstream unavailable")
