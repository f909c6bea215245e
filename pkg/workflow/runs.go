package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/barkbase/automation/pkg/eventbus"
	"github.com/barkbase/automation/pkg/events"
	"github.com/barkbase/automation/pkg/features"
	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/services"
)

// DefaultMaxAttempts is how many times a step is tried before the run fails.
const DefaultMaxAttempts = 3

// RunResult reports whether a trigger created a new run.
type RunResult struct {
	Created bool   `json:"created"`
	RunID   string `json:"runId"`
}

// RunCreator turns triggers into runs. Concurrent or repeated triggers with
// the same idempotency key produce exactly one run.
type RunCreator struct {
	persistence persistence.Persistence
	gate        features.Gate
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

type RunCreatorOption func(*RunCreator)

// WithMaxAttempts sets the attempt budget given to new runs.
func WithMaxAttempts(n int) RunCreatorOption {
	return func(c *RunCreator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRunClock replaces the time source, for tests.
func WithRunClock(now func() time.Time) RunCreatorOption {
	return func(c *RunCreator) {
		c.now = now
	}
}

// NewRunCreator creates a RunCreator. gate and publisher may be nil.
func NewRunCreator(
	persistence persistence.Persistence,
	gate features.Gate,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...RunCreatorOption,
) *RunCreator {
	if gate == nil {
		gate = features.AllowAll{}
	}

	if publisher == nil {
		publisher = eventbus.Discard
	}

	c := &RunCreator{
		persistence: persistence,
		gate:        gate,
		publisher:   publisher,
		logger:      logger.With("module", "run_creator"),
		maxAttempts: DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// IdempotencyKey derives a key from the payload: the hex SHA-256 of its JSON
// encoding. encoding/json writes map keys sorted, so equal payloads always
// hash alike.
func IdempotencyKey(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:]), nil
}

// CreateRunIfAbsent starts a run of flow unless one already exists for the
// same flow version and idempotency key. An empty key is derived from the
// payload.
func (c *RunCreator) CreateRunIfAbsent(
	ctx context.Context,
	tenantID string,
	flow *models.Flow,
	payload map[string]any,
	idempotencyKey string,
	triggerType models.TriggerType,
) (RunResult, error) {
	if flow == nil || flow.TenantID != tenantID {
		return RunResult{}, persistence.NewFlowError("CreateRunIfAbsent", "", persistence.ErrFlowNotFound)
	}

	if !flow.IsRunnable() {
		return RunResult{}, &services.ServiceError{
			Op:      "CreateRunIfAbsent",
			Code:    "FLOW_NOT_RUNNABLE",
			Message: fmt.Sprintf("flow %s is %s", flow.ID, flow.Status),
			Err:     services.ErrFlowNotRunnable,
		}
	}

	if idempotencyKey == "" {
		key, err := IdempotencyKey(payload)
		if err != nil {
			return RunResult{}, err
		}

		idempotencyKey = key
	}

	runKey := models.RunKey(flow.ID, flow.Version, idempotencyKey)
	logger := c.logger.With("tenant_id", tenantID, "flow_id", flow.ID, "run_key", runKey)

	existing, err := c.persistence.RunRepository().GetByKey(ctx, tenantID, runKey)
	if err == nil {
		logger.DebugContext(ctx, "run already exists", "run_id", existing.ID)

		return RunResult{Created: false, RunID: existing.ID}, c.ensureEntryJob(ctx, existing)
	}

	if !persistence.IsRunNotFound(err) {
		return RunResult{}, fmt.Errorf("failed to look up run: %w", err)
	}

	entry, ok := flow.Definition.Step(flow.Definition.EntryStepID)
	if !ok {
		return RunResult{}, fmt.Errorf("flow %s: %w", flow.ID, ErrEntryStepMissing)
	}

	err = c.gate.CanRun(ctx, tenantID, flow)
	if err != nil {
		return RunResult{}, &services.ServiceError{
			Op:      "CreateRunIfAbsent",
			Code:    "FEATURE_NOT_ALLOWED",
			Message: err.Error(),
			Err:     errors.Join(services.ErrFeatureNotAllowed, err),
		}
	}

	if payload == nil {
		payload = map[string]any{}
	}

	run := &models.Run{
		TenantID:       tenantID,
		FlowID:         flow.ID,
		FlowVersion:    flow.Version,
		Status:         models.RunStatusQueued,
		CurrentStepID:  entry.ID,
		IdempotencyKey: idempotencyKey,
		RunKey:         runKey,
		Context: models.RunContext{
			TriggerType: triggerType,
			Payload:     payload,
			Steps:       map[string]any{},
		},
		MaxAttempts: c.maxAttempts,
		CreatedAt:   c.now(),
	}

	stored, created, err := c.persistence.RunRepository().CreateIfAbsent(ctx, run)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create run: %w", err)
	}

	if !created {
		logger.DebugContext(ctx, "lost run creation race", "run_id", stored.ID)

		return RunResult{Created: false, RunID: stored.ID}, c.ensureEntryJob(ctx, stored)
	}

	err = c.enqueueEntry(ctx, stored)
	if err != nil {
		return RunResult{}, err
	}

	err = c.publisher.Publish(ctx, stored.ID, events.RunCreated{
		BaseEvent:   events.NewBaseEvent(events.RunCreatedEvent, tenantID),
		RunID:       stored.ID,
		FlowID:      flow.ID,
		FlowVersion: flow.Version,
		TriggerType: triggerType,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to publish run.created event", "run_id", stored.ID, "error", err)
	}

	logger.InfoContext(ctx, "run created", "run_id", stored.ID, "trigger_type", triggerType)

	return RunResult{Created: true, RunID: stored.ID}, nil
}

// RunManually starts a run of a published flow on behalf of a user.
func (c *RunCreator) RunManually(ctx context.Context, tenantID, flowID string, payload map[string]any, idempotencyKey string) (RunResult, error) {
	flow, err := c.persistence.FlowRepository().GetByID(ctx, tenantID, flowID)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to get flow: %w", err)
	}

	return c.CreateRunIfAbsent(ctx, tenantID, flow, payload, idempotencyKey, models.TriggerTypeManual)
}

// ensureEntryJob repairs a queued run whose entry job was never enqueued,
// e.g. because the creating process stopped between the two writes.
func (c *RunCreator) ensureEntryJob(ctx context.Context, run *models.Run) error {
	if run.Status != models.RunStatusQueued {
		return nil
	}

	_, err := c.persistence.JobQueue().GetByRun(ctx, run.ID)
	if err == nil {
		return nil
	}

	if !persistence.IsJobNotFound(err) {
		return fmt.Errorf("failed to look up entry job: %w", err)
	}

	c.logger.WarnContext(ctx, "re-enqueueing missing entry job", "tenant_id", run.TenantID, "run_id", run.ID)

	return c.enqueueEntry(ctx, run)
}

func (c *RunCreator) enqueueEntry(ctx context.Context, run *models.Run) error {
	err := c.persistence.JobQueue().Enqueue(ctx, &models.Job{
		TenantID:    run.TenantID,
		RunID:       run.ID,
		StepID:      run.CurrentStepID,
		DueAt:       c.now(),
		MaxAttempts: run.MaxAttempts,
	})
	if err != nil && !errors.Is(err, persistence.ErrJobExists) {
		return fmt.Errorf("failed to enqueue entry job: %w", err)
	}

	return nil
}
