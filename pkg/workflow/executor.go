package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/barkbase/automation/pkg/conditions"
	"github.com/barkbase/automation/pkg/eventbus"
	"github.com/barkbase/automation/pkg/events"
	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/otelhelper"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/protocol"
	"github.com/barkbase/automation/pkg/registry"
	"github.com/barkbase/automation/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// stepResult is what a step handler decided.
type stepResult struct {
	Input  map[string]any // Configuration the step ran with, for the run log
	Output map[string]any
	Handle string        // Edge handle to follow; empty for linear steps
	Wait   time.Duration // Postpone the same job instead of advancing
}

type stepExecution struct {
	run    *models.Run
	job    *models.Job
	step   *models.Step
	logger *slog.Logger
}

type stepHandler func(ctx context.Context, exec stepExecution) (stepResult, error)

// fatalError marks failures that retrying cannot fix, such as an unknown action.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &fatalError{err: err}
}

func isFatal(err error) bool {
	var f *fatalError

	return errors.As(err, &f) || protocol.IsPermanent(err)
}

// Executor advances a run by executing the step its job points at.
type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	recorder    *Recorder
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	backoff     BackoffPolicy
	logger      *slog.Logger
	now         func() time.Time
	handlers    map[models.StepKind]stepHandler
}

type ExecutorOption func(*Executor)

func WithBackoff(policy BackoffPolicy) ExecutorOption {
	return func(e *Executor) {
		e.backoff = policy
	}
}

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func WithPublisher(publisher eventbus.EventPublisher) ExecutorOption {
	return func(e *Executor) {
		if publisher != nil {
			e.publisher = publisher
		}
	}
}

// WithExecutorClock replaces the time source, for tests.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

func NewExecutor(persistence persistence.Persistence, registry *registry.Registry, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		persistence: persistence,
		registry:    registry,
		recorder:    NewRecorder(persistence.RunLogRepository(), logger),
		publisher:   eventbus.Discard,
		tracer:      otelhelper.DefaultTracer(),
		backoff:     DefaultBackoff,
		logger:      logger.With("module", "step_executor"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	e.handlers = map[models.StepKind]stepHandler{
		models.StepKindAction:    e.runAction,
		models.StepKindCondition: e.runCondition,
		models.StepKindBranch:    e.runBranch,
		models.StepKindDelay:     e.runDelay,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Process executes the step of a claimed job and moves the run forward:
// enqueue the next step, complete, retry later or fail.
func (e *Executor) Process(ctx context.Context, job *models.Job) error {
	logger := e.logger.With("job_id", job.ID, "run_id", job.RunID, "step_id", job.StepID, "tenant_id", job.TenantID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "automation.step",
		attribute.String(otelhelper.TenantIDKey, job.TenantID),
		attribute.String(otelhelper.RunIDKey, job.RunID),
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.StepIDKey, job.StepID),
	)
	defer span.End()

	run, err := e.persistence.RunRepository().GetByID(ctx, job.TenantID, job.RunID)
	if persistence.IsRunNotFound(err) {
		logger.WarnContext(ctx, "deleting job of missing run")

		return e.deleteJob(ctx, job)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load run: %w", err)
	}

	if run.Status.IsTerminal() {
		logger.InfoContext(ctx, "deleting orphan job of finished run", "status", run.Status)

		return e.deleteJob(ctx, job)
	}

	if run.Status == models.RunStatusQueued {
		started := e.now()
		run.Status = models.RunStatusRunning
		run.StartedAt = &started
	}

	run.CurrentStepID = job.StepID

	err = e.persistence.RunRepository().Update(ctx, run)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to mark run running: %w", err)
	}

	flow, step, err := e.loadStep(ctx, run, job)
	if err != nil {
		otelhelper.SetError(span, err)

		if !isFatal(err) {
			// Left locked; the job is reclaimed once the lock goes stale.
			return err
		}

		return e.fail(ctx, logger, run, job, nil, stepResult{}, err)
	}

	span.SetAttributes(
		attribute.String(otelhelper.FlowIDKey, run.FlowID),
		attribute.Int(otelhelper.FlowVersionKey, run.FlowVersion),
		attribute.String(otelhelper.StepKindKey, string(step.Kind)),
		attribute.Int(otelhelper.AttemptKey, run.Attempt+1),
	)

	handler, ok := e.handlers[step.Kind]
	if !ok {
		err = fatal(fmt.Errorf("%w: %s", ErrUnknownStepKind, step.Kind))
		otelhelper.SetError(span, err)

		return e.fail(ctx, logger, run, job, step, stepResult{}, err)
	}

	result, err := handler(ctx, stepExecution{run: run, job: job, step: step, logger: logger})
	if err != nil {
		otelhelper.SetError(span, err)

		return e.fail(ctx, logger, run, job, step, result, err)
	}

	if result.Wait > 0 {
		return e.postpone(ctx, logger, run, job, step, result)
	}

	return e.advance(ctx, logger, run, job, &flow.Definition, step, result)
}

// loadStep loads the flow at the run's version and the job's step in it.
func (e *Executor) loadStep(ctx context.Context, run *models.Run, job *models.Job) (*models.Flow, *models.Step, error) {
	flow, err := e.persistence.FlowRepository().GetByID(ctx, run.TenantID, run.FlowID)
	if persistence.IsFlowNotFound(err) {
		return nil, nil, fatal(err)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to load flow: %w", err)
	}

	if flow.Version != run.FlowVersion {
		return nil, nil, fatal(fmt.Errorf("%w: run has %d, flow has %d", ErrFlowVersionMismatch, run.FlowVersion, flow.Version))
	}

	step, ok := flow.Definition.Step(job.StepID)
	if !ok {
		return nil, nil, fatal(fmt.Errorf("%w: %s", ErrStepNotFound, job.StepID))
	}

	return flow, step, nil
}

func (e *Executor) runAction(ctx context.Context, exec stepExecution) (stepResult, error) {
	actionType := exec.step.ActionType()
	data := exec.run.Context.TemplateData(exec.run)

	config, err := template.RenderConfig(exec.step.Config, data)
	if err != nil {
		return stepResult{Input: exec.step.Config}, fatal(fmt.Errorf("failed to render step config: %w", err))
	}

	result := stepResult{Input: config}

	action, err := e.registry.CreateAction(ctx, actionType, config)
	if err != nil {
		if errors.Is(err, registry.ErrActionNotRegistered) {
			return result, fatal(err)
		}

		return result, err
	}

	output, err := action.Execute(ctx, protocol.ActionInput{
		TenantID: exec.run.TenantID,
		RunID:    exec.run.ID,
		StepID:   exec.step.ID,
		Context:  data,
		Config:   config,
		Logger:   exec.logger.With("action_type", actionType),
	})
	result.Output = output

	return result, err
}

func (e *Executor) runCondition(_ context.Context, exec stepExecution) (stepResult, error) {
	matched, err := conditions.EvaluateCondition(exec.step.Config, exec.run.Context.TemplateData(exec.run))
	if err != nil {
		return stepResult{Input: exec.step.Config}, fatal(err)
	}

	handle := models.HandleFalse
	if matched {
		handle = models.HandleTrue
	}

	return stepResult{
		Input:  exec.step.Config,
		Output: map[string]any{"result": matched},
		Handle: handle,
	}, nil
}

func (e *Executor) runBranch(_ context.Context, exec stepExecution) (stepResult, error) {
	value, err := conditions.EvaluateBranch(exec.step.Config, exec.run.Context.TemplateData(exec.run))
	if err != nil {
		return stepResult{Input: exec.step.Config}, fatal(err)
	}

	return stepResult{
		Input:  exec.step.Config,
		Output: map[string]any{"value": value},
		Handle: value,
	}, nil
}

func (e *Executor) runDelay(_ context.Context, exec stepExecution) (stepResult, error) {
	delay, err := exec.step.DelayDuration()
	if err != nil {
		return stepResult{Input: exec.step.Config}, fatal(err)
	}

	result := stepResult{
		Input:  exec.step.Config,
		Output: map[string]any{"delayed_seconds": delay.Seconds()},
	}

	if elapsed, _ := exec.job.Payload[models.JobPayloadDelayElapsed].(bool); !elapsed {
		result.Wait = delay
	}

	return result, nil
}

// nextStep picks the outgoing edge to follow. Linear steps follow their only
// edge. Condition and branch steps follow the edge whose handle matches;
// branch steps fall back to the default handle.
func nextStep(def *models.Definition, step *models.Step, handle string) string {
	edges := def.Outgoing(step.ID)

	if !step.Kind.AllowsMultipleEdges() {
		if len(edges) == 0 {
			return ""
		}

		return edges[0].Target
	}

	var fallback string

	for _, edge := range edges {
		if edge.Handle == handle {
			return edge.Target
		}

		if edge.Handle == models.HandleDefault && step.Kind == models.StepKindBranch {
			fallback = edge.Target
		}
	}

	return fallback
}

func (e *Executor) postpone(ctx context.Context, logger *slog.Logger, run *models.Run, job *models.Job, step *models.Step, result stepResult) error {
	dueAt := e.now().Add(result.Wait)

	payload := make(map[string]any, len(job.Payload)+1)
	for k, v := range job.Payload {
		payload[k] = v
	}

	payload[models.JobPayloadDelayElapsed] = true

	_, err := e.persistence.JobQueue().Postpone(ctx, job.ID, job.LockedBy, dueAt, payload)
	if persistence.IsJobLockLost(err) {
		logger.WarnContext(ctx, "job claimed by another worker, dropping wait")

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to postpone job: %w", err)
	}

	logger.InfoContext(ctx, "step waiting", "due_at", dueAt)

	return e.appendLog(ctx, run, step, models.LogLevelInfo, models.LogKindStep,
		fmt.Sprintf("Waiting %s before continuing", result.Wait), result, nil)
}

func (e *Executor) advance(
	ctx context.Context,
	logger *slog.Logger,
	run *models.Run,
	job *models.Job,
	def *models.Definition,
	step *models.Step,
	result stepResult,
) error {
	if run.Context.Steps == nil {
		run.Context.Steps = map[string]any{}
	}

	if result.Output != nil {
		run.Context.Steps[step.ID] = result.Output
	}

	err := e.appendLog(ctx, run, step, models.LogLevelInfo, models.LogKindStep,
		fmt.Sprintf("Step %q completed", step.Name), result, nil)
	if err != nil {
		return err
	}

	next := nextStep(def, step, result.Handle)
	if next == "" {
		return e.complete(ctx, logger, run, job)
	}

	run.CurrentStepID = next
	run.Attempt = 0
	run.Error = ""

	// The run is saved first so a crash before Replace re-executes the
	// current step rather than losing its output.
	err = e.persistence.RunRepository().Update(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	err = e.persistence.JobQueue().Replace(ctx, job.ID, job.LockedBy, &models.Job{
		TenantID:    run.TenantID,
		RunID:       run.ID,
		StepID:      next,
		DueAt:       e.now(),
		MaxAttempts: run.MaxAttempts,
	})
	if persistence.IsJobLockLost(err) {
		logger.WarnContext(ctx, "job claimed by another worker, not advancing")

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to enqueue next step: %w", err)
	}

	logger.InfoContext(ctx, "step completed", "next_step_id", next)

	return nil
}

func (e *Executor) complete(ctx context.Context, logger *slog.Logger, run *models.Run, job *models.Job) error {
	finished := e.now()
	run.Status = models.RunStatusCompleted
	run.FinishedAt = &finished
	run.Error = ""

	err := e.persistence.RunRepository().Update(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	err = e.deleteJob(ctx, job)
	if err != nil {
		return err
	}

	err = e.appendLog(ctx, run, nil, models.LogLevelInfo, models.LogKindRun, "Run completed", stepResult{}, nil)
	if err != nil {
		return err
	}

	var duration time.Duration
	if run.StartedAt != nil {
		duration = finished.Sub(*run.StartedAt)
	}

	e.publish(ctx, logger, run.ID, events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, run.TenantID),
		RunID:     run.ID,
		FlowID:    run.FlowID,
		Duration:  duration,
	})

	logger.InfoContext(ctx, "run completed", "duration", duration)

	return nil
}

// fail records a failed attempt, then retries the step with backoff or, when
// the error is fatal or the attempt budget is spent, fails the run.
func (e *Executor) fail(
	ctx context.Context,
	logger *slog.Logger,
	run *models.Run,
	job *models.Job,
	step *models.Step,
	result stepResult,
	cause error,
) error {
	kind := models.LogKindRetryable
	if isFatal(cause) {
		kind = models.LogKindFatal
	}

	run.Attempt++
	run.Error = cause.Error()

	err := e.appendLog(ctx, run, step, models.LogLevelError, kind,
		fmt.Sprintf("Attempt %d of %d failed", run.Attempt, run.MaxAttempts), result, cause)
	if err != nil {
		return err
	}

	if kind == models.LogKindRetryable && run.Attempt < run.MaxAttempts {
		delay := e.backoff.Delay(run.Attempt)

		_, err = e.persistence.JobQueue().Reschedule(ctx, job.ID, job.LockedBy, delay, &run.MaxAttempts)
		if persistence.IsJobLockLost(err) {
			logger.WarnContext(ctx, "job claimed by another worker, not retrying", "error", cause)

			return nil
		}

		if err == nil {
			err = e.persistence.RunRepository().Update(ctx, run)
			if err != nil {
				return fmt.Errorf("failed to update run: %w", err)
			}

			logger.WarnContext(ctx, "step failed, retrying", "attempt", run.Attempt, "retry_in", delay, "error", cause)

			return nil
		}

		if !persistence.IsMaxAttemptsExceeded(err) {
			return fmt.Errorf("failed to reschedule job: %w", err)
		}
	}

	finished := e.now()
	run.Status = models.RunStatusFailed
	run.FinishedAt = &finished

	err = e.persistence.RunRepository().Update(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}

	err = e.deleteJob(ctx, job)
	if err != nil {
		return err
	}

	err = e.appendLog(ctx, run, nil, models.LogLevelWarn, models.LogKindRun,
		fmt.Sprintf("Run failed after %d attempt(s)", run.Attempt), stepResult{}, cause)
	if err != nil {
		return err
	}

	e.publish(ctx, logger, run.ID, events.RunFailed{
		BaseEvent: events.NewBaseEvent(events.RunFailedEvent, run.TenantID),
		RunID:     run.ID,
		FlowID:    run.FlowID,
		StepID:    job.StepID,
		Error:     cause.Error(),
		Attempts:  run.Attempt,
	})

	logger.ErrorContext(ctx, "run failed", "attempts", run.Attempt, "error", cause)

	return nil
}

func (e *Executor) appendLog(
	ctx context.Context,
	run *models.Run,
	step *models.Step,
	level models.LogLevel,
	kind models.LogKind,
	message string,
	result stepResult,
	cause error,
) error {
	entry := &models.RunLog{
		TenantID: run.TenantID,
		RunID:    run.ID,
		Level:    level,
		Kind:     kind,
		Message:  message,
		Input:    result.Input,
		Output:   result.Output,
	}

	if step != nil {
		stepID := step.ID
		entry.StepID = &stepID
	}

	if cause != nil {
		msg := cause.Error()
		entry.Error = &msg
	}

	return e.recorder.Append(ctx, entry)
}

func (e *Executor) deleteJob(ctx context.Context, job *models.Job) error {
	// A job claimed by another worker is left to it; that worker finds the
	// run finished and deletes the job itself.
	err := e.persistence.JobQueue().Delete(ctx, job.ID, job.LockedBy)
	if err != nil && !persistence.IsJobNotFound(err) && !persistence.IsJobLockLost(err) {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

func (e *Executor) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
