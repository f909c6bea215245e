// Package scheduler starts runs of published schedule-triggered flows on
// their cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/workflow"
	"github.com/robfig/cron/v3"
)

// DefaultSyncInterval is how often the flow store is re-read for schedule changes.
const DefaultSyncInterval = time.Minute

// RunStarter creates runs idempotently.
type RunStarter interface {
	CreateRunIfAbsent(
		ctx context.Context,
		tenantID string,
		flow *models.Flow,
		payload map[string]any,
		idempotencyKey string,
		triggerType models.TriggerType,
	) (workflow.RunResult, error)
}

type registration struct {
	key     string
	entryID cron.EntryID
}

// Scheduler keeps one cron entry per published schedule flow. Replicas may run
// side by side: a tick is keyed by its fire time so both collapse into one run.
type Scheduler struct {
	flows        persistence.FlowRepository
	runs         RunStarter
	cron         *cron.Cron
	syncInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu            sync.Mutex
	registrations map[string]registration // By flow id
}

type Option func(*Scheduler)

func WithSyncInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.syncInterval = interval
		}
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(flows persistence.FlowRepository, runs RunStarter, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		flows:         flows,
		runs:          runs,
		cron:          cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		syncInterval:  DefaultSyncInterval,
		logger:        logger.With("module", "scheduler"),
		now:           func() time.Time { return time.Now().UTC() },
		registrations: map[string]registration{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sync registers cron entries for published schedule flows of every tenant
// and removes entries of flows that were archived, deleted or republished.
func (s *Scheduler) Sync(ctx context.Context) error {
	status := models.FlowStatusPublished
	trigger := models.TriggerTypeSchedule

	flows, err := s.flows.List(ctx, persistence.ListFlowsOptions{Status: &status, TriggerType: &trigger})
	if err != nil {
		return fmt.Errorf("failed to list schedule flows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(flows))

	var errs []error

	for _, flow := range flows {
		seen[flow.ID] = struct{}{}

		schedule, err := models.NewSchedule(flow, s.now())
		if err != nil {
			s.logger.WarnContext(ctx, "skipping flow with invalid schedule", "tenant_id", flow.TenantID, "flow_id", flow.ID, "error", err)
			errs = append(errs, fmt.Errorf("flow %s: %w", flow.ID, err))

			continue
		}

		current, ok := s.registrations[flow.ID]
		if ok && current.key == schedule.Key() {
			continue
		}

		if ok {
			s.cron.Remove(current.entryID)
		}

		parsed, err := schedule.Parse()
		if err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", flow.ID, err))

			continue
		}

		entryID := s.cron.Schedule(parsed, cron.FuncJob(func() {
			s.fire(context.WithoutCancel(ctx), schedule)
		}))

		s.registrations[flow.ID] = registration{key: schedule.Key(), entryID: entryID}

		s.logger.InfoContext(ctx, "schedule registered",
			"tenant_id", schedule.TenantID,
			"flow_id", schedule.FlowID,
			"flow_version", schedule.FlowVersion,
			"spec", schedule.Spec(),
			"next_due_at", schedule.NextDueAt)
	}

	for flowID, current := range s.registrations {
		if _, ok := seen[flowID]; ok {
			continue
		}

		s.cron.Remove(current.entryID)
		delete(s.registrations, flowID)

		s.logger.InfoContext(ctx, "schedule removed", "flow_id", flowID)
	}

	return errors.Join(errs...)
}

// Registered returns how many flows currently have a cron entry.
func (s *Scheduler) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.registrations)
}

// Start runs the cron loop and re-syncs periodically until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		s.logger.ErrorContext(ctx, "initial schedule sync incomplete", "error", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", "sync_interval", s.syncInterval)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.InfoContext(ctx, "scheduler stopped")

			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.ErrorContext(ctx, "schedule sync incomplete", "error", err)
			}
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, schedule *models.Schedule) {
	_, err := s.Fire(ctx, schedule, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled run failed",
			"tenant_id", schedule.TenantID,
			"flow_id", schedule.FlowID,
			"error", err)
	}
}

// Fire starts the run of schedule for the tick at firedAt. The flow is
// re-read so a tick racing an archive or republish is dropped.
func (s *Scheduler) Fire(ctx context.Context, schedule *models.Schedule, firedAt time.Time) (workflow.RunResult, error) {
	flow, err := s.flows.GetByID(ctx, schedule.TenantID, schedule.FlowID)
	if err != nil {
		return workflow.RunResult{}, fmt.Errorf("failed to load flow: %w", err)
	}

	if !flow.IsRunnable() || flow.Version != schedule.FlowVersion {
		s.logger.InfoContext(ctx, "dropping tick of outdated schedule",
			"tenant_id", schedule.TenantID,
			"flow_id", schedule.FlowID,
			"flow_status", flow.Status)

		return workflow.RunResult{}, nil
	}

	tick := firedAt.UTC().Truncate(time.Minute)

	payload := map[string]any{
		"scheduled_at": tick.Format(time.RFC3339),
		"cron":         schedule.CronExpression,
	}

	if schedule.Timezone != "" {
		payload["timezone"] = schedule.Timezone
	}

	result, err := s.runs.CreateRunIfAbsent(ctx, schedule.TenantID, flow, payload, TickKey(tick), models.TriggerTypeSchedule)
	if err != nil {
		return workflow.RunResult{}, err
	}

	s.logger.InfoContext(ctx, "schedule fired",
		"tenant_id", schedule.TenantID,
		"flow_id", schedule.FlowID,
		"run_id", result.RunID,
		"created", result.Created)

	return result, nil
}

// TickKey is the idempotency key of the run started by the tick at t.
func TickKey(t time.Time) string {
	return "schedule:" + t.UTC().Format(time.RFC3339)
}
