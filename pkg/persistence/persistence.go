// Package persistence provides the data storage abstraction for flows, runs, jobs and run logs.
package persistence

import (
	"context"
	"time"

	"github.com/barkbase/automation/pkg/models"
)

// DefaultLockTTL is how long a job claim stays exclusive. A worker that
// crashes mid-processing leaves a lock that becomes claimable after this.
const DefaultLockTTL = 5 * time.Minute

type Persistence interface {
	FlowRepository() FlowRepository
	RunRepository() RunRepository
	JobQueue() JobQueue
	RunLogRepository() RunLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListFlowsOptions filters flow listings.
type ListFlowsOptions struct {
	TenantID    string
	Status      *models.FlowStatus
	TriggerType *models.TriggerType
}

// FlowRepository stores flow definitions.
type FlowRepository interface {
	Save(ctx context.Context, flow *models.Flow) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Flow, error)
	// List returns flows ordered by creation time. An empty TenantID lists
	// across tenants, which only the schedule runner does.
	List(ctx context.Context, opts ListFlowsOptions) ([]*models.Flow, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// RunRepository is the run ledger. It owns the idempotency invariant: at most
// one run per (tenant, run key).
type RunRepository interface {
	// CreateIfAbsent inserts the run unless one with the same tenant and run
	// key exists, in which case the existing run is returned with created=false.
	CreateIfAbsent(ctx context.Context, run *models.Run) (existing *models.Run, created bool, err error)
	GetByID(ctx context.Context, tenantID, id string) (*models.Run, error)
	GetByKey(ctx context.Context, tenantID, runKey string) (*models.Run, error)
	Update(ctx context.Context, run *models.Run) error
}

// JobQueue holds due-scheduled work. ClaimNext is atomic: two concurrent
// callers never receive the same job.
//
// Reschedule, Postpone, Replace and Delete take the owner that claimed the
// job. A non-empty owner must still hold the lock, otherwise the call fails
// with ErrJobLockLost and the job is left untouched. An empty owner skips the
// check.
type JobQueue interface {
	// Enqueue adds a job. A run has at most one job; a second job for the same
	// run fails with ErrJobExists.
	Enqueue(ctx context.Context, job *models.Job) error
	// ClaimNext locks and returns the earliest due job whose lock is empty or
	// stale. It returns nil, nil when no job is eligible.
	ClaimNext(ctx context.Context, workerID string) (*models.Job, error)
	// Reschedule moves the job delay into the future, clears its lock and
	// counts an attempt. It fails with ErrMaxAttemptsExceeded, leaving the job
	// untouched, when the attempt budget is spent.
	Reschedule(ctx context.Context, jobID, owner string, delay time.Duration, maxAttemptsOverride *int) (*models.Job, error)
	// Postpone moves the job to dueAt and clears its lock without counting an
	// attempt. Payload, when non-nil, replaces the job payload.
	Postpone(ctx context.Context, jobID, owner string, dueAt time.Time, payload map[string]any) (*models.Job, error)
	// Replace deletes the job and enqueues next for the same run atomically.
	Replace(ctx context.Context, jobID, owner string, next *models.Job) error
	Delete(ctx context.Context, jobID, owner string) error
	GetByRun(ctx context.Context, runID string) (*models.Job, error)
}

// RunLogRepository is append-only.
type RunLogRepository interface {
	Append(ctx context.Context, entry *models.RunLog) error
	// ListByRun returns entries ordered by timestamp ascending.
	ListByRun(ctx context.Context, tenantID, runID string) ([]*models.RunLog, error)
}

// WithJobQueue returns p with its job queue replaced by queue, for deployments
// that keep records in one store and jobs in another.
func WithJobQueue(p Persistence, queue JobQueue) Persistence {
	return &queueOverride{Persistence: p, queue: queue}
}

type queueOverride struct {
	Persistence
	queue JobQueue
}

func (o *queueOverride) JobQueue() JobQueue {
	return o.queue
}
