// Package memory provides an in-process persistence implementation. All
// mutations happen under one mutex, which gives ClaimNext and CreateIfAbsent
// the same atomicity the SQL implementation gets from row locks.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/google/uuid"
)

// Option configures a Persistence.
type Option func(*Persistence)

// WithLockTTL sets how long job claims stay exclusive.
func WithLockTTL(ttl time.Duration) Option {
	return func(p *Persistence) {
		p.lockTTL = ttl
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Persistence) {
		p.now = now
	}
}

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	mu      sync.Mutex
	lockTTL time.Duration
	now     func() time.Time

	flows   map[string]*models.Flow
	runs    map[string]*models.Run
	runKeys map[string]string // tenant|run key -> run id
	jobs    map[string]*models.Job
	jobRuns map[string]string // run id -> job id
	logs    map[string][]*models.RunLog
}

// NewPersistence creates an empty in-memory store.
func NewPersistence(opts ...Option) *Persistence {
	p := &Persistence{
		lockTTL: persistence.DefaultLockTTL,
		now:     func() time.Time { return time.Now().UTC() },
		flows:   make(map[string]*models.Flow),
		runs:    make(map[string]*models.Run),
		runKeys: make(map[string]string),
		jobs:    make(map[string]*models.Job),
		jobRuns: make(map[string]string),
		logs:    make(map[string][]*models.RunLog),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return &flowRepository{p}
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return &runRepository{p}
}

func (p *Persistence) JobQueue() persistence.JobQueue {
	return &jobQueue{p}
}

func (p *Persistence) RunLogRepository() persistence.RunLogRepository {
	return &runLogRepository{p}
}

// HealthCheck always succeeds.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close performs no cleanup.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// clone deep-copies a record so callers never share memory with the store.
func clone[T any](in *T) *T {
	if in == nil {
		return nil
	}

	data, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}

	return &out
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

type flowRepository struct {
	p *Persistence
}

func (r *flowRepository) Save(_ context.Context, flow *models.Flow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if flow.ID == "" {
		flow.ID = newID()
	}

	r.p.flows[flow.ID] = clone(flow)

	return nil
}

func (r *flowRepository) GetByID(_ context.Context, tenantID, id string) (*models.Flow, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	flow, ok := r.p.flows[id]
	if !ok || flow.TenantID != tenantID {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	return clone(flow), nil
}

func (r *flowRepository) List(_ context.Context, opts persistence.ListFlowsOptions) ([]*models.Flow, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	flows := make([]*models.Flow, 0)

	for _, flow := range r.p.flows {
		if opts.TenantID != "" && flow.TenantID != opts.TenantID {
			continue
		}

		if opts.Status != nil && flow.Status != *opts.Status {
			continue
		}

		if opts.TriggerType != nil && flow.Trigger.Type != *opts.TriggerType {
			continue
		}

		flows = append(flows, clone(flow))
	}

	slices.SortFunc(flows, func(a, b *models.Flow) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return flows, nil
}

func (r *flowRepository) Delete(_ context.Context, tenantID, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	flow, ok := r.p.flows[id]
	if !ok || flow.TenantID != tenantID {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	delete(r.p.flows, id)

	return nil
}

type runRepository struct {
	p *Persistence
}

func runKeyIndex(tenantID, runKey string) string {
	return tenantID + "|" + runKey
}

func (r *runRepository) CreateIfAbsent(_ context.Context, run *models.Run) (*models.Run, bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := runKeyIndex(run.TenantID, run.RunKey)
	if existingID, ok := r.p.runKeys[key]; ok {
		return clone(r.p.runs[existingID]), false, nil
	}

	if run.ID == "" {
		run.ID = newID()
	}

	r.p.runs[run.ID] = clone(run)
	r.p.runKeys[key] = run.ID

	return clone(run), true, nil
}

func (r *runRepository) GetByID(_ context.Context, tenantID, id string) (*models.Run, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	run, ok := r.p.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	return clone(run), nil
}

func (r *runRepository) GetByKey(_ context.Context, tenantID, runKey string) (*models.Run, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	id, ok := r.p.runKeys[runKeyIndex(tenantID, runKey)]
	if !ok {
		return nil, persistence.NewRunError("GetByKey", "", persistence.ErrRunNotFound)
	}

	return clone(r.p.runs[id]), nil
}

func (r *runRepository) Update(_ context.Context, run *models.Run) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	existing, ok := r.p.runs[run.ID]
	if !ok || existing.TenantID != run.TenantID {
		return persistence.NewRunError("Update", run.ID, persistence.ErrRunNotFound)
	}

	r.p.runs[run.ID] = clone(run)

	return nil
}

type jobQueue struct {
	p *Persistence
}

func (q *jobQueue) Enqueue(_ context.Context, job *models.Job) error {
	q.p.mu.Lock()
	defer q.p.mu.Unlock()

	return q.enqueueLocked(job)
}

func (q *jobQueue) enqueueLocked(job *models.Job) error {
	if _, ok := q.p.jobRuns[job.RunID]; ok {
		return persistence.NewJobError("Enqueue", job.ID, persistence.ErrJobExists)
	}

	now := q.p.now()

	if job.ID == "" {
		job.ID = newID()
	}

	if job.DueAt.IsZero() {
		job.DueAt = now
	}

	job.CreatedAt = now
	job.UpdatedAt = now

	q.p.jobs[job.ID] = clone(job)
	q.p.jobRuns[job.RunID] = job.ID

	return nil
}

func (q *jobQueue) ClaimNext(_ context.Context, workerID string) (*models.Job, error) {
	q.p.mu.Lock()
	defer q.p.mu.Unlock()

	now := q.p.now()

	var next *models.Job

	for _, job := range q.p.jobs {
		if !job.IsClaimable(now, q.p.lockTTL) {
			continue
		}

		if next == nil || job.DueAt.Before(next.DueAt) ||
			(job.DueAt.Equal(next.DueAt) && job.CreatedAt.Before(next.CreatedAt)) {
			next = job
		}
	}

	if next == nil {
		return nil, nil
	}

	next.LockedBy = workerID
	next.LockedAt = &now
	next.UpdatedAt = now

	return clone(next), nil
}

func (q *jobQueue) Reschedule(_ context.Context, jobID, owner string, delay time.Duration, maxAttemptsOverride *int) (*models.Job, error) {
	q.p.mu.Lock()
	defer q.p.mu.Unlock()

	job, err := q.ownedLocked("Reschedule", jobID, owner)
	if err != nil {
		return nil, err
	}

	maxAttempts := job.MaxAttempts
	if maxAttemptsOverride != nil {
		maxAttempts = *maxAttemptsOverride
	}

	if job.Attempts+1 >= maxAttempts {
		return nil, persistence.NewJobError("Reschedule", jobID, persistence.ErrMaxAttemptsExceeded)
	}

	now := q.p.now()
	job.Attempts++
	job.MaxAttempts = maxAttempts
	job.DueAt = now.Add(delay)
	job.LockedBy = ""
	job.LockedAt = nil
	job.UpdatedAt = now

	return clone(job), nil
}

func (q *jobQueue) Postpone(_ context.Context, jobID, owner string, dueAt time.Time, payload map[string]any) (*models.Job, error) {
	q.p.mu.Lock()
	defer q.p.mu.Unlock()

	job, err := q.ownedLocked("Postpone", jobID, owner)
	if err != nil {
		return nil, err
	}

	if payload != nil {
		job.Payload = payload
	}

	job.DueAt = dueAt
	job.LockedBy = ""
	job.LockedAt = nil
	job.UpdatedAt = q.p.now()

	return clone(job), nil
}

func (q *jobQueue) Replace(_ context.Context, jobID, owner string, next *models.Job) error {
	q.p.mu.Lock()
	defer q.p.mu.Unlock()

	if _, err := q.ownedLocked("Replace", jobID, owner); err != nil {
		return err
	}

	if err := q.deleteLocked(jobID); err != nil {
		return err
	}

	return q.enqueueLocked(next)
}

func (q *jobQueue) Delete(_ context.Context, jobID, owner string) error {
	q.p.mu.Lock()
	defer q.p.mu.Unlock()

	if _, err := q.ownedLocked("Delete", jobID, owner); err != nil {
		return err
	}

	return q.deleteLocked(jobID)
}

// ownedLocked returns the stored job when owner is empty or holds its lock.
func (q *jobQueue) ownedLocked(op, jobID, owner string) (*models.Job, error) {
	job, ok := q.p.jobs[jobID]
	if !ok {
		return nil, persistence.NewJobError(op, jobID, persistence.ErrJobNotFound)
	}

	if owner != "" && job.LockedBy != owner {
		return nil, persistence.NewJobError(op, jobID, persistence.ErrJobLockLost)
	}

	return job, nil
}

func (q *jobQueue) deleteLocked(jobID string) error {
	job, ok := q.p.jobs[jobID]
	if !ok {
		return persistence.NewJobError("Delete", jobID, persistence.ErrJobNotFound)
	}

	delete(q.p.jobs, jobID)
	delete(q.p.jobRuns, job.RunID)

	return nil
}

func (q *jobQueue) GetByRun(_ context.Context, runID string) (*models.Job, error) {
	q.p.mu.Lock()
	defer q.p.mu.Unlock()

	jobID, ok := q.p.jobRuns[runID]
	if !ok {
		return nil, persistence.NewJobError("GetByRun", "", persistence.ErrJobNotFound)
	}

	return clone(q.p.jobs[jobID]), nil
}

type runLogRepository struct {
	p *Persistence
}

func (r *runLogRepository) Append(_ context.Context, entry *models.RunLog) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if entry.ID == "" {
		entry.ID = newID()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.p.now()
	}

	r.p.logs[entry.RunID] = append(r.p.logs[entry.RunID], clone(entry))

	return nil
}

func (r *runLogRepository) ListByRun(_ context.Context, tenantID, runID string) ([]*models.RunLog, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	entries := make([]*models.RunLog, 0, len(r.p.logs[runID]))

	for _, entry := range r.p.logs[runID] {
		if entry.TenantID != tenantID {
			continue
		}

		entries = append(entries, clone(entry))
	}

	slices.SortStableFunc(entries, func(a, b *models.RunLog) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return entries, nil
}
