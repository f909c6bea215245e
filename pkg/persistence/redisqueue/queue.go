// Package redisqueue implements the job queue on Redis.
//
// Keys, relative to the configured prefix:
//
//	jobs:due      sorted set of job ids scored by the unix millisecond at
//	              which the job becomes claimable
//	job:<id>      JSON-encoded job
//	lock:<id>     hash with the claiming worker and claim time
//	run:<run id>  id of the run's job
//
// Claiming a job bumps its score to claim time plus the lock TTL, so a job
// whose worker died becomes claimable again without a sweeper.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "automation:"
	maxTxRetries  = 10
)

const enqueueLua = `
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
return 1
`

// KEYS[1] due set; ARGV: now ms, lock expiry ms, worker id, lock key prefix.
const claimLua = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZADD', KEYS[1], ARGV[2], id)
redis.call('HSET', ARGV[4] .. id, 'by', ARGV[3], 'at', ARGV[1])
return id
`

// Option configures a Queue.
type Option func(*Queue)

// WithPrefix namespaces every key the queue touches.
func WithPrefix(prefix string) Option {
	return func(q *Queue) {
		q.prefix = prefix
	}
}

// WithLockTTL sets how long job claims stay exclusive.
func WithLockTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		q.lockTTL = ttl
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// Queue implements persistence.JobQueue.
type Queue struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	lockTTL time.Duration
	now     func() time.Time
}

var _ persistence.JobQueue = (*Queue)(nil)

// NewQueue constructs a Redis-backed job queue.
func NewQueue(client *redis.Client, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		client:  client,
		logger:  logger,
		prefix:  defaultPrefix,
		lockTTL: persistence.DefaultLockTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *Queue) keyDue() string {
	return q.prefix + "jobs:due"
}

func (q *Queue) keyJob(id string) string {
	return q.prefix + "job:" + id
}

func (q *Queue) keyLockPrefix() string {
	return q.prefix + "lock:"
}

func (q *Queue) keyLock(id string) string {
	return q.keyLockPrefix() + id
}

func (q *Queue) keyRun(runID string) string {
	return q.prefix + "run:" + runID
}

func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	now := q.now()

	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate job ID: %w", err)
		}

		job.ID = id.String()
	}

	if job.DueAt.IsZero() {
		job.DueAt = now
	}

	job.CreatedAt = now
	job.UpdatedAt = now

	data, err := encodeJob(job)
	if err != nil {
		return err
	}

	res, err := q.client.Eval(ctx, enqueueLua,
		[]string{q.keyJob(job.ID), q.keyRun(job.RunID), q.keyDue()},
		data, job.ID, job.DueAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	if res == 0 {
		return persistence.NewJobError("Enqueue", job.ID, persistence.ErrJobExists)
	}

	return nil
}

func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	now := q.now()

	id, err := q.client.Eval(ctx, claimLua,
		[]string{q.keyDue()},
		now.UnixMilli(), now.Add(q.lockTTL).UnixMilli(), workerID, q.keyLockPrefix(),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}

	return job, nil
}

func (q *Queue) Reschedule(ctx context.Context, jobID, owner string, delay time.Duration, maxAttemptsOverride *int) (*models.Job, error) {
	var result *models.Job

	err := q.update(ctx, jobID, owner, "Reschedule", func(job *models.Job) error {
		maxAttempts := job.MaxAttempts
		if maxAttemptsOverride != nil {
			maxAttempts = *maxAttemptsOverride
		}

		if job.Attempts+1 >= maxAttempts {
			return persistence.NewJobError("Reschedule", jobID, persistence.ErrMaxAttemptsExceeded)
		}

		now := q.now()
		job.Attempts++
		job.MaxAttempts = maxAttempts
		job.DueAt = now.Add(delay)
		job.UpdatedAt = now
		result = job

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (q *Queue) Postpone(ctx context.Context, jobID, owner string, dueAt time.Time, payload map[string]any) (*models.Job, error) {
	var result *models.Job

	err := q.update(ctx, jobID, owner, "Postpone", func(job *models.Job) error {
		if payload != nil {
			job.Payload = payload
		}

		job.DueAt = dueAt
		job.UpdatedAt = q.now()
		result = job

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// update applies mutate to the stored job under WATCH and releases its lock.
func (q *Queue) update(ctx context.Context, jobID, owner, op string, mutate func(*models.Job) error) error {
	txf := func(tx *redis.Tx) error {
		job, err := q.loadTx(ctx, tx, jobID, owner, op)
		if err != nil {
			return err
		}

		err = mutate(job)
		if err != nil {
			return err
		}

		job.LockedBy = ""
		job.LockedAt = nil

		encoded, err := encodeJob(job)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, q.keyJob(jobID), encoded, 0)
			pipe.ZAdd(ctx, q.keyDue(), redis.Z{Score: float64(job.DueAt.UnixMilli()), Member: jobID})
			pipe.Del(ctx, q.keyLock(jobID))

			return nil
		})

		return err
	}

	return q.watch(ctx, txf, q.keyJob(jobID), q.keyLock(jobID))
}

func (q *Queue) Replace(ctx context.Context, jobID, owner string, next *models.Job) error {
	now := q.now()

	if next.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate job ID: %w", err)
		}

		next.ID = id.String()
	}

	if next.DueAt.IsZero() {
		next.DueAt = now
	}

	next.CreatedAt = now
	next.UpdatedAt = now

	encoded, err := encodeJob(next)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		current, err := q.loadTx(ctx, tx, jobID, owner, "Replace")
		if err != nil {
			return err
		}

		if current.RunID != next.RunID {
			exists, err := tx.Exists(ctx, q.keyRun(next.RunID)).Result()
			if err != nil {
				return fmt.Errorf("failed to check run job: %w", err)
			}

			if exists > 0 {
				return persistence.NewJobError("Replace", next.ID, persistence.ErrJobExists)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			q.deleteCmds(ctx, pipe, current)
			pipe.Set(ctx, q.keyJob(next.ID), encoded, 0)
			pipe.Set(ctx, q.keyRun(next.RunID), next.ID, 0)
			pipe.ZAdd(ctx, q.keyDue(), redis.Z{Score: float64(next.DueAt.UnixMilli()), Member: next.ID})

			return nil
		})

		return err
	}

	return q.watch(ctx, txf, q.keyJob(jobID), q.keyLock(jobID), q.keyRun(next.RunID))
}

func (q *Queue) Delete(ctx context.Context, jobID, owner string) error {
	txf := func(tx *redis.Tx) error {
		current, err := q.loadTx(ctx, tx, jobID, owner, "Delete")
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			q.deleteCmds(ctx, pipe, current)

			return nil
		})

		return err
	}

	return q.watch(ctx, txf, q.keyJob(jobID), q.keyLock(jobID))
}

func (q *Queue) deleteCmds(ctx context.Context, pipe redis.Pipeliner, job *models.Job) {
	pipe.Del(ctx, q.keyJob(job.ID), q.keyLock(job.ID), q.keyRun(job.RunID))
	pipe.ZRem(ctx, q.keyDue(), job.ID)
}

func (q *Queue) GetByRun(ctx context.Context, runID string) (*models.Job, error) {
	jobID, err := q.client.Get(ctx, q.keyRun(runID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewJobError("GetByRun", "", persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to look up run job: %w", err)
	}

	return q.load(ctx, jobID)
}

// watch runs txf optimistically, retrying when a watched key changed.
func (q *Queue) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := q.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			q.logger.DebugContext(ctx, "job transaction conflicted, retrying", "keys", keys)

			continue
		}

		return err
	}

	return fmt.Errorf("job transaction failed after %d attempts: %w", maxTxRetries, redis.TxFailedErr)
}

func (q *Queue) load(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := q.client.Get(ctx, q.keyJob(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewJobError("Get", jobID, persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	job, err := decodeJob(data)
	if err != nil {
		return nil, err
	}

	lock, err := q.client.HGetAll(ctx, q.keyLock(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job lock: %w", err)
	}

	applyLock(job, lock)

	return job, nil
}

// loadTx reads a watched job. A non-empty owner must hold the job's lock.
func (q *Queue) loadTx(ctx context.Context, tx *redis.Tx, jobID, owner, op string) (*models.Job, error) {
	data, err := tx.Get(ctx, q.keyJob(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewJobError(op, jobID, persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	if owner != "" {
		lockedBy, err := tx.HGet(ctx, q.keyLock(jobID), "by").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to load job lock: %w", err)
		}

		if lockedBy != owner {
			return nil, persistence.NewJobError(op, jobID, persistence.ErrJobLockLost)
		}
	}

	return decodeJob(data)
}

func applyLock(job *models.Job, lock map[string]string) {
	by := lock["by"]
	if by == "" {
		return
	}

	ms, err := strconv.ParseInt(lock["at"], 10, 64)
	if err != nil {
		return
	}

	at := time.UnixMilli(ms).UTC()
	job.LockedBy = by
	job.LockedAt = &at
}

func encodeJob(job *models.Job) ([]byte, error) {
	stored := *job
	stored.LockedBy = ""
	stored.LockedAt = nil

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	return data, nil
}

func decodeJob(data []byte) (*models.Job, error) {
	var job models.Job

	err := json.Unmarshal(data, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}

	return &job, nil
}
