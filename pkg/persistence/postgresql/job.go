package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/google/uuid"
)

const jobColumns = `
	id
  , tenant_id
  , run_id
  , step_id
  , due_at
  , locked_by
  , locked_at
  , attempts
  , max_attempts
  , payload
  , created_at
  , updated_at
`

// JobQueue is a PostgreSQL-backed job queue. Claims use FOR UPDATE SKIP
// LOCKED so concurrent workers never block on, or receive, the same row.
type JobQueue struct {
	db      *sql.DB
	logger  *slog.Logger
	lockTTL time.Duration
}

// NewJobQueue creates a new job queue.
func NewJobQueue(db *sql.DB, logger *slog.Logger, lockTTL time.Duration) *JobQueue {
	return &JobQueue{db: db, logger: logger, lockTTL: lockTTL}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (q *JobQueue) Enqueue(ctx context.Context, job *models.Job) error {
	return q.insert(ctx, q.db, job)
}

func (q *JobQueue) insert(ctx context.Context, db execer, job *models.Job) error {
	now := time.Now().UTC()

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

	payloadJSON, err := marshalNullable(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO jobs (id, tenant_id, run_id, step_id, due_at, attempts, max_attempts, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		job.ID,
		job.TenantID,
		job.RunID,
		job.StepID,
		job.DueAt,
		job.Attempts,
		job.MaxAttempts,
		payloadJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewJobError("Enqueue", job.ID, persistence.ErrJobExists)
		}

		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// ClaimNext locks the earliest due job whose lock is empty or older than the
// lock TTL.
func (q *JobQueue) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-q.lockTTL)

	query := `
		UPDATE jobs SET locked_by = $1, locked_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE due_at <= $2 AND (locked_by IS NULL OR locked_at < $3)
			ORDER BY due_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := scanJob(q.db.QueryRowContext(ctx, query, workerID, now, staleBefore))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

func (q *JobQueue) Reschedule(ctx context.Context, jobID, owner string, delay time.Duration, maxAttemptsOverride *int) (*models.Job, error) {
	if uuid.Validate(jobID) != nil {
		return nil, persistence.NewJobError("Reschedule", jobID, persistence.ErrJobNotFound)
	}

	now := time.Now().UTC()

	query := `
		UPDATE jobs SET
			attempts = attempts + 1,
			max_attempts = COALESCE($3, max_attempts),
			due_at = $2,
			locked_by = NULL,
			locked_at = NULL,
			updated_at = $4
		WHERE id = $1 AND ($5 = '' OR locked_by = $5) AND attempts + 1 < COALESCE($3, max_attempts)
		RETURNING ` + jobColumns

	job, err := scanJob(q.db.QueryRowContext(ctx, query, jobID, now.Add(delay), maxAttemptsOverride, now, owner))
	if err == nil {
		return job, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to reschedule job: %w", err)
	}

	err = q.missed(ctx, "Reschedule", jobID, owner)
	if err != nil {
		return nil, err
	}

	return nil, persistence.NewJobError("Reschedule", jobID, persistence.ErrMaxAttemptsExceeded)
}

// missed explains why a guarded statement matched no row: the job is gone or
// another worker holds it. It returns nil when neither applies.
func (q *JobQueue) missed(ctx context.Context, op, jobID, owner string) error {
	var lockedBy sql.NullString

	err := q.db.QueryRowContext(ctx, `SELECT locked_by FROM jobs WHERE id = $1`, jobID).Scan(&lockedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewJobError(op, jobID, persistence.ErrJobNotFound)
		}

		return fmt.Errorf("failed to check job: %w", err)
	}

	if owner != "" && lockedBy.String != owner {
		return persistence.NewJobError(op, jobID, persistence.ErrJobLockLost)
	}

	return nil
}

func (q *JobQueue) Postpone(ctx context.Context, jobID, owner string, dueAt time.Time, payload map[string]any) (*models.Job, error) {
	if uuid.Validate(jobID) != nil {
		return nil, persistence.NewJobError("Postpone", jobID, persistence.ErrJobNotFound)
	}

	payloadJSON, err := marshalNullable(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	query := `
		UPDATE jobs SET
			due_at = $2,
			payload = COALESCE($3, payload),
			locked_by = NULL,
			locked_at = NULL,
			updated_at = $4
		WHERE id = $1 AND ($5 = '' OR locked_by = $5)
		RETURNING ` + jobColumns

	job, err := scanJob(q.db.QueryRowContext(ctx, query, jobID, dueAt, payloadJSON, time.Now().UTC(), owner))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			missed := q.missed(ctx, "Postpone", jobID, owner)
			if missed != nil {
				return nil, missed
			}

			return nil, persistence.NewJobError("Postpone", jobID, persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to postpone job: %w", err)
	}

	return job, nil
}

// Replace swaps the job for next inside one transaction.
func (q *JobQueue) Replace(ctx context.Context, jobID, owner string, next *models.Job) (err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = q.delete(ctx, tx, "Replace", jobID, owner)
	if err != nil {
		return err
	}

	err = q.insert(ctx, tx, next)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (q *JobQueue) Delete(ctx context.Context, jobID, owner string) error {
	return q.delete(ctx, q.db, "Delete", jobID, owner)
}

func (q *JobQueue) delete(ctx context.Context, db execer, op, jobID, owner string) error {
	if uuid.Validate(jobID) != nil {
		return persistence.NewJobError(op, jobID, persistence.ErrJobNotFound)
	}

	result, err := db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND ($2 = '' OR locked_by = $2)`, jobID, owner)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		missed := q.missed(ctx, op, jobID, owner)
		if missed != nil {
			return missed
		}

		return persistence.NewJobError(op, jobID, persistence.ErrJobNotFound)
	}

	return nil
}

func (q *JobQueue) GetByRun(ctx context.Context, runID string) (*models.Job, error) {
	if uuid.Validate(runID) != nil {
		return nil, persistence.NewJobError("GetByRun", "", persistence.ErrJobNotFound)
	}

	job, err := scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE run_id = $1`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobError("GetByRun", "", persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	return job, nil
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		job         models.Job
		lockedBy    sql.NullString
		payloadJSON []byte
	)

	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.RunID,
		&job.StepID,
		&job.DueAt,
		&lockedBy,
		&job.LockedAt,
		&job.Attempts,
		&job.MaxAttempts,
		&payloadJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.LockedBy = lockedBy.String

	if len(payloadJSON) > 0 {
		err = json.Unmarshal(payloadJSON, &job.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
		}
	}

	return &job, nil
}
