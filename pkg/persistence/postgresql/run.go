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

const runColumns = `
	id
  , tenant_id
  , flow_id
  , flow_version
  , status
  , current_step_id
  , idempotency_key
  , run_key
  , context
  , attempt
  , max_attempts
  , error
  , created_at
  , started_at
  , finished_at
`

// RunRepository is the PostgreSQL run ledger. The (tenant_id, run_key) unique
// constraint is what makes run creation idempotent across processes.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func (r *RunRepository) CreateIfAbsent(ctx context.Context, run *models.Run) (*models.Run, bool, error) {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate run ID: %w", err)
		}

		run.ID = id.String()
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal run context: %w", err)
	}

	query := `
		INSERT INTO runs (id, tenant_id, flow_id, flow_version, status, current_step_id, idempotency_key,
			run_key, context, attempt, max_attempts, error, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, run_key) DO NOTHING
		RETURNING id
	`

	var insertedID string

	err = r.db.QueryRowContext(ctx, query,
		run.ID,
		run.TenantID,
		run.FlowID,
		run.FlowVersion,
		run.Status,
		run.CurrentStepID,
		run.IdempotencyKey,
		run.RunKey,
		contextJSON,
		run.Attempt,
		run.MaxAttempts,
		run.Error,
		run.CreatedAt,
		run.StartedAt,
		run.FinishedAt,
	).Scan(&insertedID)

	switch {
	case err == nil:
		return run, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := r.GetByKey(ctx, run.TenantID, run.RunKey)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load existing run: %w", err)
		}

		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("failed to insert run: %w", err)
	}
}

func (r *RunRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Run, error) {
	if uuid.Validate(id) != nil {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1 AND tenant_id = $2`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) GetByKey(ctx context.Context, tenantID, runKey string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE tenant_id = $1 AND run_key = $2`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, tenantID, runKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByKey", "", persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

// Update persists the mutable fields of a run.
func (r *RunRepository) Update(ctx context.Context, run *models.Run) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	query := `
		UPDATE runs SET
			status = $3,
			current_step_id = $4,
			context = $5,
			attempt = $6,
			max_attempts = $7,
			error = $8,
			started_at = $9,
			finished_at = $10
		WHERE id = $1 AND tenant_id = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.TenantID,
		run.Status,
		run.CurrentStepID,
		contextJSON,
		run.Attempt,
		run.MaxAttempts,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewRunError("Update", run.ID, persistence.ErrRunNotFound)
	}

	return nil
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run         models.Run
		contextJSON []byte
	)

	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.FlowID,
		&run.FlowVersion,
		&run.Status,
		&run.CurrentStepID,
		&run.IdempotencyKey,
		&run.RunKey,
		&contextJSON,
		&run.Attempt,
		&run.MaxAttempts,
		&run.Error,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &run.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
		}
	}

	return &run, nil
}
