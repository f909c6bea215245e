package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/google/uuid"
)

// RunLogRepository stores the append-only run log. Entries sharing a
// timestamp keep insertion order through the seq column.
type RunLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunLogRepository creates a new run log repository.
func NewRunLogRepository(db *sql.DB, logger *slog.Logger) *RunLogRepository {
	return &RunLogRepository{db: db, logger: logger}
}

func (r *RunLogRepository) Append(ctx context.Context, entry *models.RunLog) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run log ID: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	inputJSON, err := marshalNullable(entry.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal run log input: %w", err)
	}

	outputJSON, err := marshalNullable(entry.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal run log output: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO run_logs (id, tenant_id, run_id, step_id, level, kind, message, input, output, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.ID,
		entry.TenantID,
		entry.RunID,
		entry.StepID,
		entry.Level,
		entry.Kind,
		entry.Message,
		inputJSON,
		outputJSON,
		entry.Error,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}

	return nil
}

func (r *RunLogRepository) ListByRun(ctx context.Context, tenantID, runID string) ([]*models.RunLog, error) {
	if uuid.Validate(runID) != nil {
		return []*models.RunLog{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, run_id, step_id, level, kind, message, input, output, error, created_at
		FROM run_logs
		WHERE tenant_id = $1 AND run_id = $2
		ORDER BY created_at ASC, seq ASC
	`, tenantID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.RunLog, 0)

	for rows.Next() {
		var (
			entry                 models.RunLog
			inputJSON, outputJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.RunID,
			&entry.StepID,
			&entry.Level,
			&entry.Kind,
			&entry.Message,
			&inputJSON,
			&outputJSON,
			&entry.Error,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}

		if len(inputJSON) > 0 {
			err = json.Unmarshal(inputJSON, &entry.Input)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal run log input: %w", err)
			}
		}

		if len(outputJSON) > 0 {
			err = json.Unmarshal(outputJSON, &entry.Output)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal run log output: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating run logs: %w", err)
	}

	return entries, nil
}

// marshalNullable encodes v as JSON, mapping nil maps to SQL NULL.
func marshalNullable(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return data, nil
}
