package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/google/uuid"
)

const flowColumns = `
	id
  , tenant_id
  , name
  , description
  , status
  , trigger_type
  , trigger_config
  , entry_step_id
  , version
  , created_by
  , updated_by
  , created_at
  , updated_at
  , published_at
  , archived_at
`

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

// Save upserts the flow together with its steps and edges.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) (err error) {
	now := time.Now().UTC()

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	if flow.UpdatedAt.IsZero() {
		flow.UpdatedAt = now
	}

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate flow ID: %w", err)
		}

		flow.ID = id.String()
	}

	triggerConfigJSON, err := json.Marshal(flow.Trigger.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO flows (id, tenant_id, name, description, status, trigger_type, trigger_config,
			entry_step_id, version, created_by, updated_by, created_at, updated_at, published_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			entry_step_id = EXCLUDED.entry_step_id,
			version = EXCLUDED.version,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			archived_at = EXCLUDED.archived_at
		WHERE flows.tenant_id = EXCLUDED.tenant_id
	`

	_, err = tx.ExecContext(ctx, query,
		flow.ID,
		flow.TenantID,
		flow.Name,
		flow.Description,
		flow.Status,
		flow.Trigger.Type,
		triggerConfigJSON,
		flow.Definition.EntryStepID,
		flow.Version,
		nullString(flow.CreatedBy),
		nullString(flow.UpdatedBy),
		flow.CreatedAt,
		flow.UpdatedAt,
		flow.PublishedAt,
		flow.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow base: %w", err)
	}

	err = r.saveDefinition(ctx, tx, flow)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *FlowRepository) saveDefinition(ctx context.Context, tx *sql.Tx, flow *models.Flow) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM flow_edges WHERE flow_id = $1", flow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing edges: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM flow_steps WHERE flow_id = $1", flow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	for position, step := range flow.Definition.Steps {
		if step == nil {
			continue
		}

		configJSON, err := json.Marshal(step.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal step configuration: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_steps (flow_id, id, position, kind, name, config)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, flow.ID, step.ID, position, step.Kind, step.Name, configJSON)
		if err != nil {
			return fmt.Errorf("failed to save step %s: %w", step.ID, err)
		}
	}

	for position, edge := range flow.Definition.Edges {
		if edge == nil {
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_edges (flow_id, position, source_step_id, target_step_id, handle)
			VALUES ($1, $2, $3, $4, $5)
		`, flow.ID, position, edge.Source, edge.Target, edge.Handle)
		if err != nil {
			return fmt.Errorf("failed to save edge: %w", err)
		}
	}

	return nil
}

// GetByID returns a tenant's flow.
func (r *FlowRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Flow, error) {
	if uuid.Validate(id) != nil {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	query := `SELECT ` + flowColumns + ` FROM flows WHERE id = $1 AND tenant_id = $2`

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	err = r.loadDefinition(ctx, flow)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// List returns flows matching opts ordered by creation time.
func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) ([]*models.Flow, error) {
	var (
		conditions []string
		args       []any
	)

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		conditions = append(conditions, "tenant_id = $"+strconv.Itoa(len(args)))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}

	if opts.TriggerType != nil {
		args = append(args, *opts.TriggerType)
		conditions = append(conditions, "trigger_type = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + flowColumns + ` FROM flows`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	for _, flow := range flows {
		err = r.loadDefinition(ctx, flow)
		if err != nil {
			return nil, err
		}
	}

	return flows, nil
}

// Delete removes a tenant's flow along with its steps and edges.
func (r *FlowRepository) Delete(ctx context.Context, tenantID, id string) error {
	if uuid.Validate(id) != nil {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM flows WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	return nil
}

func (r *FlowRepository) scanFlow(row scanner) (*models.Flow, error) {
	var (
		flow              models.Flow
		triggerConfigJSON []byte
		createdBy         sql.NullString
		updatedBy         sql.NullString
	)

	err := row.Scan(
		&flow.ID,
		&flow.TenantID,
		&flow.Name,
		&flow.Description,
		&flow.Status,
		&flow.Trigger.Type,
		&triggerConfigJSON,
		&flow.Definition.EntryStepID,
		&flow.Version,
		&createdBy,
		&updatedBy,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&flow.PublishedAt,
		&flow.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerConfigJSON) > 0 {
		err = json.Unmarshal(triggerConfigJSON, &flow.Trigger.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	flow.CreatedBy = createdBy.String
	flow.UpdatedBy = updatedBy.String

	return &flow, nil
}

func (r *FlowRepository) loadDefinition(ctx context.Context, flow *models.Flow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, name, config
		FROM flow_steps
		WHERE flow_id = $1
		ORDER BY position
	`, flow.ID)
	if err != nil {
		return fmt.Errorf("failed to query flow steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.Step, 0)

	for rows.Next() {
		var (
			step       models.Step
			configJSON []byte
		)

		err := rows.Scan(&step.ID, &step.Kind, &step.Name, &configJSON)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		if len(configJSON) > 0 {
			err := json.Unmarshal(configJSON, &step.Config)
			if err != nil {
				return fmt.Errorf("failed to unmarshal step configuration: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	edgeRows, err := r.db.QueryContext(ctx, `
		SELECT source_step_id, target_step_id, handle
		FROM flow_edges
		WHERE flow_id = $1
		ORDER BY position
	`, flow.ID)
	if err != nil {
		return fmt.Errorf("failed to query flow edges: %w", err)
	}

	defer closeRows(ctx, r.logger, edgeRows)

	edges := make([]*models.Edge, 0)

	for edgeRows.Next() {
		var edge models.Edge

		err := edgeRows.Scan(&edge.Source, &edge.Target, &edge.Handle)
		if err != nil {
			return fmt.Errorf("failed to scan edge: %w", err)
		}

		edges = append(edges, &edge)
	}

	err = edgeRows.Err()
	if err != nil {
		return fmt.Errorf("error iterating edges: %w", err)
	}

	flow.Definition.Steps = steps
	flow.Definition.Edges = edges

	return nil
}
