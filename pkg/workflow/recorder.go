package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
)

var slogLevels = map[models.LogLevel]slog.Level{
	models.LogLevelDebug: slog.LevelDebug,
	models.LogLevelInfo:  slog.LevelInfo,
	models.LogLevelWarn:  slog.LevelWarn,
	models.LogLevelError: slog.LevelError,
}

// Recorder writes the audit trail of runs. Entries are persisted and
// mirrored to the process log.
type Recorder struct {
	repository persistence.RunLogRepository
	logger     *slog.Logger
}

func NewRecorder(repository persistence.RunLogRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		repository: repository,
		logger:     logger.With("module", "run_log"),
	}
}

// Append stores entry. Entries are never updated or deleted.
func (r *Recorder) Append(ctx context.Context, entry *models.RunLog) error {
	err := r.repository.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}

	attrs := []any{
		"tenant_id", entry.TenantID,
		"run_id", entry.RunID,
		"kind", entry.Kind,
	}

	if entry.StepID != nil {
		attrs = append(attrs, "step_id", *entry.StepID)
	}

	if entry.Error != nil {
		attrs = append(attrs, "error", *entry.Error)
	}

	r.logger.Log(ctx, slogLevels[entry.Level], entry.Message, attrs...)

	return nil
}

// Logs returns the run's entries, oldest first.
func (r *Recorder) Logs(ctx context.Context, tenantID, runID string) ([]*models.RunLog, error) {
	logs, err := r.repository.ListByRun(ctx, tenantID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs: %w", err)
	}

	return logs, nil
}
