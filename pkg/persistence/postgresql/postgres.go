// Package postgresql provides PostgreSQL persistence for flows, runs, jobs and run logs.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db         *sql.DB
	logger     *slog.Logger
	flowRepo   *FlowRepository
	runRepo    *RunRepository
	jobQueue   *JobQueue
	runLogRepo *RunLogRepository
}

// NewPersistence creates a new PostgreSQL persistence layer. lockTTL bounds how
// long a job claim stays exclusive; zero uses persistence.DefaultLockTTL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, lockTTL time.Duration) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if lockTTL <= 0 {
		lockTTL = persistence.DefaultLockTTL
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:         database,
		logger:     logger,
		flowRepo:   NewFlowRepository(database, logger),
		runRepo:    NewRunRepository(database, logger),
		jobQueue:   NewJobQueue(database, logger, lockTTL),
		runLogRepo: NewRunLogRepository(database, logger),
	}, nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) JobQueue() persistence.JobQueue {
	return p.jobQueue
}

func (p *Persistence) RunLogRepository() persistence.RunLogRepository {
	return p.runLogRepo
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
