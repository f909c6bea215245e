package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/barkbase/automation/pkg/persistence"
)

// DefaultPollInterval is how long an idle worker waits before polling again.
const DefaultPollInterval = time.Second

// Worker claims due jobs and hands them to the executor. Workers share no
// state; any number may poll the same queue.
type Worker struct {
	id           string
	queue        persistence.JobQueue
	executor     *Executor
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewWorker(id string, queue persistence.JobQueue, executor *Executor, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Worker{
		id:           id,
		queue:        queue,
		executor:     executor,
		pollInterval: pollInterval,
		logger:       logger.With("module", "worker", "worker_id", id),
	}
}

func (w *Worker) ID() string {
	return w.id
}

// RunOnce claims and processes at most one job. It reports whether a job was
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNext(ctx, w.id)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	if job == nil {
		return false, nil
	}

	w.logger.DebugContext(ctx, "claimed job", "job_id", job.ID, "run_id", job.RunID, "step_id", job.StepID)

	err = w.executor.Process(ctx, job)
	if err != nil {
		return true, fmt.Errorf("failed to process job %s: %w", job.ID, err)
	}

	return true, nil
}

// Drain processes jobs until none is due.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		claimed, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}

		if !claimed {
			return nil
		}
	}
}

// Start polls until ctx is cancelled. Errors are logged and polling goes on.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker started", "poll_interval", w.pollInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "worker stopped")

			return nil
		case <-timer.C:
		}

		claimed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "job processing failed", "error", err)
		}

		if claimed {
			timer.Reset(0)
		} else {
			timer.Reset(w.pollInterval)
		}
	}
}
