package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/barkbase/automation/pkg/workflow"
	"github.com/google/uuid"
)

// WorkerConfig configures the worker pool started by RunWorkers.
type WorkerConfig struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	// ConsumeEvents feeds business events from the bus into the dispatcher.
	ConsumeEvents bool
}

// WorkerID returns id, or a generated one when id is empty.
func WorkerID(id string) string {
	if id != "" {
		return id
	}

	return "worker-" + uuid.New().String()[:8]
}

// RunWorkers runs the step executor pool until ctx is cancelled.
func RunWorkers(ctx context.Context, rt *Runtime, cfg WorkerConfig) error {
	runs := workflow.NewRunCreator(rt.Persistence, rt.Gate, rt.EventBus, rt.Logger, workflow.WithMaxAttempts(cfg.MaxAttempts))

	if cfg.ConsumeEvents {
		dispatcher := workflow.NewDispatcher(rt.Persistence.FlowRepository(), runs, rt.Logger)

		err := dispatcher.Subscribe(ctx, rt.EventBus)
		if err != nil {
			return fmt.Errorf("failed to subscribe to business events: %w", err)
		}
	}

	executor := workflow.NewExecutor(
		rt.Persistence,
		rt.Registry,
		rt.Logger,
		workflow.WithTracer(rt.Tracer),
		workflow.WithPublisher(rt.EventBus),
	)

	concurrency := max(cfg.Concurrency, 1)
	baseID := WorkerID(cfg.ID)

	var wg sync.WaitGroup

	for i := range concurrency {
		id := baseID
		if concurrency > 1 {
			id = fmt.Sprintf("%s-%d", baseID, i)
		}

		worker := workflow.NewWorker(id, rt.Persistence.JobQueue(), executor, cfg.PollInterval, rt.Logger)

		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = worker.Start(ctx)
		}()
	}

	rt.Logger.InfoContext(ctx, "workers running", "worker_id", baseID, "concurrency", concurrency)

	wg.Wait()

	return nil
}
