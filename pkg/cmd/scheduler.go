package cmd

import (
	"context"
	"time"

	"github.com/barkbase/automation/pkg/scheduler"
	"github.com/barkbase/automation/pkg/workflow"
)

// RunScheduler fires schedule-triggered flows until ctx is cancelled.
func RunScheduler(ctx context.Context, rt *Runtime, syncInterval time.Duration, maxAttempts int) error {
	runs := workflow.NewRunCreator(rt.Persistence, rt.Gate, rt.EventBus, rt.Logger, workflow.WithMaxAttempts(maxAttempts))

	s := scheduler.New(rt.Persistence.FlowRepository(), runs, rt.Logger, scheduler.WithSyncInterval(syncInterval))

	return s.Start(ctx)
}
