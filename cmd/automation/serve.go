package main

import (
	"context"
	"errors"
	"sync"

	"github.com/barkbase/automation/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

func serve(ctx context.Context, command *cli.Command) error {
	rt, err := cmd.Bootstrap(ctx, command, "automation")
	if err != nil {
		return err
	}

	defer func() {
		err := rt.Close(context.WithoutCancel(ctx))
		if err != nil {
			rt.Logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	maxAttempts := command.Int("max-attempts")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := fn(ctx)
			if err != nil {
				rt.Logger.ErrorContext(ctx, "component stopped", "component", name, "error", err)

				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}

			// One component stopping brings the others down.
			cancel()
		}()
	}

	start("workers", func(ctx context.Context) error {
		return cmd.RunWorkers(ctx, rt, cmd.WorkerConfig{
			Concurrency:   command.Int("concurrency"),
			PollInterval:  command.Duration("poll-interval"),
			MaxAttempts:   maxAttempts,
			ConsumeEvents: true,
		})
	})

	start("scheduler", func(ctx context.Context) error {
		return cmd.RunScheduler(ctx, rt, command.Duration("sync-interval"), maxAttempts)
	})

	start("api", func(ctx context.Context) error {
		return cmd.ServeAPI(ctx, rt, cmd.NewAPIApp(rt, maxAttempts), command.Int("port"))
	})

	wg.Wait()

	return errors.Join(errs...)
}
