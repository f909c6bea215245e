// Command automation-worker claims queued steps and executes them.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/barkbase/automation/pkg/cmd"
	"github.com/barkbase/automation/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "automation-worker",
		Usage:                 "Execute flow steps from the job queue",
		EnableShellCompletion: true,
		Flags: append(workerFlags(), cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := cmd.Bootstrap(ctx, command, "automation-worker")
			if err != nil {
				return err
			}

			defer func() {
				err := rt.Close(context.WithoutCancel(ctx))
				if err != nil {
					rt.Logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			return cmd.RunWorkers(ctx, rt, workerConfig(command))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}

func workerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Number of workers polling the queue in this process",
			Value:   1,
			Sources: cli.EnvVars("WORKER_CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "How long an idle worker waits before polling again",
			Value:   workflow.DefaultPollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    "consume-events",
			Usage:   "Create runs from business events published on the event bus",
			Value:   true,
			Sources: cli.EnvVars("CONSUME_EVENTS"),
		},
	}
}

func workerConfig(command *cli.Command) cmd.WorkerConfig {
	return cmd.WorkerConfig{
		ID:            command.String("worker-id"),
		Concurrency:   command.Int("concurrency"),
		PollInterval:  command.Duration("poll-interval"),
		MaxAttempts:   command.Int("max-attempts"),
		ConsumeEvents: command.Bool("consume-events"),
	}
}
