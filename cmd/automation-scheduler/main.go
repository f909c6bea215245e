// Command automation-scheduler starts runs of schedule-triggered flows.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/barkbase/automation/pkg/cmd"
	"github.com/barkbase/automation/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "automation-scheduler",
		Usage:                 "Fire cron triggers of published flows",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:    "sync-interval",
				Usage:   "How often published schedules are reloaded",
				Value:   scheduler.DefaultSyncInterval,
				Sources: cli.EnvVars("SCHEDULER_SYNC_INTERVAL"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := cmd.Bootstrap(ctx, command, "automation-scheduler")
			if err != nil {
				return err
			}

			defer func() {
				err := rt.Close(context.WithoutCancel(ctx))
				if err != nil {
					rt.Logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			return cmd.RunScheduler(ctx, rt, command.Duration("sync-interval"), command.Int("max-attempts"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}
