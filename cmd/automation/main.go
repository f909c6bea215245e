// Command automation runs the API, the workers and the scheduler in one
// process. It suits the memory store and the in-process event bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/barkbase/automation/pkg/cmd"
	"github.com/barkbase/automation/pkg/scheduler"
	"github.com/barkbase/automation/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "automation",
		Usage:                 "Run tenant automation flows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"s"},
				Usage:   "Start the API, workers and scheduler together",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "Port to run the API server on",
						Value:   defaultPort,
						Sources: cli.EnvVars("PORT"),
					},
					&cli.IntFlag{
						Name:    "concurrency",
						Usage:   "Number of workers polling the queue",
						Value:   2,
						Sources: cli.EnvVars("WORKER_CONCURRENCY"),
					},
					&cli.DurationFlag{
						Name:    "poll-interval",
						Usage:   "How long an idle worker waits before polling again",
						Value:   workflow.DefaultPollInterval,
						Sources: cli.EnvVars("POLL_INTERVAL"),
					},
					&cli.DurationFlag{
						Name:    "sync-interval",
						Usage:   "How often published schedules are reloaded",
						Value:   scheduler.DefaultSyncInterval,
						Sources: cli.EnvVars("SCHEDULER_SYNC_INTERVAL"),
					},
				}, cmd.CommonFlags()...),
				Action: serve,
			},
			{
				Name:    "import",
				Aliases: []string{"i"},
				Usage:   "Create the flows of a YAML bundle",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the flow bundle",
						Required: true,
					},
				}, cmd.CommonFlags()...),
				Action: importBundle,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}
