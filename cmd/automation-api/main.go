// Command automation-api serves the flow authoring and run HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/barkbase/automation/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "automation-api",
		Usage:                 "Author flows, start runs and ingest events over HTTP",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.CommonFlags()...),
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	rt, err := cmd.Bootstrap(ctx, command, "automation-api")
	if err != nil {
		return err
	}

	defer func() {
		err := rt.Close(context.WithoutCancel(ctx))
		if err != nil {
			rt.Logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
		}
	}()

	rt.Logger.InfoContext(ctx, "Initializing automation API")

	app := cmd.NewAPIApp(rt, command.Int("max-attempts"))

	return cmd.ServeAPI(ctx, rt, app, command.Int("port"))
}
