package main

import (
	"context"

	"github.com/barkbase/automation/pkg/cmd"
	"github.com/barkbase/automation/pkg/config"
	"github.com/barkbase/automation/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func importBundle(ctx context.Context, command *cli.Command) error {
	bundle, err := config.LoadBundle(command.String("file"))
	if err != nil {
		return err
	}

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

	flows := services.NewFlows(rt.Persistence, rt.Registry, rt.Gate, rt.EventBus, rt.Logger)

	imported, err := config.Import(ctx, flows, bundle)
	for _, flow := range imported {
		rt.Logger.InfoContext(ctx, "Imported flow", "flow_id", flow.ID, "name", flow.Name, "status", flow.Status)
	}

	return err
}
