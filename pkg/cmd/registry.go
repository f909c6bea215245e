// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/barkbase/automation/pkg/actions/httprequest"
	logaction "github.com/barkbase/automation/pkg/actions/log"
	"github.com/barkbase/automation/pkg/actions/transform"
	"github.com/barkbase/automation/pkg/registry"
)

func registerActionPlugins(ctx context.Context, reg *registry.Registry, pluginsPath string) error {
	actionPlugins, err := reg.LoadActionPlugins(ctx, pluginsPath)
	if err != nil {
		return fmt.Errorf("failed to load action plugins: %w", err)
	}

	for _, plugin := range actionPlugins {
		reg.RegisterAction(plugin)
	}

	return nil
}

func registerNativeActions(reg *registry.Registry) {
	reg.RegisterAction(httprequest.NewActionFactory())
	reg.RegisterAction(transform.NewActionFactory())
	reg.RegisterAction(logaction.NewActionFactory())
}

// NewRegistry registers plugin actions first so native actions win on an id
// clash.
func NewRegistry(ctx context.Context, log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	if pluginsPath != "" {
		err := registerActionPlugins(ctx, reg, pluginsPath)
		if err != nil {
			return nil, err
		}
	}

	registerNativeActions(reg)

	return reg, nil
}
