package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/barkbase/automation/pkg/eventbus"
	"github.com/barkbase/automation/pkg/features"
	"github.com/barkbase/automation/pkg/log"
	"github.com/barkbase/automation/pkg/otelhelper"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/registry"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// Runtime holds the collaborators every binary builds from CommonFlags.
type Runtime struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Registry    *registry.Registry
	Gate        *features.StaticGate
	Tracer      trace.Tracer

	closers []func(context.Context) error
}

// Bootstrap sets up logging and opens persistence, the event bus, the action
// registry and tracing. Callers must Close the runtime.
func Bootstrap(ctx context.Context, command *cli.Command, serviceName string) (*Runtime, error) {
	log.Setup(command.String("log-level"), command.String("log-format"))

	rt := &Runtime{
		Logger: log.WithModule(serviceName),
		Tracer: otelhelper.DefaultTracer(),
	}

	lockTTL := command.Duration("lock-ttl")

	store, err := NewPersistence(ctx, rt.Logger, command.String("database-url"), lockTTL)
	if err != nil {
		return nil, err
	}

	rt.closers = append(rt.closers, store.Close)

	store, err = WithQueue(ctx, rt.Logger, store, command.String("queue"), command.String("redis-url"), lockTTL)
	if err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}

	rt.Persistence = store

	bus, err := NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, rt.Logger)
	if err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}

	rt.EventBus = bus
	rt.closers = append(rt.closers, func(context.Context) error { return bus.Close() })

	rt.Registry, err = NewRegistry(ctx, rt.Logger, command.String("plugins-path"))
	if err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}

	rt.Gate = NewFeatureGate(store, command.Int("max-published-flows"))

	if command.Bool("tracing") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, errors.Join(err, rt.Close(ctx))
		}

		rt.Tracer = tracer
		rt.closers = append(rt.closers, shutdown)
	}

	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	rt.closers = nil

	return errors.Join(errs...)
}
