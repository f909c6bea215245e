package eventbus

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/barkbase/automation/pkg/channels/gochannel"
	"github.com/barkbase/automation/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoutesByType(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.BusinessEvent, 1)
	failed := make(chan *events.RunFailed, 1)

	require.NoError(t, bus.Handle(events.BusinessEventReceived, func(_ context.Context, event any) error {
		received <- event.(*events.BusinessEvent)

		return nil
	}))
	require.NoError(t, bus.Handle(events.RunFailedEvent, func(_ context.Context, event any) error {
		failed <- event.(*events.RunFailed)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "tenant-a", events.BusinessEvent{
		BaseEvent: events.NewBaseEvent(events.BusinessEventReceived, "tenant-a"),
		Event:     "pet.created",
		Payload:   map[string]any{"petName": "Rex"},
	}))
	require.NoError(t, bus.Publish(ctx, "run-1", events.RunFailed{
		BaseEvent: events.NewBaseEvent(events.RunFailedEvent, "tenant-a"),
		RunID:     "run-1",
		Attempts:  3,
	}))

	select {
	case event := <-received:
		assert.Equal(t, "pet.created", event.Event)
		assert.Equal(t, "Rex", event.Payload["petName"])
		assert.Equal(t, "tenant-a", event.TenantID)
	case <-time.After(2 * time.Second):
		t.Fatal("business event not delivered")
	}

	select {
	case event := <-failed:
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, 3, event.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("run.failed event not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completed := make(chan struct{}, 1)

	require.NoError(t, bus.Handle(events.RunCompletedEvent, func(context.Context, any) error {
		completed <- struct{}{}

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "run-1", events.RunCreated{
		BaseEvent: events.NewBaseEvent(events.RunCreatedEvent, "tenant-a"),
		RunID:     "run-1",
	}))
	require.NoError(t, bus.Publish(ctx, "run-1", events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, "tenant-a"),
		RunID:     "run-1",
	}))

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("run.completed event not delivered")
	}
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard.Publish(context.Background(), "k", events.RunCompleted{}))
}
