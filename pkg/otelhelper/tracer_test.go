package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tracer := provider.Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "automation.step",
		attribute.String(RunIDKey, "run-1"),
		attribute.String(StepIDKey, "notify"),
	)
	SetError(span, errors.New("boom"), attribute.Int(AttemptKey, 2))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	ended := spans[0]
	assert.Equal(t, "automation.step", ended.Name())
	assert.Equal(t, codes.Error, ended.Status().Code)
	assert.Equal(t, "boom", ended.Status().Description)
	assert.Contains(t, ended.Attributes(), attribute.String(RunIDKey, "run-1"))

	require.Len(t, ended.Events(), 2)
	assert.Equal(t, "error_occurred", ended.Events()[1].Name)
}

func TestDefaultTracer(t *testing.T) {
	assert.NotNil(t, DefaultTracer())
}
