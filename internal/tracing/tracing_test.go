package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_EmptyEndpoint_ReturnsNoOpProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "purifier-test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()), "shutdown is idempotent")
}

func TestTracer_StartsSpans(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "purifier-test"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	tracer := Tracer("controller")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "controller.cycle")
	assert.NotNil(t, span)
	span.End()
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.5).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), sampler(0.25).Description())
}
