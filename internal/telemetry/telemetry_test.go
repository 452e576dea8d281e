package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/nagare/internal/telemetry"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{ServiceName: "nagare"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	counter, err := telemetry.Meter("test").Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}

func TestInitWithEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    "127.0.0.1:4318",
		ServiceName: "nagare-test",
		Version:     "test",
		Insecure:    true,
	})
	require.NoError(t, err)

	_, span := telemetry.Tracer("test").Start(ctx, "span")
	span.End()

	// Nothing listens on the endpoint; shutdown only has to return.
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = shutdown(sctx)
}
