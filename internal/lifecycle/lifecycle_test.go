package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/vidbot/internal/health"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	s := NewShutdown(testLogger())

	var order []string
	s.Register("postgres", func(context.Context) error {
		order = append(order, "postgres")
		return nil
	})
	s.Register("worker", func(context.Context) error {
		order = append(order, "worker")
		return errors.New("stuck")
	})
	s.Register("http", func(context.Context) error {
		order = append(order, "http")
		return nil
	})

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker: stuck")
	assert.Equal(t, []string{"http", "worker", "postgres"}, order)

	require.NoError(t, s.Execute(context.Background()))
	assert.Len(t, order, 3)
}

func TestProbesReadiness(t *testing.T) {
	checker := health.NewChecker(testLogger())
	healthy := true
	checker.AddCheck("redis", health.CheckFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("connection refused")
	}))

	probes := NewProbes(checker, testLogger())
	require.NoError(t, probes.Liveness(context.Background()))
	require.NoError(t, probes.Readiness(context.Background()))

	healthy = false
	err := probes.Readiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")

	healthy = true
	probes.Drain()
	assert.ErrorIs(t, probes.Readiness(context.Background()), ErrDraining)
	require.NoError(t, probes.Liveness(context.Background()))
}
