package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAppError_SentinelCauses(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		sentinel  error
		code      string
		retryable bool
	}{
		{"conflict", NewConflictError(7), ErrConflict, "E401", false},
		{"invalid state", NewInvalidStateError(1, nil), ErrInvalidState, "E402", false},
		{"conflicting settlement", NewInvalidStateError(1, ErrConflictingSettlement), ErrConflictingSettlement, "E402", false},
		{"no match", NewNoMatchError(nil), ErrNoMatch, "E403", false},
		{"ambiguous", NewNoMatchError(ErrAmbiguousMatch), ErrAmbiguousMatch, "E403", false},
		{"not found", NewNotFoundError(3), ErrTicketNotFound, "E404", false},
		{"upstream timeout", NewUpstreamTimeoutError("heleket"), ErrUpstreamTimeout, "E301", true},
		{"unauthorized", NewUnauthorizedError("webhook"), ErrUnauthorized, "E600", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)

			assert.ErrorIs(t, wrapped, tc.sentinel)
			assert.Equal(t, tc.code, CodeOf(wrapped))
			assert.Equal(t, tc.retryable, IsRetryable(wrapped))
		})
	}
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Empty(t, CodeOf(stderrors.New("plain")))
	assert.Empty(t, CodeOf(nil))
}

func TestHandler_ReturnsUserMessage(t *testing.T) {
	h := NewHandler(testLogger(), false)

	msg, retryable := h.Handle(context.Background(), NewConflictError(1))
	assert.Equal(t, "Ya tienes una solicitud de pago pendiente", msg)
	assert.False(t, retryable)

	msg, retryable = h.Handle(context.Background(), stderrors.New("boom"))
	assert.Equal(t, "Ocurrió un error. Inténtalo más tarde", msg)
	assert.False(t, retryable)

	msg, retryable = h.Handle(context.Background(), fmt.Errorf("send: %w", context.Canceled))
	assert.Equal(t, DefaultUserMessage, msg)
	assert.True(t, retryable)

	msg, _ = h.Handle(context.Background(), nil)
	assert.Empty(t, msg)
}

func TestWithRetryPolicy(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	t.Run("retries retryable errors until success", func(t *testing.T) {
		calls := 0
		err := WithRetryPolicy(context.Background(), policy, func() error {
			calls++
			if calls < 3 {
				return NewExternalAPIError("rail", stderrors.New("503"))
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		err := WithRetryPolicy(context.Background(), policy, func() error {
			calls++
			return NewValidationError("bad")
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := WithRetryPolicy(context.Background(), policy, func() error {
			calls++
			return NewUpstreamTimeoutError("rail")
		})

		assert.ErrorIs(t, err, ErrUpstreamTimeout)
		assert.Equal(t, 3, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := WithRetryPolicy(ctx, policy, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreakerWithSettings(BreakerSettings{
		MinRequests:         2,
		OpenTimeout:         time.Minute,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	failure := stderrors.New("down")
	assert.ErrorIs(t, cb.Call(func() error { return failure }), failure)
	assert.ErrorIs(t, cb.Call(func() error { return failure }), failure)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	assert.ErrorIs(t, cb.Call(func() error { called = true; return nil }), ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}
