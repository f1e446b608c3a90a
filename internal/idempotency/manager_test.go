package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	Status   string `json:"status"`
	TicketID int64  `json:"ticket_id"`
}

func newTestManager(t *testing.T) (Manager, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(NewRedisStore(client, log), log), mr, client
}

func TestExecuteReplaysFinishedOperation(t *testing.T) {
	m, _, _ := newTestManager(t)
	key := GenerateKey("mobile_balance", "MOBILE_12")
	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		return outcome{Status: "ok", TicketID: 12}, nil
	}

	first, err := m.Execute(context.Background(), key, time.Hour, op)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := m.Execute(context.Background(), key, time.Hour, op)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, calls)

	var got outcome
	require.NoError(t, second.Decode(&got))
	assert.Equal(t, outcome{Status: "ok", TicketID: 12}, got)
}

func TestExecuteDoesNotRecordFailures(t *testing.T) {
	m, _, _ := newTestManager(t)
	key := GenerateKey("crypto", "INV1")

	_, err := m.Execute(context.Background(), key, time.Hour, func(context.Context) (any, error) {
		return nil, errors.New("database unavailable")
	})
	require.Error(t, err)

	res, err := m.Execute(context.Background(), key, time.Hour, func(context.Context) (any, error) {
		return outcome{Status: "ok"}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
}

func TestExecuteReportsHeldKey(t *testing.T) {
	m, _, client := newTestManager(t)
	key := GenerateKey("card", "TM1")
	require.NoError(t, client.SetNX(context.Background(), lockKey(key), 1, time.Minute).Err())

	_, err := m.Execute(context.Background(), key, time.Hour, func(context.Context) (any, error) {
		t.Fatal("operation must not run while the key is held")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestExecuteRecordExpires(t *testing.T) {
	m, mr, _ := newTestManager(t)
	key := GenerateKey("card", "TM2")
	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		return outcome{Status: "ok"}, nil
	}

	_, err := m.Execute(context.Background(), key, time.Minute, op)
	require.NoError(t, err)
	assert.False(t, mr.Exists(lockKey(key)))

	mr.FastForward(2 * time.Minute)

	res, err := m.Execute(context.Background(), key, time.Minute, op)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, calls)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, GenerateKey("card", "A"), GenerateKey("card", "A"))
	assert.NotEqual(t, GenerateKey("card", "A"), GenerateKey("mobile_balance", "A"))
	assert.NotEqual(t, GenerateKey("ab", "c"), GenerateKey("a", "bc"))
	assert.Len(t, GenerateKey("x"), 64)
}
