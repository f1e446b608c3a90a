package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStorage_SetAndGet(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	storage := NewRedisStorage(client, testLogger())
	ctx := context.Background()

	userState := &UserState{
		UserID:       123,
		CurrentState: StateAwaitingPhone,
		Context:      map[string]interface{}{KeyPlan: "basic", KeyMethod: "mobile_balance"},
	}

	require.NoError(t, storage.SetState(ctx, userState.UserID, userState))

	result, err := storage.GetState(ctx, userState.UserID)
	require.NoError(t, err)
	assert.Equal(t, userState.CurrentState, result.CurrentState)
	assert.Equal(t, "mobile_balance", result.String(KeyMethod))
	assert.False(t, result.UpdatedAt.IsZero())
}

func TestRedisStorage_GetNotFound(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	storage := NewRedisStorage(client, testLogger())

	state, err := storage.GetState(context.Background(), 999)
	assert.Nil(t, state)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStorage_ClearAndList(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	storage := NewRedisStorage(client, testLogger())
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, storage.SetState(ctx, id, &UserState{UserID: id, CurrentState: StateChoosingMethod}))
	}
	require.NoError(t, storage.ClearState(ctx, 2))

	states, err := storage.GetAllStates(ctx)
	require.NoError(t, err)

	ids := make([]int64, 0, len(states))
	for _, st := range states {
		ids = append(ids, st.UserID)
	}
	assert.ElementsMatch(t, []int64{1, 3}, ids)
}
