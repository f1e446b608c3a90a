package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskingHandler_MasksSecretsAndPhones(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewJSONHandler(&buf, nil)))

	log.With(slog.String("api_key", "k-123")).Info("webhook",
		slog.String("token", "abc"),
		slog.String("payer_phone", "5355512345"),
		slog.Group("event", slog.String("sender_phone", "53987654"), slog.Int("amount", 250)),
	)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "***", record["api_key"])
	assert.Equal(t, "***", record["token"])
	assert.Equal(t, "******2345", record["payer_phone"])

	event, ok := record["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "****7654", event["sender_phone"])
	assert.EqualValues(t, 250, event["amount"])
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, SetLevel("debug"))
	assert.Equal(t, slog.LevelDebug, level.Level())

	require.NoError(t, SetLevel("warn"))
	assert.Equal(t, slog.LevelWarn, level.Level())

	assert.Error(t, SetLevel("verbose"))
	require.NoError(t, SetLevel("info"))
}

func TestCorrelationHandler_TagsRecords(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(correlationHandler{NewMaskingHandler(slog.NewJSONHandler(&buf, nil))}).With(slog.String("component", "webhook"))

	ctx := WithCorrelationID(context.Background(), "corr-1")
	log.InfoContext(ctx, "handled", slog.String("token", "abc"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "corr-1", record["correlation_id"])
	assert.Equal(t, "webhook", record["component"])
	assert.Equal(t, "***", record["token"])

	buf.Reset()
	log.Info("no context")
	record = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "correlation_id")
}

func TestWithCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	id := CorrelationIDFromContext(WithCorrelationID(context.Background(), ""))
	assert.Len(t, id, 36)
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
}
