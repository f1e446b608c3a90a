package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/vidbot/internal/jobs"
	"github.com/Proton-105/vidbot/internal/notify"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

type NotificationHandler struct {
	sender notify.Sender
	log    *slog.Logger
}

func NewNotificationHandler(sender notify.Sender, log *slog.Logger) *NotificationHandler {
	return &NotificationHandler{sender: sender, log: log}
}

// ProcessTask delivers one message. Undecodable payloads and permanent delivery
// failures skip asynq's retries.
func (h *NotificationHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "notification: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		}
		return fmt.Errorf("decode notify payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.sender.Send(ctx, payload.ChatID, payload.Text); err != nil {
		if errors.Is(err, notify.ErrPermanent) {
			metrics.RecordNotification("telegram", "dropped")
			if h.log != nil {
				h.log.WarnContext(ctx, "notification: chat unreachable", slog.Int64("chat_id", payload.ChatID), slog.Any("error", err))
			}
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		metrics.RecordNotification("telegram", "error")
		if h.log != nil {
			h.log.WarnContext(ctx, "notification: delivery failed", slog.Int64("chat_id", payload.ChatID), slog.Any("error", err))
		}
		return err
	}

	metrics.RecordNotification("telegram", "sent")
	return nil
}
