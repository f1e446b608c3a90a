package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/vidbot/internal/jobs"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

// QueueNotifier hands messages to the asynq notification queue. The worker's fixed
// concurrency bounds delivery; enqueueing never waits on Telegram.
type QueueNotifier struct {
	manager jobs.Manager
	opts    jobs.NotifyOptions
	log     *slog.Logger
}

// NewQueueNotifier builds a Notifier over manager.
func NewQueueNotifier(manager jobs.Manager, opts jobs.NotifyOptions, log *slog.Logger) *QueueNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &QueueNotifier{manager: manager, opts: opts, log: log}
}

// Notify enqueues message for ownerID.
func (q *QueueNotifier) Notify(ctx context.Context, ownerID int64, message string) error {
	if strings.TrimSpace(message) == "" {
		return nil
	}

	task, err := jobs.NewNotifyTask(jobs.NotifyPayload{ChatID: ownerID, Text: message}, q.opts)
	if err != nil {
		return fmt.Errorf("build notify task: %w", err)
	}

	info, err := q.manager.Enqueue(ctx, task)
	if err != nil {
		metrics.RecordNotification("queue", "error")
		q.log.ErrorContext(ctx, "failed to enqueue notification", slog.Int64("chat_id", ownerID), slog.Any("error", err))
		return fmt.Errorf("enqueue notification: %w", err)
	}

	metrics.RecordNotification("queue", "enqueued")
	q.log.DebugContext(ctx, "notification enqueued", slog.Int64("chat_id", ownerID), slog.String("task_id", taskID(info)))
	return nil
}

func taskID(info *asynq.TaskInfo) string {
	if info == nil {
		return ""
	}
	return info.ID
}
