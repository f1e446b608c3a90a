package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePromoSweep = "promo:sweep"
	TaskTypeNotify     = "notify:send"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues weights the queues served by the worker.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// NotifyPayload is one outbound chat message.
type NotifyPayload struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// NotifyOptions bounds delivery of a single notification.
type NotifyOptions struct {
	MaxRetry int
	Timeout  time.Duration
}

// PromoSweepPayload is empty; the sweep derives everything from the clock and the store.
type PromoSweepPayload struct{}

func NewNotifyTask(payload NotifyPayload, opts NotifyOptions) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	taskOpts := []asynq.Option{asynq.Queue(QueueCritical)}
	if opts.MaxRetry > 0 {
		taskOpts = append(taskOpts, asynq.MaxRetry(opts.MaxRetry))
	}
	if opts.Timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(opts.Timeout))
	}

	return asynq.NewTask(TaskTypeNotify, data, taskOpts...), nil
}

func NewPromoSweepTask() (*asynq.Task, error) {
	data, err := json.Marshal(PromoSweepPayload{})
	if err != nil {
		return nil, err
	}

	// a sweep that overran its slot is superseded by the next one
	return asynq.NewTask(TaskTypePromoSweep, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Unique(55*time.Minute),
	), nil
}
