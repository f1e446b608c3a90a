package handlers

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/vidbot/internal/promo"
)

// Sweeper runs one promo reminder pass.
type Sweeper interface {
	Sweep(ctx context.Context) (promo.Result, error)
}

type PromoSweepHandler struct {
	sweeper Sweeper
	log     *slog.Logger
}

func NewPromoSweepHandler(sweeper Sweeper, log *slog.Logger) *PromoSweepHandler {
	return &PromoSweepHandler{sweeper: sweeper, log: log}
}

func (h *PromoSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	res, err := h.sweeper.Sweep(ctx)
	if err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "promo sweep: failed", slog.String("task_type", t.Type()), slog.Any("error", err))
		}
		return err
	}

	if h.log != nil {
		h.log.DebugContext(ctx, "promo sweep: done",
			slog.String("task_type", t.Type()),
			slog.Int("sent", res.Sent),
			slog.Int("failed", res.Failed),
		)
	}
	return nil
}
