package state

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner resets conversations that stalled in a non-idle state for longer than ttl,
// so a user who never sent a phone is not stuck in awaiting_phone forever.
type Cleaner struct {
	fsm      StateMachine
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(fsm StateMachine, log *slog.Logger, ttl, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		fsm:      fsm,
		log:      log,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the cleanup loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.fsm == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("state cleaner stopped")
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// Cleanup clears every state last updated before now-ttl and returns how many were cleared.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	states, err := c.fsm.GetAllStates(ctx)
	if err != nil {
		c.log.Error("failed to list user states", slog.Any("error", err))
		return 0
	}

	cutoff := c.now().Add(-c.ttl)
	cleared := 0
	for _, st := range states {
		if st == nil || st.UpdatedAt.After(cutoff) {
			continue
		}

		if err := c.fsm.ClearState(ctx, st.UserID); err != nil {
			c.log.Warn("failed to clear stale user state", slog.Int64("user_id", st.UserID), slog.Any("error", err))
			continue
		}
		cleared++
	}

	if cleared > 0 {
		c.log.Info("stale purchase sessions cleared", slog.Int("count", cleared))
	}
	return cleared
}
