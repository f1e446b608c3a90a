// Package promo reminds new accounts that their discount window is closing.
package promo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/vidbot/internal/domain"
	"github.com/Proton-105/vidbot/internal/i18n"
	"github.com/Proton-105/vidbot/internal/notify"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

// Reminder bands on the time left in the window. Below 1.5h the bands are contiguous,
// so an hourly sweep always lands in one of them before the window closes.
const (
	fiveHoursFrom = 4*time.Hour + 30*time.Minute
	fiveHoursTo   = 5*time.Hour + 30*time.Minute
	oneHourFrom   = 30 * time.Minute
	oneHourTo     = 90 * time.Minute
	thirtyMinFrom = 15 * time.Minute
	thirtyMinTo   = 45 * time.Minute
)

// Horizon is how far ahead of now a window end can be and still need a reminder.
const Horizon = fiveHoursTo

// AccountStore is the account persistence the sweep needs.
type AccountStore interface {
	ListPromoCandidates(ctx context.Context, horizon time.Time) ([]*domain.Account, error)
	MarkPromoStage(ctx context.Context, id int64, stage domain.PromoStage) error
}

// Result summarises one sweep.
type Result struct {
	Candidates int
	Sent       int
	Failed     int
	// Unpersisted counts reminders that were sent but whose flag could not be stored;
	// the next sweep may send them again.
	Unpersisted int
}

// Sweeper evaluates every open promo window and sends at most one reminder per account.
type Sweeper struct {
	accounts AccountStore
	notifier notify.Notifier
	messages i18n.Translator
	log      *slog.Logger
	now      func() time.Time
}

// NewSweeper builds a Sweeper.
func NewSweeper(accounts AccountStore, notifier notify.Notifier, messages i18n.Translator, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop
	}

	return &Sweeper{
		accounts: accounts,
		notifier: notifier,
		messages: messages,
		log:      log.With(slog.String("component", "promo_sweeper")),
		now:      time.Now,
	}
}

// Band maps the time left in a window to the reminder that covers it.
func Band(remaining time.Duration) (domain.PromoStage, bool) {
	switch {
	case remaining <= 0:
		return domain.PromoStageExpired, true
	case remaining < thirtyMinFrom:
		return domain.PromoStageTenMinutes, true
	case remaining < thirtyMinTo:
		return domain.PromoStageThirtyMinutes, true
	case remaining >= oneHourFrom && remaining < oneHourTo:
		return domain.PromoStageOneHour, true
	case remaining >= fiveHoursFrom && remaining < fiveHoursTo:
		return domain.PromoStageFiveHours, true
	default:
		return "", false
	}
}

// DueStage returns the reminder account should receive at now, if any.
func DueStage(account *domain.Account, now time.Time) (domain.PromoStage, bool) {
	if account == nil || account.PromoWindowEnd == nil || account.PromoNotified.Expired {
		return "", false
	}

	stage, ok := Band(account.PromoWindowEnd.Sub(now))
	if !ok || account.PromoNotified.Has(stage) {
		return "", false
	}
	return stage, true
}

// Sweep runs one pass. A failure for one account is logged and counted; the pass
// continues with the rest. Only a failure to list candidates aborts it.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.now().UTC()

	candidates, err := s.accounts.ListPromoCandidates(ctx, now.Add(Horizon))
	if err != nil {
		return Result{}, fmt.Errorf("list promo candidates: %w", err)
	}

	res := Result{Candidates: len(candidates)}
	for _, account := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		stage, ok := DueStage(account, now)
		if !ok {
			continue
		}

		if err := s.notifier.Notify(ctx, account.ID, s.text(stage)); err != nil {
			res.Failed++
			metrics.RecordPromoReminder(string(stage), "failed")
			s.log.WarnContext(ctx, "failed to send promo reminder",
				slog.Int64("account_id", account.ID),
				slog.String("stage", string(stage)),
				slog.Any("error", err),
			)
			continue
		}
		res.Sent++

		if err := s.accounts.MarkPromoStage(ctx, account.ID, stage); err != nil {
			res.Unpersisted++
			metrics.RecordPromoReminder(string(stage), "unpersisted")
			s.log.ErrorContext(ctx, "failed to persist promo reminder flag",
				slog.Int64("account_id", account.ID),
				slog.String("stage", string(stage)),
				slog.Any("error", err),
			)
			continue
		}
		metrics.RecordPromoReminder(string(stage), "sent")
	}

	s.log.InfoContext(ctx, "promo sweep finished",
		slog.Int("candidates", res.Candidates),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int("unpersisted", res.Unpersisted),
	)
	return res, nil
}

func (s *Sweeper) text(stage domain.PromoStage) string {
	key := "promo." + string(stage)
	if s.messages == nil {
		return key
	}
	return s.messages.T(key)
}
