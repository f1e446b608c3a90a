package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/internal/i18n"
	"github.com/Proton-105/vidbot/internal/notify"
	"github.com/Proton-105/vidbot/internal/repository"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

// AccountCache drops stale account snapshots after a write.
type AccountCache interface {
	Invalidate(ctx context.Context, accountID int64) error
}

// Activation is the outcome of settling a ticket.
type Activation struct {
	Ticket *domain.Ticket
	// Applied is false when the ticket had already been settled with the same reference.
	Applied bool
	Plan    domain.Plan
	ResetAt time.Time
	// ReferrerID is set when a referral reward was credited.
	ReferrerID     *int64
	ReferralPoints int
	ReferrerTotal  int
}

// Coordinator completes a matched ticket and applies its effects atomically.
type Coordinator struct {
	store       repository.Store
	cache       AccountCache
	notifier    notify.Notifier
	messages    i18n.Translator
	adminChatID int64
	log         *slog.Logger
	now         func() time.Time
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAdminChat sends a summary of every activation to chatID.
func WithAdminChat(chatID int64) CoordinatorOption {
	return func(c *Coordinator) { c.adminChatID = chatID }
}

// WithAccountCache invalidates cached snapshots of the accounts an activation touched.
func WithAccountCache(cache AccountCache) CoordinatorOption {
	return func(c *Coordinator) { c.cache = cache }
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(store repository.Store, notifier notify.Notifier, messages i18n.Translator, log *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop
	}

	c := &Coordinator{
		store:    store,
		notifier: notifier,
		messages: messages,
		log:      log.With(slog.String("component", "activation")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate completes ticket with settlementRef, grants its plan to the owner and credits
// the owner's referrer, all in one transaction. A repeat with the same reference returns
// Applied=false and writes nothing. Notifications go out after commit and never fail
// the activation.
func (c *Coordinator) Activate(ctx context.Context, ticket *domain.Ticket, settlementRef string) (Activation, error) {
	if ticket == nil {
		return Activation{}, apperrors.NewValidationError("ticket is required")
	}

	now := c.now().UTC()
	var act Activation

	err := c.store.WithinTx(ctx, func(tx repository.Store) error {
		act = Activation{}

		completed, applied, err := tx.Tickets().Complete(ctx, ticket.ID, settlementRef, now)
		if err != nil {
			return err
		}
		act.Ticket = completed
		act.Plan = completed.Plan
		act.Applied = applied
		if !applied {
			return nil
		}

		owner, err := tx.Accounts().FindByID(ctx, completed.OwnerID)
		if err != nil {
			return fmt.Errorf("load ticket owner: %w", err)
		}

		act.ResetAt = now.Add(completed.Plan.Period())
		if err := tx.Accounts().ApplyPlan(ctx, owner.ID, completed.Plan, act.ResetAt); err != nil {
			return fmt.Errorf("apply plan: %w", err)
		}

		points := completed.Plan.ReferralReward()
		if owner.ReferrerID == nil || points == 0 {
			return nil
		}

		referrerID := *owner.ReferrerID
		if err := tx.Accounts().AddReferralDiscount(ctx, referrerID, points); err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				c.log.WarnContext(ctx, "referrer account is gone", slog.Int64("referrer_id", referrerID))
				return nil
			}
			return fmt.Errorf("credit referrer: %w", err)
		}

		act.ReferrerID = &referrerID
		act.ReferralPoints = points
		if referrer, err := tx.Accounts().FindByID(ctx, referrerID); err == nil {
			act.ReferrerTotal = referrer.DiscountNextPeriod
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflictingSettlement) {
			metrics.RecordMatchAnomaly(string(ticket.Method), "conflicting_settlement")
			c.log.WarnContext(ctx, "ticket already settled with another reference",
				slog.Int64("ticket_id", ticket.ID),
				slog.String("settlement_ref", settlementRef),
			)
		}
		return Activation{}, err
	}

	if !act.Applied {
		c.log.InfoContext(ctx, "duplicate settlement ignored",
			slog.Int64("ticket_id", ticket.ID),
			slog.String("settlement_ref", settlementRef),
		)
		return act, nil
	}

	c.afterCommit(ctx, act)
	return act, nil
}

func (c *Coordinator) afterCommit(ctx context.Context, act Activation) {
	t := act.Ticket

	c.invalidate(ctx, t.OwnerID)
	if act.ReferrerID != nil {
		c.invalidate(ctx, *act.ReferrerID)
	}

	metrics.RecordActivation(string(t.Plan), string(t.Method))
	c.log.InfoContext(ctx, "plan activated",
		slog.Int64("ticket_id", t.ID),
		slog.Int64("account_id", t.OwnerID),
		slog.String("plan", string(t.Plan)),
		slog.String("method", string(t.Method)),
	)

	c.notify(ctx, t.OwnerID, c.format("notify.activated", map[string]string{
		"plan":  c.format("plan."+string(t.Plan), nil),
		"limit": strconv.Itoa(t.Plan.QuotaLimit()),
		"until": act.ResetAt.Format("2006-01-02"),
	}))

	if act.ReferrerID != nil {
		c.notify(ctx, *act.ReferrerID, c.format("notify.referral_reward", map[string]string{
			"plan":   c.format("plan."+string(t.Plan), nil),
			"points": strconv.Itoa(act.ReferralPoints),
			"total":  strconv.Itoa(act.ReferrerTotal),
		}))
	}

	if c.adminChatID != 0 {
		c.notify(ctx, c.adminChatID, c.format("notify.admin_completed", map[string]string{
			"ticket": strconv.FormatInt(t.ID, 10),
			"amount": c.amount(t),
			"plan":   string(t.Plan),
			"owner":  strconv.FormatInt(t.OwnerID, 10),
		}))
	}
}

func (c *Coordinator) invalidate(ctx context.Context, accountID int64) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, accountID); err != nil {
		c.log.WarnContext(ctx, "failed to invalidate account cache", slog.Int64("account_id", accountID), slog.Any("error", err))
	}
}

func (c *Coordinator) notify(ctx context.Context, chatID int64, text string) {
	if err := c.notifier.Notify(ctx, chatID, text); err != nil {
		metrics.RecordNotification("activation", "error")
		c.log.WarnContext(ctx, "failed to notify", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func (c *Coordinator) format(key string, vars map[string]string) string {
	if c.messages == nil {
		return key
	}
	return c.messages.F(key, vars)
}

func (c *Coordinator) amount(t *domain.Ticket) string {
	if c.messages == nil {
		return t.Amount.String() + " " + t.Currency
	}
	return c.messages.Amount(t.Amount, t.Currency)
}
