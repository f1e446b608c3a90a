package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

// Outcome statuses reported back to the rail.
const (
	OutcomeOK      = "ok"
	OutcomeIgnored = "ignored"
)

// Outcome is the result of processing one rail event.
type Outcome struct {
	Status    string
	TicketID  int64
	Duplicate bool
}

// Activator settles a matched ticket.
type Activator interface {
	Activate(ctx context.Context, ticket *domain.Ticket, settlementRef string) (Activation, error)
}

// Processor turns authenticated rail events into activations. Unmatched, duplicate and
// out-of-state events are contained and reported as an outcome; only infrastructure
// failures come back as errors so the rail can redeliver.
type Processor struct {
	matcher   *Matcher
	activator Activator
	log       *slog.Logger
}

// NewProcessor builds a Processor.
func NewProcessor(matcher *Matcher, activator Activator, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{matcher: matcher, activator: activator, log: log.With(slog.String("component", "webhook_processor"))}
}

// HandleCard processes a card transfer. Without a rail reference the ticket id is used.
func (p *Processor) HandleCard(ctx context.Context, ev CardEvent) (Outcome, error) {
	ticket, err := p.matcher.MatchCard(ctx, ev)
	if err != nil {
		return p.contain(ctx, RailCard, 0, err)
	}

	ref := strings.TrimSpace(ev.SettlementRef)
	if ref == "" {
		ref = fmt.Sprintf("CARD_%d", ticket.ID)
	}
	return p.activate(ctx, RailCard, ticket, ref)
}

// HandleMobile processes a mobile-balance transfer. The balance SMS carries no
// transaction id, so the reference defaults to MOBILE_<ticket id>.
func (p *Processor) HandleMobile(ctx context.Context, ev MobileEvent) (Outcome, error) {
	ticket, err := p.matcher.MatchMobile(ctx, ev)
	if err != nil {
		return p.contain(ctx, RailMobile, 0, err)
	}

	ref := strings.TrimSpace(ev.SettlementRef)
	if ref == "" {
		ref = MobileSettlementRef(ticket.ID)
	}
	return p.activate(ctx, RailMobile, ticket, ref)
}

// HandleCrypto processes an invoice callback; non-paid statuses are acknowledged and ignored.
func (p *Processor) HandleCrypto(ctx context.Context, ev CryptoEvent) (Outcome, error) {
	if !strings.EqualFold(ev.Status, CryptoStatusPaid) {
		metrics.RecordWebhookEvent(RailCrypto, "not_paid")
		p.log.DebugContext(ctx, "invoice not paid yet", slog.String("invoice_id", ev.InvoiceID), slog.String("status", ev.Status))
		return Outcome{Status: OutcomeIgnored}, nil
	}

	ticket, err := p.matcher.MatchCrypto(ctx, ev)
	if err != nil {
		return p.contain(ctx, RailCrypto, 0, err)
	}
	return p.activate(ctx, RailCrypto, ticket, strings.TrimSpace(ev.InvoiceID))
}

// MobileSettlementRef is the reference recorded for mobile-balance settlements without one.
func MobileSettlementRef(ticketID int64) string {
	return fmt.Sprintf("MOBILE_%d", ticketID)
}

func (p *Processor) activate(ctx context.Context, rail string, ticket *domain.Ticket, ref string) (Outcome, error) {
	act, err := p.activator.Activate(ctx, ticket, ref)
	if err != nil {
		return p.contain(ctx, rail, ticket.ID, err)
	}

	if !act.Applied {
		metrics.RecordWebhookEvent(rail, "duplicate")
		return Outcome{Status: OutcomeOK, TicketID: ticket.ID, Duplicate: true}, nil
	}

	metrics.RecordWebhookEvent(rail, "activated")
	return Outcome{Status: OutcomeOK, TicketID: ticket.ID}, nil
}

func (p *Processor) contain(ctx context.Context, rail string, ticketID int64, err error) (Outcome, error) {
	attrs := []any{slog.String("rail", rail), slog.Any("error", err)}
	if ticketID != 0 {
		attrs = append(attrs, slog.Int64("ticket_id", ticketID))
	}

	switch {
	case errors.Is(err, apperrors.ErrNoMatch), errors.Is(err, apperrors.ErrAmbiguousMatch):
		metrics.RecordWebhookEvent(rail, "no_match")
		p.log.InfoContext(ctx, "event matched no ticket", attrs...)
		return Outcome{Status: OutcomeIgnored}, nil
	case errors.Is(err, apperrors.ErrConflictingSettlement),
		errors.Is(err, apperrors.ErrInvalidState),
		errors.Is(err, apperrors.ErrTicketNotFound):
		metrics.RecordWebhookEvent(rail, "anomaly")
		p.log.WarnContext(ctx, "event refers to a ticket that cannot be settled", attrs...)
		return Outcome{Status: OutcomeIgnored, TicketID: ticketID}, nil
	default:
		metrics.RecordWebhookEvent(rail, "error")
		p.log.ErrorContext(ctx, "failed to process payment event", attrs...)
		return Outcome{}, err
	}
}
