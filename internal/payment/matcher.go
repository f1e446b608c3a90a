package payment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/internal/repository"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

// Rail labels used in logs and metrics.
const (
	RailCard   = "card"
	RailMobile = "mobile_balance"
	RailCrypto = "crypto"
)

// CardEvent is a card transfer reported by the card rail.
type CardEvent struct {
	PayerPhone         string
	Amount             decimal.Decimal
	DestinationAccount string
	SettlementRef      string
}

// MobileEvent is a mobile-balance transfer received on the configured number.
type MobileEvent struct {
	SenderPhone   string
	Amount        decimal.Decimal
	SettlementRef string
}

// CryptoEvent is an invoice status change from the crypto gateway.
type CryptoEvent struct {
	InvoiceID string
	Status    string
}

// CryptoStatusPaid is the only status that settles an invoice.
const CryptoStatusPaid = "paid"

// Matcher resolves rail events to the single pending ticket they settle.
type Matcher struct {
	tickets repository.TicketRepository
	log     *slog.Logger
}

// NewMatcher builds a Matcher over tickets.
func NewMatcher(tickets repository.TicketRepository, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{tickets: tickets, log: log.With(slog.String("component", "matcher"))}
}

// MatchCard requires payer phone, amount and destination account.
func (m *Matcher) MatchCard(ctx context.Context, ev CardEvent) (*domain.Ticket, error) {
	phone := NormalizePhone(ev.PayerPhone)
	dest := NormalizeAccount(ev.DestinationAccount)
	if phone == "" || dest == "" || !ev.Amount.IsPositive() {
		return nil, apperrors.NewNoMatchError(apperrors.ErrNoMatch)
	}

	return m.match(ctx, RailCard, domain.MatchQuery{
		Method:             domain.MethodCard,
		Phone:              phone,
		DestinationAccount: dest,
		Amount:             decimal.NewNullDecimal(ev.Amount),
	})
}

// MatchMobile compares sender phone and amount; the receiving number is implicit.
func (m *Matcher) MatchMobile(ctx context.Context, ev MobileEvent) (*domain.Ticket, error) {
	phone := NormalizePhone(ev.SenderPhone)
	if phone == "" || !ev.Amount.IsPositive() {
		return nil, apperrors.NewNoMatchError(apperrors.ErrNoMatch)
	}

	return m.match(ctx, RailMobile, domain.MatchQuery{
		Method: domain.MethodMobileBalance,
		Phone:  phone,
		Amount: decimal.NewNullDecimal(ev.Amount),
	})
}

// MatchCrypto matches paid invoices by id. The amount was fixed when the invoice was issued.
func (m *Matcher) MatchCrypto(ctx context.Context, ev CryptoEvent) (*domain.Ticket, error) {
	invoiceID := strings.TrimSpace(ev.InvoiceID)
	if invoiceID == "" || !strings.EqualFold(ev.Status, CryptoStatusPaid) {
		return nil, apperrors.NewNoMatchError(apperrors.ErrNoMatch)
	}

	return m.match(ctx, RailCrypto, domain.MatchQuery{
		Method:    domain.MethodCrypto,
		InvoiceID: invoiceID,
	})
}

func (m *Matcher) match(ctx context.Context, rail string, q domain.MatchQuery) (*domain.Ticket, error) {
	ticket, err := m.tickets.FindPendingBy(ctx, q)
	if err == nil {
		return ticket, nil
	}

	if errors.Is(err, apperrors.ErrAmbiguousMatch) {
		metrics.RecordMatchAnomaly(rail, "ambiguous")
		m.log.WarnContext(ctx, "event matches several pending tickets",
			slog.String("rail", rail),
			slog.String("phone", q.Phone),
			slog.String("amount", q.Amount.Decimal.String()),
		)
	}
	return nil, err
}

// NormalizePhone keeps the digits of a phone number, dropping a leading Cuban country
// code so that "+53 5123 4567" and "51234567" compare equal.
func NormalizePhone(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	if len(digits) == 10 && strings.HasPrefix(digits, "53") {
		return digits[2:]
	}
	return digits
}

// NormalizeAccount strips separators from a card or account number.
func NormalizeAccount(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, raw)
}
