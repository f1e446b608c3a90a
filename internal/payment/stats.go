package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/vidbot/internal/domain"
	"github.com/Proton-105/vidbot/internal/repository"
)

// Stats is the admin overview.
type Stats struct {
	Users   int64
	Pending int64
	// Income maps each window to completed amounts per currency.
	IncomeToday map[string]decimal.Decimal
	IncomeWeek  map[string]decimal.Decimal
	IncomeMonth map[string]decimal.Decimal
}

// StatsService aggregates admin figures.
type StatsService struct {
	store repository.Store
	now   func() time.Time
}

// NewStatsService builds a StatsService.
func NewStatsService(store repository.Store) *StatsService {
	return &StatsService{store: store, now: time.Now}
}

// Collect computes user and pending counts and income since UTC midnight, and over the
// last 7 and 30 days from that midnight.
func (s *StatsService) Collect(ctx context.Context) (*Stats, error) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	users, err := s.store.Accounts().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}

	pending, err := s.store.Tickets().CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending tickets: %w", err)
	}

	stats := &Stats{Users: users, Pending: pending}
	windows := []struct {
		since time.Time
		dst   *map[string]decimal.Decimal
	}{
		{today, &stats.IncomeToday},
		{today.AddDate(0, 0, -7), &stats.IncomeWeek},
		{today.AddDate(0, 0, -30), &stats.IncomeMonth},
	}
	for _, w := range windows {
		income, err := s.store.Tickets().IncomeSince(ctx, w.since)
		if err != nil {
			return nil, fmt.Errorf("sum income since %s: %w", w.since.Format(time.DateOnly), err)
		}
		*w.dst = withCurrencies(income)
	}

	return stats, nil
}

// PendingTickets lists pending tickets oldest first for manual review.
func (s *StatsService) PendingTickets(ctx context.Context, limit int) ([]*domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.Tickets().ListPending(ctx, limit)
}

func withCurrencies(income map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{
		domain.CurrencyCUP:  decimal.Zero,
		domain.CurrencyUSDT: decimal.Zero,
	}
	for currency, amount := range income {
		out[currency] = amount
	}
	return out
}
