package payment

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memData struct {
	accounts map[int64]*domain.Account
	tickets  map[int64]*domain.Ticket
	nextID   int64
}

func (d *memData) clone() *memData {
	out := &memData{
		accounts: make(map[int64]*domain.Account, len(d.accounts)),
		tickets:  make(map[int64]*domain.Ticket, len(d.tickets)),
		nextID:   d.nextID,
	}
	for id, a := range d.accounts {
		out.accounts[id] = copyAccount(a)
	}
	for id, t := range d.tickets {
		out.tickets[id] = copyTicket(t)
	}
	return out
}

// memStore mirrors the SQL store: conditional updates, the one-pending-per-owner index
// and all-or-nothing transactions.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *memData
	// fail injects an error into the named operation.
	fail map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		data: &memData{accounts: map[int64]*domain.Account{}, tickets: map[int64]*domain.Ticket{}},
		fail: map[string]error{},
	}
}

func (s *memStore) Accounts() repository.AccountRepository { return memAccounts{s} }
func (s *memStore) Tickets() repository.TicketRepository   { return memTickets{s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) failure(op string) error {
	return s.fail[op]
}

func (s *memStore) addAccount(a *domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.accounts[a.ID] = copyAccount(a)
}

func (s *memStore) account(id int64) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAccount(s.data.accounts[id])
}

func (s *memStore) ticket(id int64) *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTicket(s.data.tickets[id])
}

func copyAccount(a *domain.Account) *domain.Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.ReferrerID != nil {
		id := *a.ReferrerID
		cp.ReferrerID = &id
	}
	if a.PromoWindowEnd != nil {
		end := *a.PromoWindowEnd
		cp.PromoWindowEnd = &end
	}
	return &cp
}

func copyTicket(t *domain.Ticket) *domain.Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.ExternalRef != nil {
		ref := *t.ExternalRef
		cp.ExternalRef = &ref
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	if t.CancelledAt != nil {
		at := *t.CancelledAt
		cp.CancelledAt = &at
	}
	return &cp
}

type memAccounts struct{ s *memStore }

func (r memAccounts) FindByID(_ context.Context, id int64) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("accounts.find"); err != nil {
		return nil, err
	}
	a, ok := r.s.data.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return copyAccount(a), nil
}

func (r memAccounts) FindByReferralCode(_ context.Context, code string) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.data.accounts {
		if a.ReferralCode == code {
			return copyAccount(a), nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (r memAccounts) Create(_ context.Context, a *domain.Account) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.accounts[a.ID]; ok {
		return false, nil
	}
	r.s.data.accounts[a.ID] = copyAccount(a)
	return true, nil
}

func (r memAccounts) SetReferrer(_ context.Context, id, referrerID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.accounts[id]
	if !ok || a.ReferrerID != nil || id == referrerID {
		return false, nil
	}
	a.ReferrerID = &referrerID
	return true, nil
}

func (r memAccounts) ApplyPlan(_ context.Context, id int64, plan domain.Plan, resetAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("accounts.apply_plan"); err != nil {
		return err
	}
	a, ok := r.s.data.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.Plan, a.QuotaUsed, a.PeriodResetAt = plan, 0, resetAt
	return nil
}

func (r memAccounts) AddReferralDiscount(_ context.Context, id int64, points int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("accounts.add_referral"); err != nil {
		return err
	}
	a, ok := r.s.data.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.DiscountNextPeriod += points
	return nil
}

func (r memAccounts) ConsumeQuota(_ context.Context, id int64, limit int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.accounts[id]
	if !ok || a.QuotaUsed >= limit {
		return false, nil
	}
	a.QuotaUsed++
	return true, nil
}

func (r memAccounts) RollPeriod(_ context.Context, id int64, now time.Time, plan domain.Plan, next time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.accounts[id]
	if !ok || a.PeriodResetAt.After(now) {
		return false, nil
	}
	a.Plan, a.QuotaUsed, a.PeriodResetAt = plan, 0, next
	return true, nil
}

func (r memAccounts) ListPromoCandidates(_ context.Context, horizon time.Time) ([]*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Account
	for _, a := range r.s.data.accounts {
		if a.PromoWindowEnd != nil && !a.PromoNotified.Expired && a.PromoWindowEnd.Before(horizon) {
			out = append(out, copyAccount(a))
		}
	}
	return out, nil
}

func (r memAccounts) MarkPromoStage(_ context.Context, id int64, stage domain.PromoStage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.PromoNotified.Set(stage)
	return nil
}

func (r memAccounts) Count(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.data.accounts)), nil
}

type memTickets struct{ s *memStore }

func (r memTickets) Create(_ context.Context, t *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("tickets.create"); err != nil {
		return err
	}
	for _, existing := range r.s.data.tickets {
		if existing.OwnerID == t.OwnerID && existing.Status == domain.StatusPending {
			return apperrors.NewConflictError(t.OwnerID)
		}
	}
	r.s.data.nextID++
	t.ID = r.s.data.nextID
	t.CreatedAt = time.Now().UTC()
	r.s.data.tickets[t.ID] = copyTicket(t)
	return nil
}

func (r memTickets) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.data.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(id)
	}
	return copyTicket(t), nil
}

func (r memTickets) FindPending(_ context.Context, ownerID int64) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.data.tickets {
		if t.OwnerID == ownerID && t.Status == domain.StatusPending {
			return copyTicket(t), nil
		}
	}
	return nil, nil
}

func (r memTickets) FindPendingBy(_ context.Context, q domain.MatchQuery) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("tickets.find_pending_by"); err != nil {
		return nil, err
	}

	var matches []*domain.Ticket
	for _, t := range r.s.data.tickets {
		if t.Status != domain.StatusPending || t.Method != q.Method {
			continue
		}
		if q.Amount.Valid && !t.Amount.Equal(q.Amount.Decimal) {
			continue
		}

		var phone, dest, invoice string
		switch attrs := t.Attributes.(type) {
		case domain.CardAttributes:
			phone, dest = attrs.PayerPhone, attrs.DestinationAccount
		case domain.MobileBalanceAttributes:
			phone = attrs.SenderPhone
		case domain.CryptoAttributes:
			invoice = attrs.InvoiceID
		}
		if (q.Phone != "" && q.Phone != phone) ||
			(q.DestinationAccount != "" && q.DestinationAccount != dest) ||
			(q.InvoiceID != "" && q.InvoiceID != invoice) {
			continue
		}
		matches = append(matches, t)
	}

	switch len(matches) {
	case 0:
		return nil, apperrors.NewNoMatchError(apperrors.ErrNoMatch)
	case 1:
		return copyTicket(matches[0]), nil
	default:
		return nil, apperrors.NewNoMatchError(apperrors.ErrAmbiguousMatch)
	}
}

func (r memTickets) FindByInvoiceID(_ context.Context, invoiceID string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.data.tickets {
		if attrs, ok := t.Attributes.(domain.CryptoAttributes); ok && attrs.InvoiceID == invoiceID {
			return copyTicket(t), nil
		}
	}
	return nil, nil
}

func (r memTickets) Complete(_ context.Context, id int64, ref string, at time.Time) (*domain.Ticket, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("tickets.complete"); err != nil {
		return nil, false, err
	}

	t, ok := r.s.data.tickets[id]
	if !ok {
		return nil, false, apperrors.NewNotFoundError(id)
	}

	switch t.Status {
	case domain.StatusPending:
		t.Status = domain.StatusCompleted
		t.ExternalRef = &ref
		t.CompletedAt = &at
		return copyTicket(t), true, nil
	case domain.StatusCompleted:
		if t.ExternalRef != nil && *t.ExternalRef == ref {
			return copyTicket(t), false, nil
		}
		return nil, false, apperrors.NewInvalidStateError(id, apperrors.ErrConflictingSettlement)
	default:
		return nil, false, apperrors.NewInvalidStateError(id, apperrors.ErrInvalidState)
	}
}

func (r memTickets) Cancel(_ context.Context, ownerID int64, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, t := range r.s.data.tickets {
		if t.OwnerID == ownerID && t.Status == domain.StatusPending {
			t.Status = domain.StatusCancelled
			cancelledAt := at
			t.CancelledAt = &cancelledAt
			n++
		}
	}
	return n, nil
}

func (r memTickets) ListByOwner(_ context.Context, ownerID int64, limit int) ([]*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Ticket
	for _, t := range r.s.data.tickets {
		if t.OwnerID == ownerID {
			out = append(out, copyTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memTickets) ListPending(_ context.Context, limit int) ([]*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Ticket
	for _, t := range r.s.data.tickets {
		if t.Status == domain.StatusPending {
			out = append(out, copyTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memTickets) IncomeSince(_ context.Context, since time.Time) (map[string]decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[string]decimal.Decimal{}
	for _, t := range r.s.data.tickets {
		if t.Status == domain.StatusCompleted && t.CompletedAt != nil && !t.CompletedAt.Before(since) {
			out[t.Currency] = out[t.Currency].Add(t.Amount)
		}
	}
	return out, nil
}

func (r memTickets) CountPending(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, t := range r.s.data.tickets {
		if t.Status == domain.StatusPending {
			n++
		}
	}
	return n, nil
}
