package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/internal/i18n"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[int64][]string
	err  error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: map[int64][]string{}}
}

func (n *recordingNotifier) Notify(_ context.Context, ownerID int64, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent[ownerID] = append(n.sent[ownerID], message)
	return nil
}

func (n *recordingNotifier) count(ownerID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[ownerID])
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []int64
}

func (c *recordingCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, id)
	return nil
}

var fixedNow = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T, store *memStore, notifier *recordingNotifier, opts ...CoordinatorOption) *Coordinator {
	t.Helper()

	messages, err := i18n.Load("es")
	require.NoError(t, err)

	c := NewCoordinator(store, notifier, messages.Default(), testLogger(), opts...)
	c.now = func() time.Time { return fixedNow }
	return c
}

func seedTicket(t *testing.T, store *memStore, ticket *domain.Ticket) *domain.Ticket {
	t.Helper()
	ticket.Status = domain.StatusPending
	if ticket.Currency == "" {
		ticket.Currency = ticket.Method.Currency()
	}
	require.NoError(t, store.Tickets().Create(context.Background(), ticket))
	return ticket
}

func cryptoTicket(owner int64, invoice string, plan domain.Plan, amount string) *domain.Ticket {
	return &domain.Ticket{
		OwnerID:    owner,
		Plan:       plan,
		Method:     domain.MethodCrypto,
		Amount:     decimal.RequireFromString(amount),
		Attributes: domain.CryptoAttributes{InvoiceID: invoice, PayAddress: "0xPAY"},
	}
}

func TestActivateAppliesPlanAndNotifies(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree, QuotaUsed: 4, PeriodResetAt: fixedNow.Add(time.Hour)})
	ticket := seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanPremium, "1.0"))
	notifier := newRecordingNotifier()
	cache := &recordingCache{}

	act, err := newTestCoordinator(t, store, notifier, WithAccountCache(cache), WithAdminChat(999)).
		Activate(context.Background(), ticket, "INV1")
	require.NoError(t, err)
	assert.True(t, act.Applied)
	assert.Nil(t, act.ReferrerID)

	stored := store.ticket(ticket.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	require.NotNil(t, stored.ExternalRef)
	assert.Equal(t, "INV1", *stored.ExternalRef)

	account := store.account(1)
	assert.Equal(t, domain.PlanPremium, account.Plan)
	assert.Equal(t, 0, account.QuotaUsed)
	assert.Equal(t, fixedNow.Add(30*24*time.Hour), account.PeriodResetAt)

	assert.Equal(t, []int64{1}, cache.invalidated)
	require.Equal(t, 1, notifier.count(1))
	assert.Contains(t, notifier.sent[1][0], "Premium")
	assert.Contains(t, notifier.sent[1][0], "1000")
	assert.Equal(t, 1, notifier.count(999))
}

func TestActivateDuplicateSameReference(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	ticket := seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanPremium, "1.0"))
	notifier := newRecordingNotifier()
	c := newTestCoordinator(t, store, notifier)

	_, err := c.Activate(context.Background(), ticket, "INV1")
	require.NoError(t, err)

	// usage after activation must survive the redelivery
	ok, err := store.Accounts().ConsumeQuota(context.Background(), 1, 1000)
	require.NoError(t, err)
	require.True(t, ok)

	act, err := c.Activate(context.Background(), ticket, "INV1")
	require.NoError(t, err)
	assert.False(t, act.Applied)
	assert.Equal(t, 1, store.account(1).QuotaUsed)
	assert.Equal(t, domain.PlanPremium, store.account(1).Plan)
	assert.Equal(t, 1, notifier.count(1))
}

func TestActivateConflictingReference(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	ticket := seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanBasic, "0.5"))
	c := newTestCoordinator(t, store, newRecordingNotifier())

	_, err := c.Activate(context.Background(), ticket, "REF-A")
	require.NoError(t, err)

	_, err = c.Activate(context.Background(), ticket, "REF-B")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflictingSettlement)
	assert.Equal(t, "REF-A", *store.ticket(ticket.ID).ExternalRef)
}

func TestActivateCancelledTicket(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	ticket := seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanBasic, "0.5"))

	_, err := store.Tickets().Cancel(context.Background(), 1, fixedNow)
	require.NoError(t, err)

	_, err = newTestCoordinator(t, store, newRecordingNotifier()).Activate(context.Background(), ticket, "INV1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Equal(t, domain.PlanFree, store.account(1).Plan)
}

func TestActivateReferralCreditIsCumulative(t *testing.T) {
	store := newMemStore()
	referrer := int64(100)
	store.addAccount(&domain.Account{ID: referrer, Plan: domain.PlanFree})
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree, ReferrerID: &referrer})
	store.addAccount(&domain.Account{ID: 2, Plan: domain.PlanFree, ReferrerID: &referrer})
	notifier := newRecordingNotifier()
	c := newTestCoordinator(t, store, notifier)

	for i, owner := range []int64{1, 2} {
		ticket := seedTicket(t, store, cryptoTicket(owner, "INV"+string(rune('A'+i)), domain.PlanBasic, "0.5"))
		act, err := c.Activate(context.Background(), ticket, "REF"+string(rune('A'+i)))
		require.NoError(t, err)
		require.NotNil(t, act.ReferrerID)
		assert.Equal(t, 10, act.ReferralPoints)
	}

	assert.Equal(t, 20, store.account(referrer).DiscountNextPeriod)
	assert.Equal(t, 2, notifier.count(referrer))
	assert.Contains(t, notifier.sent[referrer][1], "20%")
}

func TestActivatePremiumReferralReward(t *testing.T) {
	store := newMemStore()
	referrer := int64(100)
	store.addAccount(&domain.Account{ID: referrer, Plan: domain.PlanBasic, DiscountNextPeriod: 5})
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree, ReferrerID: &referrer})
	ticket := seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanPremium, "1"))

	_, err := newTestCoordinator(t, store, newRecordingNotifier()).Activate(context.Background(), ticket, "INV1")
	require.NoError(t, err)
	assert.Equal(t, 20, store.account(referrer).DiscountNextPeriod)
}

func TestActivateRollsBackOnFailure(t *testing.T) {
	store := newMemStore()
	referrer := int64(100)
	store.addAccount(&domain.Account{ID: referrer, Plan: domain.PlanFree})
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree, ReferrerID: &referrer})
	ticket := seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanBasic, "0.5"))
	store.fail["accounts.add_referral"] = errors.New("connection reset")
	notifier := newRecordingNotifier()

	_, err := newTestCoordinator(t, store, notifier).Activate(context.Background(), ticket, "INV1")
	require.Error(t, err)

	assert.Equal(t, domain.StatusPending, store.ticket(ticket.ID).Status)
	assert.Equal(t, domain.PlanFree, store.account(1).Plan)
	assert.Equal(t, 0, notifier.count(1))
}

func TestActivateNotificationFailureKeepsActivation(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	ticket := seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanBasic, "0.5"))
	notifier := newRecordingNotifier()
	notifier.err = errors.New("queue down")

	act, err := newTestCoordinator(t, store, notifier).Activate(context.Background(), ticket, "INV1")
	require.NoError(t, err)
	assert.True(t, act.Applied)
	assert.Equal(t, domain.PlanBasic, store.account(1).Plan)
}

func TestActivateConcurrentDeliveriesApplyOnce(t *testing.T) {
	store := newMemStore()
	referrer := int64(100)
	store.addAccount(&domain.Account{ID: referrer, Plan: domain.PlanFree})
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree, ReferrerID: &referrer})
	ticket := seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanBasic, "0.5"))
	c := newTestCoordinator(t, store, newRecordingNotifier())

	const deliveries = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			act, err := c.Activate(context.Background(), ticket, "INV1")
			if err != nil {
				t.Errorf("activate: %v", err)
				return
			}
			if act.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 10, store.account(referrer).DiscountNextPeriod)
}
