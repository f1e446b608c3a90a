package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
)

func newTestProcessor(t *testing.T, store *memStore, notifier *recordingNotifier) *Processor {
	t.Helper()
	return NewProcessor(NewMatcher(store.Tickets(), testLogger()), newTestCoordinator(t, store, notifier), testLogger())
}

func cardTicket(owner int64, phone, dest, amount string) *domain.Ticket {
	return &domain.Ticket{
		OwnerID:    owner,
		Plan:       domain.PlanBasic,
		Method:     domain.MethodCard,
		Amount:     decimal.RequireFromString(amount),
		Attributes: domain.CardAttributes{PayerPhone: phone, DestinationAccount: dest},
	}
}

func mobileTicket(owner int64, phone, amount string) *domain.Ticket {
	return &domain.Ticket{
		OwnerID:    owner,
		Plan:       domain.PlanBasic,
		Method:     domain.MethodMobileBalance,
		Amount:     decimal.RequireFromString(amount),
		Attributes: domain.MobileBalanceAttributes{SenderPhone: phone},
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"51234567", "51234567"},
		{"+53 5123 4567", "51234567"},
		{"5353123456", "53123456"},
		{"(53) 5-123-4567", "51234567"},
		{"535123456789", "535123456789"},
		{"", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), tt.in)
	}
}

func TestNormalizeAccount(t *testing.T) {
	assert.Equal(t, "9200129912345678", NormalizeAccount("9200 1299-1234 5678"))
}

func TestMatchCardRequiresEveryAttribute(t *testing.T) {
	store := newMemStore()
	seedTicket(t, store, cardTicket(1, "51234567", "9200129912345678", "250"))
	matcher := NewMatcher(store.Tickets(), testLogger())

	tests := []struct {
		name string
		ev   CardEvent
		ok   bool
	}{
		{"exact", CardEvent{PayerPhone: "+53 5123 4567", Amount: decimal.NewFromInt(250), DestinationAccount: "9200 1299 1234 5678"}, true},
		{"one digit off", CardEvent{PayerPhone: "51234568", Amount: decimal.NewFromInt(250), DestinationAccount: "9200129912345678"}, false},
		{"wrong amount", CardEvent{PayerPhone: "51234567", Amount: decimal.NewFromInt(249), DestinationAccount: "9200129912345678"}, false},
		{"wrong destination", CardEvent{PayerPhone: "51234567", Amount: decimal.NewFromInt(250), DestinationAccount: "9200129912345679"}, false},
		{"missing destination", CardEvent{PayerPhone: "51234567", Amount: decimal.NewFromInt(250)}, false},
		{"missing phone", CardEvent{Amount: decimal.NewFromInt(250), DestinationAccount: "9200129912345678"}, false},
		{"zero amount", CardEvent{PayerPhone: "51234567", DestinationAccount: "9200129912345678"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket, err := matcher.MatchCard(context.Background(), tt.ev)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, int64(1), ticket.OwnerID)
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrNoMatch)
			assert.Nil(t, ticket)
		})
	}
}

func TestMatchMobileIgnoresOtherRails(t *testing.T) {
	store := newMemStore()
	seedTicket(t, store, cardTicket(1, "51234567", "9200129912345678", "120"))
	matcher := NewMatcher(store.Tickets(), testLogger())

	_, err := matcher.MatchMobile(context.Background(), MobileEvent{SenderPhone: "51234567", Amount: decimal.NewFromInt(120)})
	assert.ErrorIs(t, err, apperrors.ErrNoMatch)
}

func TestProcessorCardEventWithoutTicketIsIgnored(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	seedTicket(t, store, cardTicket(1, "51234567", "9200129912345678", "250"))
	p := newTestProcessor(t, store, newRecordingNotifier())

	out, err := p.HandleCard(context.Background(), CardEvent{PayerPhone: "555", Amount: decimal.NewFromInt(250), DestinationAccount: "999"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)
	assert.Equal(t, domain.StatusPending, store.ticket(1).Status)
	assert.Equal(t, domain.PlanFree, store.account(1).Plan)
}

func TestProcessorCardEventActivates(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	ticket := seedTicket(t, store, cardTicket(1, "51234567", "9200129912345678", "250"))
	p := newTestProcessor(t, store, newRecordingNotifier())

	ev := CardEvent{PayerPhone: "51234567", Amount: decimal.NewFromInt(250), DestinationAccount: "9200129912345678", SettlementRef: "TM0001"}
	out, err := p.HandleCard(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: OutcomeOK, TicketID: ticket.ID}, out)
	assert.Equal(t, "TM0001", *store.ticket(ticket.ID).ExternalRef)

	// the ticket is no longer pending, so a redelivery finds nothing
	out, err = p.HandleCard(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)
	assert.Equal(t, domain.PlanBasic, store.account(1).Plan)
}

func TestProcessorCardEventWithoutReference(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	ticket := seedTicket(t, store, cardTicket(1, "51234567", "9200129912345678", "250"))

	_, err := newTestProcessor(t, store, newRecordingNotifier()).HandleCard(context.Background(),
		CardEvent{PayerPhone: "51234567", Amount: decimal.NewFromInt(250), DestinationAccount: "9200129912345678"})
	require.NoError(t, err)
	assert.Equal(t, "CARD_1", *store.ticket(ticket.ID).ExternalRef)
}

func TestProcessorMobileEventUsesSynthesizedReference(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	ticket := seedTicket(t, store, mobileTicket(1, "51234567", "120"))
	notifier := newRecordingNotifier()

	out, err := newTestProcessor(t, store, notifier).HandleMobile(context.Background(),
		MobileEvent{SenderPhone: "5351234567", Amount: decimal.NewFromInt(120)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, out.Status)

	stored := store.ticket(ticket.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, MobileSettlementRef(ticket.ID), *stored.ExternalRef)
	assert.Equal(t, 1, notifier.count(1))
}

func TestProcessorMobilePhoneOffByOneDigit(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	seedTicket(t, store, mobileTicket(1, "51234567", "120"))

	out, err := newTestProcessor(t, store, newRecordingNotifier()).HandleMobile(context.Background(),
		MobileEvent{SenderPhone: "51234566", Amount: decimal.NewFromInt(120)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)
	assert.Equal(t, domain.StatusPending, store.ticket(1).Status)
}

func TestProcessorAmbiguousMatchIsIgnored(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	store.addAccount(&domain.Account{ID: 2, Plan: domain.PlanFree})
	seedTicket(t, store, mobileTicket(1, "51234567", "120"))
	seedTicket(t, store, mobileTicket(2, "51234567", "120"))

	out, err := newTestProcessor(t, store, newRecordingNotifier()).HandleMobile(context.Background(),
		MobileEvent{SenderPhone: "51234567", Amount: decimal.NewFromInt(120)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)
	assert.Equal(t, domain.StatusPending, store.ticket(1).Status)
	assert.Equal(t, domain.StatusPending, store.ticket(2).Status)
}

func TestProcessorCryptoEvents(t *testing.T) {
	store := newMemStore()
	store.addAccount(&domain.Account{ID: 1, Plan: domain.PlanFree})
	ticket := seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanPremium, "1.0"))
	p := newTestProcessor(t, store, newRecordingNotifier())

	out, err := p.HandleCrypto(context.Background(), CryptoEvent{InvoiceID: "INV1", Status: "check"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)
	assert.Equal(t, domain.StatusPending, store.ticket(ticket.ID).Status)

	out, err = p.HandleCrypto(context.Background(), CryptoEvent{InvoiceID: "INV2", Status: "paid"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)

	out, err = p.HandleCrypto(context.Background(), CryptoEvent{InvoiceID: "INV1", Status: "paid"})
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: OutcomeOK, TicketID: ticket.ID}, out)
	assert.Equal(t, domain.PlanPremium, store.account(1).Plan)
}

func TestProcessorNotPaidSkipsStore(t *testing.T) {
	store := newMemStore()
	store.fail["tickets.find_pending_by"] = errors.New("must not be called")

	out, err := newTestProcessor(t, store, newRecordingNotifier()).HandleCrypto(context.Background(),
		CryptoEvent{InvoiceID: "INV1", Status: "cancel"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)
}

func TestProcessorStoreFailureIsReturned(t *testing.T) {
	store := newMemStore()
	store.fail["tickets.find_pending_by"] = errors.New("connection refused")

	_, err := newTestProcessor(t, store, newRecordingNotifier()).HandleMobile(context.Background(),
		MobileEvent{SenderPhone: "51234567", Amount: decimal.NewFromInt(120)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

type stubActivator struct {
	act Activation
	err error
}

func (s stubActivator) Activate(context.Context, *domain.Ticket, string) (Activation, error) {
	return s.act, s.err
}

func TestProcessorContainsSettlementAnomalies(t *testing.T) {
	tests := []struct {
		name    string
		act     Activation
		err     error
		want    Outcome
		wantErr bool
	}{
		{"duplicate", Activation{Applied: false}, nil, Outcome{Status: OutcomeOK, TicketID: 1, Duplicate: true}, false},
		{"conflicting", Activation{}, apperrors.NewInvalidStateError(1, apperrors.ErrConflictingSettlement), Outcome{Status: OutcomeIgnored, TicketID: 1}, false},
		{"cancelled", Activation{}, apperrors.NewInvalidStateError(1, apperrors.ErrInvalidState), Outcome{Status: OutcomeIgnored, TicketID: 1}, false},
		{"store down", Activation{}, errors.New("tx aborted"), Outcome{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seedTicket(t, store, cryptoTicket(1, "INV1", domain.PlanBasic, "0.5"))
			p := NewProcessor(NewMatcher(store.Tickets(), testLogger()), stubActivator{act: tt.act, err: tt.err}, testLogger())

			out, err := p.HandleCrypto(context.Background(), CryptoEvent{InvoiceID: "INV1", Status: "paid"})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}
