package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Method is a settlement rail.
type Method string

const (
	MethodCard          Method = "card"
	MethodMobileBalance Method = "mobile_balance"
	MethodCrypto        Method = "crypto"
)

const (
	CurrencyCUP  = "CUP"
	CurrencyUSDT = "USDT"
)

// Valid reports whether m is a known rail.
func (m Method) Valid() bool {
	switch m {
	case MethodCard, MethodMobileBalance, MethodCrypto:
		return true
	default:
		return false
	}
}

// Currency returns the currency amounts on m are denominated in.
func (m Method) Currency() string {
	if m == MethodCrypto {
		return CurrencyUSDT
	}
	return CurrencyCUP
}

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// MatchAttributes is the rail-specific data recorded on a ticket at creation and compared
// against inbound settlement events. Implementations: CardAttributes, MobileBalanceAttributes,
// CryptoAttributes.
type MatchAttributes interface {
	Method() Method
	matchAttributes()
}

// CardAttributes identify a card transfer.
type CardAttributes struct {
	PayerPhone         string
	DestinationAccount string
}

// MobileBalanceAttributes identify a mobile-balance transfer to the configured receiving number.
type MobileBalanceAttributes struct {
	SenderPhone string
}

// CryptoAttributes identify an invoice issued by the crypto rail.
type CryptoAttributes struct {
	InvoiceID  string
	PayAddress string
}

func (CardAttributes) Method() Method          { return MethodCard }
func (MobileBalanceAttributes) Method() Method { return MethodMobileBalance }
func (CryptoAttributes) Method() Method        { return MethodCrypto }

func (CardAttributes) matchAttributes()          {}
func (MobileBalanceAttributes) matchAttributes() {}
func (CryptoAttributes) matchAttributes()        {}

// Ticket is one owner's intent to pay for a plan through a rail.
type Ticket struct {
	ID          int64
	OwnerID     int64
	Plan        Plan
	Method      Method
	Amount      decimal.Decimal
	Currency    string
	Status      Status
	Attributes  MatchAttributes
	ExternalRef *string
	CreatedAt   time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// MatchQuery selects pending tickets of one rail by exact attribute equality.
// Empty strings and an invalid Amount mean "not supplied".
type MatchQuery struct {
	Method             Method
	Phone              string
	DestinationAccount string
	InvoiceID          string
	Amount             decimal.NullDecimal
}

// Empty reports whether the query carries no attribute to compare.
func (q MatchQuery) Empty() bool {
	return q.Phone == "" && q.DestinationAccount == "" && q.InvoiceID == "" && !q.Amount.Valid
}
