package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/account"
	"github.com/Proton-105/vidbot/internal/domain"
	"github.com/Proton-105/vidbot/internal/payment"
)

// Handler processes bot commands.
type Handler func(c telebot.Context) error

// CallbackHandler processes inline callback events.
type CallbackHandler func(c telebot.Context) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

// Accounts is the account service as seen by the handlers.
type Accounts interface {
	GetOrCreate(ctx context.Context, sender *telebot.User, startPayload string) (*domain.Account, bool, error)
	Profile(ctx context.Context, accountID int64) (*domain.Account, error)
	Referral(ctx context.Context, accountID int64) (account.Referral, error)
}

// Tickets is the ticket service as seen by the handlers.
type Tickets interface {
	Create(ctx context.Context, req payment.CreateRequest) (*payment.Created, error)
	Cancel(ctx context.Context, ownerID int64) (int64, error)
	Pending(ctx context.Context, ownerID int64) (*domain.Ticket, error)
	History(ctx context.Context, ownerID int64, limit int) ([]*domain.Ticket, error)
	Receivers() payment.Receivers
}
