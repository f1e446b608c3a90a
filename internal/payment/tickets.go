package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/internal/rails/heleket"
	"github.com/Proton-105/vidbot/internal/repository"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

// MinPhoneDigits is the shortest phone number accepted for card and mobile tickets.
const MinPhoneDigits = 8

// DefaultHistoryLimit caps History when no limit is given.
const DefaultHistoryLimit = 10

// Invoice statuses reported by CheckInvoice.
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
	InvoiceStatusNotFound  = "not_found"
)

// InvoiceIssuer creates crypto invoices.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, req heleket.InvoiceRequest) (*heleket.Invoice, error)
}

// Receivers are the configured accounts that receive informal-rail payments.
type Receivers struct {
	CardNumber   string
	MobileNumber string
}

// CreateRequest asks for a new pending ticket.
type CreateRequest struct {
	OwnerID int64         `validate:"required"`
	Plan    domain.Plan   `validate:"required,oneof=basic premium"`
	Method  domain.Method `validate:"required,oneof=card mobile_balance crypto"`
	// Phone is the number the owner pays from; required for card and mobile balance.
	Phone string `validate:"required_unless=Method crypto"`
}

// Created is a freshly created ticket plus, for crypto, the invoice to pay.
type Created struct {
	Ticket  *domain.Ticket
	Invoice *heleket.Invoice
	Promo   bool
}

// TicketService creates and manages tickets on behalf of their owners.
type TicketService struct {
	store     repository.Store
	issuer    InvoiceIssuer
	receivers Receivers
	validate  *validator.Validate
	log       *slog.Logger
	now       func() time.Time
}

// NewTicketService builds a TicketService.
func NewTicketService(store repository.Store, issuer InvoiceIssuer, receivers Receivers, log *slog.Logger) *TicketService {
	if log == nil {
		log = slog.Default()
	}

	return &TicketService{
		store:     store,
		issuer:    issuer,
		receivers: receivers,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log.With(slog.String("component", "tickets")),
		now:       time.Now,
	}
}

// Create validates req, prices it for the owner and inserts a pending ticket. An owner
// with a pending ticket gets a ConflictError; the unique index decides races.
func (s *TicketService) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.NewValidationError(describeValidation(err))
	}

	phone := ""
	if req.Method != domain.MethodCrypto {
		phone = NormalizePhone(req.Phone)
		if len(phone) < MinPhoneDigits {
			return nil, apperrors.NewValidationError(fmt.Sprintf("El teléfono debe tener al menos %d dígitos", MinPhoneDigits))
		}
	}

	account, err := s.store.Accounts().FindByID(ctx, req.OwnerID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, apperrors.NewValidationError("Usuario no registrado")
		}
		return nil, fmt.Errorf("load owner: %w", err)
	}

	pending, err := s.store.Tickets().FindPending(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("check pending ticket: %w", err)
	}
	if pending != nil {
		return nil, apperrors.NewConflictError(req.OwnerID)
	}

	now := s.now().UTC()
	promo := account.PromoActive(now)
	amount, err := Price(req.Plan, req.Method, promo)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	ticket := &domain.Ticket{
		OwnerID:  req.OwnerID,
		Plan:     req.Plan,
		Method:   req.Method,
		Amount:   amount,
		Currency: req.Method.Currency(),
		Status:   domain.StatusPending,
	}
	created := &Created{Ticket: ticket, Promo: promo}

	switch req.Method {
	case domain.MethodCard:
		ticket.Attributes = domain.CardAttributes{
			PayerPhone:         phone,
			DestinationAccount: NormalizeAccount(s.receivers.CardNumber),
		}
	case domain.MethodMobileBalance:
		ticket.Attributes = domain.MobileBalanceAttributes{SenderPhone: phone}
	case domain.MethodCrypto:
		invoice, err := s.issueInvoice(ctx, req, amount)
		if err != nil {
			return nil, err
		}
		ticket.Attributes = domain.CryptoAttributes{InvoiceID: invoice.ID, PayAddress: invoice.Address}
		created.Invoice = invoice
	}

	if err := s.store.Tickets().Create(ctx, ticket); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		s.log.ErrorContext(ctx, "failed to create ticket", slog.Int64("owner_id", req.OwnerID), slog.Any("error", err))
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	metrics.RecordTicketCreated(string(ticket.Method), string(ticket.Plan))
	s.log.InfoContext(ctx, "ticket created",
		slog.Int64("ticket_id", ticket.ID),
		slog.Int64("owner_id", ticket.OwnerID),
		slog.String("plan", string(ticket.Plan)),
		slog.String("method", string(ticket.Method)),
		slog.String("amount", ticket.Amount.String()),
		slog.Bool("promo", promo),
	)
	return created, nil
}

func (s *TicketService) issueInvoice(ctx context.Context, req CreateRequest, amount decimal.Decimal) (*heleket.Invoice, error) {
	if s.issuer == nil {
		return nil, apperrors.NewExternalAPIError("heleket", errors.New("crypto rail is not configured"))
	}

	invoice, err := s.issuer.CreateInvoice(ctx, heleket.InvoiceRequest{
		OrderID:  fmt.Sprintf("%d-%d", req.OwnerID, s.now().UnixNano()),
		Amount:   amount,
		Currency: domain.CurrencyUSDT,
	})
	if err != nil {
		s.log.WarnContext(ctx, "failed to issue invoice", slog.Int64("owner_id", req.OwnerID), slog.Any("error", err))
		return nil, err
	}
	return invoice, nil
}

// Cancel cancels the owner's pending ticket and reports how many were cancelled.
func (s *TicketService) Cancel(ctx context.Context, ownerID int64) (int64, error) {
	n, err := s.store.Tickets().Cancel(ctx, ownerID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cancel tickets: %w", err)
	}

	if n > 0 {
		metrics.RecordTicketsCancelled(n)
		s.log.InfoContext(ctx, "tickets cancelled", slog.Int64("owner_id", ownerID), slog.Int64("count", n))
	}
	return n, nil
}

// Pending returns the owner's pending ticket or nil.
func (s *TicketService) Pending(ctx context.Context, ownerID int64) (*domain.Ticket, error) {
	return s.store.Tickets().FindPending(ctx, ownerID)
}

// History returns the owner's most recent tickets, newest first.
func (s *TicketService) History(ctx context.Context, ownerID int64, limit int) ([]*domain.Ticket, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.Tickets().ListByOwner(ctx, ownerID, limit)
}

// CheckInvoice reports the settlement state of a crypto invoice.
func (s *TicketService) CheckInvoice(ctx context.Context, invoiceID string) (string, error) {
	ticket, err := s.store.Tickets().FindByInvoiceID(ctx, invoiceID)
	if err != nil {
		return "", fmt.Errorf("find invoice: %w", err)
	}

	switch {
	case ticket == nil:
		return InvoiceStatusNotFound, nil
	case ticket.Status == domain.StatusCompleted:
		return InvoiceStatusPaid, nil
	case ticket.Status == domain.StatusCancelled:
		return InvoiceStatusCancelled, nil
	default:
		return InvoiceStatusPending, nil
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	switch verrs[0].Field() {
	case "Plan":
		return "Plan no válido"
	case "Method":
		return "Método de pago no válido"
	case "Phone":
		return "Falta el número de teléfono"
	default:
		return "Faltan datos"
	}
}

// Receivers returns the configured receiving accounts shown in payment instructions.
func (s *TicketService) Receivers() Receivers {
	return s.receivers
}
