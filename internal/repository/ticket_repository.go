package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
)

// TicketRepository defines persistence operations for payment tickets.
// Every status transition is a conditional update on status = 'pending'.
type TicketRepository interface {
	// Create inserts a pending ticket and fills ID and CreatedAt. A second pending ticket for the
	// same owner fails with a ConflictError.
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	// FindPending returns the owner's pending ticket, or nil when there is none.
	FindPending(ctx context.Context, ownerID int64) (*domain.Ticket, error)
	// FindPendingBy returns the only pending ticket whose attributes equal every supplied field
	// of q. Zero candidates yield ErrNoMatch and several yield ErrAmbiguousMatch.
	FindPendingBy(ctx context.Context, q domain.MatchQuery) (*domain.Ticket, error)
	FindByInvoiceID(ctx context.Context, invoiceID string) (*domain.Ticket, error)
	// Complete moves a pending ticket to completed. It reports false without error when the
	// ticket was already completed with the same externalRef.
	Complete(ctx context.Context, id int64, externalRef string, at time.Time) (*domain.Ticket, bool, error)
	// Cancel moves every pending ticket of the owner to cancelled and returns how many moved.
	Cancel(ctx context.Context, ownerID int64, at time.Time) (int64, error)
	ListByOwner(ctx context.Context, ownerID int64, limit int) ([]*domain.Ticket, error)
	ListPending(ctx context.Context, limit int) ([]*domain.Ticket, error)
	// IncomeSince sums completed tickets with completed_at >= since, per currency.
	IncomeSince(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error)
	CountPending(ctx context.Context) (int64, error)
}

const ticketColumns = `
	id, owner_id, plan, method, amount, currency, status, payer_phone, destination_account,
	invoice_id, pay_address, external_ref, created_at, completed_at, cancelled_at`

type ticketRepository struct {
	db  DBTX
	log *slog.Logger
}

// NewTicketRepository creates a new SQL-backed ticket repository.
func NewTicketRepository(db DBTX, log *slog.Logger) TicketRepository {
	if log == nil {
		log = slog.Default()
	}

	return &ticketRepository{
		db:  db,
		log: log,
	}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.Attributes == nil || ticket.Attributes.Method() != ticket.Method {
		return apperrors.NewValidationError("ticket attributes do not match its method")
	}

	const query = `
		INSERT INTO payment_tickets (owner_id, plan, method, amount, currency, status,
			payer_phone, destination_account, invoice_id, pay_address)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9)
		RETURNING id, created_at
	`

	cols := attributeColumns(ticket.Attributes)
	err := r.db.QueryRowContext(ctx, query,
		ticket.OwnerID,
		string(ticket.Plan),
		string(ticket.Method),
		ticket.Amount,
		ticket.Currency,
		nullString(cols.payerPhone),
		nullString(cols.destination),
		nullString(cols.invoiceID),
		nullString(cols.payAddress),
	).Scan(&ticket.ID, &ticket.CreatedAt)
	if err != nil {
		if uniqueViolation(err, onePendingPerOwnerIndex) {
			return apperrors.NewConflictError(ticket.OwnerID)
		}

		r.log.Error("failed to create ticket", slog.Int64("owner_id", ticket.OwnerID), slog.Any("error", err))
		return fmt.Errorf("insert ticket: %w", err)
	}

	ticket.Status = domain.StatusPending
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM payment_tickets WHERE id = $1`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(id)
		}
		return nil, fmt.Errorf("select ticket: %w", err)
	}

	return ticket, nil
}

func (r *ticketRepository) FindPending(ctx context.Context, ownerID int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM payment_tickets WHERE owner_id = $1 AND status = 'pending'`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select pending ticket: %w", err)
	}

	return ticket, nil
}

func (r *ticketRepository) FindPendingBy(ctx context.Context, q domain.MatchQuery) (*domain.Ticket, error) {
	if !q.Method.Valid() || q.Empty() {
		return nil, apperrors.NewValidationError("match query needs a rail and at least one attribute")
	}

	var (
		where = []string{"status = 'pending'", "method = $1"}
		args  = []any{string(q.Method)}
	)
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, column+" = $"+strconv.Itoa(len(args)))
	}

	if q.Phone != "" {
		add("payer_phone", q.Phone)
	}
	if q.DestinationAccount != "" {
		add("destination_account", q.DestinationAccount)
	}
	if q.InvoiceID != "" {
		add("invoice_id", q.InvoiceID)
	}
	if q.Amount.Valid {
		add("amount", q.Amount.Decimal)
	}

	// two rows are enough to tell a unique match from an ambiguous one
	query := `SELECT ` + ticketColumns + ` FROM payment_tickets WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY id LIMIT 2`

	tickets, err := r.queryTickets(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select matching tickets: %w", err)
	}

	switch len(tickets) {
	case 0:
		return nil, apperrors.NewNoMatchError(apperrors.ErrNoMatch)
	case 1:
		return tickets[0], nil
	default:
		return nil, apperrors.NewNoMatchError(apperrors.ErrAmbiguousMatch)
	}
}

func (r *ticketRepository) FindByInvoiceID(ctx context.Context, invoiceID string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM payment_tickets WHERE invoice_id = $1`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select ticket by invoice: %w", err)
	}

	return ticket, nil
}

func (r *ticketRepository) Complete(ctx context.Context, id int64, externalRef string, at time.Time) (*domain.Ticket, bool, error) {
	if externalRef == "" {
		return nil, false, apperrors.NewValidationError("settlement reference is required")
	}

	query := `
		UPDATE payment_tickets SET status = 'completed', external_ref = $2, completed_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + ticketColumns

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, id, externalRef, at))
	if err == nil {
		return ticket, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.log.Error("failed to complete ticket", slog.Int64("ticket_id", id), slog.Any("error", err))
		return nil, false, fmt.Errorf("complete ticket: %w", err)
	}

	// lost the compare-and-swap: explain why
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	switch {
	case current.Status == domain.StatusCompleted && current.ExternalRef != nil && *current.ExternalRef == externalRef:
		return current, false, nil
	case current.Status == domain.StatusCompleted:
		return current, false, apperrors.NewInvalidStateError(id, apperrors.ErrConflictingSettlement)
	default:
		return current, false, apperrors.NewInvalidStateError(id, apperrors.ErrInvalidState)
	}
}

func (r *ticketRepository) Cancel(ctx context.Context, ownerID int64, at time.Time) (int64, error) {
	const query = `
		UPDATE payment_tickets SET status = 'cancelled', cancelled_at = $2
		WHERE owner_id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, ownerID, at)
	if err != nil {
		r.log.Error("failed to cancel tickets", slog.Int64("owner_id", ownerID), slog.Any("error", err))
		return 0, fmt.Errorf("cancel tickets: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel tickets rows: %w", err)
	}

	return n, nil
}

func (r *ticketRepository) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM payment_tickets WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`

	tickets, err := r.queryTickets(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list owner tickets: %w", err)
	}
	return tickets, nil
}

func (r *ticketRepository) ListPending(ctx context.Context, limit int) ([]*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM payment_tickets WHERE status = 'pending'
		ORDER BY created_at, id LIMIT $1`

	tickets, err := r.queryTickets(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tickets: %w", err)
	}
	return tickets, nil
}

func (r *ticketRepository) IncomeSince(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error) {
	const query = `
		SELECT currency, COALESCE(SUM(amount), 0)
		FROM payment_tickets
		WHERE status = 'completed' AND completed_at >= $1
		GROUP BY currency
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("sum income: %w", err)
	}
	defer rows.Close()

	income := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			currency string
			total    decimal.Decimal
		)
		if err := rows.Scan(&currency, &total); err != nil {
			return nil, fmt.Errorf("scan income: %w", err)
		}
		income[currency] = total
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate income: %w", err)
	}

	return income, nil
}

func (r *ticketRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_tickets WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending tickets: %w", err)
	}
	return n, nil
}

func (r *ticketRepository) queryTickets(ctx context.Context, query string, args ...any) ([]*domain.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}

	return tickets, rows.Err()
}

type ticketAttributeColumns struct {
	payerPhone  string
	destination string
	invoiceID   string
	payAddress  string
}

func attributeColumns(attrs domain.MatchAttributes) ticketAttributeColumns {
	switch a := attrs.(type) {
	case domain.CardAttributes:
		return ticketAttributeColumns{payerPhone: a.PayerPhone, destination: a.DestinationAccount}
	case domain.MobileBalanceAttributes:
		return ticketAttributeColumns{payerPhone: a.SenderPhone}
	case domain.CryptoAttributes:
		return ticketAttributeColumns{invoiceID: a.InvoiceID, payAddress: a.PayAddress}
	default:
		return ticketAttributeColumns{}
	}
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		ticket                           domain.Ticket
		plan, method, status             string
		payerPhone, destination, invoice sql.NullString
		payAddress, externalRef          sql.NullString
		completedAt, cancelledAt         sql.NullTime
	)

	if err := row.Scan(
		&ticket.ID,
		&ticket.OwnerID,
		&plan,
		&method,
		&ticket.Amount,
		&ticket.Currency,
		&status,
		&payerPhone,
		&destination,
		&invoice,
		&payAddress,
		&externalRef,
		&ticket.CreatedAt,
		&completedAt,
		&cancelledAt,
	); err != nil {
		return nil, err
	}

	ticket.Plan = domain.Plan(plan)
	ticket.Method = domain.Method(method)
	ticket.Status = domain.Status(status)

	switch ticket.Method {
	case domain.MethodCard:
		ticket.Attributes = domain.CardAttributes{PayerPhone: payerPhone.String, DestinationAccount: destination.String}
	case domain.MethodMobileBalance:
		ticket.Attributes = domain.MobileBalanceAttributes{SenderPhone: payerPhone.String}
	case domain.MethodCrypto:
		ticket.Attributes = domain.CryptoAttributes{InvoiceID: invoice.String, PayAddress: payAddress.String}
	}

	if externalRef.Valid {
		ref := externalRef.String
		ticket.ExternalRef = &ref
	}
	if completedAt.Valid {
		at := completedAt.Time
		ticket.CompletedAt = &at
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time
		ticket.CancelledAt = &at
	}

	return &ticket, nil
}
