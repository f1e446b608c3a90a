// Package repository implements the PostgreSQL stores for accounts and payment tickets.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation = "23505"

	onePendingPerOwnerIndex = "payment_tickets_one_pending_per_owner"
	referralCodeConstraint  = "accounts_referral_code_key"
)

// ErrAccountNotFound is returned when no account has the requested id or referral code.
var ErrAccountNotFound = errors.New("account not found")

// ErrReferralCodeTaken is returned by AccountRepository.Create when the generated code collides.
var ErrReferralCodeTaken = errors.New("referral code already taken")

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles the repositories and runs units of work in a single transaction.
type Store interface {
	Accounts() AccountRepository
	Tickets() TicketRepository
	// WithinTx runs fn against repositories bound to one transaction. The transaction commits
	// when fn returns nil and rolls back otherwise. Nested calls reuse the outer transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type sqlStore struct {
	db  *sql.DB
	q   DBTX
	log *slog.Logger
}

// NewStore creates a Store over the given pool.
func NewStore(db *sql.DB, log *slog.Logger) Store {
	if log == nil {
		log = slog.Default()
	}

	return &sqlStore{db: db, q: db, log: log}
}

func (s *sqlStore) Accounts() AccountRepository {
	return NewAccountRepository(s.q, s.log)
}

func (s *sqlStore) Tickets() TicketRepository {
	return NewTicketRepository(s.q, s.log)
}

func (s *sqlStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&sqlStore{db: s.db, q: tx, log: s.log}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("failed to roll back transaction", slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// uniqueViolation reports whether err is a unique violation on the named constraint or index.
func uniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqUniqueViolation && pqErr.Constraint == constraint
}
