package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
)

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.Account, error)
	FindByReferralCode(ctx context.Context, code string) (*domain.Account, error)
	// Create inserts the account unless one with the same id exists. It reports whether a row was inserted.
	Create(ctx context.Context, account *domain.Account) (bool, error)
	// SetReferrer links referrerID only when the account has no referrer yet and is not referring itself.
	SetReferrer(ctx context.Context, id, referrerID int64) (bool, error)
	// ApplyPlan overwrites plan, zeroes quota and sets the next period reset.
	ApplyPlan(ctx context.Context, id int64, plan domain.Plan, resetAt time.Time) error
	// AddReferralDiscount adds points to discount_next_period in a single statement.
	AddReferralDiscount(ctx context.Context, id int64, points int) error
	// ConsumeQuota increments quota_used only while it is below limit.
	ConsumeQuota(ctx context.Context, id int64, limit int) (bool, error)
	// RollPeriod starts a new period on plan only if the current one ended at or before now.
	RollPeriod(ctx context.Context, id int64, now time.Time, plan domain.Plan, next time.Time) (bool, error)
	// ListPromoCandidates returns accounts whose promo window ends before horizon and whose expired flag is unset.
	ListPromoCandidates(ctx context.Context, horizon time.Time) ([]*domain.Account, error)
	MarkPromoStage(ctx context.Context, id int64, stage domain.PromoStage) error
	Count(ctx context.Context) (int64, error)
}

const accountColumns = `
	id, username, first_name, plan, quota_used, period_reset_at, referral_code, referrer_id,
	promo_window_end, notified_5h, notified_1h, notified_30m, notified_10m, notified_expired,
	discount_next_period, created_at`

// promoColumns whitelists the flag column of each stage.
var promoColumns = map[domain.PromoStage]string{
	domain.PromoStageFiveHours:     "notified_5h",
	domain.PromoStageOneHour:       "notified_1h",
	domain.PromoStageThirtyMinutes: "notified_30m",
	domain.PromoStageTenMinutes:    "notified_10m",
	domain.PromoStageExpired:       "notified_expired",
}

type accountRepository struct {
	db  DBTX
	log *slog.Logger
}

// NewAccountRepository creates a new SQL-backed account repository.
func NewAccountRepository(db DBTX, log *slog.Logger) AccountRepository {
	if log == nil {
		log = slog.Default()
	}

	return &accountRepository{
		db:  db,
		log: log,
	}
}

func (r *accountRepository) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}

		r.log.Error("failed to fetch account", slog.Int64("account_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("select account: %w", err)
	}

	return account, nil
}

func (r *accountRepository) FindByReferralCode(ctx context.Context, code string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE referral_code = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("select account by referral code: %w", err)
	}

	return account, nil
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) (bool, error) {
	const query = `
		INSERT INTO accounts (id, username, first_name, plan, quota_used, period_reset_at,
			referral_code, referrer_id, promo_window_end, discount_next_period, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Username,
		account.FirstName,
		string(account.Plan),
		account.QuotaUsed,
		account.PeriodResetAt,
		account.ReferralCode,
		nullInt64(account.ReferrerID),
		nullTime(account.PromoWindowEnd),
		account.DiscountNextPeriod,
		account.CreatedAt,
	)
	if err != nil {
		if uniqueViolation(err, referralCodeConstraint) {
			return false, ErrReferralCodeTaken
		}

		r.log.Error("failed to create account", slog.Int64("account_id", account.ID), slog.Any("error", err))
		return false, fmt.Errorf("insert account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert account rows: %w", err)
	}

	return n == 1, nil
}

func (r *accountRepository) SetReferrer(ctx context.Context, id, referrerID int64) (bool, error) {
	const query = `
		UPDATE accounts SET referrer_id = $2
		WHERE id = $1 AND referrer_id IS NULL AND id <> $2
	`

	return r.execAffected(ctx, "set referrer", query, id, referrerID)
}

func (r *accountRepository) ApplyPlan(ctx context.Context, id int64, plan domain.Plan, resetAt time.Time) error {
	const query = `
		UPDATE accounts SET plan = $2, quota_used = 0, period_reset_at = $3
		WHERE id = $1
	`

	ok, err := r.execAffected(ctx, "apply plan", query, id, string(plan), resetAt)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) AddReferralDiscount(ctx context.Context, id int64, points int) error {
	if points <= 0 {
		return apperrors.NewValidationError("referral discount must be positive")
	}

	const query = `
		UPDATE accounts SET discount_next_period = discount_next_period + $2
		WHERE id = $1
	`

	ok, err := r.execAffected(ctx, "add referral discount", query, id, points)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) ConsumeQuota(ctx context.Context, id int64, limit int) (bool, error) {
	const query = `
		UPDATE accounts SET quota_used = quota_used + 1
		WHERE id = $1 AND quota_used < $2
	`

	return r.execAffected(ctx, "consume quota", query, id, limit)
}

func (r *accountRepository) RollPeriod(ctx context.Context, id int64, now time.Time, plan domain.Plan, next time.Time) (bool, error) {
	const query = `
		UPDATE accounts SET plan = $3, quota_used = 0, period_reset_at = $4
		WHERE id = $1 AND period_reset_at <= $2
	`

	return r.execAffected(ctx, "roll period", query, id, now, string(plan), next)
}

func (r *accountRepository) ListPromoCandidates(ctx context.Context, horizon time.Time) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE promo_window_end IS NOT NULL AND NOT notified_expired AND promo_window_end < $1
		ORDER BY promo_window_end`

	rows, err := r.db.QueryContext(ctx, query, horizon)
	if err != nil {
		return nil, fmt.Errorf("select promo candidates: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo candidate: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promo candidates: %w", err)
	}

	return accounts, nil
}

func (r *accountRepository) MarkPromoStage(ctx context.Context, id int64, stage domain.PromoStage) error {
	column, ok := promoColumns[stage]
	if !ok {
		return apperrors.NewValidationError(fmt.Sprintf("unknown promo stage %q", stage))
	}

	query := `UPDATE accounts SET ` + column + ` = TRUE WHERE id = $1`

	updated, err := r.execAffected(ctx, "mark promo stage", query, id)
	if err != nil {
		return err
	}
	if !updated {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

func (r *accountRepository) execAffected(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to update account", slog.String("operation", op), slog.Any("error", err))
		return false, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}

	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		account    domain.Account
		plan       string
		referrerID sql.NullInt64
		promoEnd   sql.NullTime
	)

	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.FirstName,
		&plan,
		&account.QuotaUsed,
		&account.PeriodResetAt,
		&account.ReferralCode,
		&referrerID,
		&promoEnd,
		&account.PromoNotified.FiveHours,
		&account.PromoNotified.OneHour,
		&account.PromoNotified.ThirtyMinutes,
		&account.PromoNotified.TenMinutes,
		&account.PromoNotified.Expired,
		&account.DiscountNextPeriod,
		&account.CreatedAt,
	); err != nil {
		return nil, err
	}

	account.Plan = domain.Plan(plan)
	if referrerID.Valid {
		id := referrerID.Int64
		account.ReferrerID = &id
	}
	if promoEnd.Valid {
		end := promoEnd.Time
		account.PromoWindowEnd = &end
	}

	return &account, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
