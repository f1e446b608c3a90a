// Package account registers bot users and gates downloads by plan quota.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/domain"
	"github.com/Proton-105/vidbot/internal/repository"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

// ReferralPrefix marks a referral code in the /start payload.
const ReferralPrefix = "ref_"

const (
	referralCodeLength = 8
	maxCodeAttempts    = 5
)

// ErrQuotaExhausted is returned when the current period has no downloads left.
var ErrQuotaExhausted = errors.New("download quota exhausted")

// Cache holds account snapshots between reads.
type Cache interface {
	Get(ctx context.Context, accountID int64) (*domain.Account, error)
	Set(ctx context.Context, account *domain.Account) error
	Invalidate(ctx context.Context, accountID int64) error
}

// Options tunes registration.
type Options struct {
	// PromoWindow is how long a new account gets promo pricing. Zero disables it.
	PromoWindow time.Duration
	BotUsername string
}

// Referral is what an account shares to invite others.
type Referral struct {
	Code     string
	Link     string
	Discount int
}

// Service provides business operations over accounts.
type Service struct {
	repo  repository.AccountRepository
	cache Cache
	opts  Options
	log   *slog.Logger
	now   func() time.Time
	code  func() string
}

// NewService constructs a new Service instance. cache may be nil.
func NewService(repo repository.AccountRepository, cache Cache, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cache == nil {
		cache = noCache{}
	}
	return &Service{
		repo:  repo,
		cache: cache,
		opts:  opts,
		log:   log.With(slog.String("component", "accounts")),
		now:   time.Now,
		code:  newReferralCode,
	}
}

// GetOrCreate fetches the account of a telegram user or registers it. A new account starts
// on the free plan, opens its promo window and, when startPayload carries a valid referral
// code of another account, is linked to that referrer. The boolean reports creation.
func (s *Service) GetOrCreate(ctx context.Context, sender *telebot.User, startPayload string) (*domain.Account, bool, error) {
	if sender == nil {
		return nil, false, errors.New("telegram user is nil")
	}

	account, err := s.repo.FindByID(ctx, sender.ID)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		s.logError(ctx, "get_or_create.find", sender.ID, err)
		return nil, false, fmt.Errorf("get account: %w", err)
	}

	now := s.now().UTC()
	account = &domain.Account{
		ID:            sender.ID,
		Username:      sender.Username,
		FirstName:     sender.FirstName,
		Plan:          domain.PlanFree,
		PeriodResetAt: now.Add(domain.PlanFree.Period()),
		CreatedAt:     now,
	}
	if s.opts.PromoWindow > 0 {
		end := now.Add(s.opts.PromoWindow)
		account.PromoWindowEnd = &end
	}
	account.ReferrerID = s.resolveReferrer(ctx, sender.ID, startPayload)

	for attempt := 1; ; attempt++ {
		account.ReferralCode = s.code()

		inserted, err := s.repo.Create(ctx, account)
		if errors.Is(err, repository.ErrReferralCodeTaken) && attempt < maxCodeAttempts {
			continue
		}
		if err != nil {
			s.logError(ctx, "get_or_create.create", sender.ID, err)
			return nil, false, fmt.Errorf("create account: %w", err)
		}

		if !inserted {
			// registered concurrently by another update
			existing, err := s.repo.FindByID(ctx, sender.ID)
			if err != nil {
				return nil, false, fmt.Errorf("get account: %w", err)
			}
			return existing, false, nil
		}
		break
	}

	metrics.RecordAccountCreated(account.ReferrerID != nil)
	s.log.InfoContext(ctx, "account registered",
		slog.Int64("account_id", account.ID),
		slog.Bool("referred", account.ReferrerID != nil),
	)
	return account, true, nil
}

func (s *Service) resolveReferrer(ctx context.Context, accountID int64, payload string) *int64 {
	code, ok := strings.CutPrefix(strings.TrimSpace(payload), ReferralPrefix)
	if !ok || code == "" {
		return nil
	}

	referrer, err := s.repo.FindByReferralCode(ctx, code)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			s.logError(ctx, "get_or_create.referrer", accountID, err)
		}
		return nil
	}
	if referrer.ID == accountID {
		return nil
	}

	id := referrer.ID
	return &id
}

// Profile returns the current account state, starting a new period first when the
// previous one has ended.
func (s *Service) Profile(ctx context.Context, accountID int64) (*domain.Account, error) {
	if cached, err := s.cache.Get(ctx, accountID); err == nil && cached != nil && !cached.PeriodDue(s.now()) {
		return cached, nil
	} else if err != nil {
		s.log.WarnContext(ctx, "failed to read account cache", slog.Int64("account_id", accountID), slog.Any("error", err))
	}

	account, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, account); err != nil {
		s.log.WarnContext(ctx, "failed to cache account", slog.Int64("account_id", accountID), slog.Any("error", err))
	}
	return account, nil
}

// ConsumeDownload takes one download from the current period. It returns ErrQuotaExhausted
// when the plan limit is reached.
func (s *Service) ConsumeDownload(ctx context.Context, accountID int64) (*domain.Account, error) {
	account, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.ConsumeQuota(ctx, accountID, account.Plan.QuotaLimit())
	if err != nil {
		s.logError(ctx, "consume_download", accountID, err)
		return nil, fmt.Errorf("consume quota: %w", err)
	}
	s.invalidate(ctx, accountID)

	if !ok {
		metrics.RecordDownload(string(account.Plan), "exhausted")
		return account, ErrQuotaExhausted
	}

	metrics.RecordDownload(string(account.Plan), "ok")
	account.QuotaUsed++
	return account, nil
}

// Referral returns the account's referral code, its share link and the discount it has earned.
func (s *Service) Referral(ctx context.Context, accountID int64) (Referral, error) {
	account, err := s.Profile(ctx, accountID)
	if err != nil {
		return Referral{}, err
	}

	ref := Referral{Code: account.ReferralCode, Discount: account.DiscountNextPeriod}
	if s.opts.BotUsername != "" {
		ref.Link = fmt.Sprintf("https://t.me/%s?start=%s%s", strings.TrimPrefix(s.opts.BotUsername, "@"), ReferralPrefix, account.ReferralCode)
	}
	return ref, nil
}

// load reads the account and rolls an elapsed period. Paid plans lapse to free on roll.
func (s *Service) load(ctx context.Context, accountID int64) (*domain.Account, error) {
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			s.logError(ctx, "load", accountID, err)
		}
		return nil, err
	}

	now := s.now().UTC()
	if !account.PeriodDue(now) {
		return account, nil
	}

	next := now.Add(domain.PlanFree.Period())
	rolled, err := s.repo.RollPeriod(ctx, accountID, now, domain.PlanFree, next)
	if err != nil {
		s.logError(ctx, "roll_period", accountID, err)
		return nil, fmt.Errorf("roll period: %w", err)
	}
	if !rolled {
		// another request rolled it first
		return s.repo.FindByID(ctx, accountID)
	}

	s.invalidate(ctx, accountID)
	if account.Plan != domain.PlanFree {
		s.log.InfoContext(ctx, "paid period ended", slog.Int64("account_id", accountID), slog.String("plan", string(account.Plan)))
	}
	account.Plan, account.QuotaUsed, account.PeriodResetAt = domain.PlanFree, 0, next
	return account, nil
}

func (s *Service) invalidate(ctx context.Context, accountID int64) {
	if err := s.cache.Invalidate(ctx, accountID); err != nil {
		s.log.WarnContext(ctx, "failed to invalidate account cache", slog.Int64("account_id", accountID), slog.Any("error", err))
	}
}

func (s *Service) logError(ctx context.Context, operation string, accountID int64, err error) {
	if s == nil || s.log == nil || err == nil {
		return
	}

	s.log.ErrorContext(ctx, "account service operation failed",
		slog.String("operation", operation),
		slog.Int64("account_id", accountID),
		slog.Any("error", err),
	)
}

type noCache struct{}

func (noCache) Get(context.Context, int64) (*domain.Account, error) { return nil, nil }
func (noCache) Set(context.Context, *domain.Account) error          { return nil }
func (noCache) Invalidate(context.Context, int64) error             { return nil }

func newReferralCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:referralCodeLength]
}
