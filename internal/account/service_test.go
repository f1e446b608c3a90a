package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/domain"
	"github.com/Proton-105/vidbot/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAccounts implements the account operations the service uses.
type fakeAccounts struct {
	repository.AccountRepository

	mu       sync.Mutex
	accounts map[int64]domain.Account
	findErr  error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: map[int64]domain.Account{}}
}

func (f *fakeAccounts) FindByID(_ context.Context, id int64) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return &a, nil
}

func (f *fakeAccounts) FindByReferralCode(_ context.Context, code string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ReferralCode == code {
			return &a, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (f *fakeAccounts) Create(_ context.Context, a *domain.Account) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.accounts {
		if existing.ReferralCode == a.ReferralCode {
			return false, repository.ErrReferralCodeTaken
		}
	}
	if _, ok := f.accounts[a.ID]; ok {
		return false, nil
	}
	f.accounts[a.ID] = *a
	return true, nil
}

func (f *fakeAccounts) ConsumeQuota(_ context.Context, id int64, limit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.QuotaUsed >= limit {
		return false, nil
	}
	a.QuotaUsed++
	f.accounts[id] = a
	return true, nil
}

func (f *fakeAccounts) RollPeriod(_ context.Context, id int64, now time.Time, plan domain.Plan, next time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.PeriodResetAt.After(now) {
		return false, nil
	}
	a.Plan, a.QuotaUsed, a.PeriodResetAt = plan, 0, next
	f.accounts[id] = a
	return true, nil
}

type mapCache struct {
	items       map[int64]domain.Account
	invalidated int
}

func (c *mapCache) Get(_ context.Context, id int64) (*domain.Account, error) {
	a, ok := c.items[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (c *mapCache) Set(_ context.Context, a *domain.Account) error {
	c.items[a.ID] = *a
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id int64) error {
	delete(c.items, id)
	c.invalidated++
	return nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo *fakeAccounts, cache Cache, codes ...string) *Service {
	s := NewService(repo, cache, Options{PromoWindow: 24 * time.Hour, BotUsername: "@vidbot"}, testLogger())
	s.now = func() time.Time { return now }
	if len(codes) > 0 {
		i := 0
		s.code = func() string {
			c := codes[i%len(codes)]
			i++
			return c
		}
	}
	return s
}

func TestGetOrCreateRegistersNewAccount(t *testing.T) {
	repo := newFakeAccounts()
	s := newTestService(repo, nil, "abcd1234")

	account, created, err := s.GetOrCreate(context.Background(), &telebot.User{ID: 7, Username: "ana", FirstName: "Ana"}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.PlanFree, account.Plan)
	assert.Equal(t, "abcd1234", account.ReferralCode)
	assert.Equal(t, now.Add(24*time.Hour), account.PeriodResetAt)
	require.NotNil(t, account.PromoWindowEnd)
	assert.Equal(t, now.Add(24*time.Hour), *account.PromoWindowEnd)
	assert.Nil(t, account.ReferrerID)

	again, created, err := s.GetOrCreate(context.Background(), &telebot.User{ID: 7}, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "ana", again.Username)
}

func TestGetOrCreateLinksReferrer(t *testing.T) {
	repo := newFakeAccounts()
	repo.accounts[1] = domain.Account{ID: 1, ReferralCode: "inviter1"}

	tests := []struct {
		name    string
		id      int64
		payload string
		want    *int64
	}{
		{"valid code", 2, "ref_inviter1", ptr(int64(1))},
		{"padded payload", 3, "  ref_inviter1 ", ptr(int64(1))},
		{"unknown code", 4, "ref_nobody00", nil},
		{"empty code", 5, "ref_", nil},
		{"not a referral", 6, "promo", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(repo, nil, fmt.Sprintf("code%04d", tt.id))
			account, created, err := s.GetOrCreate(context.Background(), &telebot.User{ID: tt.id}, tt.payload)
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, tt.want, account.ReferrerID)
		})
	}
}

func TestGetOrCreateRetriesTakenReferralCode(t *testing.T) {
	repo := newFakeAccounts()
	repo.accounts[1] = domain.Account{ID: 1, ReferralCode: "taken000"}
	s := newTestService(repo, nil, "taken000", "taken000", "fresh000")

	account, created, err := s.GetOrCreate(context.Background(), &telebot.User{ID: 2}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "fresh000", account.ReferralCode)
}

func TestGetOrCreateGivesUpOnCodeCollisions(t *testing.T) {
	repo := newFakeAccounts()
	repo.accounts[1] = domain.Account{ID: 1, ReferralCode: "taken000"}
	s := newTestService(repo, nil, "taken000")

	_, _, err := s.GetOrCreate(context.Background(), &telebot.User{ID: 2}, "")
	assert.ErrorIs(t, err, repository.ErrReferralCodeTaken)
}

func TestGetOrCreateStoreFailure(t *testing.T) {
	repo := newFakeAccounts()
	repo.findErr = errors.New("connection refused")

	_, _, err := newTestService(repo, nil).GetOrCreate(context.Background(), &telebot.User{ID: 2}, "")
	require.Error(t, err)

	_, _, err = newTestService(repo, nil).GetOrCreate(context.Background(), nil, "")
	require.Error(t, err)
}

func TestConsumeDownload(t *testing.T) {
	repo := newFakeAccounts()
	repo.accounts[1] = domain.Account{ID: 1, Plan: domain.PlanFree, QuotaUsed: 4, PeriodResetAt: now.Add(time.Hour)}
	s := newTestService(repo, nil)

	account, err := s.ConsumeDownload(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, account.QuotaUsed)

	_, err = s.ConsumeDownload(context.Background(), 1)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 5, repo.accounts[1].QuotaUsed)
}

func TestConsumeDownloadRollsElapsedPeriod(t *testing.T) {
	repo := newFakeAccounts()
	repo.accounts[1] = domain.Account{ID: 1, Plan: domain.PlanPremium, QuotaUsed: 1000, PeriodResetAt: now.Add(-time.Minute)}
	s := newTestService(repo, nil)

	account, err := s.ConsumeDownload(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, account.Plan)
	assert.Equal(t, 1, account.QuotaUsed)
	assert.Equal(t, now.Add(24*time.Hour), repo.accounts[1].PeriodResetAt)
}

func TestProfileUsesCache(t *testing.T) {
	repo := newFakeAccounts()
	repo.accounts[1] = domain.Account{ID: 1, Plan: domain.PlanBasic, PeriodResetAt: now.Add(time.Hour)}
	cache := &mapCache{items: map[int64]domain.Account{}}
	s := newTestService(repo, cache)

	account, err := s.Profile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanBasic, account.Plan)
	require.Contains(t, cache.items, int64(1))

	repo.findErr = errors.New("store must not be read")
	account, err = s.Profile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanBasic, account.Plan)

	repo.findErr = nil
	_, err = s.ConsumeDownload(context.Background(), 1)
	require.NoError(t, err)
	assert.NotContains(t, cache.items, int64(1))
}

func TestProfileMissingAccount(t *testing.T) {
	_, err := newTestService(newFakeAccounts(), nil).Profile(context.Background(), 9)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
}

func TestReferral(t *testing.T) {
	repo := newFakeAccounts()
	repo.accounts[1] = domain.Account{ID: 1, ReferralCode: "abcd1234", DiscountNextPeriod: 25, PeriodResetAt: now.Add(time.Hour)}

	ref, err := newTestService(repo, nil).Referral(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Referral{Code: "abcd1234", Link: "https://t.me/vidbot?start=ref_abcd1234", Discount: 25}, ref)
}

func TestNewReferralCode(t *testing.T) {
	code := newReferralCode()
	assert.Len(t, code, referralCodeLength)
	assert.NotEqual(t, code, newReferralCode())
}

func ptr[T any](v T) *T { return &v }
