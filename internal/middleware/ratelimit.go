package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/internal/ratelimit"
)

// RuleLimiter evaluates a resolved rule for a key. A rejection is reported as
// ratelimit.ErrLimitExceeded together with the result.
type RuleLimiter interface {
	Allow(ctx context.Context, key string, rule ratelimit.Rule) (*ratelimit.Result, error)
}

// RateLimitMiddleware enforces global, per-user and per-command limits for incoming Telegram updates.
type RateLimitMiddleware struct {
	limiter RuleLimiter
	rules   *ratelimit.Rules
	log     *slog.Logger
	now     func() time.Time
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter RuleLimiter, rules *ratelimit.Rules, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		log:     log,
		now:     time.Now,
	}
}

// Handle returns a telebot middleware that enforces the configured limits.
func (m *RateLimitMiddleware) Handle(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if m.limiter == nil || !m.rules.Enabled() {
			return next(c)
		}

		sender := c.Sender()
		if sender == nil || m.rules.IsWhitelisted(sender.ID) {
			return next(c)
		}

		ctx := context.Background()
		userID := sender.ID

		if rule, err := m.rules.Global(); err == nil {
			if res, ok := m.allow(ctx, "global", rule); !ok {
				return m.reject(c, userID, "global", res)
			}
		}

		rule, err := m.rules.PerUser()
		if err != nil {
			m.log.Error("failed to load per-user rate limit", slog.Int64("user_id", userID), slog.Any("error", err))
			return next(c)
		}
		if res, ok := m.allow(ctx, ratelimit.UserKey(userID, ""), rule); !ok {
			return m.reject(c, userID, "per_user", res)
		}

		command := CommandName(c)
		rule, scoped, err := m.rules.Command(command)
		if err != nil {
			m.log.Error("failed to load command rate limit", slog.String("command", command), slog.Any("error", err))
			return next(c)
		}
		if scoped {
			if res, ok := m.allow(ctx, ratelimit.UserKey(userID, ratelimit.CommandBucket(command)), rule); !ok {
				return m.reject(c, userID, command, res)
			}
		}

		return next(c)
	}
}

// allow fails open on limiter errors other than a rejection.
func (m *RateLimitMiddleware) allow(ctx context.Context, key string, rule ratelimit.Rule) (*ratelimit.Result, bool) {
	res, err := m.limiter.Allow(ctx, key, rule)
	if err == nil {
		return res, true
	}
	if errors.Is(err, ratelimit.ErrLimitExceeded) {
		return res, false
	}

	m.log.Warn("rate limiter error", slog.String("key", key), slog.Any("error", err))
	return res, true
}

func (m *RateLimitMiddleware) reject(c telebot.Context, userID int64, scope string, res *ratelimit.Result) error {
	retryAfter := int(res.RetryAfter(m.now()).Seconds())
	m.log.Warn("rate limit exceeded",
		slog.Int64("user_id", userID),
		slog.String("scope", scope),
		slog.Int("retry_after_s", retryAfter),
	)

	msg := apperrors.NewRateLimitError(retryAfter).UserMessage
	if c.Callback() != nil {
		return c.Respond(&telebot.CallbackResponse{Text: msg})
	}
	return c.Send(msg)
}

// WebhookRateLimit limits callers of a webhook route per remote address and answers
// 429 with Retry-After when the window is full. Limiter failures let the request through.
func WebhookRateLimit(limiter RuleLimiter, rules *ratelimit.Rules, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}

	var (
		rule    ratelimit.Rule
		enabled = limiter != nil && rules.Enabled()
	)
	if enabled {
		var err error
		if rule, err = rules.Webhook(); err != nil {
			log.Error("webhook rate limit disabled", slog.Any("error", err))
			enabled = false
		}
	}

	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		key := ratelimit.WebhookKey(c.FullPath(), c.ClientIP())
		res, err := limiter.Allow(c.Request.Context(), key, rule)
		switch {
		case err == nil:
		case errors.Is(err, ratelimit.ErrLimitExceeded):
			retryAfter := int(res.RetryAfter(time.Now()).Seconds())
			log.WarnContext(c.Request.Context(), "webhook rate limit exceeded",
				slog.String("route", c.FullPath()),
				slog.String("remote_addr", c.ClientIP()),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		default:
			log.WarnContext(c.Request.Context(), "rate limiter error", slog.String("key", key), slog.Any("error", err))
		}

		c.Next()
	}
}
