package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/idempotency"
	"github.com/Proton-105/vidbot/internal/ratelimit"
	"github.com/Proton-105/vidbot/pkg/config"
	"github.com/Proton-105/vidbot/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeContext implements the parts of telebot.Context the middlewares read.
type fakeContext struct {
	telebot.Context

	update    telebot.Update
	sender    *telebot.User
	text      string
	callback  *telebot.Callback
	sent      []string
	responses []string
}

func (f *fakeContext) Update() telebot.Update      { return f.update }
func (f *fakeContext) Sender() *telebot.User       { return f.sender }
func (f *fakeContext) Text() string                { return f.text }
func (f *fakeContext) Callback() *telebot.Callback { return f.callback }
func (f *fakeContext) Message() *telebot.Message   { return nil }

func (f *fakeContext) Send(what interface{}, _ ...interface{}) error {
	if s, ok := what.(string); ok {
		f.sent = append(f.sent, s)
	}
	return nil
}

func (f *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	for _, r := range resp {
		f.responses = append(f.responses, r.Text)
	}
	return nil
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		name string
		ctx  *fakeContext
		want string
	}{
		{"plain command", &fakeContext{text: "/plans"}, "plans"},
		{"command with payload", &fakeContext{text: "/start ref_abcd1234"}, "start"},
		{"command with mention", &fakeContext{text: "/Status@vidbot"}, "status"},
		{"free text", &fakeContext{text: "51234567"}, "text"},
		{"callback with data", &fakeContext{callback: &telebot.Callback{Data: "plan:premium"}}, "plan"},
		{"callback without data", &fakeContext{callback: &telebot.Callback{Data: "cancel_ticket"}}, "cancel_ticket"},
		{"empty", &fakeContext{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CommandName(tt.ctx))
		})
	}
}

func TestIdempotencyHandlesUpdateOnce(t *testing.T) {
	client := newRedis(t)
	manager := idempotency.NewManager(idempotency.NewRedisStore(client, testLogger()), testLogger())

	calls := 0
	handler := Idempotency(manager, testLogger())(func(telebot.Context) error {
		calls++
		return nil
	})

	update := &fakeContext{update: telebot.Update{ID: 1001}, text: "/plans"}
	require.NoError(t, handler(update))
	require.NoError(t, handler(update))
	require.NoError(t, handler(&fakeContext{update: telebot.Update{ID: 1002}, text: "/plans"}))

	assert.Equal(t, 2, calls)
}

func TestIdempotencyFailsOpenWithoutStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	manager := idempotency.NewManager(idempotency.NewRedisStore(client, testLogger()), testLogger())

	calls := 0
	handler := Idempotency(manager, testLogger())(func(telebot.Context) error {
		calls++
		return nil
	})

	require.NoError(t, handler(&fakeContext{update: telebot.Update{ID: 7}}))
	assert.Equal(t, 1, calls)
}

func newTestLimiter(t *testing.T) *ratelimit.AdaptiveLimiter {
	return ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(newRedis(t), testLogger()), ratelimit.NewMemoryLimiter(), testLogger())
}

func TestRateLimitMiddlewarePerUser(t *testing.T) {
	rules := ratelimit.NewRules(config.RateLimitConfig{
		Enabled:   true,
		PerUser:   config.RateLimitRule{Limit: 2, Window: "1m"},
		Commands:  config.CommandLimits{Buy: config.RateLimitRule{Limit: 5, Window: "1m"}},
		Whitelist: []int64{99},
	})
	mw := NewRateLimitMiddleware(newTestLimiter(t), rules, testLogger())

	calls := 0
	handler := mw.Handle(func(telebot.Context) error {
		calls++
		return nil
	})

	user := &telebot.User{ID: 7}
	for i := 0; i < 3; i++ {
		require.NoError(t, handler(&fakeContext{sender: user, text: "/status"}))
	}
	assert.Equal(t, 2, calls)

	rejected := &fakeContext{sender: user, callback: &telebot.Callback{Data: "plan:basic"}}
	require.NoError(t, handler(rejected))
	require.Len(t, rejected.responses, 1)
	assert.Contains(t, rejected.responses[0], "Demasiadas solicitudes")

	for i := 0; i < 5; i++ {
		require.NoError(t, handler(&fakeContext{sender: &telebot.User{ID: 99}, text: "/plans"}))
	}
	assert.Equal(t, 7, calls)
}

func TestRateLimitMiddlewareCommandBucket(t *testing.T) {
	rules := ratelimit.NewRules(config.RateLimitConfig{
		Enabled:  true,
		PerUser:  config.RateLimitRule{Limit: 100, Window: "1m"},
		Commands: config.CommandLimits{Buy: config.RateLimitRule{Limit: 2, Window: "1m"}},
	})
	mw := NewRateLimitMiddleware(newTestLimiter(t), rules, testLogger())

	calls := 0
	handler := mw.Handle(func(telebot.Context) error {
		calls++
		return nil
	})

	user := &telebot.User{ID: 8}
	require.NoError(t, handler(&fakeContext{sender: user, text: "/plans"}))
	require.NoError(t, handler(&fakeContext{sender: user, callback: &telebot.Callback{Data: "plan:basic"}}))

	blocked := &fakeContext{sender: user, callback: &telebot.Callback{Data: "method:card"}}
	require.NoError(t, handler(blocked))
	assert.Len(t, blocked.responses, 1)

	require.NoError(t, handler(&fakeContext{sender: user, text: "/status"}))
	assert.Equal(t, 3, calls)
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	mw := NewRateLimitMiddleware(newTestLimiter(t), ratelimit.NewRules(config.RateLimitConfig{}), testLogger())
	calls := 0
	handler := mw.Handle(func(telebot.Context) error {
		calls++
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, handler(&fakeContext{sender: &telebot.User{ID: 1}, text: "/plans"}))
	}
	assert.Equal(t, 3, calls)
}

func TestWebhookRateLimit(t *testing.T) {
	rules := ratelimit.NewRules(config.RateLimitConfig{
		Enabled: true,
		Webhook: config.RateLimitRule{Limit: 1, Window: "1m"},
	})

	router := gin.New()
	router.POST("/payment-webhook", WebhookRateLimit(newTestLimiter(t), rules, testLogger()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payment-webhook", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000").Code)

	limited := send("10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("10.0.0.2:5000").Code)
}

func TestRequestLoggerPropagatesCorrelationID(t *testing.T) {
	var seen string
	router := gin.New()
	router.Use(RequestLogger(testLogger()), HTTPMetrics())
	router.GET("/keepalive", func(c *gin.Context) {
		seen = logger.CorrelationIDFromContext(c.Request.Context())
		c.String(http.StatusOK, "OK")
	})

	req := httptest.NewRequest(http.MethodGet, "/keepalive", nil)
	req.Header.Set(logger.CorrelationIDHeader, "corr-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "corr-123", seen)
	assert.Equal(t, "corr-123", w.Header().Get(logger.CorrelationIDHeader))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/keepalive", nil))
	assert.NotEmpty(t, w.Header().Get(logger.CorrelationIDHeader))
}
