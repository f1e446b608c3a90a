// Package heleket talks to the Heleket crypto payment gateway.
package heleket

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/pkg/config"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

const (
	apiName        = "heleket"
	createPath     = "/v1/payment"
	defaultTimeout = 10 * time.Second
	defaultExpiry  = 30 * time.Minute
	maxBodyBytes   = 1 << 20
)

// StatusPaid is the only invoice status that settles a ticket.
const StatusPaid = "paid"

// InvoiceRequest asks the gateway for a payable invoice.
type InvoiceRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
}

// Invoice is an issued crypto invoice.
type Invoice struct {
	ID        string
	Address   string
	Network   string
	Currency  string
	Amount    decimal.Decimal
	ExpiresAt time.Time
	// Local is set when the invoice was issued without contacting the gateway.
	Local bool
}

type createRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Network     string `json:"network,omitempty"`
	CallbackURL string `json:"url_callback,omitempty"`
	Lifetime    int    `json:"lifetime,omitempty"`
}

type createResponse struct {
	State   int    `json:"state"`
	Message string `json:"message"`
	Result  struct {
		UUID      string `json:"uuid"`
		Address   string `json:"address"`
		Network   string `json:"network"`
		Currency  string `json:"currency"`
		Amount    string `json:"amount"`
		ExpiredAt int64  `json:"expired_at"`
	} `json:"result"`
}

// Client creates invoices and authenticates gateway callbacks.
type Client struct {
	baseURL     string
	merchant    string
	apiKey      string
	callbackURL string
	wallet      string
	network     string
	timeout     time.Duration
	expiry      time.Duration
	http        *http.Client
	breaker     *apperrors.CircuitBreaker
	retry       apperrors.RetryPolicy
	log         *slog.Logger
	now         func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy replaces the retry policy used around invoice creation.
func WithRetryPolicy(p apperrors.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *apperrors.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New builds a client from the gateway and receiving-wallet configuration.
func New(cfg config.HeleketConfig, payments config.PaymentsConfig, log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		merchant:    cfg.MerchantUUID,
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		wallet:      payments.USDTWallet,
		network:     payments.USDTNetwork,
		timeout:     cfg.Timeout,
		expiry:      payments.InvoiceExpiry,
		http:        &http.Client{},
		retry: apperrors.RetryPolicy{
			MaxRetries:     2,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
		log: log.With(slog.String("component", "heleket")),
		now: time.Now,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.expiry <= 0 {
		c.expiry = defaultExpiry
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.breaker == nil {
		c.breaker = apperrors.NewCircuitBreakerWithSettings(apperrors.BreakerSettings{
			OnStateChange: func(_, to apperrors.State) {
				metrics.SetCircuitState(apiName, int(to))
			},
		})
	}

	return c
}

// Enabled reports whether gateway credentials are configured.
func (c *Client) Enabled() bool {
	return c != nil && c.merchant != "" && c.apiKey != ""
}

// CreateInvoice issues an invoice through the gateway, or locally against the configured
// wallet when no credentials are set. Each attempt is bounded by the client timeout; an
// exhausted deadline surfaces as an UpstreamTimeoutError.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if !req.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("invoice amount must be positive")
	}
	if req.Currency == "" {
		req.Currency = "USDT"
	}

	if !c.Enabled() {
		return c.localInvoice(req), nil
	}

	var invoice *Invoice
	err := apperrors.WithRetryPolicy(ctx, c.retry, func() error {
		return c.breaker.Call(func() error {
			var err error
			invoice, err = c.create(ctx, req)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrCircuitOpen) || errors.Is(err, apperrors.ErrHalfOpenTooManyRequests) {
			unavailable := apperrors.NewExternalAPIError(apiName, err)
			unavailable.Retryable = false
			return nil, unavailable
		}
		return nil, err
	}

	return invoice, nil
}

func (c *Client) create(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body, err := json.Marshal(createRequest{
		Amount:      req.Amount.String(),
		Currency:    req.Currency,
		OrderID:     req.OrderID,
		Network:     c.network,
		CallbackURL: c.callbackURL,
		Lifetime:    int(c.expiry / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("encode invoice request: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+createPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build invoice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("merchant", c.merchant)
	httpReq.Header.Set("sign", Sign(body, c.apiKey))

	start := c.now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil && (isTimeout(err) || attemptCtx.Err() != nil) {
			metrics.ObserveUpstream(apiName, "timeout", c.now().Sub(start))
			c.log.WarnContext(ctx, "invoice request timed out", slog.Duration("timeout", c.timeout))
			return nil, apperrors.NewUpstreamTimeoutError(apiName)
		}
		metrics.ObserveUpstream(apiName, "error", c.now().Sub(start))
		return nil, apperrors.NewExternalAPIError(apiName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.ObserveUpstream(apiName, strconv.Itoa(resp.StatusCode), c.now().Sub(start))
	if err != nil {
		return nil, apperrors.NewExternalAPIError(apiName, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := apperrors.NewExternalAPIError(apiName, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 256)))
		// only throttling and server faults are worth another attempt
		apiErr.Retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, apiErr
	}

	var decoded createResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, apperrors.NewExternalAPIError(apiName, fmt.Errorf("decode response: %w", err))
	}
	if decoded.State != 0 || decoded.Result.UUID == "" {
		apiErr := apperrors.NewExternalAPIError(apiName, fmt.Errorf("invoice rejected: %s", decoded.Message))
		apiErr.Retryable = false
		return nil, apiErr
	}

	amount := req.Amount
	if decoded.Result.Amount != "" {
		if parsed, err := decimal.NewFromString(decoded.Result.Amount); err == nil {
			amount = parsed
		}
	}

	invoice := &Invoice{
		ID:       decoded.Result.UUID,
		Address:  decoded.Result.Address,
		Network:  firstNonEmpty(decoded.Result.Network, c.network),
		Currency: firstNonEmpty(decoded.Result.Currency, req.Currency),
		Amount:   amount,
	}
	if decoded.Result.ExpiredAt > 0 {
		invoice.ExpiresAt = time.Unix(decoded.Result.ExpiredAt, 0).UTC()
	} else {
		invoice.ExpiresAt = c.now().Add(c.expiry).UTC()
	}

	c.log.InfoContext(ctx, "invoice created", slog.String("invoice_id", invoice.ID), slog.String("order_id", req.OrderID))
	return invoice, nil
}

func (c *Client) localInvoice(req InvoiceRequest) *Invoice {
	return &Invoice{
		ID:        uuid.NewString(),
		Address:   c.wallet,
		Network:   c.network,
		Currency:  req.Currency,
		Amount:    req.Amount,
		ExpiresAt: c.now().Add(c.expiry).UTC(),
		Local:     true,
	}
}

// VerifyCallback checks the Authorization header of a gateway callback. Without a
// configured key every callback is rejected.
func (c *Client) VerifyCallback(authorization string) bool {
	if c == nil || c.apiKey == "" {
		return false
	}

	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.apiKey)) == 1
}

// Sign computes the request signature: md5 of the base64 body followed by the API key.
func Sign(body []byte, apiKey string) string {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(body) + apiKey))
	return hex.EncodeToString(sum[:])
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
