package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/vidbot/internal/idempotency"
	"github.com/Proton-105/vidbot/internal/payment"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

// Event types posted by the SMS forwarder on the payments phone.
const (
	EventCardTransfer  = "TRANSFERMOVIL_PAGO"
	EventMobileBalance = "CUBACEL_SALDO_RECIBIDO"
)

// DeliveryTTL is how long a processed rail delivery is remembered for replay.
const DeliveryTTL = 72 * time.Hour

// Processor settles rail events.
type Processor interface {
	HandleCard(ctx context.Context, ev payment.CardEvent) (payment.Outcome, error)
	HandleMobile(ctx context.Context, ev payment.MobileEvent) (payment.Outcome, error)
	HandleCrypto(ctx context.Context, ev payment.CryptoEvent) (payment.Outcome, error)
}

// CallbackVerifier authenticates crypto gateway callbacks.
type CallbackVerifier interface {
	VerifyCallback(authorization string) bool
}

// WebhookHandler receives settlement events from the payment rails.
type WebhookHandler struct {
	processor Processor
	verifier  CallbackVerifier
	dedupe    idempotency.Manager
	token     string
	log       *slog.Logger
}

// NewWebhookHandler builds a WebhookHandler. token authenticates the card and mobile
// forwarder; a nil dedupe manager disables replay.
func NewWebhookHandler(processor Processor, verifier CallbackVerifier, dedupe idempotency.Manager, token string, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}

	return &WebhookHandler{
		processor: processor,
		verifier:  verifier,
		dedupe:    dedupe,
		token:     token,
		log:       log.With(slog.String("component", "webhook")),
	}
}

type paymentWebhookRequest struct {
	Type       string             `json:"type"`
	CardNumber flexString         `json:"card_number"`
	Data       paymentWebhookData `json:"data"`
}

type paymentWebhookData struct {
	PayerPhone         flexString          `json:"telefono_origen"`
	Sender             flexString          `json:"remitente"`
	Amount             decimal.NullDecimal `json:"monto"`
	DestinationAccount flexString          `json:"tarjeta_destino"`
	TransID            flexString          `json:"trans_id"`
}

type heleketWebhookRequest struct {
	InvoiceID string `json:"invoice_id"`
	Status    string `json:"status"`
}

type webhookResponse struct {
	Status string `json:"status"`
}

// Payment handles POST /payment-webhook.
func (h *WebhookHandler) Payment(c *gin.Context) {
	token := c.GetHeader("X-Auth-Token")
	if h.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		metrics.RecordWebhookEvent("forwarder", "unauthorized")
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
		return
	}

	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "No data"})
		return
	}

	ctx := c.Request.Context()
	switch req.Type {
	case EventCardTransfer:
		ev := payment.CardEvent{
			PayerPhone:         req.Data.PayerPhone.String(),
			DestinationAccount: firstNonEmpty(req.Data.DestinationAccount.String(), req.CardNumber.String()),
			SettlementRef:      strings.TrimSpace(req.Data.TransID.String()),
		}
		if req.Data.Amount.Valid {
			ev.Amount = req.Data.Amount.Decimal
		}
		h.respond(c, payment.RailCard, ev.SettlementRef, func(ctx context.Context) (payment.Outcome, error) {
			return h.processor.HandleCard(ctx, ev)
		})
	case EventMobileBalance:
		ev := payment.MobileEvent{
			SenderPhone:   req.Data.Sender.String(),
			SettlementRef: strings.TrimSpace(req.Data.TransID.String()),
		}
		if req.Data.Amount.Valid {
			ev.Amount = req.Data.Amount.Decimal
		}
		h.respond(c, payment.RailMobile, ev.SettlementRef, func(ctx context.Context) (payment.Outcome, error) {
			return h.processor.HandleMobile(ctx, ev)
		})
	default:
		h.log.WarnContext(ctx, "unknown webhook event type", slog.String("type", req.Type))
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "Unknown type"})
	}
}

// Heleket handles POST /heleket-webhook.
func (h *WebhookHandler) Heleket(c *gin.Context) {
	if h.verifier == nil || !h.verifier.VerifyCallback(c.GetHeader("Authorization")) {
		metrics.RecordWebhookEvent(payment.RailCrypto, "unauthorized")
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
		return
	}

	var req heleketWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "No data"})
		return
	}

	ev := payment.CryptoEvent{InvoiceID: strings.TrimSpace(req.InvoiceID), Status: req.Status}
	if ev.InvoiceID == "" {
		c.JSON(http.StatusOK, webhookResponse{Status: payment.OutcomeIgnored})
		return
	}

	// status is part of the key so a "paid" callback is not answered from an earlier "pending" one
	h.respond(c, payment.RailCrypto, ev.InvoiceID+"/"+strings.ToLower(ev.Status), func(ctx context.Context) (payment.Outcome, error) {
		return h.processor.HandleCrypto(ctx, ev)
	})
}

// respond runs process at most once per rail reference while its record lives. The
// ticket CAS keeps redeliveries safe when the dedupe store is unavailable.
func (h *WebhookHandler) respond(c *gin.Context, rail, ref string, process func(context.Context) (payment.Outcome, error)) {
	ctx := c.Request.Context()

	outcome, err := h.process(ctx, rail, ref, process)
	if err != nil {
		h.log.ErrorContext(ctx, "webhook processing failed", slog.String("rail", rail), slog.Any("error", err))
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: internalErrorMessage})
		return
	}

	c.JSON(http.StatusOK, webhookResponse{Status: outcome.Status})
}

func (h *WebhookHandler) process(ctx context.Context, rail, ref string, process func(context.Context) (payment.Outcome, error)) (payment.Outcome, error) {
	if h.dedupe == nil || ref == "" {
		return process(ctx)
	}

	var outcome payment.Outcome
	ran := false
	result, err := h.dedupe.Execute(ctx, idempotency.GenerateKey(rail, ref), DeliveryTTL, func(ctx context.Context) (any, error) {
		ran = true
		o, err := process(ctx)
		outcome = o
		return o, err
	})

	switch {
	case err == nil && result.FromCache:
		metrics.RecordWebhookEvent(rail, "replayed")
		if decodeErr := result.Decode(&outcome); decodeErr != nil {
			return payment.Outcome{}, decodeErr
		}
		return outcome, nil
	case err == nil:
		return outcome, nil
	case ran:
		return outcome, err
	case errors.Is(err, idempotency.ErrRequestInProgress):
		h.log.InfoContext(ctx, "concurrent delivery in progress, processing anyway", slog.String("rail", rail))
		return process(ctx)
	default:
		h.log.WarnContext(ctx, "dedupe store unavailable", slog.String("rail", rail), slog.Any("error", err))
		return process(ctx)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
