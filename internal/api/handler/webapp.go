package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/vidbot/internal/account"
	"github.com/Proton-105/vidbot/internal/domain"
	"github.com/Proton-105/vidbot/internal/payment"
	"github.com/Proton-105/vidbot/internal/repository"
)

// Accounts is the account service as seen by the web app.
type Accounts interface {
	Profile(ctx context.Context, accountID int64) (*domain.Account, error)
	ConsumeDownload(ctx context.Context, accountID int64) (*domain.Account, error)
}

// Tickets is the ticket service as seen by the web app.
type Tickets interface {
	Create(ctx context.Context, req payment.CreateRequest) (*payment.Created, error)
	Cancel(ctx context.Context, ownerID int64) (int64, error)
	Pending(ctx context.Context, ownerID int64) (*domain.Ticket, error)
	CheckInvoice(ctx context.Context, invoiceID string) (string, error)
}

// methodAliases accepts the rail names the web app was first written against.
var methodAliases = map[string]domain.Method{
	"tarjeta": domain.MethodCard,
	"saldo":   domain.MethodMobileBalance,
	"usdt":    domain.MethodCrypto,
}

// WebAppHandler serves the Telegram web app.
type WebAppHandler struct {
	accounts Accounts
	tickets  Tickets
	log      *slog.Logger
}

// NewWebAppHandler builds a WebAppHandler.
func NewWebAppHandler(accounts Accounts, tickets Tickets, log *slog.Logger) *WebAppHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebAppHandler{accounts: accounts, tickets: tickets, log: log}
}

type quotaResponse struct {
	Plan       domain.Plan `json:"plan"`
	VideosUsed int         `json:"videos_used"`
	Limit      int         `json:"limit"`
}

type createTicketRequest struct {
	ChatID int64  `json:"chat_id" binding:"required"`
	Plan   string `json:"plan" binding:"required"`
	Method string `json:"metodo" binding:"required"`
	Phone  string `json:"telefono"`
}

type createTicketResponse struct {
	Status   string          `json:"status"`
	TicketID int64           `json:"ticket_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type createInvoiceRequest struct {
	ChatID int64  `json:"chat_id" binding:"required"`
	Plan   string `json:"plan" binding:"required"`
}

type invoiceResponse struct {
	InvoiceID string          `json:"invoice_id"`
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
	Network   string          `json:"network"`
	Expires   time.Time       `json:"expires"`
}

type chatRequest struct {
	ChatID int64 `json:"chat_id" binding:"required"`
}

func toQuota(a *domain.Account) quotaResponse {
	return quotaResponse{Plan: a.Plan, VideosUsed: a.QuotaUsed, Limit: a.Plan.QuotaLimit()}
}

// User handles GET /api/user/:chat_id.
func (h *WebAppHandler) User(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	a, err := h.accounts.Profile(c.Request.Context(), chatID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "User not found"})
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuota(a))
}

// Pending handles GET /api/pending/:chat_id.
func (h *WebAppHandler) Pending(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	ticket, err := h.tickets.Pending(c.Request.Context(), chatID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"exists": ticket != nil})
}

// CreateTicket handles POST /api/create-payment-ticket.
func (h *WebAppHandler) CreateTicket(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "Faltan datos"})
		return
	}

	method := domain.Method(strings.ToLower(strings.TrimSpace(req.Method)))
	if alias, ok := methodAliases[string(method)]; ok {
		method = alias
	}

	created, err := h.tickets.Create(c.Request.Context(), payment.CreateRequest{
		OwnerID: req.ChatID,
		Plan:    domain.Plan(strings.ToLower(strings.TrimSpace(req.Plan))),
		Method:  method,
		Phone:   req.Phone,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, createTicketResponse{
		Status:   "ok",
		TicketID: created.Ticket.ID,
		Amount:   created.Ticket.Amount,
		Currency: created.Ticket.Currency,
	})
}

// CreateInvoice handles POST /api/create-invoice.
func (h *WebAppHandler) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "Faltan datos"})
		return
	}

	created, err := h.tickets.Create(c.Request.Context(), payment.CreateRequest{
		OwnerID: req.ChatID,
		Plan:    domain.Plan(strings.ToLower(strings.TrimSpace(req.Plan))),
		Method:  domain.MethodCrypto,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	invoice := created.Invoice
	c.JSON(http.StatusOK, invoiceResponse{
		InvoiceID: invoice.ID,
		Address:   invoice.Address,
		Amount:    created.Ticket.Amount,
		Network:   invoice.Network,
		Expires:   invoice.ExpiresAt,
	})
}

// CheckInvoice handles GET /api/check-invoice/:invoice_id.
func (h *WebAppHandler) CheckInvoice(c *gin.Context) {
	status, err := h.tickets.CheckInvoice(c.Request.Context(), c.Param("invoice_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	code := http.StatusOK
	if status == payment.InvoiceStatusNotFound {
		code = http.StatusNotFound
	}
	c.JSON(code, gin.H{"status": status})
}

// CancelRequest handles POST /api/cancel-request.
func (h *WebAppHandler) CancelRequest(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "Faltan datos"})
		return
	}

	n, err := h.tickets.Cancel(c.Request.Context(), req.ChatID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "cancelled": n})
}

// ConsumeDownload handles POST /api/consume-download. The media extractor calls it
// before fetching a link and refuses the download on 403.
func (h *WebAppHandler) ConsumeDownload(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "Faltan datos"})
		return
	}

	a, err := h.accounts.ConsumeDownload(c.Request.Context(), req.ChatID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, toQuota(a))
	case errors.Is(err, account.ErrQuotaExhausted):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Límite de descargas alcanzado", "quota": toQuota(a)})
	case errors.Is(err, repository.ErrAccountNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "User not found"})
	default:
		abortWithError(c, err)
	}
}
