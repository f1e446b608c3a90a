package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/vidbot/internal/domain"
	"github.com/Proton-105/vidbot/internal/payment"
)

const maxPendingListed = 500

// Stats supplies the admin overview.
type Stats interface {
	Collect(ctx context.Context) (*payment.Stats, error)
	PendingTickets(ctx context.Context, limit int) ([]*domain.Ticket, error)
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	stats Stats
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(stats Stats) *AdminHandler {
	return &AdminHandler{stats: stats}
}

// AdminAuth rejects requests whose X-Admin-Token differs from token. An empty
// token closes the admin API.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
			return
		}
		c.Next()
	}
}

type statsResponse struct {
	TotalUsers     int64                      `json:"total_users"`
	PendingTickets int64                      `json:"pending_tickets"`
	TodayIncome    map[string]decimal.Decimal `json:"today_income"`
	WeekIncome     map[string]decimal.Decimal `json:"week_income"`
	MonthIncome    map[string]decimal.Decimal `json:"month_income"`
}

// TicketView is the JSON form of a ticket.
type TicketView struct {
	ID          int64           `json:"id"`
	ChatID      int64           `json:"chat_id"`
	Plan        domain.Plan     `json:"plan"`
	Method      domain.Method   `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      domain.Status   `json:"status"`
	Phone       string          `json:"phone,omitempty"`
	Destination string          `json:"destination,omitempty"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewTicketView flattens a ticket and its rail attributes.
func NewTicketView(t *domain.Ticket) TicketView {
	v := TicketView{
		ID:        t.ID,
		ChatID:    t.OwnerID,
		Plan:      t.Plan,
		Method:    t.Method,
		Amount:    t.Amount,
		Currency:  t.Currency,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
	}

	switch attrs := t.Attributes.(type) {
	case domain.CardAttributes:
		v.Phone, v.Destination = attrs.PayerPhone, attrs.DestinationAccount
	case domain.MobileBalanceAttributes:
		v.Phone = attrs.SenderPhone
	case domain.CryptoAttributes:
		v.InvoiceID, v.Destination = attrs.InvoiceID, attrs.PayAddress
	}
	return v
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.stats.Collect(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, statsResponse{
		TotalUsers:     stats.Users,
		PendingTickets: stats.Pending,
		TodayIncome:    stats.IncomeToday,
		WeekIncome:     stats.IncomeWeek,
		MonthIncome:    stats.IncomeMonth,
	})
}

// PendingPayments handles GET /api/admin/pending-payments?limit=N.
func (h *AdminHandler) PendingPayments(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "limit inválido"})
		return
	}
	limit = min(limit, maxPendingListed)

	tickets, err := h.stats.PendingTickets(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	views := make([]TicketView, 0, len(tickets))
	for _, t := range tickets {
		views = append(views, NewTicketView(t))
	}
	c.JSON(http.StatusOK, views)
}
