package handlers

import (
	"context"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/keyboard"
)

const (
	paymentsHistoryLimit = 50
	paymentsPageSize     = 5
)

// NewPaymentsHandler lists the sender's tickets, newest first, five per page. The
// payments:<page> callback edits the list in place.
func NewPaymentsHandler(tickets Tickets, kb *keyboard.Builder) Handler {
	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}

		page := 1
		if cb := c.Callback(); cb != nil {
			if _, data, err := keyboard.DecodeCallback(cb.Data); err == nil {
				if n, err := strconv.Atoi(data); err == nil {
					page = n
				}
			}
		}

		history, err := tickets.History(context.Background(), sender.ID, paymentsHistoryLimit)
		if err != nil {
			return err
		}

		t := kb.Translator()
		if len(history) == 0 {
			return c.Send(t.T("bot.payments_empty"))
		}

		total := (len(history) + paymentsPageSize - 1) / paymentsPageSize
		page = min(max(page, 1), total)
		from := (page - 1) * paymentsPageSize
		to := min(from+paymentsPageSize, len(history))

		var b strings.Builder
		b.WriteString(t.T("bot.payments_header"))
		for _, ticket := range history[from:to] {
			b.WriteString("\n")
			b.WriteString(t.F("bot.payment_line", map[string]string{
				"ticket": strconv.FormatInt(ticket.ID, 10),
				"plan":   planName(t, ticket.Plan),
				"method": t.T("method." + string(ticket.Method)),
				"amount": t.Amount(ticket.Amount, ticket.Currency),
				"status": t.T("status." + string(ticket.Status)),
			}))
		}

		opts := []interface{}{telebot.ModeMarkdown}
		if markup := kb.Pages(page, total); markup != nil {
			opts = append(opts, markup)
		}

		if c.Callback() != nil {
			_ = c.Respond()
			return c.Edit(b.String(), opts...)
		}
		return c.Send(b.String(), opts...)
	}
}
