package keyboard

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/domain"
	"github.com/Proton-105/vidbot/internal/i18n"
)

// Callback actions of the purchase flow.
const (
	ActionPlan         = "plan"
	ActionMethod       = "method"
	ActionCancelTicket = "cancel_ticket"
	ActionPayments     = "payments"
	ActionBack         = "back"
)

// Builder creates the inline keyboards of the purchase flow.
type Builder struct {
	t   i18n.Translator
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(t i18n.Translator, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{t: t, log: log}
}

// Translator returns the catalog the builder labels buttons with.
func (b *Builder) Translator() i18n.Translator {
	return b.t
}

// Plans offers the purchasable plans.
func (b *Builder) Plans() *telebot.ReplyMarkup {
	return b.build(NewInlineKeyboard().AddRow(
		b.button("bot.button.basic", ActionPlan, string(domain.PlanBasic)),
		b.button("bot.button.premium", ActionPlan, string(domain.PlanPremium)),
	))
}

// Methods offers the settlement rails, one per row.
func (b *Builder) Methods() *telebot.ReplyMarkup {
	return b.build(NewInlineKeyboard().
		AddRow(b.button("bot.button.card", ActionMethod, string(domain.MethodCard))).
		AddRow(b.button("bot.button.mobile_balance", ActionMethod, string(domain.MethodMobileBalance))).
		AddRow(b.button("bot.button.crypto", ActionMethod, string(domain.MethodCrypto))).
		AddRow(b.button("bot.button.back", ActionBack, "")),
	)
}

// CancelTicket offers to cancel the pending ticket.
func (b *Builder) CancelTicket() *telebot.ReplyMarkup {
	return b.build(NewInlineKeyboard().AddRow(b.button("bot.button.cancel_ticket", ActionCancelTicket, "")))
}

// Pages renders the pagination row of the payment history, or nil for a single page.
func (b *Builder) Pages(page, total int) *telebot.ReplyMarkup {
	if total <= 1 {
		return nil
	}
	return b.build(NewInlineKeyboard().AddRow(PaginationButtons(b.t, ActionPayments, page, total)...))
}

func (b *Builder) button(key, action, data string) InlineButton {
	return InlineButton{Text: translated(b.t, key, data), Unique: action, Data: data}
}

func (b *Builder) build(kb *InlineKeyboardBuilder) *telebot.ReplyMarkup {
	markup, err := kb.Build()
	if err != nil {
		b.log.Error("failed to build keyboard", slog.Any("error", err))
		return &telebot.ReplyMarkup{}
	}
	return markup
}
