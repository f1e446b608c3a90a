package handlers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/skip2/go-qrcode"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/keyboard"
	"github.com/Proton-105/vidbot/internal/domain"
	apperrors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/internal/payment"
	"github.com/Proton-105/vidbot/internal/state"
)

const qrSize = 256

// Purchase drives the plan, method and phone steps of buying a plan.
type Purchase struct {
	accounts Accounts
	tickets  Tickets
	fsm      state.StateMachine
	kb       *keyboard.Builder
	log      *slog.Logger
	now      func() time.Time
}

// NewPurchase wires the purchase conversation.
func NewPurchase(accounts Accounts, tickets Tickets, fsm state.StateMachine, kb *keyboard.Builder, log *slog.Logger) *Purchase {
	if log == nil {
		log = slog.Default()
	}

	return &Purchase{
		accounts: accounts,
		tickets:  tickets,
		fsm:      fsm,
		kb:       kb,
		log:      log.With(slog.String("component", "purchase")),
		now:      time.Now,
	}
}

// Plans lists the plans with the sender's prices, or points at the pending ticket.
func (p *Purchase) Plans(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx := context.Background()
	t := p.kb.Translator()

	pending, err := p.tickets.Pending(ctx, sender.ID)
	if err != nil {
		return err
	}
	if pending != nil {
		return c.Send(t.T("bot.pending_exists"), p.kb.CancelTicket())
	}

	account, err := p.accounts.Profile(ctx, sender.ID)
	if err != nil {
		return err
	}

	prices := payment.Prices(account.PromoActive(p.now()))
	vars := make(map[string]string, 6)
	for _, plan := range []domain.Plan{domain.PlanBasic, domain.PlanPremium} {
		for method, amount := range prices[plan] {
			key := string(plan) + "_" + shortMethod(method)
			vars[key] = t.Amount(amount, method.Currency())
		}
	}

	return c.Send(t.F("bot.plans", vars), telebot.ModeMarkdown, p.kb.Plans())
}

// ChoosePlan handles plan:<plan> and asks for a rail.
func (p *Purchase) ChoosePlan(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	respond(c, p.log)

	_, data, _ := keyboard.DecodeCallback(c.Callback().Data)
	plan := domain.Plan(data)
	t := p.kb.Translator()
	if !plan.Purchasable() {
		return c.Send(t.T("bot.expired_flow"))
	}

	ctx := context.Background()
	values := map[string]interface{}{state.KeyPlan: string(plan)}
	if err := p.fsm.TransitionTo(ctx, sender.ID, state.StateChoosingMethod, values); err != nil {
		if !errors.Is(err, state.ErrInvalidTransition) {
			return err
		}
		// A stale flow is restarted from the new plan choice.
		if err := p.fsm.SetState(ctx, sender.ID, state.StateChoosingMethod, values); err != nil {
			return err
		}
	}

	return c.Send(t.F("bot.choose_method", map[string]string{"plan": planName(t, plan)}), telebot.ModeMarkdown, p.kb.Methods())
}

// ChooseMethod handles method:<method>. Crypto creates the ticket at once; card and
// mobile balance first ask for the paying phone.
func (p *Purchase) ChooseMethod(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	respond(c, p.log)

	ctx := context.Background()
	t := p.kb.Translator()

	current, err := p.fsm.GetState(ctx, sender.ID)
	if err != nil {
		return err
	}
	plan := domain.Plan(current.String(state.KeyPlan))
	if current.CurrentState != state.StateChoosingMethod || !plan.Purchasable() {
		return c.Send(t.T("bot.expired_flow"))
	}

	_, data, _ := keyboard.DecodeCallback(c.Callback().Data)
	method := domain.Method(data)
	if !method.Valid() {
		return c.Send(t.T("bot.expired_flow"))
	}

	if method == domain.MethodCrypto {
		return p.createCrypto(c, sender.ID, plan)
	}

	account, err := p.accounts.Profile(ctx, sender.ID)
	if err != nil {
		return err
	}
	amount, err := payment.Price(plan, method, account.PromoActive(p.now()))
	if err != nil {
		return err
	}

	if err := p.fsm.TransitionTo(ctx, sender.ID, state.StateAwaitingPhone, map[string]interface{}{
		state.KeyMethod: string(method),
	}); err != nil {
		return err
	}

	receivers := p.tickets.Receivers()
	vars := map[string]string{
		"plan":   planName(t, plan),
		"amount": t.Amount(amount, method.Currency()),
	}
	key := "bot.card_instructions"
	if method == domain.MethodMobileBalance {
		key = "bot.mobile_instructions"
		vars["number"] = receivers.MobileNumber
	} else {
		vars["card"] = receivers.CardNumber
	}

	return c.Send(t.F(key, vars), telebot.ModeMarkdown, p.kb.CancelTicket())
}

// Back abandons the method choice and shows the plans again.
func (p *Purchase) Back(c telebot.Context) error {
	if sender := c.Sender(); sender != nil {
		respond(c, p.log)
		if err := p.fsm.ClearState(context.Background(), sender.ID); err != nil {
			p.log.Warn("failed to reset purchase state", slog.Int64("user_id", sender.ID), slog.Any("error", err))
		}
	}
	return p.Plans(c)
}

// Phone receives the paying phone in awaiting_phone and creates the ticket.
func (p *Purchase) Phone(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx := context.Background()
	t := p.kb.Translator()

	current, err := p.fsm.GetState(ctx, sender.ID)
	if err != nil {
		return err
	}
	plan := domain.Plan(current.String(state.KeyPlan))
	method := domain.Method(current.String(state.KeyMethod))
	if !plan.Purchasable() || !method.Valid() {
		p.clear(ctx, sender.ID)
		return c.Send(t.T("bot.expired_flow"))
	}

	created, err := p.tickets.Create(ctx, payment.CreateRequest{
		OwnerID: sender.ID,
		Plan:    plan,
		Method:  method,
		Phone:   c.Text(),
	})
	switch {
	case err == nil:
	case apperrors.CodeOf(err) == "E100":
		return c.Send(t.T("bot.invalid_phone"))
	case errors.Is(err, apperrors.ErrConflict):
		p.clear(ctx, sender.ID)
		return c.Send(t.T("bot.pending_exists"), p.kb.CancelTicket())
	default:
		return err
	}

	p.clear(ctx, sender.ID)
	return c.Send(t.F("bot.ticket_created", map[string]string{
		"ticket": strconv.FormatInt(created.Ticket.ID, 10),
	}), keyboard.MainMenu(t))
}

func (p *Purchase) createCrypto(c telebot.Context, userID int64, plan domain.Plan) error {
	ctx := context.Background()
	t := p.kb.Translator()

	created, err := p.tickets.Create(ctx, payment.CreateRequest{
		OwnerID: userID,
		Plan:    plan,
		Method:  domain.MethodCrypto,
	})
	if errors.Is(err, apperrors.ErrConflict) {
		p.clear(ctx, userID)
		return c.Send(t.T("bot.pending_exists"), p.kb.CancelTicket())
	}
	if err != nil {
		return err
	}
	p.clear(ctx, userID)

	invoice := created.Invoice
	amount := t.Amount(created.Ticket.Amount, created.Ticket.Currency)
	if err := c.Send(t.F("bot.crypto_instructions", map[string]string{
		"network": invoice.Network,
		"plan":    planName(t, plan),
		"amount":  amount,
		"address": invoice.Address,
		"invoice": invoice.ID,
	}), telebot.ModeMarkdown); err != nil {
		return err
	}

	png, err := qrcode.Encode(invoice.Address, qrcode.Medium, qrSize)
	if err != nil {
		p.log.Warn("failed to render invoice qr code", slog.String("invoice_id", invoice.ID), slog.Any("error", err))
		return nil
	}
	return c.Send(&telebot.Photo{
		File:    telebot.FromReader(bytes.NewReader(png)),
		Caption: t.F("bot.invoice_caption", map[string]string{"amount": amount}),
	}, p.kb.CancelTicket())
}

func (p *Purchase) clear(ctx context.Context, userID int64) {
	if err := p.fsm.ClearState(ctx, userID); err != nil {
		p.log.Warn("failed to reset purchase state", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func respond(c telebot.Context, log *slog.Logger) {
	if c.Callback() == nil {
		return
	}
	if err := c.Respond(); err != nil {
		log.Warn("failed to answer callback", slog.Any("error", err))
	}
}

// shortMethod names a rail the way the plans text placeholders do.
func shortMethod(m domain.Method) string {
	switch m {
	case domain.MethodMobileBalance:
		return "mobile"
	default:
		return string(m)
	}
}
