package handlers

import (
	"context"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/keyboard"
	"github.com/Proton-105/vidbot/internal/state"
)

// NewCancelHandler abandons the purchase conversation and cancels the sender's pending
// ticket. It serves both /cancel and the cancel_ticket button.
func NewCancelHandler(tickets Tickets, fsm state.StateMachine, kb *keyboard.Builder, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("cancel handler invoked without sender context")
			return nil
		}

		if c.Callback() != nil {
			if err := c.Respond(); err != nil {
				log.Warn("failed to answer callback", slog.Any("error", err))
			}
		}

		ctx := context.Background()
		userID := sender.ID

		if err := fsm.ClearState(ctx, userID); err != nil {
			log.Error("failed to clear user state", slog.Int64("user_id", userID), slog.Any("error", err))
			return err
		}

		n, err := tickets.Cancel(ctx, userID)
		if err != nil {
			return err
		}

		t := kb.Translator()
		if n == 0 {
			return c.Send(t.T("bot.nothing_to_cancel"), keyboard.MainMenu(t))
		}
		return c.Send(t.T("bot.cancelled"), keyboard.MainMenu(t))
	}
}
