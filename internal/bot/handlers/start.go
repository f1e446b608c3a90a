package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/keyboard"
	"github.com/Proton-105/vidbot/internal/state"
)

// NewStartHandler registers the sender on first contact, linking a referrer from a
// "/start ref_<code>" payload, resets any purchase in progress and shows the welcome text.
func NewStartHandler(accounts Accounts, fsm state.StateMachine, kb *keyboard.Builder, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			log.Warn("start handler invoked without sender")
			return nil
		}

		ctx := context.Background()
		account, created, err := accounts.GetOrCreate(ctx, sender, startPayload(c.Text()))
		if err != nil {
			return err
		}

		if err := fsm.ClearState(ctx, sender.ID); err != nil {
			log.Warn("failed to reset purchase state", slog.Int64("user_id", sender.ID), slog.Any("error", err))
		}

		if created {
			log.Info("new user started the bot", slog.Int64("user_id", sender.ID))
		}

		t := kb.Translator()
		vars := quotaVars(t, account)
		vars["promo"] = promoBanner(t, account, time.Now())

		return c.Send(t.F("bot.welcome", vars), telebot.ModeMarkdown, keyboard.MainMenu(t))
	}
}

// startPayload returns the deep-link parameter of a /start command.
func startPayload(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
