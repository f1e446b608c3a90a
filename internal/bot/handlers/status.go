package handlers

import (
	"context"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/keyboard"
)

// NewStatusHandler returns a handler for the /status command.
func NewStatusHandler(accounts Accounts, kb *keyboard.Builder, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}

		account, err := accounts.Profile(context.Background(), sender.ID)
		if err != nil {
			log.Error("failed to load account status", slog.Int64("user_id", sender.ID), slog.Any("error", err))
			return err
		}

		t := kb.Translator()
		return c.Send(t.F("bot.status", quotaVars(t, account)), telebot.ModeMarkdown)
	}
}
