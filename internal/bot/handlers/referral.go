package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/keyboard"
)

// NewReferralHandler shows the sender's referral code and share link.
func NewReferralHandler(accounts Accounts, kb *keyboard.Builder) Handler {
	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}

		ref, err := accounts.Referral(context.Background(), sender.ID)
		if err != nil {
			return err
		}

		link := ref.Link
		if link == "" {
			link = "-"
		}
		return c.Send(kb.Translator().F("bot.referral", map[string]string{
			"code": ref.Code,
			"link": escapeMarkdown(link),
		}), telebot.ModeMarkdown, telebot.NoPreview)
	}
}
