package handlers

import (
	"context"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/keyboard"
)

// NewDefaultHandler answers text that no command or state claimed. A link sent by
// an account with no downloads left is told about the quota instead.
func NewDefaultHandler(accounts Accounts, kb *keyboard.Builder) Handler {
	return func(c telebot.Context) error {
		t := kb.Translator()

		if sender := c.Sender(); sender != nil && looksLikeLink(c.Text()) {
			account, err := accounts.Profile(context.Background(), sender.ID)
			if err != nil {
				return err
			}
			if account.RemainingQuota() == 0 {
				return c.Send(t.T("bot.quota_exhausted"))
			}
		}

		return c.Send(t.T("bot.unknown"), keyboard.MainMenu(t))
	}
}

func looksLikeLink(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://")
}
