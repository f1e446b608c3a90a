package notify

import (
	"context"
	"errors"
	"fmt"

	telebot "gopkg.in/telebot.v3"
)

// Messenger is the subset of *telebot.Bot used for delivery.
type Messenger interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelegramSender delivers messages through the Bot API.
type TelegramSender struct {
	bot Messenger
}

// NewTelegramSender wraps bot.
func NewTelegramSender(bot Messenger) *TelegramSender {
	return &TelegramSender{bot: bot}
}

// Send delivers text as Markdown. Chats that can never receive messages yield ErrPermanent.
func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.bot.Send(telebot.ChatID(chatID), text, telebot.ModeMarkdown)
	if err == nil {
		return nil
	}

	if errors.Is(err, telebot.ErrBlockedByUser) || errors.Is(err, telebot.ErrChatNotFound) || errors.Is(err, telebot.ErrUserIsDeactivated) {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return fmt.Errorf("send telegram message: %w", err)
}
