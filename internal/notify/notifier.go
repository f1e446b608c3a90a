// Package notify delivers user-facing messages outside the request path.
package notify

import (
	"context"
	"errors"
)

// ErrPermanent marks a delivery that can never succeed, such as a chat that blocked the bot.
var ErrPermanent = errors.New("permanent delivery failure")

// Notifier sends a text message to an account. Implementations must be safe for
// concurrent use. Callers treat failures as best effort.
type Notifier interface {
	Notify(ctx context.Context, ownerID int64, message string) error
}

// Sender performs the actual delivery of a message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ownerID int64, message string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ownerID int64, message string) error {
	return f(ctx, ownerID, message)
}

// Nop discards every message.
var Nop Notifier = NotifierFunc(func(context.Context, int64, string) error { return nil })
