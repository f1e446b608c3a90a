package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/handlers"
	"github.com/Proton-105/vidbot/internal/idempotency"
)

// UpdateTTL is how long a handled update is remembered.
const UpdateTTL = 24 * time.Hour

// Idempotency ensures handlers execute at most once per Telegram update, so a
// redelivered update cannot create a second ticket or resend instructions.
// When the store is unreachable the update is handled without the guard.
func Idempotency(manager idempotency.Manager, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler {
			return next
		}
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			key := updateKey(c)
			if key == "" {
				return next(c)
			}

			ran := false
			result, err := manager.Execute(context.Background(), key, UpdateTTL, func(context.Context) (any, error) {
				ran = true
				return true, next(c)
			})
			switch {
			case err == nil:
				if result != nil && result.FromCache {
					log.Debug("skipping redelivered update", slog.String("key", key))
				}
				return nil
			case errors.Is(err, idempotency.ErrRequestInProgress):
				return nil
			case ran:
				return err
			default:
				log.Warn("idempotency store unavailable, handling update unguarded", slog.String("key", key), slog.Any("error", err))
				return next(c)
			}
		}
	}
}

func updateKey(c telebot.Context) string {
	if c == nil {
		return ""
	}

	if id := c.Update().ID; id != 0 {
		return idempotency.GenerateKey("update", id)
	}

	if cb := c.Callback(); cb != nil && cb.ID != "" {
		return idempotency.GenerateKey("callback", cb.ID)
	}

	if msg := c.Message(); msg != nil && msg.ID != 0 {
		chatID := int64(0)
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		return idempotency.GenerateKey("message", chatID, msg.ID)
	}

	return ""
}
