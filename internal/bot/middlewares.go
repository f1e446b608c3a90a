package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/handlers"
	errors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/internal/i18n"
	"github.com/Proton-105/vidbot/internal/middleware"
)

// RecoveryMiddleware catches panics, reports them via the centralized handler, and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *errors.Handler, t i18n.Translator) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))

					if errHandler != nil {
						errHandler.Handle(context.Background(), fmt.Errorf("panic recovered: %v", r))
					}

					if c != nil {
						if sendErr := c.Send(t.T("bot.error")); sendErr != nil {
							log.Error("failed to notify user about panic", slog.Any("error", sendErr))
						}
					}

					err = nil
				}
			}()

			return next(c)
		}
	}
}

// ErrorHandlingMiddleware reports handler failures and answers the user. Application
// errors carry their own message; anything else gets the generic one.
func ErrorHandlingMiddleware(errHandler *errors.Handler, t i18n.Translator) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			userMsg := t.T("bot.error")
			if errHandler != nil {
				msg, _ := errHandler.Handle(context.Background(), err)
				if errors.CodeOf(err) != "" && msg != "" {
					userMsg = msg
				}
			}

			if c != nil {
				if c.Callback() != nil {
					_ = c.Respond(&telebot.CallbackResponse{Text: userMsg})
				} else {
					_ = c.Send(userMsg)
				}
			}

			return nil
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming updates.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			start := time.Now()
			userID := int64(0)
			if c.Sender() != nil {
				userID = c.Sender().ID
			}
			action := middleware.CommandName(c)

			log.Debug("handling update", slog.Int64("user_id", userID), slog.String("action", action))
			err := next(c)

			level := slog.LevelInfo
			if err != nil {
				level = slog.LevelWarn
			}
			log.Log(context.Background(), level, "handled update",
				slog.Int64("user_id", userID),
				slog.String("action", action),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)

			return err
		}
	}
}

// AuthMiddleware makes sure every sender has an account before a handler runs. A
// /start deep link is passed through so the referrer is linked on first contact.
func AuthMiddleware(accounts handlers.Accounts, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			sender := c.Sender()
			if accounts == nil || sender == nil || sender.IsBot {
				return next(c)
			}

			payload := ""
			if middleware.CommandName(c) == CommandStart {
				if fields := strings.Fields(c.Text()); len(fields) > 1 {
					payload = fields[1]
				}
			}

			if _, _, err := accounts.GetOrCreate(context.Background(), sender, payload); err != nil {
				log.Error("failed to resolve account", slog.Int64("user_id", sender.ID), slog.Any("error", err))
				return err
			}

			return next(c)
		}
	}
}
