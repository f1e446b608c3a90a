package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// DefaultUserMessage is shown when an error carries no text meant for users.
const DefaultUserMessage = "Ocurrió un error. Inténtalo más tarde"

// Handler logs errors at a level derived from their severity, reports severe ones to
// Sentry, and returns the text that may be shown to the user.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, sentryEnabled: sentryEnabled}
}

// Handle reports err and returns its user message and whether retrying may help.
// Cancellations are logged at debug and never reported.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if errors.Is(err, context.Canceled) {
		h.log.DebugContext(ctx, "operation cancelled", slog.Any("error", err))
		return DefaultUserMessage, true
	}

	var appErr *AppError
	if !errors.As(err, &appErr) || appErr == nil {
		h.log.ErrorContext(ctx, "unclassified error", slog.Any("error", err))
		h.report(err, "", SeverityHigh)
		return DefaultUserMessage, false
	}

	h.log.LogAttrs(ctx, levelFor(appErr.Severity), "application error",
		slog.String("code", appErr.Code),
		slog.String("message", appErr.Message),
		slog.String("severity", string(appErr.Severity)),
		slog.Bool("retryable", appErr.Retryable),
	)
	if appErr.Severity == SeverityCritical || appErr.Severity == SeverityHigh {
		h.report(err, appErr.Code, appErr.Severity)
	}

	if appErr.UserMessage == "" {
		return DefaultUserMessage, appErr.Retryable
	}
	return appErr.UserMessage, appErr.Retryable
}

func (h *Handler) report(err error, code string, severity Severity) {
	if !h.sentryEnabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		if code != "" {
			scope.SetTag("code", code)
		}
		scope.SetTag("severity", string(severity))
		sentry.CaptureException(err)
	})
}

func levelFor(severity Severity) slog.Level {
	switch severity {
	case SeverityLow:
		return slog.LevelInfo
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
