package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/handlers"
	"github.com/Proton-105/vidbot/internal/bot/keyboard"
	"github.com/Proton-105/vidbot/pkg/metrics"
)

// Metrics measures execution time and status for bot handlers, reporting them to Prometheus.
func Metrics(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordCommand(CommandName(c), status, time.Since(start))

		return err
	}
}

// HTTPMetrics records request counts and latency by route template, so path
// parameters such as chat ids do not explode the label set.
func HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// CommandName reduces an update to a low-cardinality label: the command without
// slash, mention and arguments, the callback action, or "text".
func CommandName(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil {
		unique, _, err := keyboard.DecodeCallback(strings.TrimSpace(cb.Data))
		if err != nil || unique == "" {
			return "callback"
		}
		return unique
	}

	text := strings.TrimSpace(c.Text())
	if text == "" {
		return "unknown"
	}
	if !strings.HasPrefix(text, "/") {
		return "text"
	}

	cmd := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "unknown"
	}
	return strings.ToLower(cmd)
}
