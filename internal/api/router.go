// Package api exposes the rail webhooks, the web app API, the admin API and the
// operational endpoints over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/vidbot/internal/api/handler"
	"github.com/Proton-105/vidbot/internal/middleware"
	"github.com/Proton-105/vidbot/internal/ratelimit"
	"github.com/Proton-105/vidbot/pkg/config"
)

// TelegramWebhookPath receives bot updates in webhook mode.
const TelegramWebhookPath = "/telegram/webhook"

// Router assembles the HTTP surface.
type Router struct {
	webhookHandler *handler.WebhookHandler
	webAppHandler  *handler.WebAppHandler
	adminHandler   *handler.AdminHandler
	systemHandler  *handler.SystemHandler
	limiter        middleware.RuleLimiter
	rules          *ratelimit.Rules
	telegram       http.Handler
	cfg            config.Config
	log            *slog.Logger
}

// NewRouter builds a Router. limiter and telegram may be nil.
func NewRouter(
	webhookHandler *handler.WebhookHandler,
	webAppHandler *handler.WebAppHandler,
	adminHandler *handler.AdminHandler,
	systemHandler *handler.SystemHandler,
	limiter middleware.RuleLimiter,
	rules *ratelimit.Rules,
	telegram http.Handler,
	cfg config.Config,
	log *slog.Logger,
) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		webhookHandler: webhookHandler,
		webAppHandler:  webAppHandler,
		adminHandler:   adminHandler,
		systemHandler:  systemHandler,
		limiter:        limiter,
		rules:          rules,
		telegram:       telegram,
		cfg:            cfg,
		log:            log,
	}
}

// Setup returns the configured engine.
func (r *Router) Setup() *gin.Engine {
	if r.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestLogger(r.log), middleware.HTTPMetrics(), gin.Recovery())
	if r.cfg.Server.MaxBodyBytes > 0 {
		engine.Use(limitBody(r.cfg.Server.MaxBodyBytes))
	}
	// preflight requests match no route, so CORS has to sit on the engine
	if len(r.cfg.Server.WebAppOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:  r.cfg.Server.WebAppOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"Content-Length", "X-Correlation-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}

	engine.GET("/healthz", r.systemHandler.Health)
	engine.GET("/livez", r.systemHandler.Live)
	engine.GET("/readyz", r.systemHandler.Ready)
	engine.GET("/keepalive", r.systemHandler.Keepalive)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhookLimit := middleware.WebhookRateLimit(r.limiter, r.rules, r.log)
	engine.POST("/payment-webhook", webhookLimit, r.webhookHandler.Payment)
	engine.POST("/heleket-webhook", webhookLimit, r.webhookHandler.Heleket)
	if r.telegram != nil {
		engine.POST(TelegramWebhookPath, gin.WrapH(r.telegram))
	}

	api := engine.Group("/api")
	{
		webapp := api.Group("")
		webapp.GET("/user/:chat_id", r.webAppHandler.User)
		webapp.GET("/pending/:chat_id", r.webAppHandler.Pending)
		webapp.POST("/create-payment-ticket", r.webAppHandler.CreateTicket)
		webapp.POST("/create-invoice", r.webAppHandler.CreateInvoice)
		webapp.GET("/check-invoice/:invoice_id", r.webAppHandler.CheckInvoice)
		webapp.POST("/cancel-request", r.webAppHandler.CancelRequest)
		webapp.POST("/consume-download", r.webAppHandler.ConsumeDownload)

		admin := api.Group("/admin")
		admin.Use(handler.AdminAuth(r.cfg.Payments.AdminToken))
		{
			admin.GET("/stats", r.adminHandler.Stats)
			admin.GET("/pending-payments", r.adminHandler.PendingPayments)
		}
	}

	return engine
}

// limitBody caps request bodies; oversized JSON fails to bind and answers 400.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
