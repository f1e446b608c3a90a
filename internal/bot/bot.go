package bot

import (
	"fmt"
	"log/slog"
	"net/http"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/handlers"
	"github.com/Proton-105/vidbot/internal/bot/keyboard"
	errors "github.com/Proton-105/vidbot/internal/errors"
	"github.com/Proton-105/vidbot/internal/i18n"
	"github.com/Proton-105/vidbot/internal/idempotency"
	"github.com/Proton-105/vidbot/internal/middleware"
	"github.com/Proton-105/vidbot/internal/state"
	"github.com/Proton-105/vidbot/pkg/config"
)

// Deps are the services the bot talks to.
type Deps struct {
	FSM         state.StateMachine
	Idempotency idempotency.Manager
	RateLimit   *middleware.RateLimitMiddleware
	Accounts    handlers.Accounts
	Tickets     handlers.Tickets
	Translator  i18n.Translator
}

// Bot wraps telebot.Bot with application dependencies required for handling updates.
type Bot struct {
	telebot    *telebot.Bot
	webhook    *telebot.Webhook
	log        *slog.Logger
	cfg        config.Config
	deps       Deps
	router     *Router
	dispatcher *Dispatcher
	keyboard   *keyboard.Builder
	errHandler *errors.Handler
}

// New builds a telegram bot instance configured according to the application settings.
func New(cfg config.Config, log *slog.Logger, deps Deps) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	settings := telebot.Settings{
		Token: cfg.Bot.Token,
		OnError: func(err error, c telebot.Context) {
			log.Error("telebot error", slog.Any("error", err))
		},
	}

	var webhook *telebot.Webhook
	if cfg.Bot.Mode == "webhook" {
		// Updates arrive through the HTTP server, see WebhookHandler.
		webhook = &telebot.Webhook{
			SecretToken: cfg.Bot.WebhookSecret,
			Endpoint:    &telebot.WebhookEndpoint{PublicURL: cfg.Bot.WebhookURL},
		}
		settings.Poller = webhook
	} else {
		settings.Poller = &telebot.LongPoller{Timeout: cfg.Bot.Timeout}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return newBot(tb, webhook, cfg, log, deps), nil
}

func newBot(tb *telebot.Bot, webhook *telebot.Webhook, cfg config.Config, log *slog.Logger, deps Deps) *Bot {
	dispatcher := NewDispatcher(deps.FSM, log)

	b := &Bot{
		telebot:    tb,
		webhook:    webhook,
		log:        log,
		cfg:        cfg,
		deps:       deps,
		router:     NewRouter(dispatcher, log),
		dispatcher: dispatcher,
		keyboard:   keyboard.NewBuilder(deps.Translator, log),
		errHandler: errors.NewHandler(log, cfg.Sentry.Enabled),
	}

	b.setupRouter()

	if tb != nil {
		if deps.RateLimit != nil {
			tb.Use(deps.RateLimit.Handle)
		}
		tb.Handle(telebot.OnText, b.router.Route)
		tb.Handle(telebot.OnCallback, b.router.Route)
	}

	return b
}

// Start publishes the command menu and runs the telegram bot event loop.
func (b *Bot) Start() {
	if b.telebot == nil {
		return
	}

	commands := make([]telebot.Command, 0, len(commandMenu))
	for _, c := range commandMenu {
		commands = append(commands, telebot.Command{Text: c.command, Description: c.description})
	}
	if err := b.telebot.SetCommands(commands); err != nil {
		b.log.Warn("failed to publish command menu", slog.Any("error", err))
	}

	b.telebot.Start()
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// WebhookHandler receives Telegram updates in webhook mode; nil in polling mode.
func (b *Bot) WebhookHandler() http.Handler {
	if b.webhook == nil {
		return nil
	}
	return b.webhook
}

func (b *Bot) setupRouter() {
	t := b.deps.Translator

	b.router.Use(RecoveryMiddleware(b.log, b.errHandler, t))
	b.router.Use(middleware.Idempotency(b.deps.Idempotency, b.log))
	b.router.Use(ErrorHandlingMiddleware(b.errHandler, t))
	b.router.Use(LoggingMiddleware(b.log))
	b.router.Use(AuthMiddleware(b.deps.Accounts, b.log))
	b.router.Use(middleware.Metrics)

	purchase := handlers.NewPurchase(b.deps.Accounts, b.deps.Tickets, b.deps.FSM, b.keyboard, b.log)
	cancel := handlers.NewCancelHandler(b.deps.Tickets, b.deps.FSM, b.keyboard, b.log)
	payments := handlers.NewPaymentsHandler(b.deps.Tickets, b.keyboard)

	b.router.RegisterCommand(CommandStart, handlers.NewStartHandler(b.deps.Accounts, b.deps.FSM, b.keyboard, b.log))
	b.router.RegisterCommand(CommandPlans, purchase.Plans)
	b.router.RegisterCommand(CommandBuy, purchase.Plans)
	b.router.RegisterCommand(CommandStatus, handlers.NewStatusHandler(b.deps.Accounts, b.keyboard, b.log))
	b.router.RegisterCommand(CommandCancel, cancel)
	b.router.RegisterCommand(CommandPayments, payments)
	b.router.RegisterCommand(CommandReferral, handlers.NewReferralHandler(b.deps.Accounts, b.keyboard))

	for label, cmd := range keyboard.MenuLabels(t) {
		b.router.RegisterText(label, cmd)
	}

	b.router.RegisterCallback(keyboard.ActionPlan, purchase.ChoosePlan)
	b.router.RegisterCallback(keyboard.ActionMethod, purchase.ChooseMethod)
	b.router.RegisterCallback(keyboard.ActionBack, purchase.Back)
	b.router.RegisterCallback(keyboard.ActionCancelTicket, handlers.CallbackHandler(cancel))
	b.router.RegisterCallback(keyboard.ActionPayments, handlers.CallbackHandler(payments))

	b.dispatcher.RegisterStateHandler(state.StateAwaitingPhone, purchase.Phone)

	b.router.SetDefault(handlers.NewDefaultHandler(b.deps.Accounts, b.keyboard))
}
