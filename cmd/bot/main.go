package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"

	"github.com/Proton-105/vidbot/internal/account"
	"github.com/Proton-105/vidbot/internal/api"
	"github.com/Proton-105/vidbot/internal/api/handler"
	"github.com/Proton-105/vidbot/internal/bot"
	"github.com/Proton-105/vidbot/internal/database"
	"github.com/Proton-105/vidbot/internal/health"
	"github.com/Proton-105/vidbot/internal/i18n"
	"github.com/Proton-105/vidbot/internal/idempotency"
	"github.com/Proton-105/vidbot/internal/jobs"
	jobhandlers "github.com/Proton-105/vidbot/internal/jobs/handlers"
	"github.com/Proton-105/vidbot/internal/lifecycle"
	"github.com/Proton-105/vidbot/internal/middleware"
	"github.com/Proton-105/vidbot/internal/notify"
	"github.com/Proton-105/vidbot/internal/payment"
	"github.com/Proton-105/vidbot/internal/promo"
	"github.com/Proton-105/vidbot/internal/rails/heleket"
	"github.com/Proton-105/vidbot/internal/ratelimit"
	"github.com/Proton-105/vidbot/internal/repository"
	"github.com/Proton-105/vidbot/internal/state"
	"github.com/Proton-105/vidbot/internal/usercache"
	"github.com/Proton-105/vidbot/migrations"
	"github.com/Proton-105/vidbot/pkg/config"
	"github.com/Proton-105/vidbot/pkg/graceful"
	"github.com/Proton-105/vidbot/pkg/logger"
	"github.com/Proton-105/vidbot/pkg/metrics"
	redisclient "github.com/Proton-105/vidbot/pkg/redis"
)

const (
	stateCleanupInterval     = 10 * time.Minute
	rateLimitCleanupInterval = 5 * time.Minute
	rateLimitMaxAge          = time.Hour
	stateMetricsInterval     = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("vidbot stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, v, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: firstNonEmpty(cfg.Sentry.Environment, cfg.AppEnv),
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)
	log.Info("starting vidbot",
		slog.String("bot_mode", cfg.Bot.Mode),
		slog.String("http_port", cfg.Server.Port),
		slog.String("log_level", cfg.Logger.Level),
	)

	config.Watch(v, log, func(next *config.Config) {
		if err := logger.SetLevel(next.Logger.Level); err != nil {
			log.Warn("ignoring log level change", slog.Any("error", err))
		}
	})

	shutdown := lifecycle.NewShutdown(log)

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })

	applied, err := database.NewMigrator(db, log).ApplyFS(ctx, migrations.FS, ".")
	if err != nil {
		_ = shutdown.Execute(context.Background())
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database migrations applied", slog.Int("applied", applied))

	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		_ = shutdown.Execute(context.Background())
		return err
	}
	shutdown.Register("redis", func(context.Context) error { return rdb.Close() })

	messages, err := i18n.LoadFromDir(cfg.I18n.Dir, cfg.I18n.DefaultLang)
	if err != nil {
		_ = shutdown.Execute(context.Background())
		return fmt.Errorf("load translations: %w", err)
	}
	translator := messages.Default()

	store := repository.NewStore(db, log)
	cache := usercache.NewCache(redisclient.NewMetricsClient(rdb), usercache.DefaultTTL)
	accounts := account.NewService(store.Accounts(), cache, account.Options{
		PromoWindow: cfg.Payments.PromoWindow,
		BotUsername: cfg.Bot.Username,
	}, log)

	gateway := heleket.New(cfg.Heleket, cfg.Payments, log)
	tickets := payment.NewTicketService(store, gateway, payment.Receivers{
		CardNumber:   cfg.Payments.CardNumber,
		MobileNumber: cfg.Payments.MobileNumber,
	}, log)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	queue := jobs.NewManager(redisOpt, log)
	shutdown.Register("asynq client", func(context.Context) error { return queue.Close() })
	notifier := notify.NewQueueNotifier(queue, jobs.NotifyOptions{
		MaxRetry: cfg.Jobs.NotifyMaxRetry,
		Timeout:  cfg.Jobs.NotifyTimeout,
	}, log)

	coordinator := payment.NewCoordinator(store, notifier, translator, log,
		payment.WithAdminChat(cfg.Payments.AdminChatID),
		payment.WithAccountCache(cache),
	)
	processor := payment.NewProcessor(payment.NewMatcher(store.Tickets(), log), coordinator, log)
	stats := payment.NewStatsService(store)

	dedupe := idempotency.NewManager(idempotency.NewRedisStore(rdb.Client, log), log)

	memoryLimiter := ratelimit.NewMemoryLimiter()
	limiter := ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb.Client, log), memoryLimiter, log)
	rules := ratelimit.NewRules(cfg.RateLimit)

	fsm := state.NewStateMachine(state.NewRedisStorage(rdb.Client, log), log, rdb.Client)

	telegram, err := bot.New(*cfg, log, bot.Deps{
		FSM:         fsm,
		Idempotency: dedupe,
		RateLimit:   middleware.NewRateLimitMiddleware(limiter, rules, log),
		Accounts:    accounts,
		Tickets:     tickets,
		Translator:  translator,
	})
	if err != nil {
		_ = shutdown.Execute(context.Background())
		return err
	}

	worker := jobs.NewWorker(redisOpt, jobs.Queues, cfg.Jobs.Concurrency, log)
	worker.RegisterHandler(jobs.TaskTypeNotify, jobhandlers.NewNotificationHandler(notify.NewTelegramSender(telegram.Telebot()), log))
	worker.RegisterHandler(jobs.TaskTypePromoSweep, jobhandlers.NewPromoSweepHandler(
		promo.NewSweeper(store.Accounts(), notifier, translator, log), log))

	scheduler := jobs.NewScheduler(redisOpt, cfg.Jobs.PromoSweepCron, log)
	if err := scheduler.RegisterTasks(); err != nil {
		_ = shutdown.Execute(context.Background())
		return fmt.Errorf("register scheduled tasks: %w", err)
	}

	checker := health.NewChecker(log)
	checker.AddCheck("postgres", health.NewDBChecker(db))
	checker.AddCheck("redis", health.NewRedisChecker(rdb.Client))
	checker.AddCheck("telegram", health.NewTelegramChecker(telegram.Telebot()))
	probes := lifecycle.NewProbes(checker, log)

	router := api.NewRouter(
		handler.NewWebhookHandler(processor, gateway, dedupe, cfg.Payments.WebhookToken, log),
		handler.NewWebAppHandler(accounts, tickets, log),
		handler.NewAdminHandler(stats),
		handler.NewSystemHandler(probes),
		limiter,
		rules,
		telegram.WebhookHandler(),
		*cfg,
		log,
	)

	server := graceful.NewServer(log, &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.Server.ShutdownTimeout).BeforeShutdown(probes.Drain)

	// Hooks run in reverse: stop intake first, then background work, then connections.
	shutdown.Register("scheduler", func(context.Context) error {
		scheduler.Shutdown()
		return nil
	})
	shutdown.Register("worker", func(context.Context) error {
		worker.Shutdown()
		return nil
	})
	shutdown.Register("telegram", func(context.Context) error {
		telegram.Stop()
		return nil
	})

	background, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	go state.NewCleaner(fsm, log, state.DefaultStateTTL, stateCleanupInterval).Run(background)
	go ratelimit.NewCleaner(rdb.Client, memoryLimiter, log, rateLimitCleanupInterval, rateLimitMaxAge).Run(background)
	go metrics.NewStateCollector(fsm, stateMetricsInterval).Run(background)

	go func() {
		if err := worker.Run(); err != nil {
			log.Error("jobs worker stopped", slog.Any("error", err))
		}
	}()
	scheduler.Run()
	go telegram.Start()

	serveErr := server.ListenAndServe(ctx)
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		log.Error("http server failed", slog.Any("error", serveErr))
	}

	cancelBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
	}

	log.Info("vidbot stopped")
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
