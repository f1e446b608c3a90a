// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// env files are optional outside local development
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(fmt.Sprintf("./configs/%s.yaml", env))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

// Watch reloads the configuration file on change and hands the validated result to onChange.
// Invalid edits are logged and ignored.
func Watch(v *viper.Viper, log *slog.Logger, onChange func(*Config)) {
	if v == nil || onChange == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err != nil {
			log.Warn("ignoring invalid config change", slog.String("file", e.Name), slog.Any("error", err))
			return
		}

		log.Info("config reloaded", slog.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override values absent from the YAML file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("bot.token", "")
	v.SetDefault("bot.mode", "polling")
	v.SetDefault("bot.timeout", 10*time.Second)
	v.SetDefault("bot.username", "")
	v.SetDefault("bot.webhook_url", "")
	v.SetDefault("bot.webhook_secret", "")

	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", 65536)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrations_dir", "migrations")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.per_user.limit", 30)
	v.SetDefault("rate_limit.per_user.window", "1m")
	v.SetDefault("rate_limit.global.limit", 1000)
	v.SetDefault("rate_limit.global.window", "1m")
	v.SetDefault("rate_limit.webhook.limit", 120)
	v.SetDefault("rate_limit.webhook.window", "1m")
	v.SetDefault("rate_limit.commands.buy.limit", 5)
	v.SetDefault("rate_limit.commands.buy.window", "1m")
	v.SetDefault("rate_limit.commands.cancel.limit", 10)
	v.SetDefault("rate_limit.commands.cancel.window", "1m")
	v.SetDefault("rate_limit.commands.payments.limit", 10)
	v.SetDefault("rate_limit.commands.payments.window", "1m")

	v.SetDefault("payments.card_number", "")
	v.SetDefault("payments.mobile_number", "")
	v.SetDefault("payments.webhook_token", "")
	v.SetDefault("payments.admin_token", "")
	v.SetDefault("payments.admin_chat_id", 0)
	v.SetDefault("payments.promo_window", 24*time.Hour)
	v.SetDefault("payments.usdt_wallet", "")
	v.SetDefault("payments.usdt_network", "BEP20")
	v.SetDefault("payments.invoice_expiry", 30*time.Minute)

	v.SetDefault("heleket.base_url", "https://api.heleket.com")
	v.SetDefault("heleket.merchant_uuid", "")
	v.SetDefault("heleket.api_key", "")
	v.SetDefault("heleket.timeout", 10*time.Second)
	v.SetDefault("heleket.callback_url", "")

	v.SetDefault("jobs.concurrency", 10)
	v.SetDefault("jobs.promo_sweep_cron", "0 * * * *")
	v.SetDefault("jobs.notify_max_retry", 5)
	v.SetDefault("jobs.notify_timeout", 15*time.Second)

	v.SetDefault("i18n.dir", "")
	v.SetDefault("i18n.default_lang", "es")
}
