package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the vidbot service.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Bot       BotConfig       `mapstructure:"bot"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Heleket   HeleketConfig   `mapstructure:"heleket"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	I18n      I18nConfig      `mapstructure:"i18n"`
}

// LoggerConfig controls the slog handler chain.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

// BotConfig configures the Telegram bot.
type BotConfig struct {
	Token    string        `mapstructure:"token" validate:"required"`
	Mode     string        `mapstructure:"mode" validate:"omitempty,oneof=polling webhook"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Username string        `mapstructure:"username"`
	// WebhookURL is the public URL Telegram posts updates to in webhook mode.
	WebhookURL    string `mapstructure:"webhook_url" validate:"required_if=Mode webhook"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// ServerConfig configures the HTTP server that receives rail webhooks.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WebAppOrigins   []string      `mapstructure:"webapp_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	Host          string        `mapstructure:"host" validate:"required"`
	Port          string        `mapstructure:"port" validate:"required"`
	User          string        `mapstructure:"user" validate:"required"`
	Password      string        `mapstructure:"password"`
	Name          string        `mapstructure:"name" validate:"required"`
	SSLMode       string        `mapstructure:"sslmode"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	MaxIdleConns  int           `mapstructure:"max_idle_conns"`
	ConnMaxLife   time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir string        `mapstructure:"migrations_dir"`
}

// RedisConfig configures the Redis connection shared by FSM, idempotency, limiter and asynq.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// RateLimitRule is a limit per window, e.g. {30, "1m"}.
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

// CommandLimits holds per-command rules.
type CommandLimits struct {
	Buy      RateLimitRule `mapstructure:"buy"`
	Cancel   RateLimitRule `mapstructure:"cancel"`
	Payments RateLimitRule `mapstructure:"payments"`
}

// RateLimitConfig configures request limiting for bot updates and webhook endpoints.
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Global    RateLimitRule `mapstructure:"global"`
	PerUser   RateLimitRule `mapstructure:"per_user"`
	Webhook   RateLimitRule `mapstructure:"webhook"`
	Commands  CommandLimits `mapstructure:"commands"`
	Whitelist []int64       `mapstructure:"whitelist"`
}

// PaymentsConfig holds the receiving accounts and shared secrets of the informal rails.
type PaymentsConfig struct {
	CardNumber    string        `mapstructure:"card_number" validate:"required"`
	MobileNumber  string        `mapstructure:"mobile_number" validate:"required"`
	WebhookToken  string        `mapstructure:"webhook_token" validate:"required"`
	AdminToken    string        `mapstructure:"admin_token" validate:"required"`
	AdminChatID   int64         `mapstructure:"admin_chat_id"`
	PromoWindow   time.Duration `mapstructure:"promo_window"`
	USDTWallet    string        `mapstructure:"usdt_wallet"`
	USDTNetwork   string        `mapstructure:"usdt_network"`
	InvoiceExpiry time.Duration `mapstructure:"invoice_expiry"`
}

// HeleketConfig configures the crypto rail client.
type HeleketConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"omitempty,url"`
	MerchantUUID string        `mapstructure:"merchant_uuid"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CallbackURL  string        `mapstructure:"callback_url"`
}

// JobsConfig configures asynq queues.
type JobsConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	PromoSweepCron string        `mapstructure:"promo_sweep_cron"`
	NotifyMaxRetry int           `mapstructure:"notify_max_retry"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"`
}

// I18nConfig locates message catalogs.
type I18nConfig struct {
	Dir         string `mapstructure:"dir"`
	DefaultLang string `mapstructure:"default_lang"`
}

// GetDBConnectionString returns PostgreSQL DSN based on config values.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
