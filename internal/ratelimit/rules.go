package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/Proton-105/vidbot/pkg/config"
)

// Rule is a resolved limit over a window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Rules resolves configured limits for bot updates and webhook endpoints.
type Rules struct {
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// Enabled reports whether limiting is switched on.
func (r *Rules) Enabled() bool {
	return r != nil && r.config.Enabled
}

// IsWhitelisted returns true if the userID bypasses rate limits.
func (r *Rules) IsWhitelisted(userID int64) bool {
	for _, id := range r.config.Whitelist {
		if id == userID {
			return true
		}
	}
	return false
}

// CommandBucket folds the steps of the purchase flow into the buy bucket so they share one counter.
func CommandBucket(command string) string {
	switch command {
	case "plans", "plan", "method":
		return "buy"
	default:
		return command
	}
}

// Command returns the rule of a bot command. Commands without their own rule report ok=false.
func (r *Rules) Command(command string) (Rule, bool, error) {
	var rule config.RateLimitRule
	switch CommandBucket(command) {
	case "buy":
		rule = r.config.Commands.Buy
	case "cancel":
		rule = r.config.Commands.Cancel
	case "payments":
		rule = r.config.Commands.Payments
	default:
		return Rule{}, false, nil
	}

	parsed, err := parseRule(rule)
	if err != nil {
		return Rule{}, false, fmt.Errorf("command %s: %w", command, err)
	}
	return parsed, true, nil
}

// Global returns the limit shared by every update.
func (r *Rules) Global() (Rule, error) {
	return parseRule(r.config.Global)
}

// PerUser returns the limit applied to each chat.
func (r *Rules) PerUser() (Rule, error) {
	return parseRule(r.config.PerUser)
}

// Webhook returns the limit applied to each remote address on webhook endpoints.
func (r *Rules) Webhook() (Rule, error) {
	return parseRule(r.config.Webhook)
}

// UserKey is the limiter key of a chat, optionally scoped to one command.
func UserKey(userID int64, command string) string {
	if command == "" {
		return fmt.Sprintf("user:%d", userID)
	}
	return fmt.Sprintf("user:%d:%s", userID, command)
}

// WebhookKey is the limiter key of a remote address on one route.
func WebhookKey(route, remoteAddr string) string {
	return "webhook:" + route + ":" + remoteAddr
}

func parseRule(rule config.RateLimitRule) (Rule, error) {
	if rule.Window == "" {
		return Rule{}, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return Rule{}, err
	}
	if window <= 0 || rule.Limit <= 0 {
		return Rule{}, fmt.Errorf("invalid rule %d/%s", rule.Limit, rule.Window)
	}
	return Rule{Limit: rule.Limit, Window: window}, nil
}
