package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cleaner periodically removes empty Redis windows and idle in-memory buckets.
type Cleaner struct {
	client   redis.Cmdable
	memory   *MemoryLimiter
	log      *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

// NewCleaner constructs a Cleaner. Either backend may be nil.
func NewCleaner(client redis.Cmdable, memory *MemoryLimiter, log *slog.Logger, interval, maxAge time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{client: client, memory: memory, log: log, interval: interval, maxAge: maxAge}
}

// Run starts the cleaner loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("rate limit cleaner stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleaner) cleanup(ctx context.Context) {
	removed := 0
	if c.memory != nil {
		removed += c.memory.Cleanup(c.maxAge)
	}
	if c.client != nil {
		removed += c.cleanupRedis(ctx)
	}

	if removed > 0 {
		c.log.Debug("rate limit keys cleaned", slog.Int("keys_removed", removed))
	}
}

// cleanupRedis deletes windows that have no hits left; Expire covers the rest.
func (c *Cleaner) cleanupRedis(ctx context.Context) int {
	const scanCount = 100
	cutoff := time.Now().Add(-c.maxAge).UnixMilli()

	removed := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", scanCount).Result()
		if err != nil {
			c.log.Error("rate limit scan failed", slog.Any("error", err))
			return removed
		}

		for _, key := range keys {
			if err := c.client.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
				c.log.Warn("failed to trim rate limit window", slog.String("key", key), slog.Any("error", err))
				continue
			}
			n, err := c.client.ZCard(ctx, key).Result()
			if err != nil || n > 0 {
				continue
			}
			if err := c.client.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}

		if next == 0 {
			return removed
		}
		cursor = next
	}
}
