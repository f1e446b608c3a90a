// Package usercache caches account snapshots read by the bot and the web app.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/vidbot/internal/domain"
	redisclient "github.com/Proton-105/vidbot/pkg/redis"
)

// DefaultTTL bounds how stale a cached snapshot may get when an invalidation is lost.
const DefaultTTL = 5 * time.Minute

// Cache provides Redis-backed caching for account snapshots.
type Cache struct {
	kv  redisclient.KV
	ttl time.Duration
}

// NewCache constructs an account cache over kv. A non-positive ttl uses DefaultTTL.
func NewCache(kv redisclient.KV, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{kv: kv, ttl: ttl}
}

// Get fetches a cached account. A miss returns nil, nil.
func (c *Cache) Get(ctx context.Context, accountID int64) (*domain.Account, error) {
	if c == nil || c.kv == nil {
		return nil, nil
	}

	data, err := c.kv.Get(ctx, cacheKey(accountID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached account: %w", err)
	}

	var account domain.Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("decode cached account: %w", err)
	}

	return &account, nil
}

// Set stores the account snapshot.
func (c *Cache) Set(ctx context.Context, account *domain.Account) error {
	if c == nil || c.kv == nil || account == nil {
		return nil
	}

	payload, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account for cache: %w", err)
	}

	if err := c.kv.Set(ctx, cacheKey(account.ID), payload, c.ttl); err != nil {
		return fmt.Errorf("set cached account: %w", err)
	}

	return nil
}

// Invalidate removes the cached snapshot if it exists.
func (c *Cache) Invalidate(ctx context.Context, accountID int64) error {
	if c == nil || c.kv == nil {
		return nil
	}

	if err := c.kv.Delete(ctx, cacheKey(accountID)); err != nil {
		return fmt.Errorf("delete cached account: %w", err)
	}

	return nil
}

func cacheKey(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}
