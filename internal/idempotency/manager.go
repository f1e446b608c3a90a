// Package idempotency replays the stored response of an operation that already finished
// under the same key, such as a redelivered payment webhook.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRequestInProgress is returned while another caller holds the key.
var ErrRequestInProgress = errors.New("request with this key is already in progress")

// DefaultLockTTL bounds how long a crashed holder can block its key.
const DefaultLockTTL = time.Minute

// Operation is the work guarded by a key. Its result must be JSON encodable.
type Operation func(ctx context.Context) (any, error)

// Result is an operation response, either fresh or replayed.
type Result struct {
	Response  json.RawMessage
	FromCache bool
}

// Decode unmarshals the response into v.
func (r *Result) Decode(v any) error {
	if r == nil || len(r.Response) == 0 {
		return errors.New("empty idempotent response")
	}
	return json.Unmarshal(r.Response, v)
}

// Manager runs operations at most once per key while their record lives.
type Manager interface {
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store   Store
	lockTTL time.Duration
	log     *slog.Logger
}

// NewManager builds a Manager over store.
func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{store: store, lockTTL: DefaultLockTTL, log: log}
}

// Execute replays the stored response for key or runs fn under a lock and stores its
// response for ttl. A failed fn stores nothing, so the next delivery runs it again.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	if record, err := m.store.Get(ctx, key); err != nil {
		return nil, err
	} else if record != nil {
		return &Result{Response: record.Response, FromCache: true}, nil
	}

	locked, err := m.store.Lock(ctx, key, m.lockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		// the holder may have finished between Get and Lock
		if record, err := m.store.Get(ctx, key); err == nil && record != nil {
			return &Result{Response: record.Response, FromCache: true}, nil
		}
		return nil, ErrRequestInProgress
	}
	defer func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			m.log.Warn("failed to release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}()

	response, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("encode idempotent response: %w", err)
	}

	if err := m.store.Set(ctx, key, &Record{Response: encoded}, ttl); err != nil {
		// the work is done; a lost record only means a later duplicate runs again
		m.log.Warn("failed to record idempotent response", slog.String("key", key), slog.Any("error", err))
	}

	return &Result{Response: encoded}, nil
}
