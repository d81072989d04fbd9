package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ringwise/ringwise-backend/pkg/redis"
)

// CaptureGuard keeps a capture for one order in flight at a time. The key is
// released when activation fails so the client can retry.
type CaptureGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewCaptureGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*CaptureGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &CaptureGuard{store: store, ttl: ttl, scope: scope}, nil
}

// Acquire reports whether orderID was already claimed.
func (g *CaptureGuard) Acquire(ctx context.Context, orderID string) (bool, error) {
	if orderID == "" {
		return false, errors.New("order id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, orderID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

func (g *CaptureGuard) Release(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errors.New("order id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, orderID))
}
