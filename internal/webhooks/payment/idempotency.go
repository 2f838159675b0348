package paymentwebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NorikGo/tailormp-sub002/pkg/redis"
)

const guardScope = "payment-webhook"

// EventGuard remembers gateway event ids so redeliveries skip processing.
type EventGuard interface {
	Claim(ctx context.Context, eventID, eventType string) (duplicate bool, err error)
	Release(ctx context.Context, eventID string) error
}

// RedisGuard keeps claimed event ids in Redis for a bounded window.
type RedisGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewRedisGuard builds a guard over the shared idempotency store.
func NewRedisGuard(store redis.IdempotencyStore, ttl time.Duration) (*RedisGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &RedisGuard{store: store, ttl: ttl}, nil
}

// Claim stores the event id when absent. duplicate is true when another
// delivery already claimed it.
func (g *RedisGuard) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(guardScope, eventID), eventType, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return !set, nil
}

// Release drops the claim so the gateway's retry is processed again.
func (g *RedisGuard) Release(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(guardScope, eventID))
}
