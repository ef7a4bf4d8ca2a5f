// Package webhooks dedupes inbound webhook deliveries across retries.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/peptidecrm-backend/pkg/redis"
)

// DeliveryGuard marks a provider delivery id as seen for ttl. A delivery
// whose processing fails is released so the sender's retry runs again.
type DeliveryGuard struct {
	store redis.DeliveryStore
	ttl   time.Duration
}

func NewDeliveryGuard(store redis.DeliveryStore, ttl time.Duration) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("delivery store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &DeliveryGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether the delivery was already seen, marking it
// otherwise. An empty delivery id is never treated as a duplicate.
func (g *DeliveryGuard) CheckAndMark(ctx context.Context, provider, deliveryID string) (bool, error) {
	if g == nil || deliveryID == "" {
		return false, nil
	}
	key := g.store.DeliveryKey(provider, deliveryID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set delivery key: %w", err)
	}
	return !set, nil
}

// Release forgets a delivery so a retry is processed.
func (g *DeliveryGuard) Release(ctx context.Context, provider, deliveryID string) error {
	if g == nil || deliveryID == "" {
		return nil
	}
	return g.store.Del(ctx, g.store.DeliveryKey(provider, deliveryID))
}
