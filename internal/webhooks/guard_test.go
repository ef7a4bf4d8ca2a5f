package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	keys   map[string]time.Duration
	setErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = ttl
	return true, nil
}

func (m *memoryStore) DeliveryKey(provider, deliveryID string) string {
	return "pcrm:webhook_delivery:" + provider + ":" + deliveryID
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func TestDeliveryGuardDedupesAndReleases(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewDeliveryGuard(store, 24*time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	dup, err := guard.CheckAndMark(ctx, "psifi", "msg_1")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, 24*time.Hour, store.keys["pcrm:webhook_delivery:psifi:msg_1"])

	dup, err = guard.CheckAndMark(ctx, "psifi", "msg_1")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = guard.CheckAndMark(ctx, "stripe", "msg_1")
	require.NoError(t, err)
	assert.False(t, dup, "keys are scoped per provider")

	require.NoError(t, guard.Release(ctx, "psifi", "msg_1"))
	dup, err = guard.CheckAndMark(ctx, "psifi", "msg_1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestDeliveryGuardWithoutDeliveryID(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewDeliveryGuard(store, time.Hour)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		dup, err := guard.CheckAndMark(context.Background(), "woocommerce", "")
		require.NoError(t, err)
		assert.False(t, dup)
	}
	assert.Empty(t, store.keys)
	assert.NoError(t, guard.Release(context.Background(), "woocommerce", ""))
}

func TestDeliveryGuardErrors(t *testing.T) {
	_, err := NewDeliveryGuard(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewDeliveryGuard(newMemoryStore(), 0)
	assert.Error(t, err)

	store := newMemoryStore()
	store.setErr = errors.New("redis down")
	guard, err := NewDeliveryGuard(store, time.Hour)
	require.NoError(t, err)
	_, err = guard.CheckAndMark(context.Background(), "psifi", "msg_2")
	assert.ErrorIs(t, err, store.setErr)

	var nilGuard *DeliveryGuard
	dup, err := nilGuard.CheckAndMark(context.Background(), "psifi", "msg_3")
	assert.NoError(t, err)
	assert.False(t, dup)
}
