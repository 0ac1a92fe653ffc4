package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values map[string]string
	err    error
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockExclusive(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	first, err := NewRedisLock(store, "gb:lock:cron", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "gb:lock:cron", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _ = second.Acquire(ctx)
	assert.False(t, ok, "second acquire should fail while held")

	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.values, "gb:lock:cron", "non-owner release must not drop the lock")

	require.NoError(t, first.Release(ctx))
	ok, _ = second.Acquire(ctx)
	assert.True(t, ok, "acquire after release should succeed")
}

func TestRedisLockDoesNotReleaseTakenOverKey(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	lock, _ := NewRedisLock(store, "gb:lock:cron", time.Minute)
	ctx := context.Background()

	ok, _ := lock.Acquire(ctx)
	require.True(t, ok)
	// simulate TTL expiry and another replica taking over
	store.values["gb:lock:cron"] = "other-replica"

	require.NoError(t, lock.Release(ctx))
	assert.Equal(t, "other-replica", store.values["gb:lock:cron"])
}

func TestRedisLockAcquireError(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}, err: errors.New("conn refused")}
	lock, _ := NewRedisLock(store, "gb:lock:cron", 0)
	assert.Equal(t, defaultLockTTL, lock.ttl)

	ok, err := lock.Acquire(context.Background())
	assert.False(t, ok)
	assert.ErrorContains(t, err, "conn refused")
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Second)
	assert.Error(t, err)
	_, err = NewRedisLock(&memoryLockStore{}, "", time.Second)
	assert.Error(t, err)
}
