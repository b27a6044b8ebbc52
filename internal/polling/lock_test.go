package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLocker struct {
	mu     sync.Mutex
	owners map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{owners: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLocker) AcquireLock(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, held := m.owners[name]; held {
		return false, nil
	}
	m.owners[name] = owner
	m.ttls[name] = ttl
	return true, nil
}

func (m *memoryLocker) ReleaseLock(_ context.Context, name, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[name] != owner {
		return false, nil
	}
	delete(m.owners, name)
	return true, nil
}

func TestRedisLockSingleHolder(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLocker()

	first, err := NewRedisLock(store, 45*time.Second)
	require.NoError(t, err)
	second, err := NewRedisLock(store, 45*time.Second)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 45*time.Second, store.ttls[tickLockName])

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx), "release without ownership is a no-op")
	_, held := store.owners[tickLockName]
	assert.True(t, held)

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockErrors(t *testing.T) {
	_, err := NewRedisLock(nil, time.Second)
	require.Error(t, err)

	store := newMemoryLocker()
	store.err = errors.New("redis down")
	lock, err := NewRedisLock(store, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, lock.ttl)

	_, err = lock.Acquire(context.Background())
	require.ErrorIs(t, err, store.err)
}
