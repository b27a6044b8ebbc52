package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tickLockName = "polling-scheduler-tick"

// Lock keeps a single scheduler replica ticking at a time.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// locker is satisfied by pkg/redis.Client.
type locker interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) (bool, error)
}

// RedisLock implements Lock with an owner token and TTL.
type RedisLock struct {
	client locker
	name   string
	ttl    time.Duration

	mu    sync.Mutex
	owner string
}

// NewRedisLock constructs a Redis-backed tick lock.
func NewRedisLock(client locker, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = DefaultInterval
	}
	return &RedisLock{client: client, name: tickLockName, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.AcquireLock(ctx, l.name, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire tick lock: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.owner = owner
		l.mu.Unlock()
	}
	return ok, nil
}

// Release frees the lock only if this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	owner := l.owner
	l.owner = ""
	l.mu.Unlock()
	if owner == "" {
		return nil
	}
	if _, err := l.client.ReleaseLock(ctx, l.name, owner); err != nil {
		return fmt.Errorf("release tick lock: %w", err)
	}
	return nil
}

// noopLock is used when the scheduler runs as the only replica.
type noopLock struct{}

func (noopLock) Acquire(context.Context) (bool, error) { return true, nil }

func (noopLock) Release(context.Context) error { return nil }
