package distributed

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker hands out short-lived per-key locks backed by Redis.
type Locker struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

func NewLocker(client *redis.Client, ttl, timeout time.Duration) *Locker {
	return &Locker{
		client:  client,
		ttl:     ttl,
		timeout: timeout,
	}
}

// WithLock runs fn while holding the named lock.
func (l *Locker) WithLock(ctx context.Context, key string, fn func() error) error {
	lock := NewLock(l.client, key, l.ttl)
	if err := lock.Acquire(ctx, l.timeout); err != nil {
		return err
	}
	defer lock.Release(ctx)
	return fn()
}
