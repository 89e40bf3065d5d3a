package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockPrefix = "facetrack:lock:"

// Lock is a Redis SETNX-based mutex keyed per resource. It serializes the
// accept-or-suppress decision for a (member, schedule, date) key across
// API and worker processes.
type Lock struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewLock creates a locker. The TTL bounds how long a crashed holder can
// block others.
func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Lock{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

// Acquire blocks until the key is locked or ctx is done, and returns the
// release func.
func (l *Lock) Acquire(ctx context.Context, key string) (func(), error) {
	full := lockPrefix + key
	for {
		ok, err := l.client.SetNX(ctx, full, 1, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				_ = l.client.Del(context.Background(), full).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.New("lock acquire: " + ctx.Err().Error())
		case <-time.After(l.retry):
		}
	}
}
