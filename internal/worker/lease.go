package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease grants one holder a key for ttl. Acquire reports false when another
// holder owns an unexpired lease.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLease implements Lease with SET NX PX, so only one replica runs a sweep per tick.
type RedisLease struct {
	redis  redis.Cmdable
	holder string
}

func NewRedisLease(rdb redis.Cmdable) *RedisLease {
	return &RedisLease{redis: rdb, holder: uuid.NewString()}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.redis.SetNX(ctx, "lease:"+key, l.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return ok, nil
}
