package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a TryAcquire. When not allowed, RetryAfter says
// how long until the current window rolls over.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	TryAcquire(ctx context.Context, platform string) (Decision, error)
}

// RedisLimiter is a fixed-window counter shared across workers. It is a
// best-effort local throttle, not a platform compliance guarantee; adapters
// still treat platform 429s as retryable errors.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) TryAcquire(ctx context.Context, platform string) (Decision, error) {
	now := time.Now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("ratelimit:%s:%d", platform, windowStart.Unix())

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Info(err.Error())
		return Decision{}, err
	}

	if incr.Val() > int64(l.limit) {
		retryAfter := windowStart.Add(l.window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Decision{Allowed: true}, nil
}
