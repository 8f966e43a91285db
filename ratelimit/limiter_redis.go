package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisLimiterPrefix string = "ratelimit/"

// RedisLimiter shares fixed-window buckets across API processes. INCR gives
// the atomic check-and-increment; the window is the key's TTL, set only when
// the key is created (NX) so the window never slides.
type RedisLimiter struct {
	times  int
	window time.Duration

	client *redis.Client
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(redisURL string, times int, window time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	return &RedisLimiter{
		times:  times,
		window: window,
		client: rdb,
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, limiterKey string) (bool, error) {
	if l.times <= 0 {
		// limiting disabled; skip the round trip entirely
		return true, nil
	}
	k := redisLimiterPrefix + limiterKey

	multi := l.client.Pipeline()
	incr := multi.Incr(ctx, k)
	multi.ExpireNX(ctx, k, l.window)
	if _, err := multi.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.times), nil
}
