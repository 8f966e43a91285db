package popularity

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisPopularityPrefix string = "popularity/"

// RedisTracker keeps the counters in redis, so popularity is shared across
// API processes. The fixed window is expressed with key expiry: the first
// access of a window creates the key with a TTL, later accesses INCR it, and
// redis dropping the key ends the window.
type RedisTracker struct {
	threshold int
	window    time.Duration

	client *redis.Client
}

var _ Tracker = (*RedisTracker)(nil)

func NewRedisTracker(redisURL string, threshold int, window time.Duration) (*RedisTracker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	return &RedisTracker{
		threshold: threshold,
		window:    window,
		client:    rdb,
	}, nil
}

func (t *RedisTracker) RecordAccess(ctx context.Context, key string) (int, error) {
	k := redisPopularityPrefix + key

	// single round-trip: INCR plus setting the window expiry only when the
	// key does not already carry one (NX keeps the window fixed rather than
	// sliding on every access)
	multi := t.client.Pipeline()
	incr := multi.Incr(ctx, k)
	multi.ExpireNX(ctx, k, t.window)
	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (t *RedisTracker) IsPopular(ctx context.Context, key string) (bool, error) {
	c, err := t.client.Get(ctx, redisPopularityPrefix+key).Int()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return c >= t.threshold, nil
}
