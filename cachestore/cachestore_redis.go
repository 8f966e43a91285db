package cachestore

import (
	"context"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// prefix for all the Redis keys this cache uses
var redisCachePrefix string = "cache/"

// RedisCacheStore backs the cache with a shared redis service, for
// deployments running more than one API process. Hot keys are additionally
// held in a small in-process TinyLFU layer (provided by the redis cache
// library).
type RedisCacheStore struct {
	data   *cache.Cache
	client *redis.Client
}

var _ CacheStore = (*RedisCacheStore)(nil)

// NewRedisCacheStore connects to redis and verifies the connection.
// localSize and localTTL configure the in-process hot-key layer; localTTL
// should not exceed the shortest TTL passed to Set.
func NewRedisCacheStore(redisURL string, localSize int, localTTL time.Duration) (*RedisCacheStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(localSize, localTTL),
	})
	return &RedisCacheStore{data: data, client: rdb}, nil
}

// Close releases the redis connection.
func (s *RedisCacheStore) Close() {
	_ = s.client.Close()
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	err := s.data.Get(ctx, redisCachePrefix+key, &val)
	if err == cache.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return s.data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisCachePrefix + key,
		Value: val,
		TTL:   ttl,
	})
}

func (s *RedisCacheStore) Invalidate(ctx context.Context, key string) error {
	err := s.data.Delete(ctx, redisCachePrefix+key)
	if err == cache.ErrCacheMiss {
		return nil
	}
	return err
}
