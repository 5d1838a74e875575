package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the cross-replica L1 Cache backend: SeenRecently maps
// onto a single SETNX-with-expiry round trip, so replicas sharing one
// Redis instance collapse duplicates before either reaches the L2
// advisory lock.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache builds a RedisCache against addr.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		prefix: "pulsecore:dedup:",
	}
}

func (c *RedisCache) SeenRecently(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := c.client.SetNX(ctx, c.prefix+key, 1, c.ttl).Result()
	if err != nil {
		// Redis unavailable: fail open to the slower L2/L3 layers rather
		// than block every alert on a cache outage.
		return false
	}
	return !ok
}

func (c *RedisCache) Close() {
	c.client.Close()
}
