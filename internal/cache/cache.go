// Package cache implements an optional secondary-storage contract on top of
// Redis, built on common/mredis.RedisConnection's connection handling. Rate
// limiters, velocity-limit plugins, and distributed lease backstops use it;
// nothing in the core transaction path depends on it.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/summa-ledger/summa/common/mredis"
)

// ErrMiss is returned by Get when key does not exist or has expired.
var ErrMiss = errors.New("cache: key not found")

// Cache wraps a Redis client with the get/set/delete/increment operations
// that make up the secondary-storage contract.
type Cache struct {
	conn *mredis.RedisConnection
}

// New builds a Cache over an already-configured RedisConnection.
func New(conn *mredis.RedisConnection) *Cache {
	return &Cache{conn: conn}
}

// Get returns the raw value stored at key, or ErrMiss if absent.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	rdb, err := c.conn.GetDB(ctx)
	if err != nil {
		return "", err
	}

	val, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}

	return val, err
}

// Set stores value at key. A zero ttl means no expiry.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	rdb, err := c.conn.GetDB(ctx)
	if err != nil {
		return err
	}

	return rdb.Set(ctx, key, value, ttl).Err()
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	rdb, err := c.conn.GetDB(ctx)
	if err != nil {
		return err
	}

	return rdb.Del(ctx, key).Err()
}

// Increment adds amount to the counter at key, creating it at amount if
// absent, and returns the new value. A zero amount defaults to 1.
func (c *Cache) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	if amount == 0 {
		amount = 1
	}

	rdb, err := c.conn.GetDB(ctx)
	if err != nil {
		return 0, err
	}

	return rdb.IncrBy(ctx, key, amount).Result()
}

// incrementWithTTLScript atomically increments a counter and ensures it
// carries a TTL, so a crash between INCR and EXPIRE never leaves a
// leaked, permanently-set counter.
var incrementWithTTLScript = redis.NewScript(`
local current = redis.call('INCRBY', KEYS[1], ARGV[1])
if tonumber(redis.call('PTTL', KEYS[1])) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return current
`)

// IncrementWithTTL is Increment but guarantees key carries ttl if this call
// is what creates it, used by velocity-limit plugins that need a rolling
// counter window.
func (c *Cache) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration, amount int64) (int64, error) {
	if amount == 0 {
		amount = 1
	}

	rdb, err := c.conn.GetDB(ctx)
	if err != nil {
		return 0, err
	}

	return incrementWithTTLScript.Run(ctx, rdb, []string{key}, amount, ttl.Milliseconds()).Int64()
}
