package mredis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/summa-ledger/summa/common/mlog"
)

// RedisConnection is the connection the optional internal/bus and
// internal/cache packages share. It is embedded infrastructure, not a
// standalone service: when the same *RedisConnection is handed to both, a
// bus subscriber and a velocity-limit cache lazily share one pooled client
// instead of each dialing its own.
type RedisConnection struct {
	ConnectionStringSource string
	Client                 *redis.Client
	Connected              bool
	Logger                 mlog.Logger

	once sync.Once
	err  error
}

// Connect dials redis exactly once for this RedisConnection, even if called
// concurrently by both a Bus and a Cache sharing it at startup; later calls
// replay the first attempt's result.
func (rc *RedisConnection) Connect(ctx context.Context) error {
	rc.once.Do(func() {
		rc.Logger.Info("Connecting to redis...")

		opts, err := redis.ParseURL(rc.ConnectionStringSource)
		if err != nil {
			rc.err = fmt.Errorf("mredis: parse connection string: %w", err)
			return
		}

		rdb := redis.NewClient(opts)

		if _, err := rdb.Ping(ctx).Result(); err != nil {
			rc.Logger.Infof("RedisConnection.Ping %v", err)

			rc.err = fmt.Errorf("mredis: ping: %w", err)

			return
		}

		rc.Logger.Info("Connected to redis")

		rc.Connected = true
		rc.Client = rdb
	})

	return rc.err
}

// GetDB returns the shared redis client, connecting it on first use.
func (rc *RedisConnection) GetDB(ctx context.Context) (*redis.Client, error) {
	if err := rc.Connect(ctx); err != nil {
		return nil, err
	}

	return rc.Client, nil
}

// Close releases the pooled client; it is a no-op when no client was ever
// connected. Nothing in this module calls it.
func (rc *RedisConnection) Close() error {
	if rc.Client == nil {
		return nil
	}

	return rc.Client.Close()
}
