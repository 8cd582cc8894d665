package data

import (
	"context"
	"time"

	"DataLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the Redis client used for the status mirror and
// read-side caching. Redis is an optimization here, never a source of truth,
// so a connection failure does not prevent startup.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		helper.Warn("Redis is not configured, status mirroring and caching are disabled")
		return nil, func() {}, nil
	}

	readTimeout := 500 * time.Millisecond
	if c.Redis.ReadTimeout != nil && c.Redis.ReadTimeout.AsDuration() > 0 {
		readTimeout = c.Redis.ReadTimeout.AsDuration()
	}
	writeTimeout := 500 * time.Millisecond
	if c.Redis.WriteTimeout != nil && c.Redis.WriteTimeout.AsDuration() > 0 {
		writeTimeout = c.Redis.WriteTimeout.AsDuration()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            c.Redis.Addr,
		PoolSize:        100,
		MinIdleConns:    10,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		// Keep the client and report success: go-redis reconnects once
		// Redis comes back, and startup must not depend on it.
		helper.Warnw("msg", "Redis unreachable, continuing without it",
			"addr", c.Redis.Addr,
			"error", err)
		return rdb, func() { _ = rdb.Close() }, nil
	}

	helper.Infow("msg", "Redis connection established", "addr", c.Redis.Addr)

	cleanup := func() {
		helper.Info("closing Redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("failed to close Redis client: %v", err)
		}
	}
	return rdb, cleanup, nil
}
