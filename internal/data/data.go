// Package data provides the data access layer: database connections, the
// read/write query router, replica health probing, and caching.
package data

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewDatabases,
	NewRedisClient,
	NewCacheClient,
	NewLagProber,
	NewQueryRouter,
	NewQuotationRepo,
	wire.Bind(new(HealthProber), new(*LagProber)),
	wire.Bind(new(Queryer), new(*QueryRouter)),
)

// Data bundles the shared data layer handles.
type Data struct {
	redisClient *redis.Client
	cache       CacheClient
}

// NewData creates the Data bundle. A nil Redis client is tolerated; the
// service runs without the status mirror and cache.
func NewData(logger log.Logger, rdb *redis.Client, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, caching and status mirroring are unavailable")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}
	return d, cleanup, nil
}

// Cache returns the cache client.
func (d *Data) Cache() CacheClient {
	return d.cache
}

// RedisClient returns the raw Redis client for advanced operations.
func (d *Data) RedisClient() *redis.Client {
	return d.redisClient
}
