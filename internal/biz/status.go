package biz

import (
	"context"
	"time"

	"DataLane/internal/data"
	"DataLane/internal/metrics"
	"DataLane/pkg/breaker"

	"github.com/go-kratos/kratos/v2/log"
)

// StatusSnapshot is the aggregate health view served by the admin surface
// and mirrored to Redis for external dashboards.
type StatusSnapshot struct {
	Service     string                            `json:"service"`
	GeneratedAt time.Time                         `json:"generated_at"`
	Replica     data.ReplicaStatus                `json:"replica"`
	Breakers    map[string]breaker.Status         `json:"breakers"`
	Database    map[string]metrics.TargetSnapshot `json:"database"`
}

// StatusUseCase aggregates replica routing state, named circuit breakers,
// and query metrics into one operational snapshot.
type StatusUseCase struct {
	router   *data.QueryRouter
	registry *breaker.Registry
	metrics  *metrics.Collector
	cache    data.CacheClient
	logger   *log.Helper
}

// NewStatusUseCase creates the status use case.
func NewStatusUseCase(router *data.QueryRouter, registry *breaker.Registry, collector *metrics.Collector, d *data.Data, l log.Logger) *StatusUseCase {
	return &StatusUseCase{
		router:   router,
		registry: registry,
		metrics:  collector,
		cache:    d.Cache(),
		logger:   log.NewHelper(l),
	}
}

// Snapshot builds the aggregate status view.
func (uc *StatusUseCase) Snapshot(ctx context.Context) StatusSnapshot {
	return StatusSnapshot{
		Service:     "DataLane",
		GeneratedAt: time.Now().UTC(),
		Replica:     uc.router.ReplicaStatus(ctx, false),
		Breakers:    uc.registry.Snapshot(),
		Database:    uc.metrics.Snapshot(),
	}
}

// ReplicaHealth returns the replica view alone. With forceRefresh the lag
// cache is bypassed, for operators verifying recovery.
func (uc *StatusUseCase) ReplicaHealth(ctx context.Context, forceRefresh bool) data.ReplicaStatus {
	return uc.router.ReplicaStatus(ctx, forceRefresh)
}

// ResetReplicaBreaker forces the replica circuit breaker closed.
func (uc *StatusUseCase) ResetReplicaBreaker(ctx context.Context) data.ReplicaStatus {
	uc.router.ManualResetCircuitBreaker()
	return uc.router.ReplicaStatus(ctx, true)
}

// ResetNamedBreaker resets one registry breaker by name. Returns false when
// no breaker with that name exists.
func (uc *StatusUseCase) ResetNamedBreaker(name string) bool {
	cb, ok := uc.registry.Get(name)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// Breakers returns the current state of every registered breaker.
func (uc *StatusUseCase) Breakers() map[string]breaker.Status {
	return uc.registry.Snapshot()
}

// DatabaseMetrics returns per-target query counters.
func (uc *StatusUseCase) DatabaseMetrics() map[string]metrics.TargetSnapshot {
	return uc.metrics.Snapshot()
}

// MirrorSnapshot publishes the current snapshot to Redis under the status
// key. Invoked by the periodic status job; a Redis failure is logged and
// swallowed so the job keeps running in degraded mode.
func (uc *StatusUseCase) MirrorSnapshot(ctx context.Context) {
	snapshot := uc.Snapshot(ctx)
	key := data.BuildCacheKey(data.CacheKeyStatus, "snapshot")
	if err := uc.cache.Set(ctx, key, snapshot, data.TTLStatus); err != nil {
		uc.logger.Debugw("msg", "failed to mirror status snapshot", "error", err)
		return
	}
	uc.logger.Debugw("msg", "status snapshot mirrored",
		"replica_healthy", snapshot.Replica.Healthy,
		"breaker_state", snapshot.Replica.CircuitBreaker.State)
}
