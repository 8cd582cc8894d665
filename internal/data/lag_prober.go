package data

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"DataLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
)

const (
	// lagProbeTimeout bounds the replica connectivity probe.
	lagProbeTimeout = 2 * time.Second
	// lagCacheTTL is the staleness window for cached probe results. Routing
	// decisions may use health information up to this old; the window is a
	// tunable availability/accuracy tradeoff.
	lagCacheTTL = 10 * time.Second

	lagCacheKey = "replica"
)

// ReplicationLagResult is the ephemeral outcome of one replica health probe.
type ReplicationLagResult struct {
	// LagMs is the measured replication lag in milliseconds, nil when no
	// replica is configured or the probe failed before measuring.
	LagMs *int64 `json:"lag_ms"`
	// Healthy reports whether reads may be routed to the replica.
	Healthy bool `json:"healthy"`
	// Err carries the probe failure, if any.
	Err string `json:"error,omitempty"`
}

// HealthProber reports replica health for routing decisions.
type HealthProber interface {
	// CheckHealth returns the current replica health, served from a
	// short-lived cache.
	CheckHealth(ctx context.Context) ReplicationLagResult
	// ForceRefresh bypasses the cache and probes immediately.
	ForceRefresh(ctx context.Context) ReplicationLagResult
	// Invalidate drops the cached result.
	Invalidate()
	// MaxLag returns the maximum acceptable replication lag.
	MaxLag() time.Duration
}

// LagProber measures replica reachability and replication lag. Results are
// cached for lagCacheTTL so that read routing does not probe on every call.
type LagProber struct {
	replica    *gorm.DB
	hasReplica bool
	maxLag     time.Duration
	cache      *expirable.LRU[string, ReplicationLagResult]
	logger     *log.Helper

	// Probe internals are replaceable in tests.
	pingFn func(ctx context.Context) error
	lagFn  func(ctx context.Context) (*int64, error)
}

// NewLagProber creates a prober for the configured replica.
func NewLagProber(dbs *Databases, c *conf.Data, l log.Logger) *LagProber {
	maxLag := 5 * time.Second
	if c != nil && c.Database != nil && c.Database.MaxReplicationLag != nil {
		maxLag = c.Database.MaxReplicationLag.AsDuration()
	}

	p := &LagProber{
		replica:    dbs.Replica,
		hasReplica: dbs.HasReplica,
		maxLag:     maxLag,
		cache:      expirable.NewLRU[string, ReplicationLagResult](1, nil, lagCacheTTL),
		logger:     log.NewHelper(l),
	}
	p.pingFn = p.pingReplica
	p.lagFn = p.measureLag
	return p
}

// MaxLag returns the configured maximum acceptable replication lag.
func (p *LagProber) MaxLag() time.Duration {
	return p.maxLag
}

// CheckHealth returns the replica health, served from the cache when a
// result younger than lagCacheTTL exists.
//
// A router with no replica is defined as "replica unhealthy" so routing
// logic uniformly falls back to primary without a special case.
func (p *LagProber) CheckHealth(ctx context.Context) ReplicationLagResult {
	if !p.hasReplica {
		return ReplicationLagResult{LagMs: nil, Healthy: false}
	}
	if cached, ok := p.cache.Get(lagCacheKey); ok {
		return cached
	}
	return p.probe(ctx)
}

// ForceRefresh bypasses the cache and probes immediately. Used by the
// operator-triggered health-check endpoint.
func (p *LagProber) ForceRefresh(ctx context.Context) ReplicationLagResult {
	if !p.hasReplica {
		return ReplicationLagResult{LagMs: nil, Healthy: false}
	}
	return p.probe(ctx)
}

// Invalidate drops the cached result so the next check probes again.
func (p *LagProber) Invalidate() {
	p.cache.Remove(lagCacheKey)
}

func (p *LagProber) probe(ctx context.Context) ReplicationLagResult {
	ctx, cancel := context.WithTimeout(ctx, lagProbeTimeout)
	defer cancel()

	if err := p.pingFn(ctx); err != nil {
		result := ReplicationLagResult{Healthy: false, Err: err.Error()}
		p.logger.Warnw("msg", "replica connectivity probe failed", "error", err)
		p.cache.Add(lagCacheKey, result)
		return result
	}

	lagMs, err := p.lagFn(ctx)
	if err != nil || lagMs == nil {
		// Lag measurement unavailable (unsupported backend, insufficient
		// privileges, no replication row): connectivity success alone is
		// treated as healthy with lag 0.
		if err != nil {
			p.logger.Debugw("msg", "replication lag measurement unavailable, assuming healthy", "error", err)
		}
		zero := int64(0)
		result := ReplicationLagResult{LagMs: &zero, Healthy: true}
		p.cache.Add(lagCacheKey, result)
		return result
	}

	result := ReplicationLagResult{
		LagMs:   lagMs,
		Healthy: *lagMs <= p.maxLag.Milliseconds(),
	}
	if !result.Healthy {
		p.logger.Warnw("msg", "replica lagging beyond threshold",
			"lag_ms", *lagMs,
			"max_lag_ms", p.maxLag.Milliseconds())
	}
	p.cache.Add(lagCacheKey, result)
	return result
}

// pingReplica issues a trivial connectivity probe against the replica pool.
func (p *LagProber) pingReplica(ctx context.Context) error {
	sqlDB, err := p.replica.DB()
	if err != nil {
		return fmt.Errorf("replica pool unavailable: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("replica ping failed: %w", err)
	}
	return nil
}

// measureLag reads the replication delay from the replica's applier status.
// MySQL 8 spells the column Seconds_Behind_Source; older servers report
// Seconds_Behind_Master via SHOW SLAVE STATUS.
func (p *LagProber) measureLag(ctx context.Context) (*int64, error) {
	rows, err := p.replica.WithContext(ctx).Raw("SHOW REPLICA STATUS").Rows()
	if err != nil {
		rows, err = p.replica.WithContext(ctx).Raw("SHOW SLAVE STATUS").Rows()
		if err != nil {
			return nil, fmt.Errorf("replication status query failed: %w", err)
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read replication status columns: %w", err)
	}
	if !rows.Next() {
		// The server is not acting as a replica.
		return nil, nil
	}

	values := make([]any, len(columns))
	for i := range values {
		values[i] = new(sql.NullString)
	}
	if err := rows.Scan(values...); err != nil {
		return nil, fmt.Errorf("failed to scan replication status: %w", err)
	}

	for i, column := range columns {
		if column != "Seconds_Behind_Source" && column != "Seconds_Behind_Master" {
			continue
		}
		ns := values[i].(*sql.NullString)
		if !ns.Valid {
			// NULL while the applier thread is stopped or still connecting.
			return nil, nil
		}
		seconds, err := strconv.ParseInt(ns.String, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable replication lag %q: %w", ns.String, err)
		}
		lagMs := seconds * 1000
		return &lagMs, nil
	}

	return nil, nil
}
