package data

import (
	"context"
	"sync"
	"time"

	"DataLane/internal/conf"
	"DataLane/internal/metrics"
	dberrors "DataLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// QueryFunc is a caller-supplied operation executed against a live database
// handle. Implementations use db.WithContext(ctx) for per-query cancellation.
type QueryFunc func(db *gorm.DB) error

// Queryer is the query-execution interface consumed by repositories.
type Queryer interface {
	// Read executes fn against the replica when it is healthy, falling back
	// to the primary otherwise.
	Read(ctx context.Context, fn QueryFunc) error
	// ReadPrimary executes fn against the primary, for callers needing
	// read-your-writes consistency immediately after a write.
	ReadPrimary(ctx context.Context, fn QueryFunc) error
	// Write always executes fn against the primary.
	Write(ctx context.Context, fn QueryFunc) error
}

// BreakerSnapshot is the replica breaker portion of a status snapshot.
type BreakerSnapshot struct {
	State        string     `json:"state"`
	FailureCount int        `json:"failure_count"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
}

// ReplicaStatus is the composite snapshot served by the operational status
// endpoint.
type ReplicaStatus struct {
	Configured     bool            `json:"configured"`
	Healthy        bool            `json:"healthy"`
	LagMs          *int64          `json:"lag_ms"`
	MaxLagMs       int64           `json:"max_lag_ms"`
	CircuitBreaker BreakerSnapshot `json:"circuit_breaker"`
}

// QueryRouter splits reads and writes between the primary and an optional
// replica. Writes always go to the primary. Reads go to the replica while
// it is reachable and not lagging; replica failures are recorded against a
// router-owned circuit breaker and transparently retried once against the
// primary, so callers never observe replica-specific errors.
type QueryRouter struct {
	primary    *gorm.DB
	replica    *gorm.DB
	hasReplica bool
	prober     HealthProber
	recorder   metrics.Recorder
	logger     *log.Helper

	// Replica-specific breaker state, owned exclusively by this router.
	// Every transition is a single read-evaluate-write under mu so no
	// failure increment is lost under concurrent reads.
	mu             sync.Mutex
	state          breakerState
	openedAt       time.Time
	trialInFlight  bool
	windowStart    time.Time
	windowFires    int
	windowFailures int

	volumeThreshold          int
	errorThresholdPercentage int
	resetTimeout             time.Duration
	windowDuration           time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NewQueryRouter creates the router over the configured database handles.
// Breaker tuning comes from the breaker section of the configuration; zero
// values take the same defaults as pkg/breaker.
func NewQueryRouter(dbs *Databases, bc *conf.Breaker, prober HealthProber, recorder metrics.Recorder, l log.Logger) *QueryRouter {
	r := &QueryRouter{
		primary:                  dbs.Primary,
		replica:                  dbs.Replica,
		hasReplica:               dbs.HasReplica,
		prober:                   prober,
		recorder:                 recorder,
		logger:                   log.NewHelper(l),
		volumeThreshold:          5,
		errorThresholdPercentage: 50,
		resetTimeout:             30 * time.Second,
		windowDuration:           10 * time.Second,
		now:                      time.Now,
	}
	if bc != nil {
		if bc.VolumeThreshold > 0 {
			r.volumeThreshold = int(bc.VolumeThreshold)
		}
		if bc.ErrorThresholdPercentage > 0 {
			r.errorThresholdPercentage = int(bc.ErrorThresholdPercentage)
		}
		if bc.ResetTimeout != nil && bc.ResetTimeout.AsDuration() > 0 {
			r.resetTimeout = bc.ResetTimeout.AsDuration()
		}
		if bc.Window != nil && bc.Window.AsDuration() > 0 {
			r.windowDuration = bc.Window.AsDuration()
		}
	}
	return r
}

// Write executes fn against the primary connection. Unconditional: every
// write must observe the most recent committed state and originate from the
// one connection all writes use.
func (r *QueryRouter) Write(ctx context.Context, fn QueryFunc) error {
	return r.exec(metrics.TargetPrimary, r.primary, fn)
}

// ReadPrimary executes fn against the primary connection. Explicit escape
// hatch for read-your-writes consistency immediately after a write.
func (r *QueryRouter) ReadPrimary(ctx context.Context, fn QueryFunc) error {
	return r.exec(metrics.TargetPrimary, r.primary, fn)
}

// Read executes fn against the replica when the breaker and the lag probe
// both indicate health, and against the primary otherwise. A replica
// failure is recorded against the breaker and retried exactly once against
// the primary; only the primary's result or error reaches the caller.
func (r *QueryRouter) Read(ctx context.Context, fn QueryFunc) error {
	if !r.hasReplica {
		return r.exec(metrics.TargetPrimary, r.primary, fn)
	}

	allowed, trial := r.allowReplica()
	if !allowed {
		// Circuit open within its cooldown: no replica attempt, no probe.
		return r.exec(metrics.TargetPrimary, r.primary, fn)
	}

	health := r.prober.CheckHealth(ctx)
	if !health.Healthy {
		// Health-probe failure and call failure are tracked separately;
		// an unhealthy probe routes to primary without a breaker failure.
		if trial {
			r.releaseTrial()
		}
		return r.exec(metrics.TargetPrimary, r.primary, fn)
	}

	err := r.exec(metrics.TargetReplica, r.replica, fn)
	if err == nil {
		r.recordReplicaSuccess(trial)
		return nil
	}

	r.recordReplicaFailure(trial)
	dbErr := dberrors.Classify(err)
	r.logger.Warnw("msg", "replica read failed, falling back to primary",
		"error", err,
		"error_type", dbErr.Type.String(),
		"transient", dberrors.IsTransient(err))

	// Transparent fallback: the replica error never reaches the caller.
	// A primary failure here propagates, there is no further target.
	return r.exec(metrics.TargetPrimary, r.primary, fn)
}

// exec runs fn against target and records the query duration.
func (r *QueryRouter) exec(target string, db *gorm.DB, fn QueryFunc) error {
	start := time.Now()
	err := fn(db)
	if r.recorder != nil {
		r.recorder.RecordDBQuery(target, time.Since(start), err)
	}
	return err
}

// allowReplica decides whether a read may attempt the replica. The second
// return value reports that this call is the half-open trial.
func (r *QueryRouter) allowReplica() (allowed, trial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case breakerClosed:
		return true, false
	case breakerOpen:
		if r.now().Sub(r.openedAt) < r.resetTimeout {
			return false, false
		}
		r.state = breakerHalfOpen
		r.trialInFlight = true
		r.logger.Infow("msg", "replica circuit breaker half-open, next read is the trial")
		return true, true
	case breakerHalfOpen:
		if r.trialInFlight {
			// The trial slot is taken; concurrent reads go to primary.
			return false, false
		}
		r.trialInFlight = true
		return true, true
	default:
		return true, false
	}
}

// releaseTrial returns an unconsumed trial slot, used when the health probe
// diverted the trial read to the primary before the replica was attempted.
func (r *QueryRouter) releaseTrial() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trialInFlight = false
}

func (r *QueryRouter) recordReplicaSuccess(trial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollWindowLocked()
	r.windowFires++
	if trial {
		r.state = breakerClosed
		r.trialInFlight = false
		r.openedAt = time.Time{}
		r.windowFires = 0
		r.windowFailures = 0
		r.logger.Infow("msg", "replica recovered, circuit breaker closed")
	}
}

func (r *QueryRouter) recordReplicaFailure(trial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.rollWindowLocked()
	r.windowFires++
	r.windowFailures++

	if trial {
		r.state = breakerOpen
		r.openedAt = now
		r.trialInFlight = false
		r.logger.Warnw("msg", "replica trial read failed, circuit breaker reopened")
		return
	}

	if r.state == breakerClosed &&
		r.windowFires >= r.volumeThreshold &&
		r.windowFailures*100 >= r.errorThresholdPercentage*r.windowFires {
		r.state = breakerOpen
		r.openedAt = now
		r.logger.Warnw("msg", "replica circuit breaker opened",
			"window_fires", r.windowFires,
			"window_failures", r.windowFailures)
	}
}

func (r *QueryRouter) rollWindowLocked() {
	now := r.now()
	if r.windowStart.IsZero() || now.Sub(r.windowStart) >= r.windowDuration {
		r.windowStart = now
		r.windowFires = 0
		r.windowFailures = 0
	}
}

// HasReplica reports whether a distinct replica is configured.
func (r *QueryRouter) HasReplica() bool {
	return r.hasReplica
}

// Primary returns the primary handle for callers outside the routed paths
// (migrations, admin tooling). Read-only handle semantics: the router keeps
// exclusive ownership of the connection lifecycle.
func (r *QueryRouter) Primary() *gorm.DB {
	return r.primary
}

// ReplicaStatus returns the composite replica snapshot. When forceRefresh
// is set the lag cache is bypassed.
func (r *QueryRouter) ReplicaStatus(ctx context.Context, forceRefresh bool) ReplicaStatus {
	status := ReplicaStatus{
		Configured: r.hasReplica,
		MaxLagMs:   r.prober.MaxLag().Milliseconds(),
	}

	if r.hasReplica {
		var health ReplicationLagResult
		if forceRefresh {
			health = r.prober.ForceRefresh(ctx)
		} else {
			health = r.prober.CheckHealth(ctx)
		}
		status.Healthy = health.Healthy
		status.LagMs = health.LagMs
	}

	r.mu.Lock()
	status.CircuitBreaker = BreakerSnapshot{
		State:        r.state.String(),
		FailureCount: r.windowFailures,
	}
	if !r.openedAt.IsZero() {
		openedAt := r.openedAt
		status.CircuitBreaker.OpenedAt = &openedAt
	}
	r.mu.Unlock()

	return status
}

// ManualResetCircuitBreaker forces the replica breaker back to Closed and
// drops the cached lag result. Administrative escape hatch for when an
// operator has independently verified replica recovery.
func (r *QueryRouter) ManualResetCircuitBreaker() {
	r.mu.Lock()
	r.state = breakerClosed
	r.openedAt = time.Time{}
	r.trialInFlight = false
	r.windowStart = time.Time{}
	r.windowFires = 0
	r.windowFailures = 0
	r.mu.Unlock()

	r.prober.Invalidate()
	r.logger.Infow("msg", "replica circuit breaker manually reset")
}
