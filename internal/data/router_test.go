package data

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"DataLane/internal/conf"
	"DataLane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
	"gorm.io/gorm"
)

// fakeProber is a HealthProber with a scripted result.
type fakeProber struct {
	mu          sync.Mutex
	result      ReplicationLagResult
	checks      int
	refreshes   int
	invalidated int
}

func (f *fakeProber) CheckHealth(ctx context.Context) ReplicationLagResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.result
}

func (f *fakeProber) ForceRefresh(ctx context.Context) ReplicationLagResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.result
}

func (f *fakeProber) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func (f *fakeProber) MaxLag() time.Duration { return 5 * time.Second }

func (f *fakeProber) set(result ReplicationLagResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = result
}

func healthyProbe() ReplicationLagResult {
	lag := int64(0)
	return ReplicationLagResult{LagMs: &lag, Healthy: true}
}

func laggingProbe(ms int64) ReplicationLagResult {
	return ReplicationLagResult{LagMs: &ms, Healthy: false}
}

// newTestRouter wires a router over two distinct dummy handles so tests can
// assert which one a query was routed to by pointer identity. QueryFunc
// implementations under test never dereference the handle.
func newTestRouter(t *testing.T, hasReplica bool, prober HealthProber) (*QueryRouter, *gorm.DB, *gorm.DB) {
	t.Helper()

	primary := &gorm.DB{}
	replica := &gorm.DB{}
	dbs := &Databases{Primary: primary, Replica: replica, HasReplica: hasReplica}
	if !hasReplica {
		dbs.Replica = primary
	}

	bc := &conf.Breaker{
		VolumeThreshold:          3,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             durationpb.New(30 * time.Second),
		Window:                   durationpb.New(10 * time.Second),
	}
	r := NewQueryRouter(dbs, bc, prober, metrics.NewCollector(), log.DefaultLogger)
	return r, primary, replica
}

// targetCounter tallies which handle each QueryFunc invocation received.
type targetCounter struct {
	primary *gorm.DB
	replica *gorm.DB

	mu           sync.Mutex
	primaryCalls int
	replicaCalls int
}

func (c *targetCounter) fn(err error) QueryFunc {
	return func(db *gorm.DB) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		switch db {
		case c.primary:
			c.primaryCalls++
		case c.replica:
			c.replicaCalls++
		}
		return err
	}
}

// fn2 fails on the replica and succeeds on the primary.
func (c *targetCounter) fn2(replicaErr error) QueryFunc {
	return func(db *gorm.DB) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if db == c.replica {
			c.replicaCalls++
			return replicaErr
		}
		c.primaryCalls++
		return nil
	}
}

func TestRead_NoReplica_UsesPrimaryOnce(t *testing.T) {
	prober := &fakeProber{result: ReplicationLagResult{Healthy: false}}
	r, primary, replica := newTestRouter(t, false, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	err := r.Read(context.Background(), counter.fn(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, counter.primaryCalls)
	assert.Equal(t, 0, counter.replicaCalls)
	// Primary-only mode never consults the prober.
	assert.Equal(t, 0, prober.checks)
}

func TestRead_HealthyReplica_UsesReplicaOnce(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	err := r.Read(context.Background(), counter.fn(nil))
	require.NoError(t, err)
	assert.Equal(t, 0, counter.primaryCalls)
	assert.Equal(t, 1, counter.replicaCalls)
}

func TestRead_ReplicaFailure_FallsBackToPrimary(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	err := r.Read(context.Background(), counter.fn2(errors.New("dial tcp: connection refused")))
	require.NoError(t, err, "replica error must not reach the caller")
	assert.Equal(t, 1, counter.replicaCalls)
	assert.Equal(t, 1, counter.primaryCalls)
}

func TestRead_ReplicaAndPrimaryFailure_PropagatesPrimaryError(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)

	replicaErr := errors.New("replica down")
	primaryErr := errors.New("primary down")
	err := r.Read(context.Background(), func(db *gorm.DB) error {
		if db == replica {
			return replicaErr
		}
		if db == primary {
			return primaryErr
		}
		return nil
	})
	assert.ErrorIs(t, err, primaryErr)
}

func TestWrite_AlwaysUsesPrimary(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	require.NoError(t, r.Write(context.Background(), counter.fn(nil)))
	require.NoError(t, r.ReadPrimary(context.Background(), counter.fn(nil)))
	assert.Equal(t, 2, counter.primaryCalls)
	assert.Equal(t, 0, counter.replicaCalls)
	assert.Equal(t, 0, prober.checks)
}

func TestRead_LagBeyondThreshold_UsesPrimary(t *testing.T) {
	prober := &fakeProber{result: laggingProbe(6000)}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	err := r.Read(context.Background(), counter.fn(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, counter.primaryCalls)
	assert.Equal(t, 0, counter.replicaCalls)

	// A lagging replica is not a call failure: the breaker stays closed.
	status := r.ReplicaStatus(context.Background(), false)
	assert.Equal(t, "closed", status.CircuitBreaker.State)
	assert.Equal(t, 0, status.CircuitBreaker.FailureCount)
}

func TestRead_BreakerOpensAfterThresholdFailures(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Read(context.Background(), counter.fn2(errors.New("replica down"))))
	}
	assert.Equal(t, 3, counter.replicaCalls)
	assert.Equal(t, 3, counter.primaryCalls)

	status := r.ReplicaStatus(context.Background(), false)
	assert.Equal(t, "open", status.CircuitBreaker.State)
	require.NotNil(t, status.CircuitBreaker.OpenedAt)

	// Open circuit: reads skip the replica without probing.
	checksBefore := prober.checks
	require.NoError(t, r.Read(context.Background(), counter.fn(nil)))
	assert.Equal(t, 3, counter.replicaCalls)
	assert.Equal(t, 4, counter.primaryCalls)
	assert.Equal(t, checksBefore, prober.checks)
}

func TestRead_HalfOpenTrialSuccess_ClosesBreaker(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	clock := time.Now()
	r.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Read(context.Background(), counter.fn2(errors.New("replica down"))))
	}
	require.Equal(t, "open", r.ReplicaStatus(context.Background(), false).CircuitBreaker.State)

	clock = clock.Add(31 * time.Second)

	require.NoError(t, r.Read(context.Background(), counter.fn(nil)))
	assert.Equal(t, 4, counter.replicaCalls, "trial read goes to the replica")

	status := r.ReplicaStatus(context.Background(), false)
	assert.Equal(t, "closed", status.CircuitBreaker.State)
	assert.Equal(t, 0, status.CircuitBreaker.FailureCount)
	assert.Nil(t, status.CircuitBreaker.OpenedAt)
}

func TestRead_HalfOpenTrialFailure_ReopensBreaker(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	clock := time.Now()
	r.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Read(context.Background(), counter.fn2(errors.New("replica down"))))
	}

	clock = clock.Add(31 * time.Second)

	require.NoError(t, r.Read(context.Background(), counter.fn2(errors.New("still down"))))
	assert.Equal(t, 4, counter.replicaCalls)

	status := r.ReplicaStatus(context.Background(), false)
	assert.Equal(t, "open", status.CircuitBreaker.State)
	require.NotNil(t, status.CircuitBreaker.OpenedAt)

	// The reopened cooldown starts from the trial failure, so the replica
	// stays skipped.
	clock = clock.Add(15 * time.Second)
	require.NoError(t, r.Read(context.Background(), counter.fn(nil)))
	assert.Equal(t, 4, counter.replicaCalls)
}

func TestRead_HalfOpen_UnhealthyProbeDivertsTrialWithoutPenalty(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	clock := time.Now()
	r.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Read(context.Background(), counter.fn2(errors.New("replica down"))))
	}
	clock = clock.Add(31 * time.Second)

	// The breaker admits the trial but the probe reports lag: the read is
	// diverted to primary and the trial slot is released, not consumed.
	prober.set(laggingProbe(9000))
	require.NoError(t, r.Read(context.Background(), counter.fn(nil)))
	assert.Equal(t, 3, counter.replicaCalls)

	prober.set(healthyProbe())
	require.NoError(t, r.Read(context.Background(), counter.fn(nil)))
	assert.Equal(t, 4, counter.replicaCalls, "next healthy read retries the trial")
	assert.Equal(t, "closed", r.ReplicaStatus(context.Background(), false).CircuitBreaker.State)
}

func TestRead_SameDSNReplica_NoBreakerActivity(t *testing.T) {
	// mysql.go aliases the replica handle to the primary when the DSNs
	// match, so the router sees hasReplica=false.
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, false, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	for i := 0; i < 10; i++ {
		require.NoError(t, r.Read(context.Background(), counter.fn(nil)))
	}

	status := r.ReplicaStatus(context.Background(), false)
	assert.False(t, status.Configured)
	assert.Equal(t, "closed", status.CircuitBreaker.State)
	assert.Equal(t, 0, status.CircuitBreaker.FailureCount)
}

func TestRead_BelowVolumeThreshold_BreakerStaysClosed(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	for i := 0; i < 2; i++ {
		require.NoError(t, r.Read(context.Background(), counter.fn2(errors.New("flaky"))))
	}
	assert.Equal(t, "closed", r.ReplicaStatus(context.Background(), false).CircuitBreaker.State)

	// Reads keep trying the replica while the breaker is closed.
	require.NoError(t, r.Read(context.Background(), counter.fn(nil)))
	assert.Equal(t, 3, counter.replicaCalls)
}

func TestRead_WindowRollover_DropsStaleFailures(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	clock := time.Now()
	r.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		require.NoError(t, r.Read(context.Background(), counter.fn2(errors.New("flaky"))))
	}

	// Past the window the old failures no longer count toward the volume
	// threshold, so one more failure does not open the circuit.
	clock = clock.Add(11 * time.Second)
	require.NoError(t, r.Read(context.Background(), counter.fn2(errors.New("flaky"))))
	assert.Equal(t, "closed", r.ReplicaStatus(context.Background(), false).CircuitBreaker.State)
}

func TestManualResetCircuitBreaker(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Read(context.Background(), counter.fn2(errors.New("replica down"))))
	}
	require.Equal(t, "open", r.ReplicaStatus(context.Background(), false).CircuitBreaker.State)

	r.ManualResetCircuitBreaker()

	status := r.ReplicaStatus(context.Background(), false)
	assert.Equal(t, "closed", status.CircuitBreaker.State)
	assert.Equal(t, 0, status.CircuitBreaker.FailureCount)
	assert.Nil(t, status.CircuitBreaker.OpenedAt)
	assert.Equal(t, 1, prober.invalidated, "reset drops the cached lag result")

	require.NoError(t, r.Read(context.Background(), counter.fn(nil)))
	assert.Equal(t, 4, counter.replicaCalls, "reads route to the replica again")
}

func TestReplicaStatus_ForceRefreshBypassesCache(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, _, _ := newTestRouter(t, true, prober)

	r.ReplicaStatus(context.Background(), false)
	assert.Equal(t, 1, prober.checks)
	assert.Equal(t, 0, prober.refreshes)

	r.ReplicaStatus(context.Background(), true)
	assert.Equal(t, 1, prober.refreshes)
}

func TestReplicaStatus_Fields(t *testing.T) {
	lag := int64(1200)
	prober := &fakeProber{result: ReplicationLagResult{LagMs: &lag, Healthy: true}}
	r, _, _ := newTestRouter(t, true, prober)

	status := r.ReplicaStatus(context.Background(), false)
	assert.True(t, status.Configured)
	assert.True(t, status.Healthy)
	require.NotNil(t, status.LagMs)
	assert.Equal(t, int64(1200), *status.LagMs)
	assert.Equal(t, int64(5000), status.MaxLagMs)
}

func TestRead_ConcurrentFailures_NoLostBreakerIncrements(t *testing.T) {
	prober := &fakeProber{result: healthyProbe()}
	r, primary, replica := newTestRouter(t, true, prober)
	counter := &targetCounter{primary: primary, replica: replica}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Read(context.Background(), counter.fn2(errors.New("replica down")))
		}()
	}
	wg.Wait()

	// Every read completed against one of the two targets and the breaker
	// ended open; exact counts depend on interleaving.
	status := r.ReplicaStatus(context.Background(), false)
	assert.Equal(t, "open", status.CircuitBreaker.State)
	counter.mu.Lock()
	total := counter.primaryCalls + counter.replicaCalls
	counter.mu.Unlock()
	assert.GreaterOrEqual(t, total, 20)
}

func TestHasReplica(t *testing.T) {
	prober := &fakeProber{}
	r, _, _ := newTestRouter(t, true, prober)
	assert.True(t, r.HasReplica())

	r2, _, _ := newTestRouter(t, false, prober)
	assert.False(t, r2.HasReplica())
}
