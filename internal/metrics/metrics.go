// Package metrics provides an in-process collector for query metrics.
// The router records every executed query here; the admin endpoint exposes
// a snapshot. Recording is purely observational and never affects routing.
package metrics

import (
	"sync"
	"time"
)

// Query targets as recorded by the router.
const (
	TargetPrimary = "primary"
	TargetReplica = "replica"
)

// Recorder is the metrics sink the data layer writes to.
type Recorder interface {
	RecordDBQuery(target string, duration time.Duration, err error)
}

// Collector aggregates query counts and latencies per target. Safe for
// concurrent use.
type Collector struct {
	mu      sync.Mutex
	targets map[string]*targetStats
}

type targetStats struct {
	queries       uint64
	errors        uint64
	totalDuration time.Duration
	maxDuration   time.Duration
}

// NewCollector creates an empty metrics collector.
func NewCollector() *Collector {
	return &Collector{
		targets: make(map[string]*targetStats),
	}
}

// RecordDBQuery records one executed query against a target.
func (c *Collector) RecordDBQuery(target string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.targets[target]
	if !ok {
		stats = &targetStats{}
		c.targets[target] = stats
	}
	stats.queries++
	if err != nil {
		stats.errors++
	}
	stats.totalDuration += duration
	if duration > stats.maxDuration {
		stats.maxDuration = duration
	}
}

// TargetSnapshot is a point-in-time view of one target's query metrics.
type TargetSnapshot struct {
	Queries uint64  `json:"queries"`
	Errors  uint64  `json:"errors"`
	AvgMs   float64 `json:"avg_ms"`
	MaxMs   int64   `json:"max_ms"`
}

// Snapshot returns per-target metrics keyed by target name.
func (c *Collector) Snapshot() map[string]TargetSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[string]TargetSnapshot, len(c.targets))
	for target, stats := range c.targets {
		ts := TargetSnapshot{
			Queries: stats.queries,
			Errors:  stats.errors,
			MaxMs:   stats.maxDuration.Milliseconds(),
		}
		if stats.queries > 0 {
			ts.AvgMs = float64(stats.totalDuration.Milliseconds()) / float64(stats.queries)
		}
		snapshot[target] = ts
	}
	return snapshot
}
