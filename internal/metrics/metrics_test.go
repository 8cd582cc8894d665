package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordAndSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordDBQuery(TargetPrimary, 10*time.Millisecond, nil)
	c.RecordDBQuery(TargetPrimary, 30*time.Millisecond, nil)
	c.RecordDBQuery(TargetReplica, 5*time.Millisecond, errors.New("conn refused"))

	snapshot := c.Snapshot()
	require.Len(t, snapshot, 2)

	primary := snapshot[TargetPrimary]
	assert.Equal(t, uint64(2), primary.Queries)
	assert.Equal(t, uint64(0), primary.Errors)
	assert.Equal(t, int64(30), primary.MaxMs)
	assert.InDelta(t, 20.0, primary.AvgMs, 0.01)

	replica := snapshot[TargetReplica]
	assert.Equal(t, uint64(1), replica.Queries)
	assert.Equal(t, uint64(1), replica.Errors)
}

func TestCollector_EmptySnapshot(t *testing.T) {
	c := NewCollector()
	assert.Empty(t, c.Snapshot())
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordDBQuery(TargetPrimary, time.Millisecond, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(100), c.Snapshot()[TargetPrimary].Queries)
}
