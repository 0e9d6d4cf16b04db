package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpStageDrive, 10*time.Millisecond)
	c.RecordTiming(OpStageDrive, 30*time.Millisecond)
	c.RecordResult(OpSnapshot, 5*time.Millisecond, errors.New("down"))

	snap := c.Snapshot()
	drive := snap.Operations[OpStageDrive]
	require.NotNil(t, drive)
	assert.Equal(t, int64(2), drive.Count)
	assert.Equal(t, int64(10), drive.MinTimeMs)
	assert.Equal(t, int64(30), drive.MaxTimeMs)
	assert.InDelta(t, 20.0, drive.AvgTimeMs, 0.001)
	assert.Nil(t, drive.TotalInputTokens)

	assert.Equal(t, int64(1), snap.Operations[OpSnapshot].Errors)
	assert.NotContains(t, snap.Operations, OpReaperSweep)
}

func TestRecordLLMUsage(t *testing.T) {
	c := NewCollector()
	c.RecordLLMUsage(OpLLMGenerate, time.Millisecond, 100, 20)
	c.RecordLLMUsage(OpLLMGenerate, time.Millisecond, 50, 10)

	op := c.Snapshot().Operations[OpLLMGenerate]
	require.NotNil(t, op.TotalInputTokens)
	assert.Equal(t, int64(150), *op.TotalInputTokens)
	assert.Equal(t, int64(30), *op.TotalOutputTokens)
}

func TestCounters(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Incr(CounterSubmitted)
		}()
	}
	wg.Wait()
	c.Add(CounterEvicted, 3)

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.Counters[CounterSubmitted])
	assert.Equal(t, int64(3), snap.Counters[CounterEvicted])
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpStageDrive, time.Second)
	c.Incr(CounterFailed)
	snap := c.Snapshot()
	assert.Empty(t, snap.Operations)
	assert.Zero(t, c.Uptime())
}
