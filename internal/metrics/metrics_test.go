package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementCounter(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("test.counter", 1)
	r.IncrementCounter("test.counter", 2.5)

	assert.Equal(t, 3.5, r.CounterValue("test.counter"))
	assert.Equal(t, 0.0, r.CounterValue("missing.counter"))
}

func TestSetGauge(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("test.gauge", 42)
	assert.Equal(t, 42.0, r.GaugeValue("test.gauge"))

	r.SetGauge("test.gauge", 7)
	assert.Equal(t, 7.0, r.GaugeValue("test.gauge"))

	assert.Equal(t, 0.0, r.GaugeValue("missing.gauge"))
}

func TestRecordTimer(t *testing.T) {
	r := NewRegistry()

	r.RecordTimer("test.timer", 100*time.Millisecond)
	r.RecordTimer("test.timer", 300*time.Millisecond)
	r.RecordTimer("test.timer", 200*time.Millisecond)

	snapshot := r.Snapshot()
	timers, ok := snapshot["timers"].(map[string]*TimerMetric)
	require.True(t, ok)

	tm, ok := timers["test.timer"]
	require.True(t, ok)
	assert.Equal(t, int64(3), tm.Count)
	assert.Equal(t, 100.0, tm.Min)
	assert.Equal(t, 300.0, tm.Max)
	assert.Equal(t, 600.0, tm.Sum)
	assert.Equal(t, 200.0, tm.Average)
}

func TestSnapshotContainsUptime(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("c", 1)
	r.SetGauge("g", 2)

	snapshot := r.Snapshot()

	uptime, ok := snapshot["uptime_seconds"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, uptime, 0.0)

	counters, ok := snapshot["counters"].(map[string]*Metric)
	require.True(t, ok)
	assert.Contains(t, counters, "c")

	gauges, ok := snapshot["gauges"].(map[string]*Metric)
	require.True(t, ok)
	assert.Contains(t, gauges, "g")
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("c", 1)

	snapshot := r.Snapshot()
	counters := snapshot["counters"].(map[string]*Metric)
	counters["c"].Value = 99

	assert.Equal(t, 1.0, r.CounterValue("c"))
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.IncrementCounter("concurrent.counter", 1)
				r.SetGauge("concurrent.gauge", float64(j))
				r.RecordTimer("concurrent.timer", time.Millisecond)
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, r.CounterValue("concurrent.counter"))
}

func TestDefaultRegistryHelpers(t *testing.T) {
	IncrementCounter("default.test.counter", 1)
	SetGauge("default.test.gauge", 5)
	RecordTimer("default.test.timer", time.Millisecond)

	assert.GreaterOrEqual(t, Default.CounterValue("default.test.counter"), 1.0)
	assert.Equal(t, 5.0, Default.GaugeValue("default.test.gauge"))
}
