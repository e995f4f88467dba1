package metrics

import (
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
	Timer   MetricType = "timer"
)

// Metric represents a single metric with its metadata
type Metric struct {
	Name        string     `json:"name"`
	Type        MetricType `json:"type"`
	Value       float64    `json:"value"`
	Count       int64      `json:"count,omitempty"`
	Description string     `json:"description,omitempty"`
	LastUpdate  time.Time  `json:"last_update"`
}

// TimerMetric stores timing information
type TimerMetric struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Average float64 `json:"avg_ms"`
}

// Registry manages all metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	gauges    map[string]*Metric
	timers    map[string]*TimerMetric
	startTime time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		gauges:    make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		startTime: time.Now(),
	}
}

// IncrementCounter adds delta to a named counter
func (r *Registry) IncrementCounter(name string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.counters[name]
	if !ok {
		m = &Metric{Name: name, Type: Counter}
		r.counters[name] = m
	}
	m.Value += delta
	m.Count++
	m.LastUpdate = time.Now()
}

// SetGauge sets a named gauge to a value
func (r *Registry) SetGauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.gauges[name]
	if !ok {
		m = &Metric{Name: name, Type: Gauge}
		r.gauges[name] = m
	}
	m.Value = value
	m.LastUpdate = time.Now()
}

// RecordTimer records an observed duration under a named timer
func (r *Registry) RecordTimer(name string, d time.Duration) {
	ms := float64(d.Milliseconds())

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[name]
	if !ok {
		t = &TimerMetric{Min: ms, Max: ms}
		r.timers[name] = t
	}
	t.Count++
	t.Sum += ms
	if ms < t.Min {
		t.Min = ms
	}
	if ms > t.Max {
		t.Max = ms
	}
	t.Average = t.Sum / float64(t.Count)
}

// CounterValue returns the current value of a counter (0 if absent)
func (r *Registry) CounterValue(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.counters[name]; ok {
		return m.Value
	}
	return 0
}

// GaugeValue returns the current value of a gauge (0 if absent)
func (r *Registry) GaugeValue(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.gauges[name]; ok {
		return m.Value
	}
	return 0
}

// Snapshot returns a serializable view of every metric plus uptime
func (r *Registry) Snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters := make(map[string]*Metric, len(r.counters))
	for k, v := range r.counters {
		cp := *v
		counters[k] = &cp
	}
	gauges := make(map[string]*Metric, len(r.gauges))
	for k, v := range r.gauges {
		cp := *v
		gauges[k] = &cp
	}
	timers := make(map[string]*TimerMetric, len(r.timers))
	for k, v := range r.timers {
		cp := *v
		timers[k] = &cp
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(r.startTime).Seconds(),
		"counters":       counters,
		"gauges":         gauges,
		"timers":         timers,
	}
}

// Well-known metric names used by the engine.
const (
	MetricEventsIngested  = "ingest.events"
	MetricDuplicates      = "ingest.duplicates"
	MetricInserts         = "ingest.inserts"
	MetricConfirms        = "ingest.confirms"
	MetricRetractions     = "ingest.retractions"
	MetricResyncRuns      = "resync.runs"
	MetricResyncFailures  = "resync.failures"
	MetricSendAttempts    = "send.attempts"
	MetricSendFailures    = "send.failures"
	MetricLiveReconnects  = "live.reconnects"
	MetricConnectionState = "live.connection_state"
	MetricResyncDuration  = "resync.duration"
	MetricApplyDuration   = "ingest.apply_duration"
)

// Default is the process-wide registry used by package-level helpers.
var Default = NewRegistry()

// IncrementCounter adds delta to a counter on the default registry.
func IncrementCounter(name string, delta float64) {
	Default.IncrementCounter(name, delta)
}

// SetGauge sets a gauge on the default registry.
func SetGauge(name string, value float64) {
	Default.SetGauge(name, value)
}

// RecordTimer records a duration on the default registry.
func RecordTimer(name string, d time.Duration) {
	Default.RecordTimer(name, d)
}
