package mqttng

import (
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryMetrics is an in-memory implementation of Metrics, used by tests
// and by hosts that poll values instead of scraping.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}
}

// labelsKey builds a stable key; label order does not matter.
func labelsKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func getOrCreate[T any](mu *sync.RWMutex, m map[string]*T, key string) *T {
	mu.RLock()
	v, ok := m[key]
	mu.RUnlock()
	if ok {
		return v
	}

	mu.Lock()
	defer mu.Unlock()
	if v, ok := m[key]; ok {
		return v
	}
	v = new(T)
	m[key] = v
	return v
}

func lookup[T any](mu *sync.RWMutex, m map[string]*T, key string) (*T, bool) {
	mu.RLock()
	defer mu.RUnlock()
	v, ok := m[key]
	return v, ok
}

// Counter returns a counter metric.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return getOrCreate(&m.mu, m.counters, labelsKey(name, labels))
}

// Gauge returns a gauge metric.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return getOrCreate(&m.mu, m.gauges, labelsKey(name, labels))
}

// Histogram returns a histogram metric.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return getOrCreate(&m.mu, m.histograms, labelsKey(name, labels))
}

// CounterValue returns the value of a counter, or zero if it was never created.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	if c, ok := lookup(&m.mu, m.counters, labelsKey(name, labels)); ok {
		return c.Value()
	}
	return 0
}

// GaugeValue returns the value of a gauge and whether it exists.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) (float64, bool) {
	if g, ok := lookup(&m.mu, m.gauges, labelsKey(name, labels)); ok {
		return g.Value(), true
	}
	return 0, false
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	if h, ok := lookup(&m.mu, m.histograms, labelsKey(name, labels)); ok {
		return h.Count()
	}
	return 0
}

type memoryCounter struct {
	value atomic.Uint64
}

func (c *memoryCounter) Inc()              { c.Add(1) }
func (c *memoryCounter) Add(delta float64) { addFloat(&c.value, delta) }
func (c *memoryCounter) Value() float64    { return math.Float64frombits(c.value.Load()) }

type memoryGauge struct {
	value atomic.Uint64
}

func (g *memoryGauge) Set(value float64) { g.value.Store(math.Float64bits(value)) }
func (g *memoryGauge) Add(delta float64) { addFloat(&g.value, delta) }
func (g *memoryGauge) Value() float64    { return math.Float64frombits(g.value.Load()) }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomic.Uint64
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	addFloat(&h.sum, value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

func (h *memoryHistogram) Count() uint64 { return h.count.Load() }
func (h *memoryHistogram) Sum() float64  { return math.Float64frombits(h.sum.Load()) }

// addFloat adds delta to a float64 stored as bits.
func addFloat(v *atomic.Uint64, delta float64) {
	for {
		old := v.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if v.CompareAndSwap(old, next) {
			return
		}
	}
}
