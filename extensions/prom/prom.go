// Package prom exposes mqttng instrumentation to Prometheus: a Metrics sink
// for the engine's counters and histograms, and a Collector that publishes
// Stats snapshots as gauges at scrape time.
package prom

import (
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/vitalvas/mqttng"
)

// Config configures the Prometheus adapters.
type Config struct {
	// Namespace is prepended to every metric name. Empty keeps the mqttng_ names.
	Namespace string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets. Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry registers the metrics. Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures Config.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels, e.g. the device id.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func newConfig(opts []Option) Config {
	c := Config{
		Buckets:  prometheus.DefBuckets,
		Registry: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c Config) name(name string) string {
	return prometheus.BuildFQName(c.Namespace, "", name)
}

// Metrics implements mqttng.Metrics on Prometheus vectors. A vector is
// registered on first use of a name; the label keys of that first call fix
// its label set.
type Metrics struct {
	config  Config
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewMetrics creates a Metrics sink.
func NewMetrics(opts ...Option) *Metrics {
	config := newConfig(opts)
	return &Metrics{
		config:     config,
		factory:    promauto.With(config.Registry),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels mqttng.MetricLabels) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Counter returns the counter for name and labels.
func (m *Metrics) Counter(name string, labels mqttng.MetricLabels) mqttng.Counter {
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = m.factory.NewCounterVec(prometheus.CounterOpts{
			Name:        m.config.name(name),
			Help:        "mqttng counter " + name,
			ConstLabels: m.config.ConstLabels,
		}, labelNames(labels))
		m.counters[name] = vec
	}
	m.mu.Unlock()

	return counter{vec.With(prometheus.Labels(labels))}
}

// Gauge returns the gauge for name and labels.
func (m *Metrics) Gauge(name string, labels mqttng.MetricLabels) mqttng.Gauge {
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = m.factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        m.config.name(name),
			Help:        "mqttng gauge " + name,
			ConstLabels: m.config.ConstLabels,
		}, labelNames(labels))
		m.gauges[name] = vec
	}
	m.mu.Unlock()

	return gauge{vec.With(prometheus.Labels(labels))}
}

// Histogram returns the histogram for name and labels.
func (m *Metrics) Histogram(name string, labels mqttng.MetricLabels) mqttng.Histogram {
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = m.factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        m.config.name(name),
			Help:        "mqttng histogram " + name,
			ConstLabels: m.config.ConstLabels,
			Buckets:     m.config.Buckets,
		}, labelNames(labels))
		m.histograms[name] = vec
	}
	m.mu.Unlock()

	return histogram{vec.With(prometheus.Labels(labels)).(prometheus.Histogram)}
}

func read(m prometheus.Metric) *dto.Metric {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return &dto.Metric{}
	}
	return &out
}

type counter struct{ c prometheus.Counter }

func (c counter) Inc()              { c.c.Inc() }
func (c counter) Add(delta float64) { c.c.Add(delta) }
func (c counter) Value() float64    { return read(c.c).GetCounter().GetValue() }

type gauge struct{ g prometheus.Gauge }

func (g gauge) Set(value float64) { g.g.Set(value) }
func (g gauge) Add(delta float64) { g.g.Add(delta) }
func (g gauge) Value() float64    { return read(g.g).GetGauge().GetValue() }

type histogram struct{ h prometheus.Histogram }

func (h histogram) Observe(value float64) { h.h.Observe(value) }
func (h histogram) Count() uint64         { return read(h.h).GetHistogram().GetSampleCount() }
func (h histogram) Sum() float64          { return read(h.h).GetHistogram().GetSampleSum() }

func (h histogram) ObserveDuration(d time.Duration) {
	h.h.Observe(d.Seconds())
}
