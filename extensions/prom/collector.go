package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitalvas/mqttng"
)

// StatsSource returns a snapshot, e.g. Client.Stats.
type StatsSource func() mqttng.Stats

// Collector reports Stats as gauges. The source is called once per scrape.
type Collector struct {
	source StatsSource
	descs  []*prometheus.Desc
}

// NewCollector creates a Collector. Register it with the registry of choice:
//
//	prometheus.MustRegister(prom.NewCollector(client.Stats))
func NewCollector(source StatsSource, opts ...Option) *Collector {
	config := newConfig(opts)

	fields := mqttng.Stats{}.Fields()
	descs := make([]*prometheus.Desc, len(fields))
	for i, f := range fields {
		descs[i] = prometheus.NewDesc(config.name(f.Name), "mqttng stats "+f.Name, nil, config.ConstLabels)
	}

	return &Collector{source: source, descs: descs}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for i, f := range c.source().Fields() {
		ch <- prometheus.MustNewConstMetric(c.descs[i], prometheus.GaugeValue, float64(f.Value))
	}
}
