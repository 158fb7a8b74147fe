package mqttng

import (
	"strconv"
	"time"
)

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics is a sink for engine instrumentation. Implementations must be safe
// for concurrent use; extensions/prom adapts it to Prometheus.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Add(delta float64)
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)

	// ObserveDuration records a duration in seconds.
	ObserveDuration(d time.Duration)

	Count() uint64
	Sum() float64
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

func (NoOpMetrics) Counter(_ string, _ MetricLabels) Counter     { return noOpCounter{} }
func (NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge         { return noOpGauge{} }
func (NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram { return noOpHistogram{} }

type noOpCounter struct{}

func (noOpCounter) Inc()           {}
func (noOpCounter) Add(_ float64)  {}
func (noOpCounter) Value() float64 { return 0 }

type noOpGauge struct{}

func (noOpGauge) Set(_ float64)  {}
func (noOpGauge) Add(_ float64)  {}
func (noOpGauge) Value() float64 { return 0 }

type noOpHistogram struct{}

func (noOpHistogram) Observe(_ float64)               {}
func (noOpHistogram) ObserveDuration(_ time.Duration) {}
func (noOpHistogram) Count() uint64                   { return 0 }
func (noOpHistogram) Sum() float64                    { return 0 }

// Metric names emitted by the engine.
const (
	MetricMessagesQueued   = "mqttng_messages_queued_total"
	MetricMessagesSent     = "mqttng_messages_sent_total"
	MetricMessagesReceived = "mqttng_messages_received_total"
	MetricPubacks          = "mqttng_pubacks_total"
	MetricResends          = "mqttng_resends_total"
	MetricAbandoned        = "mqttng_abandoned_total"
	MetricBytesSent        = "mqttng_bytes_sent_total"
	MetricBytesReceived    = "mqttng_bytes_received_total"
	MetricReconnects       = "mqttng_reconnects_total"
	MetricProtocolErrors   = "mqttng_protocol_errors_total"
	MetricPubackLatency    = "mqttng_puback_latency_seconds"
)

// Metric labels.
const (
	LabelQoS        = "qos"
	LabelReasonCode = "reason_code"
)

// engineMetrics wraps a Metrics sink with the engine's instruments.
type engineMetrics struct {
	metrics Metrics
}

func newEngineMetrics(m Metrics) *engineMetrics {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &engineMetrics{metrics: m}
}

func qosLabels(qos QoS) MetricLabels {
	return MetricLabels{LabelQoS: strconv.Itoa(int(qos))}
}

func (m *engineMetrics) messageQueued(qos QoS) {
	m.metrics.Counter(MetricMessagesQueued, qosLabels(qos)).Inc()
}

func (m *engineMetrics) messageSent(qos QoS) {
	m.metrics.Counter(MetricMessagesSent, qosLabels(qos)).Inc()
}

func (m *engineMetrics) messageReceived(qos QoS) {
	m.metrics.Counter(MetricMessagesReceived, qosLabels(qos)).Inc()
}

func (m *engineMetrics) puback(code ReasonCode, wait time.Duration) {
	labels := MetricLabels{LabelReasonCode: strconv.Itoa(int(code))}
	m.metrics.Counter(MetricPubacks, labels).Inc()
	m.metrics.Histogram(MetricPubackLatency, nil).ObserveDuration(wait)
}

func (m *engineMetrics) resend() {
	m.metrics.Counter(MetricResends, nil).Inc()
}

func (m *engineMetrics) abandoned() {
	m.metrics.Counter(MetricAbandoned, nil).Inc()
}

func (m *engineMetrics) bytesSent(n int) {
	m.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

func (m *engineMetrics) bytesReceived(n int) {
	m.metrics.Counter(MetricBytesReceived, nil).Add(float64(n))
}

func (m *engineMetrics) reconnect() {
	m.metrics.Counter(MetricReconnects, nil).Inc()
}

func (m *engineMetrics) protocolError() {
	m.metrics.Counter(MetricProtocolErrors, nil).Inc()
}
