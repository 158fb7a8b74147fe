package mqttng

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpMetrics(t *testing.T) {
	var m Metrics = NoOpMetrics{}

	c := m.Counter("c", nil)
	c.Inc()
	c.Add(5)
	assert.Zero(t, c.Value())

	g := m.Gauge("g", nil)
	g.Set(3)
	g.Add(1)
	assert.Zero(t, g.Value())

	h := m.Histogram("h", nil)
	h.Observe(1)
	h.ObserveDuration(time.Second)
	assert.Zero(t, h.Count())
	assert.Zero(t, h.Sum())
}

func TestEngineMetrics(t *testing.T) {
	m := NewMemoryMetrics()
	e, clock, _ := newTestEngine(t, WithMetrics(m), WithAckTimeout(time.Second), WithMaxResends(1))
	establish(t, e, &ConnackPacket{})

	qos0 := MetricLabels{LabelQoS: "0"}
	qos1 := MetricLabels{LabelQoS: "1"}

	_, err := e.Publish("a/b", []byte("x"), QoS0, nil)
	require.NoError(t, err)
	acked, err := e.Publish("a/b", []byte("y"), QoS1, nil)
	require.NoError(t, err)
	_, err = e.Publish("a/b", []byte("z"), QoS1, nil)
	require.NoError(t, err)
	flushAll(t, e)

	assert.Equal(t, 1.0, m.CounterValue(MetricMessagesQueued, qos0))
	assert.Equal(t, 2.0, m.CounterValue(MetricMessagesQueued, qos1))
	assert.Equal(t, 2.0, m.CounterValue(MetricMessagesSent, qos1))
	assert.Positive(t, m.CounterValue(MetricBytesSent, nil))

	require.NoError(t, e.Feed(encode(t, &PubackPacket{PacketID: acked})))
	assert.Equal(t, 1.0, m.CounterValue(MetricPubacks, MetricLabels{LabelReasonCode: "0"}))
	assert.Equal(t, uint64(1), m.HistogramCount(MetricPubackLatency, nil))

	clock.Advance(2 * time.Second)
	require.NoError(t, e.Tick())
	flushAll(t, e)
	assert.Equal(t, 1.0, m.CounterValue(MetricResends, nil))

	clock.Advance(2 * time.Second)
	require.NoError(t, e.Tick())
	assert.Equal(t, 1.0, m.CounterValue(MetricAbandoned, nil))

	require.NoError(t, e.Feed(encode(t, &PublishPacket{Message: Message{Topic: "in"}})))
	assert.Equal(t, 1.0, m.CounterValue(MetricMessagesReceived, qos0))
	assert.Positive(t, m.CounterValue(MetricBytesReceived, nil))

	require.Error(t, e.Feed([]byte{0xC0, 0x00}))
	assert.Equal(t, 1.0, m.CounterValue(MetricProtocolErrors, nil))
	assert.Equal(t, 1.0, m.CounterValue(MetricReconnects, nil))

	e.TransportError(io.EOF)
	assert.Equal(t, 1.0, m.CounterValue(MetricReconnects, nil), "no reconnect while already reconnecting")
}
