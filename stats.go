package mqttng

import (
	"time"
)

// Stats is a point-in-time view of an engine's queue depth, counters and
// latency high-water marks. Counters are cumulative for the engine's lifetime;
// latency fields only grow until ResetStats.
type Stats struct {
	// TxBytesQueued counts serialized PUBLISH bytes accepted by Publish.
	TxBytesQueued uint64
	// TxMessagesQueued counts PUBLISH packets accepted by Publish.
	TxMessagesQueued uint64
	// TxMessagesSent counts PUBLISH packets whose last byte reached the transport.
	TxMessagesSent uint64
	// RxMessagesRcvd counts inbound PUBLISH packets.
	RxMessagesRcvd uint64
	// PacketsWaitingPuback is the number of transmitted QoS 1 packets awaiting PUBACK.
	PacketsWaitingPuback uint64

	TxBufferUsed        uint64
	TxBufferFree        uint64
	TxBufferSize        uint64
	TxBufferReclaimable uint64

	MaxPubackWaitUs    uint64
	MaxSendQueueWaitUs uint64
	MaxUnsentWaitUs    uint64
	MaxPartialWaitUs   uint64
}

// latencyMarks holds the high-water marks the engine updates as packets move.
type latencyMarks struct {
	sendQueue time.Duration
	unsent    time.Duration
	partial   time.Duration
}

func raise(mark *time.Duration, d time.Duration) {
	if d > *mark {
		*mark = d
	}
}

func micros(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}

// Stat gauge names used by ExportStats.
const (
	StatTxBytesQueued        = "mqttng_tx_bytes_queued"
	StatTxMessagesQueued     = "mqttng_tx_messages_queued"
	StatTxMessagesSent       = "mqttng_tx_messages_sent"
	StatRxMessagesRcvd       = "mqttng_rx_messages_rcvd"
	StatPacketsWaitingPuback = "mqttng_packets_waiting_puback"
	StatTxBufferUsed         = "mqttng_tx_buffer_used_bytes"
	StatTxBufferFree         = "mqttng_tx_buffer_free_bytes"
	StatTxBufferSize         = "mqttng_tx_buffer_size_bytes"
	StatTxBufferReclaimable  = "mqttng_tx_buffer_reclaimable_bytes"
	StatMaxPubackWaitUs      = "mqttng_max_puback_wait_us"
	StatMaxSendQueueWaitUs   = "mqttng_max_send_queue_wait_us"
	StatMaxUnsentWaitUs      = "mqttng_max_unsent_wait_us"
	StatMaxPartialWaitUs     = "mqttng_max_partial_wait_us"
)

// Fields returns the snapshot as name/value pairs in a fixed order.
func (s Stats) Fields() []StatField {
	return []StatField{
		{StatTxBytesQueued, s.TxBytesQueued},
		{StatTxMessagesQueued, s.TxMessagesQueued},
		{StatTxMessagesSent, s.TxMessagesSent},
		{StatRxMessagesRcvd, s.RxMessagesRcvd},
		{StatPacketsWaitingPuback, s.PacketsWaitingPuback},
		{StatTxBufferUsed, s.TxBufferUsed},
		{StatTxBufferFree, s.TxBufferFree},
		{StatTxBufferSize, s.TxBufferSize},
		{StatTxBufferReclaimable, s.TxBufferReclaimable},
		{StatMaxPubackWaitUs, s.MaxPubackWaitUs},
		{StatMaxSendQueueWaitUs, s.MaxSendQueueWaitUs},
		{StatMaxUnsentWaitUs, s.MaxUnsentWaitUs},
		{StatMaxPartialWaitUs, s.MaxPartialWaitUs},
	}
}

// StatField is one named Stats value.
type StatField struct {
	Name  string
	Value uint64
}

// ExportStats copies a snapshot into gauges of m, one per field.
func ExportStats(m Metrics, s Stats, labels MetricLabels) {
	for _, f := range s.Fields() {
		m.Gauge(f.Name, labels).Set(float64(f.Value))
	}
}
