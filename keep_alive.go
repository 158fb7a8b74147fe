package mqttng

import (
	"time"
)

const defaultKeepAliveGrace = 1.5

// KeepAlive tracks client-side keep-alive state for one connection: when the
// next PINGREQ is due and whether the broker stopped answering.
// MQTT v5.0 spec: Section 3.1.2.10
type KeepAlive struct {
	interval    time.Duration
	graceFactor float64

	lastSent     time.Time
	lastReceived time.Time
	pingSentAt   time.Time
	pingPending  bool
}

// NewKeepAlive creates a tracker for the given interval in seconds. Zero disables it.
func NewKeepAlive(seconds uint16) *KeepAlive {
	return &KeepAlive{
		interval:    time.Duration(seconds) * time.Second,
		graceFactor: defaultKeepAliveGrace,
	}
}

// Interval returns the effective keep-alive interval.
func (k *KeepAlive) Interval() time.Duration {
	return k.interval
}

// SetInterval applies a Server Keep Alive from CONNACK.
func (k *KeepAlive) SetInterval(seconds uint16) {
	k.interval = time.Duration(seconds) * time.Second
}

// SetGraceFactor sets the multiplier applied to the interval before a
// missing PINGRESP counts as a timeout.
func (k *KeepAlive) SetGraceFactor(factor float64) {
	if factor < 1.0 {
		factor = 1.0
	}
	k.graceFactor = factor
}

// Reset starts tracking a fresh connection.
func (k *KeepAlive) Reset(now time.Time) {
	k.lastSent = now
	k.lastReceived = now
	k.pingSentAt = time.Time{}
	k.pingPending = false
}

// PacketSent records outbound activity.
func (k *KeepAlive) PacketSent(now time.Time) {
	k.lastSent = now
}

// PacketReceived records inbound activity. Any packet answers an outstanding ping.
func (k *KeepAlive) PacketReceived(now time.Time) {
	k.lastReceived = now
	k.pingPending = false
}

// PingDue reports whether a PINGREQ should be queued.
func (k *KeepAlive) PingDue(now time.Time) bool {
	if k.interval == 0 || k.pingPending {
		return false
	}
	return now.Sub(k.lastSent) >= k.interval
}

// PingQueued marks a PINGREQ as outstanding.
func (k *KeepAlive) PingQueued(now time.Time) {
	k.pingPending = true
	k.pingSentAt = now
}

// Expired reports whether an outstanding PINGREQ went unanswered too long.
func (k *KeepAlive) Expired(now time.Time) bool {
	if k.interval == 0 || !k.pingPending {
		return false
	}
	timeout := time.Duration(float64(k.interval) * k.graceFactor)
	return now.Sub(k.pingSentAt) > timeout
}
