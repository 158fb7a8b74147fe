package mqttng

import (
	"errors"
	"slices"
	"time"
)

var (
	// ErrUnknownPacketID is returned for a PUBACK that matches no pending publish.
	ErrUnknownPacketID = errors.New("unknown packet ID")

	// ErrAckTimeout is reported when a publish waited too long for its PUBACK.
	ErrAckTimeout = errors.New("acknowledgement timeout")
)

// PendingPublish is a QoS 1 publish waiting for its PUBACK.
type PendingPublish struct {
	PacketID   uint16
	EnqueuedAt time.Time
	Ownership  OwnershipMode
	Resends    int
}

// AckTracker maps packet identifiers to publishes awaiting acknowledgement and
// records how long they waited. Not safe for concurrent use.
type AckTracker struct {
	pending map[uint16]*PendingPublish
	maxWait time.Duration
	now     func() time.Time
}

// NewAckTracker creates a tracker that reads time from now.
func NewAckTracker(now func() time.Time) *AckTracker {
	if now == nil {
		now = time.Now
	}
	return &AckTracker{
		pending: make(map[uint16]*PendingPublish),
		now:     now,
	}
}

// Register starts waiting for the PUBACK of packetID. A previous entry for the
// same id (a resend) keeps its resend count.
func (t *AckTracker) Register(packetID uint16, ownership OwnershipMode) {
	p := &PendingPublish{
		PacketID:   packetID,
		EnqueuedAt: t.now(),
		Ownership:  ownership,
	}
	if prev, ok := t.pending[packetID]; ok {
		p.Resends = prev.Resends
	}
	t.pending[packetID] = p
}

// Acknowledge resolves packetID and updates the maximum PUBACK wait.
func (t *AckTracker) Acknowledge(packetID uint16) (PendingPublish, error) {
	p, ok := t.pending[packetID]
	if !ok {
		return PendingPublish{}, ErrUnknownPacketID
	}
	delete(t.pending, packetID)

	if wait := t.now().Sub(p.EnqueuedAt); wait > t.maxWait {
		t.maxWait = wait
	}
	return *p, nil
}

// Remove drops packetID without recording latency.
func (t *AckTracker) Remove(packetID uint16) (PendingPublish, bool) {
	p, ok := t.pending[packetID]
	if !ok {
		return PendingPublish{}, false
	}
	delete(t.pending, packetID)
	return *p, true
}

// Get returns the pending entry for packetID.
func (t *AckTracker) Get(packetID uint16) (PendingPublish, bool) {
	p, ok := t.pending[packetID]
	if !ok {
		return PendingPublish{}, false
	}
	return *p, true
}

// MarkResent increments the resend count of packetID and returns it.
func (t *AckTracker) MarkResent(packetID uint16) int {
	p, ok := t.pending[packetID]
	if !ok {
		return 0
	}
	p.Resends++
	return p.Resends
}

// SweepTimeouts returns, in ascending order, the ids that waited longer than timeout.
func (t *AckTracker) SweepTimeouts(now time.Time, timeout time.Duration) []uint16 {
	if timeout <= 0 {
		return nil
	}

	var expired []uint16
	for id, p := range t.pending {
		if now.Sub(p.EnqueuedAt) > timeout {
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)
	return expired
}

// IDs returns every pending id in ascending order.
func (t *AckTracker) IDs() []uint16 {
	ids := make([]uint16, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Count returns the number of publishes waiting for PUBACK.
func (t *AckTracker) Count() int {
	return len(t.pending)
}

// MaxWait returns the longest observed PUBACK wait.
func (t *AckTracker) MaxWait() time.Duration {
	return t.maxWait
}

// ResetMaxWait clears the PUBACK wait high-water mark.
func (t *AckTracker) ResetMaxWait() {
	t.maxWait = 0
}

// Clear drops every pending entry and returns them in ascending id order.
func (t *AckTracker) Clear() []PendingPublish {
	out := make([]PendingPublish, 0, len(t.pending))
	for _, id := range t.IDs() {
		out = append(out, *t.pending[id])
	}
	clear(t.pending)
	return out
}
