package mqttng

import (
	"errors"
)

var (
	ErrPacketIDExhausted = errors.New("no available packet IDs")
	ErrInvalidQoS        = errors.New("invalid QoS level")
)

// QoS is an MQTT delivery guarantee level.
type QoS byte

const (
	QoS0 QoS = 0 // at most once
	QoS1 QoS = 1 // at least once
	QoS2 QoS = 2 // exactly once; not supported for outbound publishes
)

// PacketIDAllocator hands out packet identifiers 1..65535 in increasing order,
// wrapping around and skipping identifiers that are still in use.
// Not safe for concurrent use.
type PacketIDAllocator struct {
	used map[uint16]struct{}
	next uint16
}

// NewPacketIDAllocator creates an allocator starting at 1.
func NewPacketIDAllocator() *PacketIDAllocator {
	return &PacketIDAllocator{
		used: make(map[uint16]struct{}),
		next: 1,
	}
}

// Allocate returns the next free packet ID.
func (a *PacketIDAllocator) Allocate() (uint16, error) {
	if len(a.used) >= maxUint16 {
		return 0, ErrPacketIDExhausted
	}

	for {
		id := a.next
		a.next++
		if a.next == 0 {
			a.next = 1
		}

		if _, ok := a.used[id]; !ok {
			a.used[id] = struct{}{}
			return id, nil
		}
	}
}

// Release makes id available again. Unknown ids are ignored.
func (a *PacketIDAllocator) Release(id uint16) {
	delete(a.used, id)
}

// InUse reports whether id is allocated.
func (a *PacketIDAllocator) InUse(id uint16) bool {
	_, ok := a.used[id]
	return ok
}

// Count returns the number of allocated ids.
func (a *PacketIDAllocator) Count() int {
	return len(a.used)
}

// Reset releases every id and restarts numbering at 1.
func (a *PacketIDAllocator) Reset() {
	clear(a.used)
	a.next = 1
}
