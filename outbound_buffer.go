package mqttng

import (
	"errors"
	"time"
)

// Outbound buffer errors.
var (
	// ErrOutOfMemory is returned when the outbound buffer cannot grow to fit a packet.
	// It is never retried internally. The connection stays up unless
	// WithCloseOnBufferExhausted is set.
	ErrOutOfMemory = errors.New("outbound buffer exhausted")

	// ErrMarkOverflow is returned when MarkSent reports more bytes than were pending.
	ErrMarkOverflow = errors.New("marked more bytes than pending")
)

const (
	defaultBufferSize    = 64 * 1024
	defaultMaxBufferSize = 8 * 1024 * 1024
)

type entryState uint8

const (
	entryQueued  entryState = iota // no byte written yet
	entryPartial                   // some bytes written
	entrySent                      // fully written, awaiting PUBACK
	entryDone                      // transmitted or acknowledged, reclaimable
)

// bufferEntry tracks one serialized PUBLISH inside the buffer.
type bufferEntry struct {
	offset       int
	length       int
	packetID     uint16
	qos          QoS
	state        entryState
	written      int
	writes       int
	resend       bool // in-flight quota already held
	enqueuedAt   time.Time
	firstWriteAt time.Time
}

func (e *bufferEntry) end() int {
	return e.offset + e.length
}

// Transmission describes a buffered packet whose last byte reached the transport.
type Transmission struct {
	PacketID     uint16
	QoS          QoS
	Length       int
	EnqueuedAt   time.Time
	FirstWriteAt time.Time
	Writes       int
}

// OutboundBuffer is a growable byte arena holding serialized PUBLISH packets
// awaiting transmission or acknowledgement. The region [0, used) holds data;
// its first Reclaimable() bytes belong to finished packets and are reused by
// the next compaction.
//
// Not safe for concurrent use.
type OutboundBuffer struct {
	data        []byte
	tail        int
	maxSize     int
	reclaimable int

	entries []*bufferEntry
	next    int // index of the next entry to transmit
	byID    map[uint16]*bufferEntry
}

// NewOutboundBuffer creates a buffer with the given initial capacity that may
// grow up to maxSize bytes.
func NewOutboundBuffer(size, maxSize int) *OutboundBuffer {
	if size <= 0 {
		size = defaultBufferSize
	}
	if maxSize < size {
		maxSize = size
	}
	return &OutboundBuffer{
		data:    make([]byte, size),
		maxSize: maxSize,
		byID:    make(map[uint16]*bufferEntry),
	}
}

// Size returns the current capacity.
func (b *OutboundBuffer) Size() int { return len(b.data) }

// Used returns the bytes holding unsent, unacknowledged or not yet reclaimed data.
func (b *OutboundBuffer) Used() int { return b.tail }

// Free returns Size() - Used().
func (b *OutboundBuffer) Free() int { return len(b.data) - b.tail }

// Reclaimable returns the finished bytes at the front of the buffer.
func (b *OutboundBuffer) Reclaimable() int { return b.reclaimable }

// MaxSize returns the growth limit.
func (b *OutboundBuffer) MaxSize() int { return b.maxSize }

// Len returns the number of tracked packets, finished ones included.
func (b *OutboundBuffer) Len() int { return len(b.entries) }

// Pending returns the number of bytes not yet handed to the transport.
func (b *OutboundBuffer) Pending() int {
	n := 0
	for _, e := range b.entries[b.next:] {
		if e.state == entryQueued || e.state == entryPartial {
			n += e.length - e.written
		}
	}
	return n
}

// Reserve appends an n byte region for a packet and returns it for the caller
// to fill before any other call on the buffer. Reclaimable bytes are compacted
// first; the backing array doubles only when that is not enough.
func (b *OutboundBuffer) Reserve(n int, packetID uint16, qos QoS, now time.Time) ([]byte, error) {
	if n <= 0 {
		return nil, ErrMalformedPacket
	}

	if n > b.Free() {
		b.Reclaim()
		if n <= b.Free()+b.reclaimable {
			b.Compact()
		} else if err := b.grow(n); err != nil {
			return nil, err
		}
	}

	e := &bufferEntry{
		offset:     b.tail,
		length:     n,
		packetID:   packetID,
		qos:        qos,
		enqueuedAt: now,
	}
	b.entries = append(b.entries, e)
	b.tail += n

	if qos > QoS0 {
		b.byID[packetID] = e
	}

	return b.data[e.offset:e.end():e.end()], nil
}

// grow reallocates so that n more bytes fit, dropping reclaimable bytes in the copy.
func (b *OutboundBuffer) grow(n int) error {
	live := b.tail - b.reclaimable
	need := live + n
	if need > b.maxSize {
		return ErrOutOfMemory
	}

	size := len(b.data)
	for size < need {
		size *= 2
	}
	if size > b.maxSize {
		size = b.maxSize
	}

	data := make([]byte, size)
	copy(data, b.data[b.reclaimable:b.tail])
	b.shift(b.reclaimable)
	b.data = data
	return nil
}

// Compact moves live bytes to the front, making reclaimable capacity free
// without a new allocation.
func (b *OutboundBuffer) Compact() {
	if b.reclaimable == 0 {
		return
	}
	copy(b.data, b.data[b.reclaimable:b.tail])
	b.shift(b.reclaimable)
}

// shift rebases offsets after the first delta bytes were dropped.
func (b *OutboundBuffer) shift(delta int) {
	for _, e := range b.entries {
		e.offset -= delta
	}
	b.tail -= delta
	b.reclaimable = 0
}

// Reclaim advances the reclaim boundary past finished packets at the front.
func (b *OutboundBuffer) Reclaim() int {
	k := 0
	for k < len(b.entries) && b.entries[k].state == entryDone {
		k++
	}

	if k > 0 {
		b.entries = append(b.entries[:0], b.entries[k:]...)
		b.next -= k
		if b.next < 0 {
			b.next = 0
		}
	}

	if len(b.entries) == 0 {
		b.reclaimable = b.tail
	} else {
		b.reclaimable = b.entries[0].offset
	}

	return b.reclaimable
}

// NextChunk returns the contiguous bytes that should be written next.
// At most quota not yet started QoS 1 packets are included, not counting
// resends; a packet already partially written is always continued. The slice
// is valid until the next mutating call.
func (b *OutboundBuffer) NextChunk(quota int) []byte {
	for b.next < len(b.entries) {
		if s := b.entries[b.next].state; s != entryDone && s != entrySent {
			break
		}
		b.next++
	}

	start, end := -1, -1
	for _, e := range b.entries[b.next:] {
		if e.state == entryDone || e.state == entrySent {
			if start >= 0 {
				break
			}
			continue
		}

		if e.qos > QoS0 && !e.resend {
			if e.state == entryQueued && quota <= 0 {
				break
			}
			quota--
		}

		if start < 0 {
			start = e.offset + e.written
		} else if e.offset != end {
			break
		}
		end = e.end()
	}

	if start < 0 {
		return nil
	}
	return b.data[start:end]
}

// MarkSent records that n bytes returned by NextChunk were written by the
// transport and returns the packets that completed.
func (b *OutboundBuffer) MarkSent(n int, now time.Time) ([]Transmission, error) {
	var done []Transmission

	for i := b.next; n > 0 && i < len(b.entries); i++ {
		e := b.entries[i]
		if e.state == entryDone || e.state == entrySent {
			continue
		}

		take := min(n, e.length-e.written)
		if e.written == 0 {
			e.firstWriteAt = now
		}
		e.written += take
		e.writes++
		n -= take

		if e.written < e.length {
			e.state = entryPartial
			break
		}

		if e.qos == QoS0 {
			e.state = entryDone
		} else {
			e.state = entrySent
		}

		done = append(done, Transmission{
			PacketID:     e.packetID,
			QoS:          e.qos,
			Length:       e.length,
			EnqueuedAt:   e.enqueuedAt,
			FirstWriteAt: e.firstWriteAt,
			Writes:       e.writes,
		})
	}

	if n > 0 {
		return done, ErrMarkOverflow
	}
	return done, nil
}

// PartialChunk returns the unwritten tail of the packet currently being
// written, or nil when no packet is mid-write.
func (b *OutboundBuffer) PartialChunk() []byte {
	for _, e := range b.entries[b.next:] {
		switch e.state {
		case entryPartial:
			return b.data[e.offset+e.written : e.end()]
		case entryQueued:
			return nil
		}
	}
	return nil
}

// PartialSince reports when the packet currently being written started, if any.
func (b *OutboundBuffer) PartialSince() (time.Time, bool) {
	for _, e := range b.entries[b.next:] {
		if e.state == entryPartial {
			return e.firstWriteAt, true
		}
		if e.state == entryQueued {
			break
		}
	}
	return time.Time{}, false
}

// OldestUnsent reports the enqueue time of the first packet without any byte written.
func (b *OutboundBuffer) OldestUnsent() (time.Time, bool) {
	for _, e := range b.entries[b.next:] {
		if e.state == entryQueued {
			return e.enqueuedAt, true
		}
	}
	return time.Time{}, false
}

// Ack finishes the QoS 1 packet with the given id. Returns false if the id is
// unknown or the packet has not been fully written.
func (b *OutboundBuffer) Ack(packetID uint16) bool {
	e, ok := b.byID[packetID]
	if !ok || e.state != entrySent {
		return false
	}
	e.state = entryDone
	delete(b.byID, packetID)
	return true
}

// Drop abandons a QoS 1 packet that is not in the middle of a write.
func (b *OutboundBuffer) Drop(packetID uint16) bool {
	e, ok := b.byID[packetID]
	if !ok || e.state == entryPartial {
		return false
	}
	e.state = entryDone
	delete(b.byID, packetID)
	return true
}

// Requeue appends a copy of a sent QoS 1 packet with the DUP flag set. The
// original region becomes reclaimable.
func (b *OutboundBuffer) Requeue(packetID uint16, now time.Time) error {
	old, ok := b.byID[packetID]
	if !ok || old.state != entrySent {
		return ErrUnknownPacketID
	}

	dst, err := b.Reserve(old.length, packetID, old.qos, now)
	if err != nil {
		return err
	}

	// Reserve may have compacted or grown the array; old.offset is current.
	copy(dst, b.data[old.offset:old.end()])
	dst[0] |= publishFlagDUP
	b.entries[len(b.entries)-1].resend = true
	old.state = entryDone
	return nil
}

// Rewind prepares retained packets for a new connection: every unfinished
// packet is marked unsent again and restarts from its first byte. QoS 1
// packets that were already written carry the DUP flag. Returns the number of
// rewound packets.
func (b *OutboundBuffer) Rewind() int {
	rewound := 0
	first := -1

	for i, e := range b.entries {
		if e.state == entryDone {
			continue
		}
		if first < 0 {
			first = i
		}
		if e.state == entryQueued {
			continue
		}

		if e.qos > QoS0 && e.written > 0 {
			b.data[e.offset] |= publishFlagDUP
		}
		e.state = entryQueued
		e.resend = false
		e.written = 0
		e.writes = 0
		e.firstWriteAt = time.Time{}
		rewound++
	}

	if first < 0 {
		first = len(b.entries)
	}
	b.next = first
	return rewound
}

// ClearDuplicates removes the DUP flag from every packet not yet written and
// returns how many were changed.
func (b *OutboundBuffer) ClearDuplicates() int {
	n := 0
	for _, e := range b.entries[b.next:] {
		if e.state != entryQueued || e.qos == QoS0 {
			continue
		}
		if b.data[e.offset]&publishFlagDUP != 0 {
			b.data[e.offset] &^= publishFlagDUP
			n++
		}
	}
	return n
}

// Discard drops every packet and returns the ids of unfinished QoS 1 packets.
func (b *OutboundBuffer) Discard() []uint16 {
	var ids []uint16
	for _, e := range b.entries {
		if e.qos > QoS0 && e.state != entryDone {
			ids = append(ids, e.packetID)
		}
	}

	b.entries = b.entries[:0]
	b.next = 0
	b.tail = 0
	b.reclaimable = 0
	clear(b.byID)
	return ids
}
