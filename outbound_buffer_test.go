package mqttng

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bufferEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// reserveFilled reserves n bytes starting with a PUBLISH header byte and
// filled with fill.
func reserveFilled(t *testing.T, b *OutboundBuffer, n int, id uint16, qos QoS, fill byte) {
	t.Helper()

	dst, err := b.Reserve(n, id, qos, bufferEpoch)
	require.NoError(t, err)
	dst[0] = byte(PacketPUBLISH)<<4 | byte(qos)<<1
	for i := 1; i < n; i++ {
		dst[i] = fill
	}
}

func assertBufferInvariants(t *testing.T, b *OutboundBuffer) {
	t.Helper()
	assert.Equal(t, b.Size(), b.Used()+b.Free(), "used + free == size")
	assert.LessOrEqual(t, b.Reclaimable(), b.Used(), "reclaimable <= used")
}

func TestOutboundBufferDefaults(t *testing.T) {
	b := NewOutboundBuffer(0, 0)
	assert.Equal(t, defaultBufferSize, b.Size())
	assert.Equal(t, defaultBufferSize, b.MaxSize())

	b = NewOutboundBuffer(128, 64)
	assert.Equal(t, 128, b.MaxSize())

	_, err := b.Reserve(0, 0, QoS0, bufferEpoch)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestOutboundBufferReserve(t *testing.T) {
	b := NewOutboundBuffer(64, 256)

	reserveFilled(t, b, 10, 0, QoS0, 'a')
	reserveFilled(t, b, 20, 1, QoS1, 'b')

	assert.Equal(t, 30, b.Used())
	assert.Equal(t, 34, b.Free())
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 30, b.Pending())
	assertBufferInvariants(t, b)
}

func TestOutboundBufferSendAndAck(t *testing.T) {
	b := NewOutboundBuffer(64, 256)
	reserveFilled(t, b, 10, 0, QoS0, 'a')
	reserveFilled(t, b, 20, 1, QoS1, 'b')

	chunk := b.NextChunk(10)
	require.Len(t, chunk, 30)

	done, err := b.MarkSent(30, bufferEpoch)
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, QoS0, done[0].QoS)
	assert.Equal(t, uint16(1), done[1].PacketID)
	assert.Equal(t, 20, done[1].Length)
	assert.Equal(t, 1, done[1].Writes)

	assert.Nil(t, b.NextChunk(10))
	assert.Equal(t, 0, b.Pending())

	assert.Equal(t, 10, b.Reclaim())
	assert.Equal(t, 1, b.Len())
	assertBufferInvariants(t, b)

	assert.True(t, b.Ack(1))
	assert.False(t, b.Ack(1), "second ack")
	assert.Equal(t, 30, b.Reclaim())
	assert.Equal(t, 0, b.Len())
	assertBufferInvariants(t, b)
}

func TestOutboundBufferShortWrites(t *testing.T) {
	b := NewOutboundBuffer(64, 256)
	reserveFilled(t, b, 10, 1, QoS1, 'a')
	reserveFilled(t, b, 10, 2, QoS1, 'b')

	t1 := bufferEpoch.Add(time.Second)
	t2 := bufferEpoch.Add(2 * time.Second)

	require.Len(t, b.NextChunk(100), 20)

	done, err := b.MarkSent(4, t1)
	require.NoError(t, err)
	assert.Empty(t, done)

	assert.Len(t, b.PartialChunk(), 6)
	since, ok := b.PartialSince()
	require.True(t, ok)
	assert.Equal(t, t1, since)

	unsent, ok := b.OldestUnsent()
	require.True(t, ok)
	assert.Equal(t, bufferEpoch, unsent)

	chunk := b.NextChunk(100)
	require.Len(t, chunk, 16)
	assert.Equal(t, byte('a'), chunk[0])

	done, err = b.MarkSent(16, t2)
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, 2, done[0].Writes)
	assert.Equal(t, t1, done[0].FirstWriteAt)
	assert.Equal(t, t2, done[1].FirstWriteAt)

	assert.Nil(t, b.PartialChunk())
	_, ok = b.PartialSince()
	assert.False(t, ok)
	_, ok = b.OldestUnsent()
	assert.False(t, ok)
}

func TestOutboundBufferQuota(t *testing.T) {
	t.Run("limits new QoS 1 packets", func(t *testing.T) {
		b := NewOutboundBuffer(64, 256)
		reserveFilled(t, b, 10, 1, QoS1, 'a')
		reserveFilled(t, b, 10, 2, QoS1, 'b')
		reserveFilled(t, b, 10, 3, QoS1, 'c')

		assert.Len(t, b.NextChunk(1), 10)
		assert.Len(t, b.NextChunk(2), 20)
		assert.Nil(t, b.NextChunk(0))
	})

	t.Run("partial packet is always continued", func(t *testing.T) {
		b := NewOutboundBuffer(64, 256)
		reserveFilled(t, b, 10, 1, QoS1, 'a')
		reserveFilled(t, b, 10, 2, QoS1, 'b')

		require.Len(t, b.NextChunk(1), 10)
		_, err := b.MarkSent(5, bufferEpoch)
		require.NoError(t, err)

		assert.Len(t, b.NextChunk(0), 5)
	})

	t.Run("strict FIFO behind blocked QoS 1", func(t *testing.T) {
		b := NewOutboundBuffer(64, 256)
		reserveFilled(t, b, 10, 1, QoS1, 'a')
		reserveFilled(t, b, 10, 0, QoS0, 'b')

		assert.Nil(t, b.NextChunk(0))
	})

	t.Run("QoS 0 needs no quota", func(t *testing.T) {
		b := NewOutboundBuffer(64, 256)
		reserveFilled(t, b, 10, 0, QoS0, 'a')
		reserveFilled(t, b, 10, 0, QoS0, 'b')

		assert.Len(t, b.NextChunk(0), 20)
	})
}

func TestOutboundBufferRequeue(t *testing.T) {
	b := NewOutboundBuffer(64, 256)
	reserveFilled(t, b, 10, 1, QoS1, 'a')

	assert.ErrorIs(t, b.Requeue(1, bufferEpoch), ErrUnknownPacketID, "not yet sent")

	require.Len(t, b.NextChunk(1), 10)
	_, err := b.MarkSent(10, bufferEpoch)
	require.NoError(t, err)

	require.NoError(t, b.Requeue(1, bufferEpoch))
	assert.Equal(t, 2, b.Len())

	chunk := b.NextChunk(0)
	require.Len(t, chunk, 10, "resend holds its quota")
	assert.Equal(t, byte(0x3A), chunk[0], "DUP set")
	assert.Equal(t, byte('a'), chunk[9])

	assert.ErrorIs(t, b.Requeue(99, bufferEpoch), ErrUnknownPacketID)

	_, err = b.MarkSent(10, bufferEpoch)
	require.NoError(t, err)
	assert.True(t, b.Ack(1))
	assert.Equal(t, 20, b.Reclaim())
	assertBufferInvariants(t, b)
}

func TestOutboundBufferRewind(t *testing.T) {
	b := NewOutboundBuffer(64, 256)
	reserveFilled(t, b, 10, 1, QoS1, 'a')
	reserveFilled(t, b, 10, 2, QoS1, 'b')
	reserveFilled(t, b, 10, 3, QoS1, 'c')
	reserveFilled(t, b, 10, 0, QoS0, 'd')

	require.Len(t, b.NextChunk(100), 40)
	_, err := b.MarkSent(15, bufferEpoch)
	require.NoError(t, err)

	assert.Equal(t, 2, b.Rewind())

	chunk := b.NextChunk(100)
	require.Len(t, chunk, 40)
	assert.Equal(t, byte(0x3A), chunk[0], "sent QoS 1 gets DUP")
	assert.Equal(t, byte(0x3A), chunk[10], "partial QoS 1 gets DUP")
	assert.Equal(t, byte(0x32), chunk[20], "unsent keeps header")
	assert.Equal(t, byte(0x30), chunk[30])
	assert.Equal(t, 40, b.Pending())

	assert.False(t, b.Ack(1), "rewound packets wait for retransmission")
}

func TestOutboundBufferClearDuplicates(t *testing.T) {
	b := NewOutboundBuffer(64, 256)
	reserveFilled(t, b, 10, 1, QoS1, 'a')
	reserveFilled(t, b, 10, 2, QoS1, 'b')
	reserveFilled(t, b, 10, 0, QoS0, 'c')

	require.Len(t, b.NextChunk(100), 30)
	_, err := b.MarkSent(10, bufferEpoch)
	require.NoError(t, err)
	require.Equal(t, 1, b.Rewind())

	assert.Equal(t, 1, b.ClearDuplicates())
	assert.Equal(t, 0, b.ClearDuplicates(), "already clear")

	chunk := b.NextChunk(100)
	require.Len(t, chunk, 30)
	assert.Equal(t, byte(0x32), chunk[0])
	assert.Equal(t, byte(0x32), chunk[10])
	assert.Equal(t, byte(0x30), chunk[20])
	assertBufferInvariants(t, b)
}

func TestOutboundBufferDropAndDiscard(t *testing.T) {
	b := NewOutboundBuffer(64, 256)
	reserveFilled(t, b, 10, 0, QoS0, 'a')
	reserveFilled(t, b, 10, 1, QoS1, 'b')
	reserveFilled(t, b, 10, 2, QoS1, 'c')

	require.Len(t, b.NextChunk(100), 30)
	_, err := b.MarkSent(25, bufferEpoch)
	require.NoError(t, err)

	assert.False(t, b.Drop(2), "mid-write")
	assert.True(t, b.Drop(1))
	assert.False(t, b.Drop(1))

	assert.Equal(t, []uint16{2}, b.Discard())
	assert.Equal(t, 0, b.Used())
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.NextChunk(100))
	assertBufferInvariants(t, b)
}

func TestOutboundBufferGrow(t *testing.T) {
	b := NewOutboundBuffer(16, 64)
	reserveFilled(t, b, 10, 0, QoS0, 'a')
	reserveFilled(t, b, 10, 0, QoS0, 'b')

	assert.Equal(t, 32, b.Size())
	assert.Equal(t, 20, b.Used())

	chunk := b.NextChunk(0)
	require.Len(t, chunk, 20)
	assert.Equal(t, byte('a'), chunk[9])
	assert.Equal(t, byte('b'), chunk[19])

	_, err := b.Reserve(50, 0, QoS0, bufferEpoch)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, 20, b.Used(), "failed reserve leaves buffer untouched")
	assertBufferInvariants(t, b)
}

func TestOutboundBufferCompactReusesCapacity(t *testing.T) {
	b := NewOutboundBuffer(32, 32)
	reserveFilled(t, b, 16, 0, QoS0, 'a')
	reserveFilled(t, b, 8, 0, QoS0, 'b')

	require.Len(t, b.NextChunk(0), 24)
	_, err := b.MarkSent(16, bufferEpoch)
	require.NoError(t, err)

	reserveFilled(t, b, 16, 0, QoS0, 'c')
	assert.Equal(t, 32, b.Size(), "no reallocation")
	assert.Equal(t, 24, b.Used())
	assert.Equal(t, 0, b.Reclaimable())

	chunk := b.NextChunk(0)
	require.Len(t, chunk, 24)
	assert.Equal(t, byte('b'), chunk[1])
	assert.Equal(t, byte('c'), chunk[23])
	assertBufferInvariants(t, b)
}

func TestOutboundBufferMarkOverflow(t *testing.T) {
	b := NewOutboundBuffer(64, 64)
	reserveFilled(t, b, 10, 0, QoS0, 'a')

	done, err := b.MarkSent(12, bufferEpoch)
	assert.ErrorIs(t, err, ErrMarkOverflow)
	assert.Len(t, done, 1)
}

func TestOutboundBufferInvariantsRandomized(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	b := NewOutboundBuffer(64, 4096)
	ids := NewPacketIDAllocator()
	var sent []uint16

	for range 2000 {
		switch rng.IntN(4) {
		case 0:
			qos := QoS(rng.IntN(2))
			var id uint16
			if qos == QoS1 {
				var err error
				id, err = ids.Allocate()
				require.NoError(t, err)
			}
			if _, err := b.Reserve(1+rng.IntN(40), id, qos, bufferEpoch); err != nil {
				require.ErrorIs(t, err, ErrOutOfMemory)
				ids.Release(id)
			}
		case 1:
			chunk := b.NextChunk(8)
			if len(chunk) == 0 {
				continue
			}
			done, err := b.MarkSent(1+rng.IntN(len(chunk)), bufferEpoch)
			require.NoError(t, err)
			for _, tx := range done {
				if tx.QoS == QoS1 {
					sent = append(sent, tx.PacketID)
				}
			}
		case 2:
			if len(sent) == 0 {
				continue
			}
			i := rng.IntN(len(sent))
			require.True(t, b.Ack(sent[i]))
			ids.Release(sent[i])
			sent = append(sent[:i], sent[i+1:]...)
		case 3:
			b.Reclaim()
		}

		assertBufferInvariants(t, b)
	}
}
