package mqttng

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAckTracker(t *testing.T) {
	t.Run("register and acknowledge", func(t *testing.T) {
		clock := newFakeClock()
		tr := NewAckTracker(clock.Now)

		tr.Register(1, NoFree{})
		tr.Register(2, CallerResponsibility{})
		assert.Equal(t, 2, tr.Count())

		clock.Advance(150 * time.Millisecond)
		p, err := tr.Acknowledge(1)
		require.NoError(t, err)
		assert.Equal(t, uint16(1), p.PacketID)
		assert.Equal(t, NoFree{}, p.Ownership)
		assert.Equal(t, 150*time.Millisecond, tr.MaxWait())
		assert.Equal(t, 1, tr.Count())
	})

	t.Run("acknowledge twice", func(t *testing.T) {
		tr := NewAckTracker(nil)
		tr.Register(7, nil)

		_, err := tr.Acknowledge(7)
		require.NoError(t, err)

		_, err = tr.Acknowledge(7)
		assert.ErrorIs(t, err, ErrUnknownPacketID)
		assert.Equal(t, 0, tr.Count())
	})

	t.Run("max wait keeps the high-water mark", func(t *testing.T) {
		clock := newFakeClock()
		tr := NewAckTracker(clock.Now)

		tr.Register(1, nil)
		clock.Advance(time.Second)
		tr.Register(2, nil)
		_, err := tr.Acknowledge(1)
		require.NoError(t, err)

		clock.Advance(100 * time.Millisecond)
		_, err = tr.Acknowledge(2)
		require.NoError(t, err)
		assert.Equal(t, time.Second, tr.MaxWait())

		tr.ResetMaxWait()
		assert.Equal(t, time.Duration(0), tr.MaxWait())
	})

	t.Run("remove does not record latency", func(t *testing.T) {
		clock := newFakeClock()
		tr := NewAckTracker(clock.Now)

		tr.Register(3, nil)
		clock.Advance(time.Minute)

		p, ok := tr.Remove(3)
		require.True(t, ok)
		assert.Equal(t, uint16(3), p.PacketID)
		assert.Equal(t, time.Duration(0), tr.MaxWait())

		_, ok = tr.Remove(3)
		assert.False(t, ok)
	})

	t.Run("re-register keeps resend count", func(t *testing.T) {
		clock := newFakeClock()
		tr := NewAckTracker(clock.Now)

		tr.Register(4, nil)
		assert.Equal(t, 1, tr.MarkResent(4))
		assert.Equal(t, 2, tr.MarkResent(4))
		assert.Equal(t, 0, tr.MarkResent(99))

		clock.Advance(time.Second)
		tr.Register(4, nil)

		p, ok := tr.Get(4)
		require.True(t, ok)
		assert.Equal(t, 2, p.Resends)
		assert.Equal(t, clock.Now(), p.EnqueuedAt)
	})
}

func TestAckTrackerSweepTimeouts(t *testing.T) {
	clock := newFakeClock()
	tr := NewAckTracker(clock.Now)

	tr.Register(5, nil)
	tr.Register(2, nil)
	clock.Advance(2 * time.Second)
	tr.Register(9, nil)
	clock.Advance(2 * time.Second)

	assert.Equal(t, []uint16{2, 5}, tr.SweepTimeouts(clock.Now(), 3*time.Second))
	assert.Equal(t, []uint16{2, 5, 9}, tr.SweepTimeouts(clock.Now(), time.Second))
	assert.Empty(t, tr.SweepTimeouts(clock.Now(), 10*time.Second))
	assert.Nil(t, tr.SweepTimeouts(clock.Now(), 0), "disabled")
	assert.Equal(t, 3, tr.Count(), "sweep does not remove")
}

func TestAckTrackerClear(t *testing.T) {
	tr := NewAckTracker(nil)
	tr.Register(3, nil)
	tr.Register(1, nil)
	tr.Register(2, nil)

	assert.Equal(t, []uint16{1, 2, 3}, tr.IDs())

	cleared := tr.Clear()
	require.Len(t, cleared, 3)
	assert.Equal(t, uint16(1), cleared[0].PacketID)
	assert.Equal(t, uint16(3), cleared[2].PacketID)
	assert.Equal(t, 0, tr.Count())
	assert.Empty(t, tr.IDs())
}

func BenchmarkAckTrackerRegisterAcknowledge(b *testing.B) {
	tr := NewAckTracker(nil)
	b.ReportAllocs()
	for b.Loop() {
		tr.Register(1, NoFree{})
		_, _ = tr.Acknowledge(1)
	}
}
