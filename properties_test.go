package mqttng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyWriter(t *testing.T) {
	var w propertyWriter
	assert.Equal(t, []byte{0x00}, w.appendTo(nil), "empty block")
	assert.Equal(t, 1, w.size())

	w.addByte(PropMaximumQoS, 1)
	w.addUint16(PropReceiveMaximum, 10)
	w.addUint32(PropSessionExpiryInterval, 3600)
	w.addString(PropReasonString, "ok")
	w.addPair(StringPair{Key: "k", Value: "v"})

	want := []byte{
		0x16,
		0x24, 0x01,
		0x21, 0x00, 0x0A,
		0x11, 0x00, 0x00, 0x0E, 0x10,
		0x1F, 0x00, 0x02, 'o', 'k',
		0x26, 0x00, 0x01, 'k', 0x00, 0x01, 'v',
	}
	assert.Equal(t, want, w.appendTo(nil))
	assert.Equal(t, len(want), w.size())

	var got []property
	err := readProperties(&frameReader{data: want}, func(p property) error {
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, uint32(1), got[0].Uint)
	assert.Equal(t, uint32(10), got[1].Uint)
	assert.Equal(t, uint32(3600), got[2].Uint)
	assert.Equal(t, "ok", got[3].Str)
	assert.Equal(t, StringPair{Key: "k", Value: "v"}, got[4].Pair)
}

func TestReadProperties(t *testing.T) {
	t.Run("varint and binary", func(t *testing.T) {
		data := []byte{
			0x08,
			0x0B, 0x80, 0x01,
			0x09, 0x00, 0x02, 0xDE, 0xAD,
		}
		var got []property
		err := readProperties(&frameReader{data: data}, func(p property) error {
			got = append(got, p)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, PropSubscriptionIdentifier, got[0].ID)
		assert.Equal(t, uint32(128), got[0].Uint)
		assert.Equal(t, []byte{0xDE, 0xAD}, got[1].Bin)
	})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"length beyond packet", []byte{0x05, 0x01}, ErrMalformedPacket},
		{"unknown id", []byte{0x02, 0x7F, 0x00}, ErrInvalidProperty},
		{"truncated value", []byte{0x02, 0x21, 0x00}, ErrMalformedPacket},
		{"missing length", nil, ErrMalformedPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := readProperties(&frameReader{data: tt.data}, func(property) error { return nil })
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("callback error stops", func(t *testing.T) {
		data := []byte{0x04, 0x24, 0x01, 0x24, 0x01}
		calls := 0
		err := readProperties(&frameReader{data: data}, func(property) error {
			calls++
			return ErrProtocolViolation
		})
		assert.ErrorIs(t, err, ErrProtocolViolation)
		assert.Equal(t, 1, calls)
	})
}
