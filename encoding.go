package mqttng

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// Encoding errors.
var (
	// ErrEncodingOverflow is returned when a remaining length exceeds 268,435,455.
	ErrEncodingOverflow = errors.New("variable byte integer exceeds maximum value")

	// ErrMalformedFrame is returned when a variable byte integer needs more than 4 bytes.
	ErrMalformedFrame = errors.New("malformed variable byte integer")

	// ErrIncomplete is returned when the input ends before a value is complete.
	ErrIncomplete = errors.New("incomplete input")

	ErrStringTooLong      = errors.New("string exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8        = errors.New("invalid UTF-8 string")
	ErrStringContainsNull = errors.New("string contains null character")
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455 // 0x0FFFFFFF
	maxVarintBytes    = 4
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

// EncodeRemainingLength returns the canonical variable byte integer encoding of value.
func EncodeRemainingLength(value uint32) ([]byte, error) {
	var buf [maxVarintBytes]byte
	n, err := putRemainingLength(buf[:], value)
	if err != nil {
		return nil, err
	}
	return buf[:n:n], nil
}

// AppendRemainingLength appends the encoding of value to dst.
func AppendRemainingLength(dst []byte, value uint32) ([]byte, error) {
	var buf [maxVarintBytes]byte
	n, err := putRemainingLength(buf[:], value)
	if err != nil {
		return dst, err
	}
	return append(dst, buf[:n]...), nil
}

// putRemainingLength encodes value into b, which must hold RemainingLengthSize(value) bytes.
func putRemainingLength(b []byte, value uint32) (int, error) {
	if value > maxVarint {
		return 0, ErrEncodingOverflow
	}

	n := 0
	for {
		encodedByte := byte(value % 128)
		value /= 128

		if value > 0 {
			encodedByte |= varintContinueBit
		}

		b[n] = encodedByte
		n++

		if value == 0 {
			return n, nil
		}
	}
}

// DecodeRemainingLength decodes a variable byte integer from the start of b.
// Returns the value and the number of bytes consumed. A fifth continuation
// byte is never read: the decoder fails with ErrMalformedFrame after the fourth.
func DecodeRemainingLength(b []byte) (uint32, int, error) {
	var value uint32
	var multiplier uint32 = 1

	for i := 0; i < maxVarintBytes; i++ {
		if i >= len(b) {
			return 0, i, ErrIncomplete
		}

		encodedByte := b[i]
		value += uint32(encodedByte&varintValueMask) * multiplier

		if encodedByte&varintContinueBit == 0 {
			return value, i + 1, nil
		}

		multiplier *= 128
	}

	return 0, maxVarintBytes, ErrMalformedFrame
}

// RemainingLengthSize returns the number of bytes needed to encode value.
// Values above the protocol maximum report 0.
func RemainingLengthSize(value uint32) int {
	switch {
	case value < 128:
		return 1
	case value < 16384:
		return 2
	case value < 2097152:
		return 3
	case value <= maxVarint:
		return 4
	default:
		return 0
	}
}

// validateString checks the MQTT UTF-8 string rules.
func validateString(s string) error {
	if len(s) > maxUint16 {
		return ErrStringTooLong
	}

	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}

	for i := range len(s) {
		if s[i] == 0 {
			return ErrStringContainsNull
		}
	}

	return nil
}

// putString writes a 2-byte length prefixed string and returns the bytes written.
// The caller validates s beforehand.
func putString(b []byte, s string) int {
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	return 2 + copy(b[2:], s)
}

// putBinary writes 2-byte length prefixed binary data.
func putBinary(b []byte, data []byte) int {
	binary.BigEndian.PutUint16(b, uint16(len(data)))
	return 2 + copy(b[2:], data)
}

// frameReader reads MQTT primitives from a fully buffered packet body.
type frameReader struct {
	data []byte
	pos  int
}

func (r *frameReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *frameReader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrMalformedPacket
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *frameReader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrMalformedPacket
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *frameReader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrMalformedPacket
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *frameReader) readVarint() (uint32, error) {
	v, n, err := DecodeRemainingLength(r.data[r.pos:])
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return 0, ErrMalformedPacket
		}
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *frameReader) readBinary() ([]byte, error) {
	length, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(length) {
		return nil, ErrMalformedPacket
	}
	b := r.data[r.pos : r.pos+int(length)]
	r.pos += int(length)
	return b, nil
}

func (r *frameReader) readString() (string, error) {
	b, err := r.readBinary()
	if err != nil {
		return "", err
	}

	s := string(b)
	if err := validateString(s); err != nil {
		return "", err
	}
	return s, nil
}

// rest returns every unread byte.
func (r *frameReader) rest() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}
