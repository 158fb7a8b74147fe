package mqttng

import (
	"errors"
)

// PacketType represents an MQTT control packet type.
type PacketType byte

// MQTT control packet types as defined in the specification.
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
	PacketAUTH        PacketType = 15
)

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	switch p {
	case PacketCONNECT:
		return "CONNECT"
	case PacketCONNACK:
		return "CONNACK"
	case PacketPUBLISH:
		return "PUBLISH"
	case PacketPUBACK:
		return "PUBACK"
	case PacketPUBREC:
		return "PUBREC"
	case PacketPUBREL:
		return "PUBREL"
	case PacketPUBCOMP:
		return "PUBCOMP"
	case PacketSUBSCRIBE:
		return "SUBSCRIBE"
	case PacketSUBACK:
		return "SUBACK"
	case PacketUNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case PacketUNSUBACK:
		return "UNSUBACK"
	case PacketPINGREQ:
		return "PINGREQ"
	case PacketPINGRESP:
		return "PINGRESP"
	case PacketDISCONNECT:
		return "DISCONNECT"
	case PacketAUTH:
		return "AUTH"
	default:
		return "UNKNOWN"
	}
}

// Valid returns true if the packet type is valid.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketAUTH
}

// Fixed header errors.
var (
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidPacketFlags = errors.New("invalid packet flags")
	ErrMalformedPacket    = errors.New("malformed packet")
)

// PUBLISH flag bits.
const (
	publishFlagDUP    byte = 0x08
	publishFlagRetain byte = 0x01
)

// FixedHeader represents the fixed header of an MQTT control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// Size returns the encoded size of the fixed header in bytes.
func (h FixedHeader) Size() int {
	return 1 + RemainingLengthSize(h.RemainingLength)
}

// Put writes the fixed header to the start of b and returns the bytes written.
// b must hold at least Size() bytes.
func (h FixedHeader) Put(b []byte) (int, error) {
	if !h.PacketType.Valid() {
		return 0, ErrInvalidPacketType
	}

	b[0] = byte(h.PacketType)<<4 | (h.Flags & 0x0F)

	n, err := putRemainingLength(b[1:], h.RemainingLength)
	if err != nil {
		return 0, err
	}
	return 1 + n, nil
}

// DecodeFixedHeader parses a fixed header from the start of b.
// Returns ErrIncomplete when b does not yet hold the whole header.
func DecodeFixedHeader(b []byte) (FixedHeader, int, error) {
	if len(b) == 0 {
		return FixedHeader{}, 0, ErrIncomplete
	}

	h := FixedHeader{
		PacketType: PacketType(b[0] >> 4),
		Flags:      b[0] & 0x0F,
	}

	if !h.PacketType.Valid() {
		return h, 1, ErrInvalidPacketType
	}

	length, n, err := DecodeRemainingLength(b[1:])
	if err != nil {
		return h, 1 + n, err
	}

	h.RemainingLength = length
	if err := h.ValidateFlags(); err != nil {
		return h, 1 + n, err
	}

	return h, 1 + n, nil
}

// ValidateFlags validates the flags for the packet type.
func (h FixedHeader) ValidateFlags() error {
	switch h.PacketType {
	case PacketPUBLISH:
		if h.QoS() > 2 {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		if h.Flags != 0x02 {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketCONNECT, PacketCONNACK, PacketPUBACK, PacketPUBREC,
		PacketPUBCOMP, PacketSUBACK, PacketUNSUBACK, PacketPINGREQ,
		PacketPINGRESP, PacketDISCONNECT, PacketAUTH:
		if h.Flags != 0x00 {
			return ErrInvalidPacketFlags
		}
		return nil

	default:
		return ErrInvalidPacketType
	}
}

// DUP returns the DUP flag from PUBLISH packet flags.
func (h FixedHeader) DUP() bool {
	return h.Flags&publishFlagDUP != 0
}

// QoS returns the QoS level from PUBLISH packet flags.
func (h FixedHeader) QoS() QoS {
	return QoS((h.Flags >> 1) & 0x03)
}

// Retain returns the RETAIN flag from PUBLISH packet flags.
func (h FixedHeader) Retain() bool {
	return h.Flags&publishFlagRetain != 0
}

// publishFlags builds PUBLISH fixed header flags.
func publishFlags(qos QoS, retain, dup bool) byte {
	var flags byte
	if dup {
		flags |= publishFlagDUP
	}
	flags |= (byte(qos) & 0x03) << 1
	if retain {
		flags |= publishFlagRetain
	}
	return flags
}
