package mqttng

// Packet is an MQTT control packet that can be serialized.
// MQTT v5.0 spec: Section 2.1
type Packet interface {
	// Type returns the packet type.
	Type() PacketType

	// Append serializes the whole packet, fixed header included, onto dst.
	Append(dst []byte) ([]byte, error)
}

// Message is an application message received from the broker.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       QoS
	Retain    bool
	Duplicate bool
	PacketID  uint16

	PayloadFormat   byte
	MessageExpiry   uint32
	ContentType     string
	ResponseTopic   string
	CorrelationData []byte
	UserProperties  []StringPair

	// SubscriptionIDs lists the identifiers of matching subscriptions.
	SubscriptionIDs []uint32
}

// appendFrame writes a fixed header for body and then body itself.
func appendFrame(dst []byte, t PacketType, flags byte, body []byte) ([]byte, error) {
	h := FixedHeader{PacketType: t, Flags: flags, RemainingLength: uint32(len(body))}
	if len(body) > maxVarint {
		return dst, ErrEncodingOverflow
	}

	start := len(dst)
	dst = append(dst, make([]byte, h.Size())...)
	if _, err := h.Put(dst[start:]); err != nil {
		return dst[:start], err
	}
	return append(dst, body...), nil
}

// DecodePacket parses one complete packet from the start of b and returns it
// with the number of bytes consumed. ErrIncomplete means more input is needed.
// Packets whose remaining length exceeds maxSize fail with ErrPacketTooLarge;
// zero disables the check.
func DecodePacket(b []byte, maxSize uint32) (Packet, int, error) {
	h, n, err := DecodeFixedHeader(b)
	if err != nil {
		return nil, n, err
	}

	if maxSize > 0 && uint32(n)+h.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	end := n + int(h.RemainingLength)
	if len(b) < end {
		return nil, 0, ErrIncomplete
	}

	r := &frameReader{data: b[n:end]}

	var pkt Packet
	switch h.PacketType {
	case PacketCONNACK:
		pkt, err = decodeConnack(r)
	case PacketPUBLISH:
		pkt, err = decodePublish(r, h)
	case PacketPUBACK:
		pkt, err = decodePuback(r)
	case PacketSUBACK:
		pkt, err = decodeSuback(r, PacketSUBACK)
	case PacketUNSUBACK:
		pkt, err = decodeSuback(r, PacketUNSUBACK)
	case PacketPINGREQ:
		pkt = &PingreqPacket{}
	case PacketPINGRESP:
		pkt = &PingrespPacket{}
	case PacketDISCONNECT:
		pkt, err = decodeDisconnect(r)
	case PacketCONNECT:
		pkt, err = decodeConnect(r)
	case PacketSUBSCRIBE:
		pkt, err = decodeSubscribe(r)
	default:
		err = ErrProtocolViolation
	}
	if err != nil {
		return nil, end, err
	}

	return pkt, end, nil
}
