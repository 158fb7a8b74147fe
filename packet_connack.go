package mqttng

// ConnackPacket is an MQTT CONNACK packet.
// MQTT v5.0 spec: Section 3.2
type ConnackPacket struct {
	SessionPresent bool
	ReasonCode     ReasonCode

	// Zero values mean the property was absent.
	ReceiveMaximum    uint16
	MaximumPacketSize uint32
	AssignedClientID  string
	ReasonString      string
	TopicAliasMaximum uint16

	// ServerKeepAlive is valid when HasServerKeepAlive is set.
	ServerKeepAlive    uint16
	HasServerKeepAlive bool

	// MaximumQoS is valid when HasMaximumQoS is set; absent means QoS 2.
	MaximumQoS    QoS
	HasMaximumQoS bool

	// RetainAvailable defaults to true when absent.
	RetainUnavailable bool
}

// Type returns PacketCONNACK.
func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

// Append serializes the packet onto dst.
func (p *ConnackPacket) Append(dst []byte) ([]byte, error) {
	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}
	body := []byte{flags, byte(p.ReasonCode)}

	var props propertyWriter
	if p.ReceiveMaximum > 0 {
		props.addUint16(PropReceiveMaximum, p.ReceiveMaximum)
	}
	if p.MaximumPacketSize > 0 {
		props.addUint32(PropMaximumPacketSize, p.MaximumPacketSize)
	}
	if p.AssignedClientID != "" {
		props.addString(PropAssignedClientIdentifier, p.AssignedClientID)
	}
	if p.ReasonString != "" {
		props.addString(PropReasonString, p.ReasonString)
	}
	if p.TopicAliasMaximum > 0 {
		props.addUint16(PropTopicAliasMaximum, p.TopicAliasMaximum)
	}
	if p.HasServerKeepAlive {
		props.addUint16(PropServerKeepAlive, p.ServerKeepAlive)
	}
	if p.HasMaximumQoS {
		props.addByte(PropMaximumQoS, byte(p.MaximumQoS))
	}
	if p.RetainUnavailable {
		props.addByte(PropRetainAvailable, 0)
	}
	body = props.appendTo(body)

	return appendFrame(dst, PacketCONNACK, 0, body)
}

func decodeConnack(r *frameReader) (*ConnackPacket, error) {
	flags, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if flags&0xFE != 0 {
		return nil, ErrMalformedPacket
	}

	code, err := r.readByte()
	if err != nil {
		return nil, err
	}

	p := &ConnackPacket{
		SessionPresent: flags&0x01 != 0,
		ReasonCode:     ReasonCode(code),
	}

	if r.remaining() == 0 {
		return p, nil
	}

	err = readProperties(r, func(prop property) error {
		switch prop.ID {
		case PropReceiveMaximum:
			if prop.Uint == 0 {
				return ErrProtocolViolation
			}
			p.ReceiveMaximum = uint16(prop.Uint)
		case PropMaximumPacketSize:
			if prop.Uint == 0 {
				return ErrProtocolViolation
			}
			p.MaximumPacketSize = prop.Uint
		case PropAssignedClientIdentifier:
			p.AssignedClientID = prop.Str
		case PropReasonString:
			p.ReasonString = prop.Str
		case PropTopicAliasMaximum:
			p.TopicAliasMaximum = uint16(prop.Uint)
		case PropServerKeepAlive:
			p.ServerKeepAlive = uint16(prop.Uint)
			p.HasServerKeepAlive = true
		case PropMaximumQoS:
			if prop.Uint > 1 {
				return ErrProtocolViolation
			}
			p.MaximumQoS = QoS(prop.Uint)
			p.HasMaximumQoS = true
		case PropRetainAvailable:
			p.RetainUnavailable = prop.Uint == 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}
