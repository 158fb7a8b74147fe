package mqttng

// DisconnectPacket is an MQTT DISCONNECT packet.
// MQTT v5.0 spec: Section 3.14
type DisconnectPacket struct {
	ReasonCode       ReasonCode
	ReasonString     string
	ServerReference  string
	SessionExpiry    uint32
	HasSessionExpiry bool
}

// Type returns PacketDISCONNECT.
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

// Append serializes the packet onto dst. A normal disconnect without
// properties uses the empty form.
func (p *DisconnectPacket) Append(dst []byte) ([]byte, error) {
	var props propertyWriter
	if p.HasSessionExpiry {
		props.addUint32(PropSessionExpiryInterval, p.SessionExpiry)
	}
	if p.ReasonString != "" {
		props.addString(PropReasonString, p.ReasonString)
	}
	if p.ServerReference != "" {
		props.addString(PropServerReference, p.ServerReference)
	}

	var body []byte
	if p.ReasonCode != ReasonSuccess || len(props.buf) > 0 {
		body = append(body, byte(p.ReasonCode))
		if len(props.buf) > 0 {
			body = props.appendTo(body)
		}
	}

	return appendFrame(dst, PacketDISCONNECT, 0, body)
}

func decodeDisconnect(r *frameReader) (*DisconnectPacket, error) {
	p := &DisconnectPacket{}
	if r.remaining() == 0 {
		return p, nil
	}

	code, err := r.readByte()
	if err != nil {
		return nil, err
	}
	p.ReasonCode = ReasonCode(code)

	if r.remaining() == 0 {
		return p, nil
	}

	err = readProperties(r, func(prop property) error {
		switch prop.ID {
		case PropReasonString:
			p.ReasonString = prop.Str
		case PropServerReference:
			p.ServerReference = prop.Str
		case PropSessionExpiryInterval:
			p.SessionExpiry = prop.Uint
			p.HasSessionExpiry = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}
