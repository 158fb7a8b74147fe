package mqttng

const (
	protocolName    = "MQTT"
	protocolVersion = 5
)

const (
	connectFlagCleanStart = 0x02
	connectFlagWill       = 0x04
	connectFlagWillRetain = 0x20
	connectFlagPassword   = 0x40
	connectFlagUsername   = 0x80
)

// WillMessage is published by the broker when the connection drops without DISCONNECT.
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool

	// DelayInterval postpones the will, in seconds.
	DelayInterval uint32
}

// ConnectPacket is an MQTT CONNECT packet.
// MQTT v5.0 spec: Section 3.1
type ConnectPacket struct {
	ClientID   string
	Username   string
	Password   []byte
	KeepAlive  uint16
	CleanStart bool

	SessionExpiry  uint32
	ReceiveMaximum uint16
	MaxPacketSize  uint32
	UserProperties []StringPair

	Will *WillMessage
}

// Type returns PacketCONNECT.
func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

// Validate checks string fields and the will.
func (p *ConnectPacket) Validate() error {
	if err := validateString(p.ClientID); err != nil {
		return err
	}
	if err := validateString(p.Username); err != nil {
		return err
	}
	if len(p.Password) > maxUint16 {
		return ErrStringTooLong
	}
	if p.Will != nil {
		if err := ValidateTopicName(p.Will.Topic); err != nil {
			return err
		}
		if p.Will.QoS > QoS1 {
			return ErrInvalidQoS
		}
		if len(p.Will.Payload) > maxUint16 {
			return ErrStringTooLong
		}
	}
	return nil
}

// Append serializes the packet onto dst.
func (p *ConnectPacket) Append(dst []byte) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return dst, err
	}

	var flags byte
	if p.CleanStart {
		flags |= connectFlagCleanStart
	}
	if p.Will != nil {
		flags |= connectFlagWill | byte(p.Will.QoS)<<3
		if p.Will.Retain {
			flags |= connectFlagWillRetain
		}
	}
	if p.Username != "" {
		flags |= connectFlagUsername
	}
	if p.Password != nil {
		flags |= connectFlagPassword
	}

	body := appendString(nil, protocolName)
	body = append(body, protocolVersion, flags, byte(p.KeepAlive>>8), byte(p.KeepAlive))

	var props propertyWriter
	if p.SessionExpiry > 0 {
		props.addUint32(PropSessionExpiryInterval, p.SessionExpiry)
	}
	if p.ReceiveMaximum > 0 && p.ReceiveMaximum < maxUint16 {
		props.addUint16(PropReceiveMaximum, p.ReceiveMaximum)
	}
	if p.MaxPacketSize > 0 {
		props.addUint32(PropMaximumPacketSize, p.MaxPacketSize)
	}
	for _, up := range p.UserProperties {
		props.addPair(up)
	}
	body = props.appendTo(body)

	body = appendString(body, p.ClientID)

	if p.Will != nil {
		var willProps propertyWriter
		if p.Will.DelayInterval > 0 {
			willProps.addUint32(PropWillDelayInterval, p.Will.DelayInterval)
		}
		body = willProps.appendTo(body)
		body = appendString(body, p.Will.Topic)
		body = appendBinary(body, p.Will.Payload)
	}
	if p.Username != "" {
		body = appendString(body, p.Username)
	}
	if p.Password != nil {
		body = appendBinary(body, p.Password)
	}

	return appendFrame(dst, PacketCONNECT, 0, body)
}

func decodeConnect(r *frameReader) (*ConnectPacket, error) {
	name, err := r.readString()
	if err != nil {
		return nil, err
	}
	version, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if name != protocolName || version != protocolVersion {
		return nil, ErrProtocolViolation
	}

	flags, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if flags&0x01 != 0 {
		return nil, ErrMalformedPacket
	}

	p := &ConnectPacket{CleanStart: flags&connectFlagCleanStart != 0}
	if p.KeepAlive, err = r.readUint16(); err != nil {
		return nil, err
	}

	err = readProperties(r, func(prop property) error {
		switch prop.ID {
		case PropSessionExpiryInterval:
			p.SessionExpiry = prop.Uint
		case PropReceiveMaximum:
			p.ReceiveMaximum = uint16(prop.Uint)
		case PropMaximumPacketSize:
			p.MaxPacketSize = prop.Uint
		case PropUserProperty:
			p.UserProperties = append(p.UserProperties, prop.Pair)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.ClientID, err = r.readString(); err != nil {
		return nil, err
	}

	if flags&connectFlagWill != 0 {
		w := &WillMessage{
			QoS:    QoS(flags>>3) & 0x03,
			Retain: flags&connectFlagWillRetain != 0,
		}
		err = readProperties(r, func(prop property) error {
			if prop.ID == PropWillDelayInterval {
				w.DelayInterval = prop.Uint
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if w.Topic, err = r.readString(); err != nil {
			return nil, err
		}
		if w.Payload, err = r.readBinary(); err != nil {
			return nil, err
		}
		p.Will = w
	}

	if flags&connectFlagUsername != 0 {
		if p.Username, err = r.readString(); err != nil {
			return nil, err
		}
	}
	if flags&connectFlagPassword != 0 {
		if p.Password, err = r.readBinary(); err != nil {
			return nil, err
		}
	}

	return p, nil
}
