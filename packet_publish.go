package mqttng

import (
	"encoding/binary"
)

// PublishPacket is an MQTT PUBLISH packet.
// MQTT v5.0 spec: Section 3.3
type PublishPacket struct {
	Message
}

// Type returns PacketPUBLISH.
func (p *PublishPacket) Type() PacketType { return PacketPUBLISH }

// Append serializes the packet onto dst.
func (p *PublishPacket) Append(dst []byte) ([]byte, error) {
	if err := ValidateTopicName(p.Topic); err != nil {
		return dst, err
	}
	if p.QoS > QoS2 {
		return dst, ErrInvalidQoS
	}
	if p.QoS > QoS0 && p.PacketID == 0 {
		return dst, ErrUnknownPacketID
	}

	body := appendString(nil, p.Topic)
	if p.QoS > QoS0 {
		body = binary.BigEndian.AppendUint16(body, p.PacketID)
	}

	var props propertyWriter
	if p.PayloadFormat > 0 {
		props.addByte(PropPayloadFormatIndicator, p.PayloadFormat)
	}
	if p.MessageExpiry > 0 {
		props.addUint32(PropMessageExpiryInterval, p.MessageExpiry)
	}
	if p.ContentType != "" {
		props.addString(PropContentType, p.ContentType)
	}
	if p.ResponseTopic != "" {
		props.addString(PropResponseTopic, p.ResponseTopic)
	}
	if p.CorrelationData != nil {
		props.buf = append(props.buf, byte(PropCorrelationData))
		props.buf = appendBinary(props.buf, p.CorrelationData)
	}
	for _, up := range p.UserProperties {
		props.addPair(up)
	}
	for _, id := range p.SubscriptionIDs {
		props.buf = append(props.buf, byte(PropSubscriptionIdentifier))
		props.buf, _ = AppendRemainingLength(props.buf, id)
	}
	body = props.appendTo(body)
	body = append(body, p.Payload...)

	return appendFrame(dst, PacketPUBLISH, publishFlags(p.QoS, p.Retain, p.Duplicate), body)
}

func decodePublish(r *frameReader, h FixedHeader) (*PublishPacket, error) {
	p := &PublishPacket{}
	p.QoS = h.QoS()
	p.Retain = h.Retain()
	p.Duplicate = h.DUP()

	if p.QoS == QoS0 && p.Duplicate {
		return nil, ErrMalformedPacket
	}

	var err error
	if p.Topic, err = r.readString(); err != nil {
		return nil, err
	}

	if p.QoS > QoS0 {
		if p.PacketID, err = r.readUint16(); err != nil {
			return nil, err
		}
		if p.PacketID == 0 {
			return nil, ErrMalformedPacket
		}
	}

	err = readProperties(r, func(prop property) error {
		switch prop.ID {
		case PropPayloadFormatIndicator:
			p.PayloadFormat = byte(prop.Uint)
		case PropMessageExpiryInterval:
			p.MessageExpiry = prop.Uint
		case PropContentType:
			p.ContentType = prop.Str
		case PropResponseTopic:
			p.ResponseTopic = prop.Str
		case PropCorrelationData:
			p.CorrelationData = prop.Bin
		case PropUserProperty:
			p.UserProperties = append(p.UserProperties, prop.Pair)
		case PropSubscriptionIdentifier:
			p.SubscriptionIDs = append(p.SubscriptionIDs, prop.Uint)
		case PropTopicAlias:
			// topic aliases are never negotiated, so the broker must not send one
			return ErrProtocolViolation
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.Topic == "" || ValidateTopicName(p.Topic) != nil {
		return nil, ErrInvalidTopic
	}

	p.Payload = r.rest()
	return p, nil
}

// publishSize returns the remaining length and the total size of an outbound
// PUBLISH with an empty property block.
func publishSize(topic string, payloadLen int, qos QoS) (uint32, int, error) {
	remaining := 2 + len(topic) + 1 + payloadLen
	if qos > QoS0 {
		remaining += 2
	}
	if remaining > maxVarint {
		return 0, 0, ErrEncodingOverflow
	}

	rl := uint32(remaining)
	return rl, 1 + RemainingLengthSize(rl) + remaining, nil
}

// putPublishHeader writes everything but the payload and returns the payload offset.
func putPublishHeader(b []byte, topic string, packetID uint16, qos QoS, retain bool, remaining uint32) (int, error) {
	h := FixedHeader{
		PacketType:      PacketPUBLISH,
		Flags:           publishFlags(qos, retain, false),
		RemainingLength: remaining,
	}

	n, err := h.Put(b)
	if err != nil {
		return 0, err
	}

	n += putString(b[n:], topic)
	if qos > QoS0 {
		binary.BigEndian.PutUint16(b[n:], packetID)
		n += 2
	}
	b[n] = 0 // property length
	n++

	return n, nil
}
