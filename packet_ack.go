package mqttng

import (
	"encoding/binary"
)

// PubackPacket is an MQTT PUBACK packet.
// MQTT v5.0 spec: Section 3.4
type PubackPacket struct {
	PacketID     uint16
	ReasonCode   ReasonCode
	ReasonString string
}

// Type returns PacketPUBACK.
func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

// Append serializes the packet onto dst using the shortest valid form.
func (p *PubackPacket) Append(dst []byte) ([]byte, error) {
	if p.PacketID == 0 {
		return dst, ErrUnknownPacketID
	}

	body := binary.BigEndian.AppendUint16(nil, p.PacketID)
	if p.ReasonCode != ReasonSuccess || p.ReasonString != "" {
		body = append(body, byte(p.ReasonCode))
		if p.ReasonString != "" {
			var props propertyWriter
			props.addString(PropReasonString, p.ReasonString)
			body = props.appendTo(body)
		}
	}

	return appendFrame(dst, PacketPUBACK, 0, body)
}

func decodePuback(r *frameReader) (*PubackPacket, error) {
	id, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, ErrMalformedPacket
	}

	p := &PubackPacket{PacketID: id}
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
		if prop.ID == PropReasonString {
			p.ReasonString = prop.Str
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// SubackPacket is an MQTT SUBACK or UNSUBACK packet; both carry one reason
// code per requested filter.
// MQTT v5.0 spec: Sections 3.9 and 3.11
type SubackPacket struct {
	Unsubscribe  bool
	PacketID     uint16
	ReasonCodes  []ReasonCode
	ReasonString string
}

// Type returns PacketSUBACK or PacketUNSUBACK.
func (p *SubackPacket) Type() PacketType {
	if p.Unsubscribe {
		return PacketUNSUBACK
	}
	return PacketSUBACK
}

// Append serializes the packet onto dst.
func (p *SubackPacket) Append(dst []byte) ([]byte, error) {
	body := binary.BigEndian.AppendUint16(nil, p.PacketID)

	var props propertyWriter
	if p.ReasonString != "" {
		props.addString(PropReasonString, p.ReasonString)
	}
	body = props.appendTo(body)

	for _, rc := range p.ReasonCodes {
		body = append(body, byte(rc))
	}

	return appendFrame(dst, p.Type(), 0, body)
}

func decodeSuback(r *frameReader, t PacketType) (*SubackPacket, error) {
	id, err := r.readUint16()
	if err != nil {
		return nil, err
	}

	p := &SubackPacket{
		Unsubscribe: t == PacketUNSUBACK,
		PacketID:    id,
	}

	err = readProperties(r, func(prop property) error {
		if prop.ID == PropReasonString {
			p.ReasonString = prop.Str
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	codes := r.rest()
	if len(codes) == 0 {
		return nil, ErrMalformedPacket
	}
	p.ReasonCodes = make([]ReasonCode, len(codes))
	for i, c := range codes {
		p.ReasonCodes[i] = ReasonCode(c)
	}

	return p, nil
}
