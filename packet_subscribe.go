package mqttng

import (
	"encoding/binary"
	"errors"
)

var ErrNoTopicFilters = errors.New("at least one topic filter is required")

// Subscription is one topic filter in a SUBSCRIBE request.
type Subscription struct {
	Filter            string
	QoS               QoS
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
}

func (s Subscription) options() byte {
	opts := byte(s.QoS) & 0x03
	if s.NoLocal {
		opts |= 0x04
	}
	if s.RetainAsPublished {
		opts |= 0x08
	}
	opts |= (s.RetainHandling & 0x03) << 4
	return opts
}

// SubscribePacket is an MQTT SUBSCRIBE packet, or UNSUBSCRIBE when
// Unsubscribe is set (options are then ignored).
// MQTT v5.0 spec: Sections 3.8 and 3.10
type SubscribePacket struct {
	Unsubscribe    bool
	PacketID       uint16
	Subscriptions  []Subscription
	SubscriptionID uint32
}

// Type returns PacketSUBSCRIBE or PacketUNSUBSCRIBE.
func (p *SubscribePacket) Type() PacketType {
	if p.Unsubscribe {
		return PacketUNSUBSCRIBE
	}
	return PacketSUBSCRIBE
}

// Validate checks the filters and QoS values.
func (p *SubscribePacket) Validate() error {
	if len(p.Subscriptions) == 0 {
		return ErrNoTopicFilters
	}
	if p.PacketID == 0 {
		return ErrUnknownPacketID
	}
	for _, s := range p.Subscriptions {
		if err := ValidateTopicFilter(s.Filter); err != nil {
			return err
		}
		if s.QoS > QoS2 || s.RetainHandling > 2 {
			return ErrInvalidQoS
		}
	}
	return nil
}

// Append serializes the packet onto dst.
func (p *SubscribePacket) Append(dst []byte) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return dst, err
	}

	body := binary.BigEndian.AppendUint16(nil, p.PacketID)

	var props propertyWriter
	if p.SubscriptionID > 0 && !p.Unsubscribe {
		props.buf = append(props.buf, byte(PropSubscriptionIdentifier))
		props.buf, _ = AppendRemainingLength(props.buf, p.SubscriptionID)
	}
	body = props.appendTo(body)

	for _, s := range p.Subscriptions {
		body = appendString(body, s.Filter)
		if !p.Unsubscribe {
			body = append(body, s.options())
		}
	}

	return appendFrame(dst, p.Type(), 0x02, body)
}

func decodeSubscribe(r *frameReader) (*SubscribePacket, error) {
	id, err := r.readUint16()
	if err != nil {
		return nil, err
	}

	p := &SubscribePacket{PacketID: id}
	err = readProperties(r, func(prop property) error {
		if prop.ID == PropSubscriptionIdentifier {
			p.SubscriptionID = prop.Uint
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for r.remaining() > 0 {
		filter, err := r.readString()
		if err != nil {
			return nil, err
		}
		opts, err := r.readByte()
		if err != nil {
			return nil, err
		}
		p.Subscriptions = append(p.Subscriptions, Subscription{
			Filter:            filter,
			QoS:               QoS(opts & 0x03),
			NoLocal:           opts&0x04 != 0,
			RetainAsPublished: opts&0x08 != 0,
			RetainHandling:    (opts >> 4) & 0x03,
		})
	}

	if len(p.Subscriptions) == 0 {
		return nil, ErrNoTopicFilters
	}
	return p, nil
}
