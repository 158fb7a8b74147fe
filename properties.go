package mqttng

import (
	"encoding/binary"
	"errors"
)

var ErrInvalidProperty = errors.New("invalid property")

// PropertyID identifies an MQTT v5.0 property.
// MQTT v5.0 spec: Section 2.2.2.2
type PropertyID byte

const (
	PropPayloadFormatIndicator   PropertyID = 0x01
	PropMessageExpiryInterval    PropertyID = 0x02
	PropContentType              PropertyID = 0x03
	PropResponseTopic            PropertyID = 0x08
	PropCorrelationData          PropertyID = 0x09
	PropSubscriptionIdentifier   PropertyID = 0x0B
	PropSessionExpiryInterval    PropertyID = 0x11
	PropAssignedClientIdentifier PropertyID = 0x12
	PropServerKeepAlive          PropertyID = 0x13
	PropAuthenticationMethod     PropertyID = 0x15
	PropAuthenticationData       PropertyID = 0x16
	PropRequestProblemInfo       PropertyID = 0x17
	PropWillDelayInterval        PropertyID = 0x18
	PropRequestResponseInfo      PropertyID = 0x19
	PropResponseInformation      PropertyID = 0x1A
	PropServerReference          PropertyID = 0x1C
	PropReasonString             PropertyID = 0x1F
	PropReceiveMaximum           PropertyID = 0x21
	PropTopicAliasMaximum        PropertyID = 0x22
	PropTopicAlias               PropertyID = 0x23
	PropMaximumQoS               PropertyID = 0x24
	PropRetainAvailable          PropertyID = 0x25
	PropUserProperty             PropertyID = 0x26
	PropMaximumPacketSize        PropertyID = 0x27
	PropWildcardSubAvailable     PropertyID = 0x28
	PropSubscriptionIDAvailable  PropertyID = 0x29
	PropSharedSubAvailable       PropertyID = 0x2A
)

type propertyKind uint8

const (
	kindByte propertyKind = iota + 1
	kindUint16
	kindUint32
	kindVarint
	kindString
	kindBinary
	kindStringPair
)

var propertyKinds = map[PropertyID]propertyKind{
	PropPayloadFormatIndicator:   kindByte,
	PropMessageExpiryInterval:    kindUint32,
	PropContentType:              kindString,
	PropResponseTopic:            kindString,
	PropCorrelationData:          kindBinary,
	PropSubscriptionIdentifier:   kindVarint,
	PropSessionExpiryInterval:    kindUint32,
	PropAssignedClientIdentifier: kindString,
	PropServerKeepAlive:          kindUint16,
	PropAuthenticationMethod:     kindString,
	PropAuthenticationData:       kindBinary,
	PropRequestProblemInfo:       kindByte,
	PropWillDelayInterval:        kindUint32,
	PropRequestResponseInfo:      kindByte,
	PropResponseInformation:      kindString,
	PropServerReference:          kindString,
	PropReasonString:             kindString,
	PropReceiveMaximum:           kindUint16,
	PropTopicAliasMaximum:        kindUint16,
	PropTopicAlias:               kindUint16,
	PropMaximumQoS:               kindByte,
	PropRetainAvailable:          kindByte,
	PropUserProperty:             kindStringPair,
	PropMaximumPacketSize:        kindUint32,
	PropWildcardSubAvailable:     kindByte,
	PropSubscriptionIDAvailable:  kindByte,
	PropSharedSubAvailable:       kindByte,
}

// StringPair is a user property.
type StringPair struct {
	Key   string
	Value string
}

// property is one decoded property. Integer kinds use Uint, string kinds use
// Str, binary uses Bin, user properties use Pair.
type property struct {
	ID   PropertyID
	Uint uint32
	Str  string
	Bin  []byte
	Pair StringPair
}

// readProperties reads a length prefixed property block and calls fn for each entry.
func readProperties(r *frameReader, fn func(p property) error) error {
	length, err := r.readVarint()
	if err != nil {
		return err
	}
	if int(length) > r.remaining() {
		return ErrMalformedPacket
	}

	sub := &frameReader{data: r.data[r.pos : r.pos+int(length)]}
	r.pos += int(length)

	for sub.remaining() > 0 {
		id, err := sub.readVarint()
		if err != nil {
			return err
		}

		p := property{ID: PropertyID(id)}
		kind, ok := propertyKinds[p.ID]
		if !ok || id > 0xFF {
			return ErrInvalidProperty
		}

		switch kind {
		case kindByte:
			var v byte
			v, err = sub.readByte()
			p.Uint = uint32(v)
		case kindUint16:
			var v uint16
			v, err = sub.readUint16()
			p.Uint = uint32(v)
		case kindUint32:
			p.Uint, err = sub.readUint32()
		case kindVarint:
			p.Uint, err = sub.readVarint()
		case kindString:
			p.Str, err = sub.readString()
		case kindBinary:
			p.Bin, err = sub.readBinary()
		case kindStringPair:
			p.Pair.Key, err = sub.readString()
			if err == nil {
				p.Pair.Value, err = sub.readString()
			}
		}
		if err != nil {
			return err
		}

		if err := fn(p); err != nil {
			return err
		}
	}

	return nil
}

// propertyWriter accumulates an outbound property block.
type propertyWriter struct {
	buf []byte
}

func (w *propertyWriter) addUint16(id PropertyID, v uint16) {
	w.buf = append(w.buf, byte(id))
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *propertyWriter) addUint32(id PropertyID, v uint32) {
	w.buf = append(w.buf, byte(id))
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *propertyWriter) addByte(id PropertyID, v byte) {
	w.buf = append(w.buf, byte(id), v)
}

func (w *propertyWriter) addString(id PropertyID, s string) {
	w.buf = append(w.buf, byte(id))
	w.buf = appendString(w.buf, s)
}

func (w *propertyWriter) addPair(p StringPair) {
	w.buf = append(w.buf, byte(PropUserProperty))
	w.buf = appendString(w.buf, p.Key)
	w.buf = appendString(w.buf, p.Value)
}

// size returns the encoded size of the block including its length prefix.
func (w *propertyWriter) size() int {
	return RemainingLengthSize(uint32(len(w.buf))) + len(w.buf)
}

// appendTo writes the length prefix and the block.
func (w *propertyWriter) appendTo(dst []byte) []byte {
	dst, _ = AppendRemainingLength(dst, uint32(len(w.buf)))
	return append(dst, w.buf...)
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func appendBinary(dst []byte, b []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(b)))
	return append(dst, b...)
}
