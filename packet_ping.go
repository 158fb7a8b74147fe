package mqttng

// PingreqPacket is an MQTT PINGREQ packet.
// MQTT v5.0 spec: Section 3.12
type PingreqPacket struct{}

// Type returns PacketPINGREQ.
func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

// Append serializes the packet onto dst.
func (p *PingreqPacket) Append(dst []byte) ([]byte, error) {
	return append(dst, byte(PacketPINGREQ)<<4, 0), nil
}

// PingrespPacket is an MQTT PINGRESP packet.
// MQTT v5.0 spec: Section 3.13
type PingrespPacket struct{}

// Type returns PacketPINGRESP.
func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

// Append serializes the packet onto dst.
func (p *PingrespPacket) Append(dst []byte) ([]byte, error) {
	return append(dst, byte(PacketPINGRESP)<<4, 0), nil
}
