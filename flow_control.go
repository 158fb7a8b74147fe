package mqttng

import (
	"errors"
)

var (
	ErrQuotaExceeded = errors.New("receive quota exceeded")
)

// FlowController enforces the broker's Receive Maximum: the number of QoS 1
// PUBLISH packets that may be written but not yet acknowledged.
// MQTT v5.0 spec: Section 4.9
//
// Owned by a single engine; not safe for concurrent use.
type FlowController struct {
	receiveMaximum uint16
	inFlight       uint16
}

// NewFlowController creates a flow controller. Zero means the protocol default 65535.
func NewFlowController(receiveMaximum uint16) *FlowController {
	if receiveMaximum == 0 {
		receiveMaximum = maxUint16
	}
	return &FlowController{
		receiveMaximum: receiveMaximum,
	}
}

// ReceiveMaximum returns the current limit.
func (f *FlowController) ReceiveMaximum() uint16 {
	return f.receiveMaximum
}

// SetReceiveMaximum updates the limit, typically from CONNACK.
func (f *FlowController) SetReceiveMaximum(maximum uint16) {
	if maximum == 0 {
		maximum = maxUint16
	}
	f.receiveMaximum = maximum
}

// Available returns the number of QoS 1 packets that may still start.
func (f *FlowController) Available() int {
	if f.inFlight >= f.receiveMaximum {
		return 0
	}
	return int(f.receiveMaximum - f.inFlight)
}

// InFlight returns the number of packets holding quota.
func (f *FlowController) InFlight() int {
	return int(f.inFlight)
}

// Acquire takes one unit of quota.
func (f *FlowController) Acquire() error {
	if f.inFlight >= f.receiveMaximum {
		return ErrQuotaExceeded
	}
	f.inFlight++
	return nil
}

// Release returns one unit of quota.
func (f *FlowController) Release() {
	if f.inFlight > 0 {
		f.inFlight--
	}
}

// Reset returns all quota, used when a connection ends.
func (f *FlowController) Reset() {
	f.inFlight = 0
}
