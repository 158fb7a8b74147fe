package mqttng

import (
	"errors"
	"fmt"
	"time"
)

// EventHandler receives lifecycle events. Events are errors so they can be
// matched with errors.Is and unpacked with errors.As.
type EventHandler func(event error)

// Sentinel events for the connection lifecycle - check with errors.Is().
var (
	// ErrConnected is emitted when CONNACK accepted the session.
	ErrConnected = errors.New("connected")

	// ErrDisconnected is emitted after a graceful DISCONNECT.
	ErrDisconnected = errors.New("disconnected")

	// ErrConnectionLost is emitted when the transport failed.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReconnecting is emitted when a reconnect is scheduled.
	ErrReconnecting = errors.New("reconnecting")

	// ErrServerDisconnect is emitted when the broker sent DISCONNECT.
	ErrServerDisconnect = errors.New("server disconnect")
)

// Sentinel errors for protocol issues - check with errors.Is().
var (
	// ErrProtocolViolation is returned for inbound packets the client must not receive.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrConnectFailed is wrapped by ConnectError.
	ErrConnectFailed = errors.New("connect failed")

	// ErrConnectTimeout is reported when CONNACK did not arrive in time.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrKeepAliveTimeout is reported when PINGRESP did not arrive in time.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrPacketTooLarge is returned for packets above the negotiated maximum size.
	ErrPacketTooLarge = errors.New("packet too large")
)

// Sentinel errors for operations - check with errors.Is().
var (
	// ErrPublishFailed is wrapped by PublishError.
	ErrPublishFailed = errors.New("publish failed")

	// ErrSubscribeFailed is wrapped by SubscribeError.
	ErrSubscribeFailed = errors.New("subscribe failed")

	// ErrNotConnected is returned for operations that need a live session.
	ErrNotConnected = errors.New("not connected")

	// ErrEngineClosed is returned after Shutdown.
	ErrEngineClosed = errors.New("engine closed")

	// ErrClientClosed is returned when an operation is attempted on a closed client.
	ErrClientClosed = errors.New("client closed")
)

// ConnectedEvent contains details about a successful connection.
// Extract with errors.As().
type ConnectedEvent struct {
	err            error
	SessionPresent bool
	Connack        *ConnackPacket
}

func (e *ConnectedEvent) Error() string { return e.err.Error() }
func (e *ConnectedEvent) Unwrap() error { return e.err }

// NewConnectedEvent creates a new ConnectedEvent.
func NewConnectedEvent(connack *ConnackPacket) *ConnectedEvent {
	return &ConnectedEvent{
		err:            ErrConnected,
		SessionPresent: connack.SessionPresent,
		Connack:        connack,
	}
}

// DisconnectError contains details about a disconnection.
// Extract with errors.As().
type DisconnectError struct {
	err          error
	ReasonCode   ReasonCode
	ReasonString string
	Remote       bool // true if server sent disconnect
}

func (e *DisconnectError) Error() string {
	if e.Remote {
		return "server disconnect: " + e.ReasonCode.String()
	}
	return "disconnected: " + e.ReasonCode.String()
}

func (e *DisconnectError) Unwrap() error { return e.err }

// NewDisconnectError creates a new DisconnectError.
func NewDisconnectError(reason ReasonCode, reasonString string, remote bool) *DisconnectError {
	baseErr := ErrDisconnected
	if remote {
		baseErr = ErrServerDisconnect
	}
	return &DisconnectError{
		err:          baseErr,
		ReasonCode:   reason,
		ReasonString: reasonString,
		Remote:       remote,
	}
}

// ReconnectEvent contains details about a scheduled reconnection.
// Extract with errors.As().
type ReconnectEvent struct {
	err     error
	Attempt int
	Delay   time.Duration
	Cause   error
}

func (e *ReconnectEvent) Error() string { return e.err.Error() }
func (e *ReconnectEvent) Unwrap() error { return e.err }

// NewReconnectEvent creates a new ReconnectEvent.
func NewReconnectEvent(attempt int, delay time.Duration, cause error) *ReconnectEvent {
	return &ReconnectEvent{
		err:     ErrReconnecting,
		Attempt: attempt,
		Delay:   delay,
		Cause:   cause,
	}
}

// PublishError contains details about a publish the broker rejected.
// Extract with errors.As().
type PublishError struct {
	err          error
	PacketID     uint16
	ReasonCode   ReasonCode
	ReasonString string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %d failed: %s", e.PacketID, e.ReasonCode)
}

func (e *PublishError) Unwrap() error { return e.err }

// NewPublishError creates a new PublishError.
func NewPublishError(packetID uint16, reason ReasonCode, reasonString string) *PublishError {
	return &PublishError{
		err:          ErrPublishFailed,
		PacketID:     packetID,
		ReasonCode:   reason,
		ReasonString: reasonString,
	}
}

// SubscribeError contains details about a rejected topic filter.
// Extract with errors.As().
type SubscribeError struct {
	err        error
	Filter     string
	ReasonCode ReasonCode
}

func (e *SubscribeError) Error() string {
	return "subscribe " + e.Filter + " failed: " + e.ReasonCode.String()
}

func (e *SubscribeError) Unwrap() error { return e.err }

// NewSubscribeError creates a new SubscribeError.
func NewSubscribeError(filter string, reason ReasonCode) *SubscribeError {
	return &SubscribeError{
		err:        ErrSubscribeFailed,
		Filter:     filter,
		ReasonCode: reason,
	}
}

// ConnectionLostError contains details about an unexpected disconnection.
// Extract with errors.As().
type ConnectionLostError struct {
	err   error
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() error { return e.err }

// NewConnectionLostError creates a new ConnectionLostError.
func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{
		err:   ErrConnectionLost,
		Cause: cause,
	}
}

// ConnectError contains details about a refused connection attempt.
// Extract with errors.As().
type ConnectError struct {
	err          error
	ReasonCode   ReasonCode
	ReasonString string
}

func (e *ConnectError) Error() string {
	return "connect failed: " + e.ReasonCode.String()
}

func (e *ConnectError) Unwrap() error { return e.err }

// NewConnectError creates a new ConnectError from a CONNACK reason code.
func NewConnectError(reason ReasonCode, reasonString string) *ConnectError {
	return &ConnectError{
		err:          ErrConnectFailed,
		ReasonCode:   reason,
		ReasonString: reasonString,
	}
}
