package mqttng

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the MQTT WebSocket subprotocol.
const WebSocketSubprotocol = "mqtt"

// WSConn presents a WebSocket as a byte stream. Every Write becomes one
// binary message; reads concatenate message payloads, so packets may span
// or share frames.
type WSConn struct {
	conn *websocket.Conn
	buf  []byte
}

func newWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Read returns bytes from the current message, fetching the next one when it
// is exhausted.
func (c *WSConn) Read(b []byte) (int, error) {
	for len(c.buf) == 0 {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			return 0, ErrProtocolViolation
		}
		c.buf = data
	}

	n := copy(b, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write sends b as a single binary message.
func (c *WSConn) Write(b []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the underlying connection without a close handshake.
func (c *WSConn) Close() error {
	return c.conn.Close()
}

func (c *WSConn) LocalAddr() net.Addr                { return c.conn.LocalAddr() }
func (c *WSConn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }
func (c *WSConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *WSConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// SetDeadline sets the read and write deadlines.
func (c *WSConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

// WSDialer connects to brokers over WebSocket (ws:// or wss:// URLs).
type WSDialer struct {
	Dialer *websocket.Dialer

	// Header is sent with the handshake.
	Header http.Header
}

// NewWSDialer creates a dialer that negotiates the mqtt subprotocol. forward,
// when set, opens the TCP connection underneath the handshake.
func NewWSDialer(config *tls.Config, forward ContextDialer) *WSDialer {
	dialer := &websocket.Dialer{
		Subprotocols:     []string{WebSocketSubprotocol},
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		TLSClientConfig:  config,
		HandshakeTimeout: defaultConnectTimeout,
	}
	if forward != nil {
		dialer.NetDialContext = forward.DialContext
	}
	return &WSDialer{Dialer: dialer}
}

// Dial performs the WebSocket handshake with url.
func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = NewWSDialer(nil, nil).Dialer
	}

	header := d.Header
	if header == nil {
		header = http.Header{}
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	return newWSConn(conn), nil
}
