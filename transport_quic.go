package mqttng

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// quicALPN is the application protocol negotiated for MQTT over QUIC.
const quicALPN = "mqtt"

// QUICConn carries MQTT over one bidirectional QUIC stream.
type QUICConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	once   sync.Once
	err    error
}

func (c *QUICConn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *QUICConn) Write(b []byte) (int, error) { return c.stream.Write(b) }
func (c *QUICConn) LocalAddr() net.Addr         { return c.conn.LocalAddr() }
func (c *QUICConn) RemoteAddr() net.Addr        { return c.conn.RemoteAddr() }

// Close closes the stream and then the connection. Later calls return the
// first result.
func (c *QUICConn) Close() error {
	c.once.Do(func() {
		c.err = c.stream.Close()
		if err := c.conn.CloseWithError(0, ""); c.err == nil {
			c.err = err
		}
	})
	return c.err
}

// SetDeadline sets the read and write deadlines.
func (c *QUICConn) SetDeadline(t time.Time) error {
	if err := c.stream.SetReadDeadline(t); err != nil {
		return err
	}
	return c.stream.SetWriteDeadline(t)
}

func (c *QUICConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *QUICConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }

// QUICDialer connects to brokers over QUIC. TLS 1.3 is mandatory.
type QUICDialer struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// NewQUICDialer creates a dialer that negotiates the mqtt ALPN.
func NewQUICDialer(config *tls.Config) *QUICDialer {
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS13}
	}
	if len(config.NextProtos) == 0 || config.MinVersion < tls.VersionTLS13 {
		config = config.Clone()
		config.MinVersion = tls.VersionTLS13
		if len(config.NextProtos) == 0 {
			config.NextProtos = []string{quicALPN}
		}
	}
	return &QUICDialer{TLSConfig: config}
}

// Dial connects to host:port and opens the MQTT stream.
func (d *QUICDialer) Dial(ctx context.Context, address string) (Conn, error) {
	config := d.TLSConfig
	if config == nil {
		config = NewQUICDialer(nil).TLSConfig
	}

	conn, err := quic.DialAddr(ctx, address, config, d.QUICConfig)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, err
	}

	return &QUICConn{conn: conn, stream: stream}, nil
}
