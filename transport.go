package mqttng

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Conn is the byte stream an Engine is flushed to and fed from.
type Conn interface {
	net.Conn
}

// Dialer establishes broker connections.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (Conn, error)
}

// ContextDialer opens raw network connections. *net.Dialer and *ProxyDialer
// both satisfy it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

func netDialer(forward ContextDialer, timeout time.Duration) ContextDialer {
	if forward != nil {
		return forward
	}
	return &net.Dialer{Timeout: timeout}
}

// TCPDialer connects to brokers over plain TCP.
type TCPDialer struct {
	// Timeout bounds the dial. Zero means no timeout.
	Timeout time.Duration

	// Forward opens the underlying connection, e.g. through a proxy.
	Forward ContextDialer
}

// Dial connects to host:port.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	return netDialer(d.Forward, d.Timeout).DialContext(ctx, "tcp", address)
}

// TLSDialer connects to brokers over TLS.
type TLSDialer struct {
	Config  *tls.Config
	Timeout time.Duration
	Forward ContextDialer
}

// Dial connects to host:port and completes the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	config := d.Config
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if d.Forward == nil {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: d.Timeout},
			Config:    config,
		}
		return dialer.DialContext(ctx, "tcp", address)
	}

	raw, err := d.Forward.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	if config.ServerName == "" {
		if host, _, err := net.SplitHostPort(address); err == nil {
			config = config.Clone()
			config.ServerName = host
		}
	}

	conn := tls.Client(raw, config)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return conn, nil
}

// UnixDialer connects to brokers over Unix domain sockets.
type UnixDialer struct{}

// Dial connects to the socket file at address.
func (UnixDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", address)
}

// defaultPorts maps URL schemes to the port used when the address has none.
var defaultPorts = map[string]string{
	"tcp":   "1883",
	"mqtt":  "1883",
	"tls":   "8883",
	"ssl":   "8883",
	"mqtts": "8883",
	"ws":    "80",
	"wss":   "443",
	"quic":  "8883",
}

// ServerDialer picks the Dialer for a scheme://host[:port] address and
// returns it with the address the dialer expects.
func ServerDialer(server string, config *tls.Config, forward ContextDialer, timeout time.Duration) (Dialer, string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, "", fmt.Errorf("invalid address: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		if port, ok := defaultPorts[u.Scheme]; ok {
			host = net.JoinHostPort(u.Hostname(), port)
		}
	}

	switch u.Scheme {
	case "tcp", "mqtt":
		return &TCPDialer{Timeout: timeout, Forward: forward}, host, nil
	case "tls", "ssl", "mqtts":
		return &TLSDialer{Config: config, Timeout: timeout, Forward: forward}, host, nil
	case "ws", "wss":
		return NewWSDialer(config, forward), server, nil
	case "quic":
		// UDP is not tunnelled through proxies.
		return NewQUICDialer(config), host, nil
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Host + u.Path
		}
		return UnixDialer{}, path, nil
	default:
		return nil, "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
}
