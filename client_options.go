package mqttng

import (
	"context"
	"crypto/tls"
	"time"

	"golang.org/x/time/rate"
)

// BackoffStrategy computes the wait before the next connection attempt from
// the 1-based attempt number, the previous wait and the error that ended the
// previous attempt. The result is capped by the maximum backoff.
type BackoffStrategy func(attempt int, currentBackoff time.Duration, err error) time.Duration

// ServerResolver returns broker addresses (scheme://host:port) before each
// connection attempt.
type ServerResolver func(ctx context.Context) ([]string, error)

// AckTimeoutPolicy decides what happens to a QoS 1 publish whose PUBACK is late.
type AckTimeoutPolicy int

const (
	// AckTimeoutResend retransmits with the same packet id and DUP set, up to
	// the configured number of resends, then abandons.
	AckTimeoutResend AckTimeoutPolicy = iota

	// AckTimeoutAbandon reports ErrAckTimeout and forgets the publish.
	AckTimeoutAbandon
)

// String returns the policy name.
func (p AckTimeoutPolicy) String() string {
	switch p {
	case AckTimeoutResend:
		return "resend"
	case AckTimeoutAbandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// DeliveryReport resolves one QoS 1 publish. Err is nil when the broker
// acknowledged it with a success code.
type DeliveryReport struct {
	PacketID uint16
	Err      error
	Resends  int
	Wait     time.Duration
}

// DeliveryHandler receives delivery reports from the engine's owner goroutine.
type DeliveryHandler func(report DeliveryReport)

// MessageHandler receives inbound application messages.
type MessageHandler func(msg *Message)

const (
	defaultKeepAlive        = 60
	defaultConnectTimeout   = 10 * time.Second
	defaultAckTimeout       = 30 * time.Second
	defaultMaxResends       = 3
	defaultReconnectBackoff = time.Second
	defaultMaxBackoff       = 60 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultTickInterval     = 250 * time.Millisecond
	defaultMaxPacketSize    = defaultMaxBufferSize
)

// options holds configuration for an Engine and the Client that drives it.
type options struct {
	// Session
	clientID       string
	username       string
	password       []byte
	keepAlive      uint16
	cleanStart     bool
	sessionExpiry  uint32
	receiveMaximum uint16
	maxPacketSize  uint32
	userProperties []StringPair
	will           *WillMessage

	// Outbound buffer
	bufferSize             int
	maxBufferSize          int
	closeOnBufferExhausted bool

	// Acknowledgement policy
	ackTimeout          time.Duration
	ackPolicy           AckTimeoutPolicy
	maxResends          int
	abandonOnDisconnect bool

	// Connection lifecycle
	connectTimeout   time.Duration
	autoReconnect    bool
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
	backoffStrategy  BackoffStrategy

	// Collaborators
	logger     Logger
	metrics    Metrics
	clock      func() time.Time
	onDelivery DeliveryHandler
	onMessage  MessageHandler
	onEvent    EventHandler

	// Client shell
	servers        []string
	serverResolver ServerResolver
	tlsConfig      *tls.Config
	proxyConfig    *ProxyConfig
	proxyFromEnv   bool
	writeTimeout   time.Duration
	tickInterval   time.Duration
	dialLimit      rate.Limit
	dialBurst      int
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		keepAlive:        defaultKeepAlive,
		receiveMaximum:   maxUint16,
		maxPacketSize:    defaultMaxPacketSize,
		bufferSize:       defaultBufferSize,
		maxBufferSize:    defaultMaxBufferSize,
		ackTimeout:       defaultAckTimeout,
		ackPolicy:        AckTimeoutResend,
		maxResends:       defaultMaxResends,
		connectTimeout:   defaultConnectTimeout,
		autoReconnect:    true,
		reconnectBackoff: defaultReconnectBackoff,
		maxBackoff:       defaultMaxBackoff,
		logger:           NewNoOpLogger(),
		metrics:          NoOpMetrics{},
		clock:            time.Now,
		writeTimeout:     defaultWriteTimeout,
		tickInterval:     defaultTickInterval,
		dialLimit:        rate.Every(time.Second),
		dialBurst:        1,
	}
}

// Option configures an Engine or a Client.
type Option func(*options)

// WithClientID sets the client identifier. Empty lets the broker assign one.
func WithClientID(id string) Option {
	return func(o *options) {
		o.clientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep-alive interval in seconds. Zero disables pings.
func WithKeepAlive(seconds uint16) Option {
	return func(o *options) {
		o.keepAlive = seconds
	}
}

// WithCleanStart selects a fresh session on every connection. The outbound
// buffer is then discarded on disconnect instead of being resent.
func WithCleanStart(clean bool) Option {
	return func(o *options) {
		o.cleanStart = clean
	}
}

// WithSessionExpiry sets the session expiry interval in seconds.
func WithSessionExpiry(seconds uint32) Option {
	return func(o *options) {
		o.sessionExpiry = seconds
	}
}

// WithReceiveMaximum limits inbound QoS 1 messages the client processes concurrently.
func WithReceiveMaximum(maxValue uint16) Option {
	return func(o *options) {
		if maxValue == 0 {
			maxValue = maxUint16
		}
		o.receiveMaximum = maxValue
	}
}

// WithMaxPacketSize sets the largest inbound packet the client accepts and
// advertises in CONNECT. The default is 8 MiB. Zero means no limit beyond the
// protocol maximum.
func WithMaxPacketSize(size uint32) Option {
	return func(o *options) {
		o.maxPacketSize = size
	}
}

// WithUserProperties adds user properties to CONNECT.
func WithUserProperties(props ...StringPair) Option {
	return func(o *options) {
		o.userProperties = append(o.userProperties, props...)
	}
}

// WithWill sets the message the broker publishes if the connection drops.
func WithWill(will WillMessage) Option {
	return func(o *options) {
		o.will = &will
	}
}

// WithBufferSize sets the initial outbound buffer capacity and the limit it
// may grow to before Publish fails with ErrOutOfMemory.
func WithBufferSize(initial, maxSize int) Option {
	return func(o *options) {
		if initial > 0 {
			o.bufferSize = initial
		}
		if maxSize > 0 {
			o.maxBufferSize = maxSize
		}
	}
}

// WithCloseOnBufferExhausted drops the connection when Publish fails with
// ErrOutOfMemory, so a stalled broker cannot keep the buffer full. The
// session policy then decides what stays queued.
func WithCloseOnBufferExhausted(enable bool) Option {
	return func(o *options) {
		o.closeOnBufferExhausted = enable
	}
}

// WithAckTimeout sets how long a transmitted QoS 1 publish may wait for PUBACK.
// Zero disables the timeout.
func WithAckTimeout(d time.Duration) Option {
	return func(o *options) {
		o.ackTimeout = d
	}
}

// WithAckTimeoutPolicy selects between resending and abandoning late publishes.
func WithAckTimeoutPolicy(policy AckTimeoutPolicy) Option {
	return func(o *options) {
		o.ackPolicy = policy
	}
}

// WithMaxResends caps retransmissions under AckTimeoutResend.
func WithMaxResends(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxResends = n
		}
	}
}

// WithAbandonOnDisconnect reports unacknowledged publishes as failed when the
// connection drops instead of keeping them for resend.
func WithAbandonOnDisconnect(abandon bool) Option {
	return func(o *options) {
		o.abandonOnDisconnect = abandon
	}
}

// WithConnectTimeout sets how long to wait for CONNACK.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithAutoReconnect enables reconnection after transport failures.
func WithAutoReconnect(enabled bool) Option {
	return func(o *options) {
		o.autoReconnect = enabled
	}
}

// WithReconnectBackoff sets the initial reconnect backoff.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *options) {
		o.reconnectBackoff = d
	}
}

// WithMaxBackoff caps the reconnect backoff.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *options) {
		o.maxBackoff = d
	}
}

// WithBackoffStrategy sets a custom backoff strategy for reconnection attempts.
// If not set, the backoff doubles up to the maximum.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *options) {
		o.backoffStrategy = strategy
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithDeliveryHandler receives the outcome of every QoS 1 publish.
func WithDeliveryHandler(handler DeliveryHandler) Option {
	return func(o *options) {
		o.onDelivery = handler
	}
}

// WithMessageHandler receives inbound messages that no per-filter handler claimed.
func WithMessageHandler(handler MessageHandler) Option {
	return func(o *options) {
		o.onMessage = handler
	}
}

// WithEventHandler sets the handler for lifecycle events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.onEvent = handler
	}
}

// WithServers sets broker addresses tried in round-robin order.
// Supported schemes: tcp, mqtt, tls, ssl, mqtts, ws, wss, quic.
func WithServers(servers ...string) Option {
	return func(o *options) {
		o.servers = append(o.servers, servers...)
	}
}

// WithServerResolver sets a dynamic server resolver. Static servers are the fallback.
func WithServerResolver(resolver ServerResolver) Option {
	return func(o *options) {
		o.serverResolver = resolver
	}
}

// WithTLS sets the TLS configuration for tls, wss and quic servers.
func WithTLS(config *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = config
	}
}

// WithProxy routes tcp, tls and ws connections through an HTTP CONNECT or SOCKS5 proxy.
func WithProxy(config ProxyConfig) Option {
	return func(o *options) {
		o.proxyConfig = &config
	}
}

// WithProxyFromEnvironment uses HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func WithProxyFromEnvironment() Option {
	return func(o *options) {
		o.proxyFromEnv = true
	}
}

// WithWriteTimeout bounds a single transport write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithTickInterval sets how often timers are evaluated.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tickInterval = d
		}
	}
}

// WithDialRate limits connection attempts regardless of backoff.
func WithDialRate(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.dialLimit = limit
		if burst > 0 {
			o.dialBurst = burst
		}
	}
}

// applyOptions applies all options to the default options.
func applyOptions(opts ...Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}
