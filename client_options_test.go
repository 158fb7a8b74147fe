package mqttng

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestDefaultOptions(t *testing.T) {
	opts := defaultOptions()

	assert.Equal(t, uint16(60), opts.keepAlive)
	assert.False(t, opts.cleanStart)
	assert.Equal(t, uint16(maxUint16), opts.receiveMaximum)
	assert.Equal(t, uint32(defaultMaxBufferSize), opts.maxPacketSize)
	assert.Equal(t, defaultBufferSize, opts.bufferSize)
	assert.False(t, opts.closeOnBufferExhausted)
	assert.Equal(t, defaultMaxBufferSize, opts.maxBufferSize)
	assert.Equal(t, 30*time.Second, opts.ackTimeout)
	assert.Equal(t, AckTimeoutResend, opts.ackPolicy)
	assert.Equal(t, 3, opts.maxResends)
	assert.False(t, opts.abandonOnDisconnect)
	assert.Equal(t, 10*time.Second, opts.connectTimeout)
	assert.True(t, opts.autoReconnect)
	assert.Equal(t, time.Second, opts.reconnectBackoff)
	assert.Equal(t, 60*time.Second, opts.maxBackoff)
	assert.Nil(t, opts.backoffStrategy)
	assert.Equal(t, 5*time.Second, opts.writeTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.tickInterval)
	assert.Equal(t, rate.Every(time.Second), opts.dialLimit)
	assert.Equal(t, 1, opts.dialBurst)
	assert.NotNil(t, opts.logger)
	assert.NotNil(t, opts.metrics)
	assert.NotNil(t, opts.clock)
}

func TestWithClientID(t *testing.T) {
	opts := applyOptions(WithClientID("edge-7"))
	assert.Equal(t, "edge-7", opts.clientID)
}

func TestWithCredentials(t *testing.T) {
	opts := applyOptions(WithCredentials("device", "secret"))
	assert.Equal(t, "device", opts.username)
	assert.Equal(t, []byte("secret"), opts.password)
}

func TestWithKeepAlive(t *testing.T) {
	opts := applyOptions(WithKeepAlive(15))
	assert.Equal(t, uint16(15), opts.keepAlive)

	opts = applyOptions(WithKeepAlive(0))
	assert.Equal(t, uint16(0), opts.keepAlive)
}

func TestWithCleanStart(t *testing.T) {
	opts := applyOptions(WithCleanStart(true))
	assert.True(t, opts.cleanStart)
}

func TestWithSessionExpiry(t *testing.T) {
	opts := applyOptions(WithSessionExpiry(3600))
	assert.Equal(t, uint32(3600), opts.sessionExpiry)
}

func TestWithReceiveMaximum(t *testing.T) {
	opts := applyOptions(WithReceiveMaximum(10))
	assert.Equal(t, uint16(10), opts.receiveMaximum)

	opts = applyOptions(WithReceiveMaximum(0))
	assert.Equal(t, uint16(maxUint16), opts.receiveMaximum)
}

func TestWithMaxPacketSize(t *testing.T) {
	opts := applyOptions(WithMaxPacketSize(4096))
	assert.Equal(t, uint32(4096), opts.maxPacketSize)

	opts = applyOptions(WithMaxPacketSize(0))
	assert.Equal(t, uint32(0), opts.maxPacketSize)
}

func TestWithUserProperties(t *testing.T) {
	opts := applyOptions(
		WithUserProperties(StringPair{Key: "site", Value: "north"}),
		WithUserProperties(StringPair{Key: "rack", Value: "4"}),
	)
	assert.Equal(t, []StringPair{{Key: "site", Value: "north"}, {Key: "rack", Value: "4"}}, opts.userProperties)
}

func TestWithWill(t *testing.T) {
	will := WillMessage{Topic: "devices/edge-7/status", Payload: []byte("offline"), QoS: QoS1, Retain: true}
	opts := applyOptions(WithWill(will))

	require.NotNil(t, opts.will)
	assert.Equal(t, will, *opts.will)
}

func TestWithBufferSize(t *testing.T) {
	tests := []struct {
		name        string
		initial     int
		maxSize     int
		wantInitial int
		wantMax     int
	}{
		{"both set", 1024, 4096, 1024, 4096},
		{"zero keeps defaults", 0, 0, defaultBufferSize, defaultMaxBufferSize},
		{"negative keeps defaults", -1, -1, defaultBufferSize, defaultMaxBufferSize},
		{"only max", 0, 1 << 20, defaultBufferSize, 1 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := applyOptions(WithBufferSize(tt.initial, tt.maxSize))
			assert.Equal(t, tt.wantInitial, opts.bufferSize)
			assert.Equal(t, tt.wantMax, opts.maxBufferSize)
		})
	}
}

func TestWithCloseOnBufferExhausted(t *testing.T) {
	opts := applyOptions(WithCloseOnBufferExhausted(true))
	assert.True(t, opts.closeOnBufferExhausted)
}

func TestWithAckTimeout(t *testing.T) {
	opts := applyOptions(WithAckTimeout(2 * time.Second))
	assert.Equal(t, 2*time.Second, opts.ackTimeout)

	opts = applyOptions(WithAckTimeout(0))
	assert.Equal(t, time.Duration(0), opts.ackTimeout)
}

func TestWithAckTimeoutPolicy(t *testing.T) {
	opts := applyOptions(WithAckTimeoutPolicy(AckTimeoutAbandon))
	assert.Equal(t, AckTimeoutAbandon, opts.ackPolicy)
}

func TestWithMaxResends(t *testing.T) {
	opts := applyOptions(WithMaxResends(0))
	assert.Equal(t, 0, opts.maxResends)

	opts = applyOptions(WithMaxResends(7))
	assert.Equal(t, 7, opts.maxResends)

	opts = applyOptions(WithMaxResends(-1))
	assert.Equal(t, defaultMaxResends, opts.maxResends)
}

func TestWithAbandonOnDisconnect(t *testing.T) {
	opts := applyOptions(WithAbandonOnDisconnect(true))
	assert.True(t, opts.abandonOnDisconnect)
}

func TestWithConnectTimeout(t *testing.T) {
	opts := applyOptions(WithConnectTimeout(3 * time.Second))
	assert.Equal(t, 3*time.Second, opts.connectTimeout)
}

func TestWithAutoReconnect(t *testing.T) {
	opts := applyOptions(WithAutoReconnect(false))
	assert.False(t, opts.autoReconnect)
}

func TestWithReconnectBackoff(t *testing.T) {
	opts := applyOptions(WithReconnectBackoff(500*time.Millisecond), WithMaxBackoff(20*time.Second))
	assert.Equal(t, 500*time.Millisecond, opts.reconnectBackoff)
	assert.Equal(t, 20*time.Second, opts.maxBackoff)
}

func TestWithBackoffStrategy(t *testing.T) {
	strategy := func(attempt int, _ time.Duration, _ error) time.Duration {
		return time.Duration(attempt) * time.Second
	}
	opts := applyOptions(WithBackoffStrategy(strategy))

	require.NotNil(t, opts.backoffStrategy)
	assert.Equal(t, 4*time.Second, opts.backoffStrategy(4, 0, nil))
}

func TestWithLogger(t *testing.T) {
	logger := NewStdLogger(nil, LogLevelDebug)
	opts := applyOptions(WithLogger(logger))
	assert.Same(t, logger, opts.logger)

	opts = applyOptions(WithLogger(nil))
	assert.NotNil(t, opts.logger, "nil keeps the default")
}

func TestWithMetrics(t *testing.T) {
	m := NewMemoryMetrics()
	opts := applyOptions(WithMetrics(m))
	assert.Same(t, m, opts.metrics)

	opts = applyOptions(WithMetrics(nil))
	assert.Equal(t, NoOpMetrics{}, opts.metrics)
}

func TestWithClock(t *testing.T) {
	clock := newFakeClock()
	opts := applyOptions(WithClock(clock.Now))
	assert.Equal(t, clock.Now(), opts.clock())

	opts = applyOptions(WithClock(nil))
	assert.NotNil(t, opts.clock)
}

func TestWithHandlers(t *testing.T) {
	var deliveries, messages, events int

	opts := applyOptions(
		WithDeliveryHandler(func(DeliveryReport) { deliveries++ }),
		WithMessageHandler(func(*Message) { messages++ }),
		WithEventHandler(func(error) { events++ }),
	)

	opts.onDelivery(DeliveryReport{})
	opts.onMessage(&Message{})
	opts.onEvent(ErrConnected)

	assert.Equal(t, 1, deliveries)
	assert.Equal(t, 1, messages)
	assert.Equal(t, 1, events)
}

func TestWithServers(t *testing.T) {
	opts := applyOptions(WithServers("tcp://a:1883"), WithServers("tls://b:8883", "quic://c:14567"))
	assert.Equal(t, []string{"tcp://a:1883", "tls://b:8883", "quic://c:14567"}, opts.servers)
}

func TestWithServerResolver(t *testing.T) {
	resolver := func(context.Context) ([]string, error) {
		return nil, errors.New("lookup failed")
	}
	opts := applyOptions(WithServerResolver(resolver))

	require.NotNil(t, opts.serverResolver)
	_, err := opts.serverResolver(context.Background())
	assert.EqualError(t, err, "lookup failed")
}

func TestWithTLS(t *testing.T) {
	config := &tls.Config{ServerName: "broker.local", MinVersion: tls.VersionTLS12}
	opts := applyOptions(WithTLS(config))
	assert.Same(t, config, opts.tlsConfig)
}

func TestWithProxy(t *testing.T) {
	opts := applyOptions(WithProxy(ProxyConfig{URL: "socks5://proxy:1080", Username: "u"}))
	require.NotNil(t, opts.proxyConfig)
	assert.Equal(t, "socks5://proxy:1080", opts.proxyConfig.URL)
	assert.False(t, opts.proxyFromEnv)

	opts = applyOptions(WithProxyFromEnvironment())
	assert.True(t, opts.proxyFromEnv)
	assert.Nil(t, opts.proxyConfig)
}

func TestWithWriteTimeout(t *testing.T) {
	opts := applyOptions(WithWriteTimeout(time.Second))
	assert.Equal(t, time.Second, opts.writeTimeout)
}

func TestWithTickInterval(t *testing.T) {
	opts := applyOptions(WithTickInterval(50 * time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, opts.tickInterval)

	opts = applyOptions(WithTickInterval(0))
	assert.Equal(t, defaultTickInterval, opts.tickInterval)
}

func TestWithDialRate(t *testing.T) {
	opts := applyOptions(WithDialRate(rate.Limit(5), 3))
	assert.Equal(t, rate.Limit(5), opts.dialLimit)
	assert.Equal(t, 3, opts.dialBurst)

	opts = applyOptions(WithDialRate(rate.Inf, 0))
	assert.Equal(t, rate.Inf, opts.dialLimit)
	assert.Equal(t, 1, opts.dialBurst)
}

func TestAckTimeoutPolicyString(t *testing.T) {
	assert.Equal(t, "resend", AckTimeoutResend.String())
	assert.Equal(t, "abandon", AckTimeoutAbandon.String())
	assert.Equal(t, "unknown", AckTimeoutPolicy(9).String())
}
