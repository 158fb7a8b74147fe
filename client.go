package mqttng

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"
)

// ErrNoServers is returned when neither static servers nor a resolver yield an address.
var ErrNoServers = errors.New("no servers configured")

// Client drives an Engine over a real connection. It owns the goroutines the
// engine deliberately lacks: a dial loop, a read loop per connection, a write
// loop and a timer loop. All engine access is serialized by one mutex, so
// Client methods are safe for concurrent use.
//
// Callbacks (events, delivery reports, messages) run on a dedicated
// goroutine and may call back into the Client.
type Client struct {
	opts    *options
	log     Logger
	dialer  Dialer
	address string

	mu       sync.Mutex
	engine   *Engine
	conn     Conn
	stopping bool
	waiters  map[uint16]chan DeliveryReport

	userEvent    EventHandler
	userDelivery DeliveryHandler

	limiter     *rate.Limiter
	serverIndex atomic.Uint32
	callbacks   *callbackQueue

	wake    chan struct{}
	redial  chan struct{}
	ready   chan struct{}
	failed  chan error
	readyMu sync.Once

	ctx     context.Context
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// NewClient creates a client that connects with dialer to address. A nil
// dialer selects one from the address scheme on each attempt, cycling
// through WithServers and WithServerResolver addresses when address is
// empty. The client does nothing until Start.
func NewClient(dialer Dialer, address string, opts ...Option) *Client {
	o := applyOptions(opts...)

	c := &Client{
		opts:         o,
		log:          o.logger,
		dialer:       dialer,
		address:      address,
		waiters:      make(map[uint16]chan DeliveryReport),
		userEvent:    o.onEvent,
		userDelivery: o.onDelivery,
		limiter:      rate.NewLimiter(o.dialLimit, o.dialBurst),
		callbacks:    newCallbackQueue(),
		wake:         make(chan struct{}, 1),
		redial:       make(chan struct{}, 1),
		ready:        make(chan struct{}),
		failed:       make(chan error, 1),
	}

	engineOpts := append([]Option{}, opts...)
	engineOpts = append(engineOpts,
		WithEventHandler(c.onEngineEvent),
		WithDeliveryHandler(c.onEngineDelivery),
		WithMessageHandler(c.wrapHandler(o.onMessage)),
	)
	c.engine = NewEngine(engineOpts...)

	return c
}

// Dial creates a client from options, starts it and waits for the first
// CONNACK. Use WithServers or WithServerResolver to configure addresses.
// Cancelling ctx after Dial returns closes the client.
func Dial(ctx context.Context, opts ...Option) (*Client, error) {
	c := NewClient(nil, "", opts...)
	if len(c.opts.servers) == 0 && c.opts.serverResolver == nil {
		return nil, ErrNoServers
	}

	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.connectTimeout)
	defer cancel()

	if err := c.WaitConnected(waitCtx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Start launches the client goroutines and begins connecting. The client
// runs until Close or until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.started.Swap(true) {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Go(func() { c.callbacks.run(c.ctx) })
	c.wg.Go(c.dialLoop)
	c.wg.Go(c.writeLoop)
	c.wg.Go(c.tickLoop)

	// Not part of wg: Close waits for wg.
	go func() {
		<-c.ctx.Done()
		c.Close()
	}()

	c.mu.Lock()
	err := c.engine.Connect()
	c.reconcile()
	c.mu.Unlock()

	return err
}

// WaitConnected blocks until the first successful CONNACK, a permanent
// connection failure, or ctx expiry.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case err := <-c.failed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish queues a message. It never waits for the network; QoS 1 outcomes
// arrive through WithDeliveryHandler.
//
// ErrOutOfMemory means the outbound buffer reached its limit. It fails only
// this publish and the connection stays up, unless WithCloseOnBufferExhausted
// is set, in which case the connection is closed and re-established.
func (c *Client) Publish(topic string, payload []byte, qos QoS, ownership OwnershipMode) (uint16, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	c.mu.Lock()
	id, err := c.engine.Publish(topic, payload, qos, ownership)
	if errors.Is(err, ErrOutOfMemory) {
		c.reconcile()
	}
	c.mu.Unlock()

	if err == nil {
		c.kick()
	}
	return id, err
}

// PublishWait publishes at QoS 1 and waits for the delivery report.
func (c *Client) PublishWait(ctx context.Context, topic string, payload []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	done := make(chan DeliveryReport, 1)

	c.mu.Lock()
	id, err := c.engine.Publish(topic, payload, QoS1, NoFree{})
	if err == nil {
		c.waiters[id] = done
	} else if errors.Is(err, ErrOutOfMemory) {
		c.reconcile()
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.kick()

	select {
	case r := <-done:
		return r.Err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

type ackResult struct {
	codes []ReasonCode
	err   error
}

// Subscribe subscribes to filters and waits for SUBACK. handler receives
// matching messages on the callback goroutine.
func (c *Client) Subscribe(ctx context.Context, handler MessageHandler, subs ...Subscription) ([]ReasonCode, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	done := make(chan ackResult, 1)
	c.mu.Lock()
	_, err := c.engine.Subscribe(subs, c.wrapHandler(handler), func(codes []ReasonCode, err error) {
		done <- ackResult{codes, err}
	})
	c.mu.Unlock()

	return c.awaitAck(ctx, done, err)
}

// Unsubscribe removes subscriptions and waits for UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) ([]ReasonCode, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	done := make(chan ackResult, 1)
	c.mu.Lock()
	_, err := c.engine.Unsubscribe(filters, func(codes []ReasonCode, err error) {
		done <- ackResult{codes, err}
	})
	c.mu.Unlock()

	return c.awaitAck(ctx, done, err)
}

func (c *Client) awaitAck(ctx context.Context, done <-chan ackResult, err error) ([]ReasonCode, error) {
	if err != nil {
		return nil, err
	}
	c.kick()

	select {
	case r := <-done:
		return r.codes, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns the engine's statistics snapshot.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Stats()
}

// ResetStats clears the latency high-water marks.
func (c *Client) ResetStats() {
	c.mu.Lock()
	c.engine.ResetStats()
	c.mu.Unlock()
}

// State returns the engine's connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.State()
}

// IsConnected reports whether the session is live.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// ClientID returns the configured or broker-assigned client identifier.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.ClientID()
}

// Close disconnects gracefully and stops all goroutines.
func (c *Client) Close() error {
	return c.CloseWithCode(ReasonSuccess)
}

// CloseWithCode sends DISCONNECT with code if connected, reports pending
// publishes as ErrEngineClosed and stops all goroutines.
func (c *Client) CloseWithCode(code ReasonCode) error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	c.stopping = true
	if c.engine.State() == StateConnected && c.conn != nil {
		if err := c.engine.Disconnect(code); err == nil {
			c.setWriteDeadline()
			if _, err := c.engine.Flush(c.conn); err != nil {
				c.log.Debug("disconnect flush failed", LogFields{LogFieldError: err})
			}
		}
	}
	c.engine.Shutdown()
	c.closeConn()
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
	return nil
}

func (c *Client) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// reconcile aligns the connection with the engine state. Callers hold mu.
func (c *Client) reconcile() {
	switch c.engine.State() {
	case StateConnecting:
		if c.conn == nil {
			select {
			case c.redial <- struct{}{}:
			default:
			}
		}
	case StateConnected:
	case StateDisconnected:
		c.closeConn()
		if c.stopping {
			return
		}
		cause := c.engine.LastError()
		if c.opts.autoReconnect && retryable(cause) {
			c.engine.ScheduleReconnect(cause)
			return
		}
		if cause == nil {
			cause = ErrNotConnected
		}
		select {
		case c.failed <- cause:
		default:
		}
	default:
		c.closeConn()
	}
}

func (c *Client) closeConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) setWriteDeadline() {
	if c.opts.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}
}

// retryable reports whether a refused or failed attempt is worth repeating.
func retryable(err error) bool {
	var ce *ConnectError
	if !errors.As(err, &ce) {
		return true
	}
	switch ce.ReasonCode {
	case ReasonUnsupportedProtocolVersion, ReasonClientIDNotValid,
		ReasonBadUserNameOrPassword, ReasonNotAuthorized, ReasonBanned:
		return false
	}
	return true
}

func (c *Client) dialLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.redial:
		}

		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}

		conn, err := c.dial(c.ctx)

		c.mu.Lock()
		if c.engine.State() != StateConnecting || c.conn != nil {
			if conn != nil {
				conn.Close()
			}
			c.reconcile()
			c.mu.Unlock()
			continue
		}
		if err != nil {
			c.log.Warn("dial failed", LogFields{LogFieldError: err})
			c.engine.TransportError(err)
			c.reconcile()
			c.mu.Unlock()
			continue
		}
		c.conn = conn
		c.mu.Unlock()

		c.wg.Go(func() { c.readLoop(conn) })
		c.kick()
	}
}

// dial opens a connection to the next server.
func (c *Client) dial(ctx context.Context) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.connectTimeout)
	defer cancel()

	if c.dialer != nil {
		c.log.Info("dialing", LogFields{LogFieldRemoteAddr: c.address})
		return c.dialer.Dial(ctx, c.address)
	}

	server := c.address
	if server == "" {
		var err error
		if server, err = c.nextServer(ctx); err != nil {
			return nil, err
		}
	}

	forward, err := c.resolveProxy(server)
	if err != nil {
		return nil, err
	}

	dialer, address, err := ServerDialer(server, c.opts.tlsConfig, forward, c.opts.connectTimeout)
	if err != nil {
		return nil, err
	}

	c.log.Info("dialing", LogFields{LogFieldRemoteAddr: server})
	return dialer.Dial(ctx, address)
}

// nextServer returns the next address in round-robin order. Resolver results
// take precedence; static servers are the fallback.
func (c *Client) nextServer(ctx context.Context) (string, error) {
	servers := c.opts.servers
	if c.opts.serverResolver != nil {
		resolved, err := c.opts.serverResolver(ctx)
		if err == nil && len(resolved) > 0 {
			servers = resolved
		} else if err != nil {
			c.log.Warn("server resolver failed", LogFields{LogFieldError: err})
		}
	}

	if len(servers) == 0 {
		return "", ErrNoServers
	}

	index := c.serverIndex.Add(1) - 1
	return servers[index%uint32(len(servers))], nil
}

// resolveProxy returns the forward dialer for server, or nil for a direct connection.
func (c *Client) resolveProxy(server string) (ContextDialer, error) {
	if c.opts.proxyConfig != nil {
		return NewProxyDialer(*c.opts.proxyConfig)
	}

	if c.opts.proxyFromEnv {
		u, err := ProxyFromEnvironment(server)
		if err != nil || u == nil {
			return nil, err
		}
		return NewProxyDialer(ProxyConfig{URL: u.String()})
	}

	return nil, nil
}

func (c *Client) readLoop(conn Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)

		c.mu.Lock()
		if c.conn != conn {
			c.mu.Unlock()
			return
		}
		if n > 0 {
			if ferr := c.engine.Feed(buf[:n]); ferr != nil {
				c.log.Debug("inbound stream rejected", LogFields{LogFieldError: ferr})
			}
		}
		if err != nil && c.engine.State() != StateClosed {
			c.engine.TransportError(err)
		}
		c.reconcile()
		c.mu.Unlock()

		c.kick()
		if err != nil {
			return
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		c.flush()
	}
}

func (c *Client) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.engine.Pending() {
		return
	}

	c.setWriteDeadline()
	if _, err := c.engine.Flush(c.conn); err != nil {
		c.engine.TransportError(err)
	}
	c.reconcile()
}

func (c *Client) tickLoop() {
	ticker := time.NewTicker(c.opts.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if err := c.engine.Tick(); err != nil {
			c.log.Debug("timer ended connection", LogFields{LogFieldError: err})
		}
		c.reconcile()
		c.mu.Unlock()

		c.kick()
	}
}

// onEngineEvent runs under mu.
func (c *Client) onEngineEvent(event error) {
	if errors.Is(event, ErrConnected) {
		c.readyMu.Do(func() { close(c.ready) })
	}
	if c.userEvent != nil {
		handler := c.userEvent
		c.callbacks.push(func() { handler(event) })
	}
}

// onEngineDelivery runs under mu.
func (c *Client) onEngineDelivery(r DeliveryReport) {
	if done, ok := c.waiters[r.PacketID]; ok {
		delete(c.waiters, r.PacketID)
		done <- r
	}
	if c.userDelivery != nil {
		handler := c.userDelivery
		c.callbacks.push(func() { handler(r) })
	}
}

func (c *Client) wrapHandler(handler MessageHandler) MessageHandler {
	if handler == nil {
		return nil
	}
	return func(msg *Message) {
		c.callbacks.push(func() { handler(msg) })
	}
}

// callbackQueue is an unbounded FIFO of callbacks run on one goroutine, so
// the engine never blocks on user code.
type callbackQueue struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
}

func newCallbackQueue() *callbackQueue {
	return &callbackQueue{signal: make(chan struct{}, 1)}
}

func (q *callbackQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *callbackQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case <-q.signal:
			q.drain()
		}
	}
}

func (q *callbackQueue) drain() {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()

		if len(items) == 0 {
			return
		}
		for _, fn := range items {
			fn()
		}
	}
}
