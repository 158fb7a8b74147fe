package mqttng

import (
	"errors"
	"io"
	"time"
)

// ErrInvalidState is returned when an operation does not apply to the current state.
var ErrInvalidState = errors.New("operation not valid in current state")

// State is the connection state of an Engine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type writeSource uint8

const (
	sourceNone writeSource = iota
	sourceControl
	sourcePublish
)

type subscription struct {
	sub     Subscription
	handler MessageHandler
}

type pendingRequest struct {
	unsubscribe bool
	subs        []Subscription
	filters     []string
	handler     MessageHandler
	done        func(codes []ReasonCode, err error)
}

// Engine is a sans-I/O MQTT v5 client. It serializes packets into an
// outbound buffer, parses inbound bytes, tracks acknowledgements and runs the
// connection state machine. It never blocks and never starts goroutines.
//
// An Engine is owned by a single goroutine; none of its methods are safe for
// concurrent use. Client wraps an Engine for concurrent callers.
type Engine struct {
	opts    *options
	log     Logger
	metrics *engineMetrics
	now     func() time.Time

	state State
	buf   *OutboundBuffer
	ids   *PacketIDAllocator
	acks  *AckTracker
	flow  *FlowController
	ka    *KeepAlive

	control    [][]byte
	controlOff int
	writing    writeSource

	rx []byte

	owners  map[uint16]OwnershipMode
	orphans map[uint16]struct{}

	subs     map[string]*subscription
	requests map[uint16]*pendingRequest

	connectStarted time.Time
	disconnecting  bool
	assignedID     string
	maxOutbound    uint32
	maxQoS         QoS

	attempt     int
	backoff     time.Duration
	reconnectAt time.Time
	lastErr     error

	txBytesQueued    uint64
	txMessagesQueued uint64
	txMessagesSent   uint64
	rxMessagesRcvd   uint64
	marks            latencyMarks
}

// NewEngine creates an engine in StateDisconnected.
func NewEngine(opts ...Option) *Engine {
	o := applyOptions(opts...)

	e := &Engine{
		opts:     o,
		log:      o.logger,
		metrics:  newEngineMetrics(o.metrics),
		now:      o.clock,
		state:    StateDisconnected,
		buf:      NewOutboundBuffer(o.bufferSize, o.maxBufferSize),
		ids:      NewPacketIDAllocator(),
		acks:     NewAckTracker(o.clock),
		flow:     NewFlowController(0),
		ka:       NewKeepAlive(o.keepAlive),
		owners:   make(map[uint16]OwnershipMode),
		orphans:  make(map[uint16]struct{}),
		subs:     make(map[string]*subscription),
		requests: make(map[uint16]*pendingRequest),
		maxQoS:   QoS1,
	}
	if o.clientID != "" {
		e.log = e.log.WithFields(LogFields{LogFieldClientID: o.clientID})
	}
	return e
}

// State returns the current connection state.
func (e *Engine) State() State {
	return e.state
}

// LastError returns the cause of the most recent connection loss or refusal.
func (e *Engine) LastError() error {
	return e.lastErr
}

// ClientID returns the configured or broker-assigned client identifier.
func (e *Engine) ClientID() string {
	if e.opts.clientID != "" {
		return e.opts.clientID
	}
	return e.assignedID
}

// ReconnectAt returns when a scheduled reconnect becomes due.
func (e *Engine) ReconnectAt() time.Time {
	return e.reconnectAt
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	e.log.Info("state change", LogFields{"from": e.state.String(), LogFieldState: s.String()})
	e.state = s
}

func (e *Engine) emit(event error) {
	if e.opts.onEvent != nil {
		e.opts.onEvent(event)
	}
}

func (e *Engine) report(r DeliveryReport) {
	if e.opts.onDelivery != nil {
		e.opts.onDelivery(r)
	}
}

// Connect starts a connection attempt by queueing CONNECT. The caller must
// open a transport and Flush to it.
func (e *Engine) Connect() error {
	switch e.state {
	case StateClosed:
		return ErrEngineClosed
	case StateConnecting, StateConnected:
		return ErrInvalidState
	}

	clientID := e.opts.clientID
	if clientID == "" {
		clientID = e.assignedID
	}

	connect := &ConnectPacket{
		ClientID:       clientID,
		Username:       e.opts.username,
		Password:       e.opts.password,
		KeepAlive:      e.opts.keepAlive,
		CleanStart:     e.opts.cleanStart,
		SessionExpiry:  e.opts.sessionExpiry,
		ReceiveMaximum: e.opts.receiveMaximum,
		MaxPacketSize:  e.opts.maxPacketSize,
		UserProperties: e.opts.userProperties,
		Will:           e.opts.will,
	}

	// CONNECT must be the first packet on the new transport.
	e.control = e.control[:0]
	e.controlOff = 0
	e.writing = sourceNone
	e.rx = e.rx[:0]

	if err := e.queueControl(connect); err != nil {
		return err
	}

	now := e.now()
	e.connectStarted = now
	e.ka.SetInterval(e.opts.keepAlive)
	e.ka.Reset(now)
	e.setState(StateConnecting)
	return nil
}

// Publish serializes a PUBLISH into the outbound buffer and returns its packet
// id (zero for QoS 0). It never blocks: while not connected the packet waits
// in the buffer. The payload is copied before Publish returns and ownership is
// then dispatched exactly once. On error the payload is untouched and stays
// with the caller.
func (e *Engine) Publish(topic string, payload []byte, qos QoS, ownership OwnershipMode) (uint16, error) {
	return e.publish(topic, payload, qos, false, ownership)
}

// PublishRetained is Publish with the RETAIN flag set.
func (e *Engine) PublishRetained(topic string, payload []byte, qos QoS, ownership OwnershipMode) (uint16, error) {
	return e.publish(topic, payload, qos, true, ownership)
}

func (e *Engine) publish(topic string, payload []byte, qos QoS, retain bool, ownership OwnershipMode) (uint16, error) {
	if e.state == StateClosed {
		return 0, ErrEngineClosed
	}
	if qos > QoS1 || qos > e.maxQoS {
		return 0, ErrInvalidQoS
	}
	if err := ValidateTopicName(topic); err != nil {
		return 0, err
	}

	remaining, total, err := publishSize(topic, len(payload), qos)
	if err != nil {
		return 0, err
	}
	if e.maxOutbound > 0 && uint32(total) > e.maxOutbound {
		return 0, ErrPacketTooLarge
	}

	var id uint16
	if qos > QoS0 {
		if id, err = e.ids.Allocate(); err != nil {
			return 0, err
		}
	}

	now := e.now()
	dst, err := e.buf.Reserve(total, id, qos, now)
	if err != nil {
		if qos > QoS0 {
			e.ids.Release(id)
		}
		e.log.Error("outbound buffer exhausted", LogFields{
			LogFieldBytes: total,
			"used":        e.buf.Used(),
			"max":         e.buf.MaxSize(),
		})
		if e.opts.closeOnBufferExhausted {
			e.TransportError(err)
		}
		return 0, err
	}

	off, err := putPublishHeader(dst, topic, id, qos, retain, remaining)
	if err != nil {
		return 0, err
	}
	copy(dst[off:], payload)
	dispatchOwnership(ownership, payload)

	if qos > QoS0 {
		e.owners[id] = ownership
	}

	e.txMessagesQueued++
	e.txBytesQueued += uint64(total)
	e.metrics.messageQueued(qos)

	e.log.Debug("publish queued", LogFields{
		LogFieldTopic:     topic,
		LogFieldPacketID:  id,
		LogFieldQoS:       int(qos),
		LogFieldBytes:     total,
		LogFieldOwnership: ownershipName(ownership),
	})

	return id, nil
}

// Subscribe queues a SUBSCRIBE. handler receives messages matching the
// filters; done is called when SUBACK arrives or the connection is lost.
func (e *Engine) Subscribe(subs []Subscription, handler MessageHandler, done func(codes []ReasonCode, err error)) (uint16, error) {
	if err := e.requireConnected(); err != nil {
		return 0, err
	}
	for _, s := range subs {
		if s.QoS > QoS1 {
			return 0, ErrInvalidQoS
		}
	}

	return e.sendRequest(&pendingRequest{subs: subs, handler: handler, done: done}, func(id uint16) Packet {
		return &SubscribePacket{PacketID: id, Subscriptions: subs}
	})
}

// Unsubscribe queues an UNSUBSCRIBE for filters.
func (e *Engine) Unsubscribe(filters []string, done func(codes []ReasonCode, err error)) (uint16, error) {
	if err := e.requireConnected(); err != nil {
		return 0, err
	}

	subs := make([]Subscription, len(filters))
	for i, f := range filters {
		subs[i] = Subscription{Filter: f}
	}

	return e.sendRequest(&pendingRequest{unsubscribe: true, filters: filters, done: done}, func(id uint16) Packet {
		return &SubscribePacket{Unsubscribe: true, PacketID: id, Subscriptions: subs}
	})
}

func (e *Engine) sendRequest(req *pendingRequest, build func(id uint16) Packet) (uint16, error) {
	id, err := e.ids.Allocate()
	if err != nil {
		return 0, err
	}

	if err := e.queueControl(build(id)); err != nil {
		e.ids.Release(id)
		return 0, err
	}

	e.requests[id] = req
	return id, nil
}

// Ping queues a PINGREQ.
func (e *Engine) Ping() error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	if err := e.queueControl(&PingreqPacket{}); err != nil {
		return err
	}
	e.ka.PingQueued(e.now())
	return nil
}

// Disconnect ends the session gracefully. While connected, DISCONNECT is
// queued and the engine becomes Disconnected once it has been flushed.
func (e *Engine) Disconnect(reason ReasonCode) error {
	switch e.state {
	case StateClosed:
		return ErrEngineClosed
	case StateConnected:
		if e.disconnecting {
			return nil
		}
		if err := e.queueControl(&DisconnectPacket{ReasonCode: reason}); err != nil {
			return err
		}
		e.disconnecting = true
		return nil
	case StateConnecting:
		e.teardown(ErrDisconnected)
	}

	e.reconnectAt = time.Time{}
	e.setState(StateDisconnected)
	return nil
}

// Shutdown closes the engine for good. Every unresolved QoS 1 publish is
// reported with ErrEngineClosed.
func (e *Engine) Shutdown() {
	if e.state == StateClosed {
		return
	}

	e.failRequests(ErrEngineClosed)
	for _, p := range e.acks.Clear() {
		e.abandon(p.PacketID, p.Resends, ErrEngineClosed)
	}
	for _, id := range e.buf.Discard() {
		e.abandon(id, 0, ErrEngineClosed)
	}
	clear(e.orphans)

	e.control = nil
	e.controlOff = 0
	e.writing = sourceNone
	e.rx = nil
	e.flow.Reset()
	e.setState(StateClosed)
}

// TransportError reports that the byte stream failed. A live connection is
// torn down and, with auto reconnect, a reconnect is scheduled.
func (e *Engine) TransportError(err error) {
	if e.state != StateConnecting && e.state != StateConnected {
		return
	}

	e.log.Warn("connection lost", LogFields{LogFieldError: err, LogFieldState: e.state.String()})
	e.teardown(err)
	e.emit(NewConnectionLostError(err))

	if e.opts.autoReconnect {
		e.scheduleReconnect(err)
		return
	}
	e.setState(StateDisconnected)
}

// ScheduleReconnect moves a Disconnected engine to Reconnecting.
func (e *Engine) ScheduleReconnect(cause error) error {
	if e.state != StateDisconnected {
		return ErrInvalidState
	}
	e.scheduleReconnect(cause)
	return nil
}

func (e *Engine) scheduleReconnect(cause error) {
	e.attempt++

	switch {
	case e.attempt == 1 || e.backoff <= 0:
		e.backoff = e.opts.reconnectBackoff
	case e.opts.backoffStrategy != nil:
		e.backoff = e.opts.backoffStrategy(e.attempt, e.backoff, cause)
	default:
		e.backoff *= 2
	}
	if e.opts.maxBackoff > 0 && e.backoff > e.opts.maxBackoff {
		e.backoff = e.opts.maxBackoff
	}

	e.lastErr = cause
	e.reconnectAt = e.now().Add(e.backoff)
	e.metrics.reconnect()
	e.setState(StateReconnecting)
	e.emit(NewReconnectEvent(e.attempt, e.backoff, cause))
}

// teardown ends the current connection, applying the session policy.
func (e *Engine) teardown(cause error) {
	e.lastErr = cause
	e.control = e.control[:0]
	e.controlOff = 0
	e.writing = sourceNone
	e.rx = e.rx[:0]
	e.disconnecting = false
	e.flow.Reset()
	e.failRequests(ErrNotConnected)

	if e.opts.cleanStart {
		for _, p := range e.acks.Clear() {
			e.abandon(p.PacketID, p.Resends, ErrNotConnected)
		}
		for _, id := range e.buf.Discard() {
			e.abandon(id, 0, ErrNotConnected)
		}
		clear(e.orphans)
		return
	}

	e.buf.Rewind()
	for id := range e.orphans {
		e.buf.Drop(id)
		e.ids.Release(id)
	}
	clear(e.orphans)

	pending := e.acks.Clear()
	if e.opts.abandonOnDisconnect {
		for _, p := range pending {
			e.buf.Drop(p.PacketID)
			e.abandon(p.PacketID, p.Resends, ErrNotConnected)
		}
	}
	e.buf.Reclaim()
}

func (e *Engine) failRequests(err error) {
	for id, req := range e.requests {
		delete(e.requests, id)
		e.ids.Release(id)
		if req.done != nil {
			req.done(nil, err)
		}
	}
}

// abandon resolves a QoS 1 publish with err.
func (e *Engine) abandon(id uint16, resends int, err error) {
	if _, ok := e.owners[id]; !ok {
		return
	}
	delete(e.owners, id)
	e.ids.Release(id)
	e.metrics.abandoned()
	e.report(DeliveryReport{PacketID: id, Err: err, Resends: resends})
}

func (e *Engine) requireConnected() error {
	switch e.state {
	case StateClosed:
		return ErrEngineClosed
	case StateConnected:
		if e.disconnecting {
			return ErrNotConnected
		}
		return nil
	default:
		return ErrNotConnected
	}
}

func (e *Engine) queueControl(p Packet) error {
	b, err := p.Append(nil)
	if err != nil {
		return err
	}
	e.control = append(e.control, b)
	return nil
}

// Pending reports whether Flush has bytes to write.
func (e *Engine) Pending() bool {
	return len(e.nextChunk()) > 0
}

// Flush writes queued bytes to w until everything is written, w accepts
// fewer bytes than offered, or w fails. Control packets go first, but a
// partially written packet is always completed before anything else.
// PUBLISH packets are written only while connected.
func (e *Engine) Flush(w io.Writer) (int, error) {
	total := 0
	for {
		chunk := e.nextChunk()
		if len(chunk) == 0 {
			return total, nil
		}

		n, err := w.Write(chunk)
		if n > 0 {
			total += n
			e.metrics.bytesSent(n)
			e.written(n)
		}
		if err != nil {
			return total, err
		}
		if n < len(chunk) {
			return total, nil
		}
	}
}

func (e *Engine) nextChunk() []byte {
	if e.state != StateConnecting && e.state != StateConnected {
		return nil
	}

	if e.writing == sourceControl {
		return e.control[0][e.controlOff:]
	}

	if partial := e.buf.PartialChunk(); partial != nil {
		e.writing = sourcePublish
		if len(e.control) > 0 {
			return partial
		}
		return e.buf.NextChunk(e.flow.Available())
	}

	if len(e.control) > 0 {
		e.writing = sourceControl
		return e.control[0]
	}

	if e.state != StateConnected || e.disconnecting {
		return nil
	}

	chunk := e.buf.NextChunk(e.flow.Available())
	if chunk != nil {
		e.writing = sourcePublish
	}
	return chunk
}

// written accounts n bytes of the chunk last returned by nextChunk.
func (e *Engine) written(n int) {
	now := e.now()
	e.ka.PacketSent(now)

	if e.writing == sourceControl {
		e.controlOff += n
		if e.controlOff < len(e.control[0]) {
			return
		}

		pt := PacketType(e.control[0][0] >> 4)
		e.control = e.control[1:]
		e.controlOff = 0
		e.writing = sourceNone

		if pt == PacketDISCONNECT && e.disconnecting {
			e.teardown(ErrDisconnected)
			e.reconnectAt = time.Time{}
			e.setState(StateDisconnected)
			e.emit(NewDisconnectError(ReasonSuccess, "", false))
		}
		return
	}

	done, err := e.buf.MarkSent(n, now)
	if err != nil {
		e.log.Error("outbound accounting mismatch", LogFields{LogFieldError: err, LogFieldBytes: n})
	}
	if e.buf.PartialChunk() == nil {
		e.writing = sourceNone
	}

	for _, t := range done {
		e.transmitted(t, now)
	}
	e.buf.Reclaim()
}

// transmitted records a PUBLISH whose last byte reached the transport.
func (e *Engine) transmitted(t Transmission, now time.Time) {
	e.txMessagesSent++
	e.metrics.messageSent(t.QoS)

	raise(&e.marks.unsent, t.FirstWriteAt.Sub(t.EnqueuedAt))
	raise(&e.marks.sendQueue, now.Sub(t.EnqueuedAt))
	if t.Writes > 1 {
		raise(&e.marks.partial, now.Sub(t.FirstWriteAt))
	}

	if t.QoS == QoS0 {
		return
	}

	if _, orphan := e.orphans[t.PacketID]; orphan {
		delete(e.orphans, t.PacketID)
		e.buf.Ack(t.PacketID)
		e.ids.Release(t.PacketID)
		return
	}

	if _, resent := e.acks.Get(t.PacketID); !resent {
		if err := e.flow.Acquire(); err != nil {
			e.log.Warn("in-flight quota exceeded", LogFields{LogFieldPacketID: t.PacketID})
		}
	}
	e.acks.Register(t.PacketID, e.owners[t.PacketID])
}

// Feed consumes inbound bytes in any split. Complete packets are handled
// immediately. A malformed or unexpected packet tears the connection down and
// is returned; nothing in the input can make Feed panic.
func (e *Engine) Feed(p []byte) error {
	switch e.state {
	case StateClosed:
		return ErrEngineClosed
	case StateConnecting, StateConnected:
	default:
		return nil
	}

	e.metrics.bytesReceived(len(p))
	e.rx = append(e.rx, p...)

	consumed := 0
	for consumed < len(e.rx) {
		pkt, n, err := DecodePacket(e.rx[consumed:], e.opts.maxPacketSize)
		if errors.Is(err, ErrIncomplete) {
			break
		}
		if err != nil {
			return e.protocolError(err)
		}
		consumed += n

		if err := e.handlePacket(pkt); err != nil {
			return err
		}
		if e.state != StateConnecting && e.state != StateConnected {
			return nil
		}
	}

	if consumed > 0 {
		e.rx = e.rx[:copy(e.rx, e.rx[consumed:])]
	}
	return nil
}

func (e *Engine) protocolError(err error) error {
	e.metrics.protocolError()
	e.log.Error("protocol error", LogFields{LogFieldError: err})
	e.TransportError(err)
	return err
}

func (e *Engine) handlePacket(pkt Packet) error {
	e.ka.PacketReceived(e.now())

	if e.state == StateConnecting {
		connack, ok := pkt.(*ConnackPacket)
		if !ok {
			return e.protocolError(ErrProtocolViolation)
		}
		return e.handleConnack(connack)
	}

	switch p := pkt.(type) {
	case *PublishPacket:
		return e.handlePublish(p)
	case *PubackPacket:
		e.handlePuback(p)
	case *SubackPacket:
		e.handleSuback(p)
	case *PingrespPacket:
	case *DisconnectPacket:
		return e.handleDisconnect(p)
	default:
		return e.protocolError(ErrProtocolViolation)
	}
	return nil
}

func (e *Engine) handleConnack(p *ConnackPacket) error {
	if p.ReasonCode.IsError() {
		err := NewConnectError(p.ReasonCode, p.ReasonString)
		e.log.Warn("connection refused", LogFields{LogFieldReasonCode: p.ReasonCode.String()})
		e.teardown(err)
		e.setState(StateDisconnected)
		e.emit(err)
		return err
	}

	e.flow.SetReceiveMaximum(p.ReceiveMaximum)
	e.maxOutbound = p.MaximumPacketSize
	e.maxQoS = QoS1
	if p.HasMaximumQoS {
		e.maxQoS = p.MaximumQoS
	}
	if p.HasServerKeepAlive {
		e.ka.SetInterval(p.ServerKeepAlive)
	}
	if p.AssignedClientID != "" {
		e.assignedID = p.AssignedClientID
	}

	e.attempt = 0
	e.backoff = 0
	e.reconnectAt = time.Time{}
	e.lastErr = nil
	e.setState(StateConnected)

	if !p.SessionPresent {
		// the broker has no record of earlier attempts
		if n := e.buf.ClearDuplicates(); n > 0 {
			e.log.Info("session not present, resending as new", LogFields{"packets": n})
		}
		e.restoreSubscriptions()
	}

	e.emit(NewConnectedEvent(p))
	return nil
}

// restoreSubscriptions resubscribes after the broker lost the session.
func (e *Engine) restoreSubscriptions() {
	for _, s := range e.subs {
		sub := s.sub
		req := &pendingRequest{subs: []Subscription{sub}, handler: s.handler}
		_, err := e.sendRequest(req, func(id uint16) Packet {
			return &SubscribePacket{PacketID: id, Subscriptions: []Subscription{sub}}
		})
		if err != nil {
			e.log.Warn("restore subscription failed", LogFields{LogFieldTopic: sub.Filter, LogFieldError: err})
		}
	}
}

func (e *Engine) handlePublish(p *PublishPacket) error {
	if p.QoS > QoS1 {
		return e.protocolError(ErrProtocolViolation)
	}

	e.rxMessagesRcvd++
	e.metrics.messageReceived(p.QoS)

	msg := p.Message
	msg.Payload = append([]byte(nil), p.Payload...)

	delivered := false
	for filter, s := range e.subs {
		if s.handler != nil && TopicMatch(filter, msg.Topic) {
			s.handler(&msg)
			delivered = true
		}
	}
	if !delivered && e.opts.onMessage != nil {
		e.opts.onMessage(&msg)
	}

	if p.QoS == QoS1 {
		return e.queueControl(&PubackPacket{PacketID: p.PacketID})
	}
	return nil
}

func (e *Engine) handlePuback(p *PubackPacket) {
	pending, err := e.acks.Acknowledge(p.PacketID)
	if err != nil {
		e.log.Warn("unexpected PUBACK", LogFields{LogFieldPacketID: p.PacketID, LogFieldError: err})
		return
	}

	wait := e.now().Sub(pending.EnqueuedAt)
	e.flow.Release()
	delete(e.owners, p.PacketID)

	if e.buf.Ack(p.PacketID) || e.buf.Drop(p.PacketID) {
		e.ids.Release(p.PacketID)
		e.buf.Reclaim()
	} else {
		e.orphans[p.PacketID] = struct{}{}
	}

	e.metrics.puback(p.ReasonCode, wait)

	var reportErr error
	if p.ReasonCode.IsError() {
		reportErr = NewPublishError(p.PacketID, p.ReasonCode, p.ReasonString)
		e.log.Warn("publish rejected", LogFields{LogFieldPacketID: p.PacketID, LogFieldReasonCode: p.ReasonCode.String()})
	}

	e.report(DeliveryReport{
		PacketID: p.PacketID,
		Err:      reportErr,
		Resends:  pending.Resends,
		Wait:     wait,
	})
}

func (e *Engine) handleSuback(p *SubackPacket) {
	req, ok := e.requests[p.PacketID]
	if !ok || req.unsubscribe != p.Unsubscribe {
		e.log.Warn("unexpected acknowledgement", LogFields{
			LogFieldPacketID:   p.PacketID,
			LogFieldPacketType: p.Type().String(),
		})
		return
	}
	delete(e.requests, p.PacketID)
	e.ids.Release(p.PacketID)

	var err error
	if req.unsubscribe {
		for _, f := range req.filters {
			delete(e.subs, f)
		}
	} else {
		for i, s := range req.subs {
			if i < len(p.ReasonCodes) && p.ReasonCodes[i].IsError() {
				if err == nil {
					err = NewSubscribeError(s.Filter, p.ReasonCodes[i])
				}
				continue
			}
			e.subs[s.Filter] = &subscription{sub: s, handler: req.handler}
		}
	}

	if req.done != nil {
		req.done(p.ReasonCodes, err)
	}
}

func (e *Engine) handleDisconnect(p *DisconnectPacket) error {
	err := NewDisconnectError(p.ReasonCode, p.ReasonString, true)
	e.log.Warn("server disconnect", LogFields{LogFieldReasonCode: p.ReasonCode.String()})
	e.emit(err)
	e.TransportError(err)
	return err
}

// Tick runs timers: connect timeout, reconnect backoff, keep-alive and the
// acknowledgement timeout sweep. It returns the error that ended the
// connection during this tick, if any.
func (e *Engine) Tick() error {
	now := e.now()

	switch e.state {
	case StateConnecting:
		if e.opts.connectTimeout > 0 && now.Sub(e.connectStarted) > e.opts.connectTimeout {
			e.log.Warn("connect timeout", LogFields{LogFieldDuration: e.opts.connectTimeout})
			e.teardown(ErrConnectTimeout)
			e.setState(StateDisconnected)
			e.emit(NewConnectionLostError(ErrConnectTimeout))
			return ErrConnectTimeout
		}

	case StateReconnecting:
		if !now.Before(e.reconnectAt) {
			e.log.Info("reconnecting", LogFields{LogFieldAttempt: e.attempt})
			return e.Connect()
		}

	case StateConnected:
		if e.ka.Expired(now) {
			e.TransportError(ErrKeepAliveTimeout)
			return ErrKeepAliveTimeout
		}
		if e.ka.PingDue(now) && !e.disconnecting {
			if err := e.queueControl(&PingreqPacket{}); err == nil {
				e.ka.PingQueued(now)
			}
		}
		e.sweepAcks(now)
	}

	return nil
}

func (e *Engine) sweepAcks(now time.Time) {
	for _, id := range e.acks.SweepTimeouts(now, e.opts.ackTimeout) {
		pending, _ := e.acks.Get(id)

		if e.opts.ackPolicy == AckTimeoutResend && pending.Resends < e.opts.maxResends {
			err := e.buf.Requeue(id, now)
			if errors.Is(err, ErrUnknownPacketID) {
				// resend already queued
				continue
			}
			if err == nil {
				resends := e.acks.MarkResent(id)
				e.metrics.resend()
				e.log.Debug("resending publish", LogFields{LogFieldPacketID: id, LogFieldResends: resends})
				continue
			}
			e.log.Warn("resend failed", LogFields{LogFieldPacketID: id, LogFieldError: err})
		}

		e.acks.Remove(id)
		e.flow.Release()
		if e.buf.Drop(id) {
			e.abandon(id, pending.Resends, ErrAckTimeout)
		} else {
			// a resend is mid-write; its id is freed once the write completes
			e.orphans[id] = struct{}{}
			delete(e.owners, id)
			e.metrics.abandoned()
			e.report(DeliveryReport{PacketID: id, Err: ErrAckTimeout, Resends: pending.Resends})
		}
		e.log.Warn("publish abandoned", LogFields{LogFieldPacketID: id, LogFieldError: ErrAckTimeout})
	}
	e.buf.Reclaim()
}

// Stats returns a snapshot computed from the live buffer and tracker. Waits
// of packets still queued or mid-write count towards the latency marks.
func (e *Engine) Stats() Stats {
	now := e.now()

	sendQueue, unsent, partial := e.marks.sendQueue, e.marks.unsent, e.marks.partial
	if since, ok := e.buf.OldestUnsent(); ok {
		raise(&unsent, now.Sub(since))
		raise(&sendQueue, now.Sub(since))
	}
	if since, ok := e.buf.PartialSince(); ok {
		raise(&partial, now.Sub(since))
	}

	return Stats{
		TxBytesQueued:        e.txBytesQueued,
		TxMessagesQueued:     e.txMessagesQueued,
		TxMessagesSent:       e.txMessagesSent,
		RxMessagesRcvd:       e.rxMessagesRcvd,
		PacketsWaitingPuback: uint64(e.acks.Count()),
		TxBufferUsed:         uint64(e.buf.Used()),
		TxBufferFree:         uint64(e.buf.Free()),
		TxBufferSize:         uint64(e.buf.Size()),
		TxBufferReclaimable:  uint64(e.buf.Reclaimable()),
		MaxPubackWaitUs:      micros(e.acks.MaxWait()),
		MaxSendQueueWaitUs:   micros(sendQueue),
		MaxUnsentWaitUs:      micros(unsent),
		MaxPartialWaitUs:     micros(partial),
	}
}

// ResetStats clears the latency high-water marks. Counters are cumulative.
func (e *Engine) ResetStats() {
	e.marks = latencyMarks{}
	e.acks.ResetMaxWait()
}
