// Package mqttng is an MQTT v5.0 publishing client for devices that talk to a
// cloud broker over a single byte stream.
//
// This package implements the client side of the MQTT Version 5.0 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v5.0/mqtt-v5.0.html
//
// # Features
//
//   - Sans-I/O Engine: no goroutines, locks or blocking calls
//   - Growable outbound buffer holding serialized packets until PUBACK
//   - QoS 0 and QoS 1 publishing with resend or abandon on ack timeout
//   - Persistent sessions: unacknowledged publishes survive reconnects
//   - Per-publish payload ownership (NoFree, CallerResponsibility, CallByFunction)
//   - Statistics with queue depth, buffer usage and latency high-water marks
//   - Transport: TCP, TLS, WebSocket, WSS, QUIC, Unix sockets, HTTP/SOCKS5 proxies
//
// # Engine
//
// An Engine is driven by one goroutine. Bytes go out through Flush, which
// tolerates short writes, and come in through Feed, which accepts any split:
//
//	e := mqttng.NewEngine(
//	    mqttng.WithClientID("sensor-7"),
//	    mqttng.WithDeliveryHandler(func(r mqttng.DeliveryReport) { ... }),
//	)
//	e.Connect()
//	e.Publish("telemetry/temp", payload, mqttng.QoS1, mqttng.NoFree{})
//
//	for {
//	    e.Flush(conn)
//	    n, err := conn.Read(buf)
//	    e.Feed(buf[:n])
//	    e.Tick()
//	}
//
// Publish never blocks. While disconnected, packets wait in the outbound
// buffer and are written once CONNACK arrives.
//
// # Client
//
// Client wraps an Engine with a dialer and the goroutines it needs:
//
//	client, err := mqttng.Dial(ctx,
//	    mqttng.WithServers("wss://broker.example.com/mqtt"),
//	    mqttng.WithClientID("sensor-7"),
//	)
//	defer client.Close()
//
//	client.Publish("telemetry/temp", payload, mqttng.QoS1, mqttng.NoFree{})
//
// # Errors and events
//
// Lifecycle events are delivered as errors to the handler set with
// WithEventHandler. Match sentinels with errors.Is and extract details with
// errors.As:
//
//	mqttng.WithEventHandler(func(event error) {
//	    var lost *mqttng.ConnectionLostError
//	    if errors.As(event, &lost) {
//	        log.Printf("lost: %v", lost.Cause)
//	    }
//	})
//
// # Observability
//
// Engine.Stats returns a snapshot; ExportStats copies it into any Metrics
// sink. The extensions/prom package exposes it to Prometheus and
// extensions/zlog adapts zerolog to Logger.
package mqttng
