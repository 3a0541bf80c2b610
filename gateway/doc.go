// Package gateway is the client-facing surface of the sensor hub.
//
// It exposes the proxy's control operations over HTTP, streams events and
// dynamic sensor notifications to websocket clients, and is the single
// consumer of the proxy's outbound event queue.
//
// # Routes
//
//	GET  /sensors                      static and dynamic sensor lists
//	POST /sensors/{handle}/activate    {"enabled": true}
//	POST /sensors/{handle}/batch       {"sampling_period_ns": ..., "max_report_latency_ns": ...}
//	POST /sensors/{handle}/flush
//	POST /inject                       one event, proxy must be in DATA_INJECTION
//	POST /mode                         {"mode": "DATA_INJECTION"}
//	GET  /debug/dump                   plain-text proxy state
//	GET  /health                       aggregate health, 503 when unhealthy
//	GET  <stream path>                 websocket event stream
//
// Handles in paths accept decimal or 0x-prefixed hex.
//
// # Errors
//
// Proxy results map to HTTP status codes:
//
//	BAD_VALUE          400
//	PERMISSION_DENIED  403
//	INVALID_OPERATION  409
//	NO_MEMORY          503
//
// Error bodies are JSON: {"error": "...", "result": "BAD_VALUE", "status": 400}.
//
// # Event stream
//
// Every frame is a JSON Envelope. On connect the server sends
// {"type":"hello","session":"<uuid>"}. Events arrive as
// {"type":"events","events":[...]}; dynamic sensor changes as
// "dynamic_connected" with the new descriptors or "dynamic_disconnected" with
// the merged handles. Clients acknowledge wake-up events they have consumed
// with {"type":"ack","count":n}.
//
// # Dispatching
//
// The Dispatcher waits on the queue's readable signal, reads up to BatchSize
// events at a time and hands each batch to every EventSink in order. The
// websocket hub is always the first sink; others, such as the NATS mirror,
// are added with WithSink.
package gateway
