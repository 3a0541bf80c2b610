// Package sensorhub is a sensor proxy that presents several independent sensor
// backends to one client as a single sensor service.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│  Client (HTTP control + websocket)   │  gateway
//	└──────────────────┬───────────────────┘
//	        commands ↓ │ ↑ events, dynamic sensor changes
//	┌──────────────────┴───────────────────┐
//	│  Proxy                               │  proxy
//	│  merged sensor list, handle routing, │
//	│  operation mode, direct channels     │
//	└───────┬──────────────────────▲───────┘
//	        │ local handles        │ PostEvents
//	┌───────▼──────┐        ┌──────┴───────┐
//	│  Backend 0   │  ...   │  Backend N   │  subhal, backend/fake
//	└──────────────┘        └──────────────┘
//
// Events posted by a backend have their handles rewritten to merged handles,
// pass through the delivery pipeline (pipeline) into a bounded queue
// (pkg/buffer), and are read by exactly one consumer, the gateway dispatcher,
// which fans them out to websocket clients and, optionally, a NATS mirror
// (natsclient). Wake-up events hold a reference-counted wake lock (wakelock)
// until they have been written or dropped.
//
// # Handles
//
// A merged handle carries the backend index in its high byte and the
// backend-local handle in the low 24 bits:
//
//	merged = index<<24 | local
//
// Backend 0 therefore publishes its sensors with their local handles
// unchanged. At most 255 backends can be registered.
//
// # Packages
//
//	sensors       descriptors, events, flags, operation modes
//	subhal        the backend contract and its callback
//	proxy         registry, routing, dynamic sensors, operation mode
//	pipeline      non-blocking event delivery into the queue
//	wakelock      reference-counted wake lock over a pluggable Lock
//	pkg/buffer    bounded event queue with readiness notification
//	pkg/retry     backoff for connecting to optional dependencies
//	gateway       HTTP API, websocket stream, queue dispatcher
//	natsclient    NATS connection and event mirror
//	backend/fake  configurable in-process backend
//	config        JSON/YAML configuration with environment overrides
//	errors        classified errors and client result codes
//	health        component health aggregation
//	metric        Prometheus metrics and the metrics server
//
// # Running
//
//	./bin/sensorhub --config configs/sensorhub.yaml --log-format=text
//
// See cmd/sensorhub for flags and environment variables.
package sensorhub
