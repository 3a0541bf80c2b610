// Package metric provides the Prometheus registry and HTTP endpoint for the
// sensor hub.
//
// A MetricsRegistry owns a private prometheus.Registry. It pre-registers the
// proxy core metrics (Metrics) together with the Go runtime and process
// collectors, and lets components register their own collectors keyed by a
// "service.metric" name. Registering the same key twice is an invalid
// classified error rather than a panic.
//
//	registry := metric.NewMetricsRegistry()
//	core := registry.CoreMetrics()
//	core.RecordPosted("imu", 12)
//	core.RecordDelivered(metric.PathImmediate, 12)
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start() }()
//	defer server.Stop(ctx)
//
// Core metrics all live under the "sensorhub" namespace:
//
//   - events: posted_total{backend}, delivered_total{path}, dropped_total{reason}, pending_batches
//   - wakelock: refcount, held, acked_events_total
//   - backend: calls_total{backend,op,result}
//   - sensors: dynamic
//   - gateway: stream_clients
package metric
