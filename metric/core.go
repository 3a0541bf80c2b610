package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery paths used as the "path" label of event counters.
const (
	PathImmediate = "immediate"
	PathWriter    = "writer"
)

// Metrics contains the proxy-wide metrics
type Metrics struct {
	EventsPosted    *prometheus.CounterVec
	EventsDelivered *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	PendingBatches  prometheus.Gauge

	WakelockRefCount prometheus.Gauge
	WakelockHeld     prometheus.Gauge
	WakeupAcks       prometheus.Counter

	BackendCalls   *prometheus.CounterVec
	DynamicSensors prometheus.Gauge

	StreamClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		EventsPosted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorhub",
				Subsystem: "events",
				Name:      "posted_total",
				Help:      "Events posted by backends",
			},
			[]string{"backend"},
		),
		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorhub",
				Subsystem: "events",
				Name:      "delivered_total",
				Help:      "Events written to the outbound queue",
			},
			[]string{"path"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorhub",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped before reaching the outbound queue",
			},
			[]string{"reason"},
		),
		PendingBatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorhub",
				Subsystem: "events",
				Name:      "pending_batches",
				Help:      "Batches waiting for the background writer",
			},
		),
		WakelockRefCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorhub",
				Subsystem: "wakelock",
				Name:      "refcount",
				Help:      "Wake-up batches currently in flight",
			},
		),
		WakelockHeld: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorhub",
				Subsystem: "wakelock",
				Name:      "held",
				Help:      "Wake lock state (0=released, 1=held)",
			},
		),
		WakeupAcks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sensorhub",
				Subsystem: "wakelock",
				Name:      "acked_events_total",
				Help:      "Wake-up events acknowledged by the client",
			},
		),
		BackendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorhub",
				Subsystem: "backend",
				Name:      "calls_total",
				Help:      "Calls forwarded to backends",
			},
			[]string{"backend", "op", "result"},
		),
		DynamicSensors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorhub",
				Subsystem: "sensors",
				Name:      "dynamic",
				Help:      "Connected dynamic sensors",
			},
		),
		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorhub",
				Subsystem: "gateway",
				Name:      "stream_clients",
				Help:      "Connected event stream clients",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.EventsPosted,
		c.EventsDelivered,
		c.EventsDropped,
		c.PendingBatches,
		c.WakelockRefCount,
		c.WakelockHeld,
		c.WakeupAcks,
		c.BackendCalls,
		c.DynamicSensors,
		c.StreamClients,
	}
}

// RecordPosted counts events handed over by a backend
func (c *Metrics) RecordPosted(backend string, n int) {
	c.EventsPosted.WithLabelValues(backend).Add(float64(n))
}

// RecordDelivered counts events written to the outbound queue
func (c *Metrics) RecordDelivered(path string, n int) {
	c.EventsDelivered.WithLabelValues(path).Add(float64(n))
}

// RecordDropped counts events that never reached the outbound queue
func (c *Metrics) RecordDropped(reason string, n int) {
	c.EventsDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordWakelock updates the wake lock gauges
func (c *Metrics) RecordWakelock(refCount int64, held bool) {
	c.WakelockRefCount.Set(float64(refCount))
	value := 0.0
	if held {
		value = 1.0
	}
	c.WakelockHeld.Set(value)
}

// RecordBackendCall counts a forwarded call and its result
func (c *Metrics) RecordBackendCall(backend, op, result string) {
	c.BackendCalls.WithLabelValues(backend, op, result).Inc()
}
