package buffer

import (
	"github.com/c360/sensorhub/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// queueMetrics holds Prometheus metrics for queue operations.
type queueMetrics struct {
	written  prometheus.Counter
	read     prometheus.Counter
	rejects  prometheus.Counter
	timeouts prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

// newQueueMetrics creates and registers queue metrics with the provided registry.
func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	labels := prometheus.Labels{"queue": prefix}
	m := &queueMetrics{
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sensorhub",
			Subsystem:   "queue",
			Name:        "items_written_total",
			ConstLabels: labels,
			Help:        "Total number of items written to the queue",
		}),
		read: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sensorhub",
			Subsystem:   "queue",
			Name:        "items_read_total",
			ConstLabels: labels,
			Help:        "Total number of items read from the queue",
		}),
		rejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sensorhub",
			Subsystem:   "queue",
			Name:        "rejected_writes_total",
			ConstLabels: labels,
			Help:        "Total number of non-blocking writes that did not fit",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sensorhub",
			Subsystem:   "queue",
			Name:        "write_timeouts_total",
			ConstLabels: labels,
			Help:        "Total number of blocking writes abandoned on timeout",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sensorhub",
			Subsystem:   "queue",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of items in the queue",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sensorhub",
			Subsystem:   "queue",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Queue utilization (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(prefix, "queue_items_written", m.written); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_items_read", m.read); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_rejected_writes", m.rejects); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_write_timeouts", m.timeouts); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *queueMetrics) recordWrite(n, size, capacity int) {
	m.written.Add(float64(n))
	m.updateSize(size, capacity)
}

func (m *queueMetrics) recordRead(n, size, capacity int) {
	m.read.Add(float64(n))
	m.updateSize(size, capacity)
}

func (m *queueMetrics) recordReject() {
	m.rejects.Inc()
}

func (m *queueMetrics) recordTimeout() {
	m.timeouts.Inc()
}

func (m *queueMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
