package buffer

import (
	"github.com/c360/sensorhub/metric"
)

// Option configures queue behavior using the functional options pattern.
type Option func(*queueOptions)

// queueOptions holds internal configuration for queue instances.
// Stats are ALWAYS collected - they are not optional.
type queueOptions struct {
	// metricsReg is optional - if provided, queue stats are also exposed as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the queue label for Prometheus metrics
	metricsPrefix string
}

// WithMetrics enables Prometheus metrics export for queue statistics.
// If registry is nil or prefix empty, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(opts *queueOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

func applyOptions(options ...Option) *queueOptions {
	opts := &queueOptions{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
