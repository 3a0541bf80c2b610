package gateway

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/sensorhub/pkg/buffer"
	"github.com/c360/sensorhub/sensors"
)

// DefaultBatchSize is the number of events read from the queue per dispatch.
const DefaultBatchSize = 64

// EventSink receives every event read from the outbound queue.
type EventSink interface {
	Name() string
	Deliver(ctx context.Context, events []sensors.Event) error
}

// Dispatcher is the single reader of the proxy's outbound queue.
type Dispatcher struct {
	queue     buffer.Queue[sensors.Event]
	batchSize int
	sinks     []EventSink
	logger    *slog.Logger
	errLog    *rate.Limiter

	dispatched atomic.Int64
	failures   atomic.Int64
}

// NewDispatcher creates a dispatcher reading at most batchSize events at a
// time. A non-positive batchSize selects DefaultBatchSize.
func NewDispatcher(queue buffer.Queue[sensors.Event], batchSize int, logger *slog.Logger, sinks ...EventSink) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:     queue,
		batchSize: batchSize,
		sinks:     sinks,
		logger:    logger.With("component", "dispatcher"),
		errLog:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// AddSink appends a sink. It must be called before Run.
func (d *Dispatcher) AddSink(sink EventSink) {
	d.sinks = append(d.sinks, sink)
}

// Run drains the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		events := d.queue.Read(d.batchSize)
		if len(events) == 0 {
			select {
			case <-d.queue.Readable():
				continue
			case <-ctx.Done():
				return nil
			}
		}
		d.dispatch(ctx, events)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, events []sensors.Event) {
	d.dispatched.Add(int64(len(events)))
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, events); err != nil {
			d.failures.Add(1)
			if d.errLog.Allow() {
				d.logger.Warn("Sink delivery failed",
					"sink", sink.Name(),
					"events", len(events),
					"error", err)
			}
		}
	}
}

// Dispatched returns the number of events read from the queue.
func (d *Dispatcher) Dispatched() int64 { return d.dispatched.Load() }

// Failures returns the number of failed sink deliveries.
func (d *Dispatcher) Failures() int64 { return d.failures.Load() }
