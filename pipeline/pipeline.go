// Package pipeline moves sensor events from backend callback goroutines onto
// the single outbound queue read by the client.
//
// Post never blocks on queue capacity. When nothing is pending it writes as
// many events as fit straight into the queue; the remainder, or the whole
// batch if older events are still pending, joins a FIFO pending list drained
// by one background writer. The writer performs bounded blocking writes and
// drops whatever does not fit before the write timeout. Every batch's wake
// lock guard is released exactly once, on every path.
//
// Events posted from one goroutine reach the queue in posting order: the
// immediate path is only taken while the pending list is empty, and the writer
// removes an entry from the list only after it has been written.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/health"
	"github.com/c360/sensorhub/metric"
	"github.com/c360/sensorhub/pkg/buffer"
	"github.com/c360/sensorhub/sensors"
	"github.com/c360/sensorhub/wakelock"
)

// DefaultWriteTimeout bounds one blocking write of the background writer.
const DefaultWriteTimeout = 5 * time.Second

// Drop reasons, used as the "reason" metric label.
const (
	DropTimeout = "timeout"
	DropStopped = "stopped"
	DropReset   = "reset"
	DropClosed  = "closed"
)

type entry struct {
	events []sensors.Event
	guard  *wakelock.Guard
}

// Pipeline is the event delivery pipeline. The zero value is not usable; use
// New.
type Pipeline struct {
	queue        buffer.Queue[sensors.Event]
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metric.Metrics
	dropLog      *rate.Limiter

	mu          sync.Mutex
	pending     []*entry
	started     bool
	stopped     bool
	cancelRun   context.CancelFunc
	cancelWrite context.CancelFunc

	wake chan struct{}
	wg   sync.WaitGroup

	posted          atomic.Int64
	immediate       atomic.Int64
	deferred        atomic.Int64
	writtenByWriter atomic.Int64
	dropped         atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics reports deliveries, drops and the pending gauge.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// WithDropLogInterval limits drop warnings to one per interval.
func WithDropLogInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		p.dropLog = rate.NewLimiter(rate.Every(d), 1)
	}
}

// New creates a pipeline writing into queue. The pipeline never closes the
// queue.
func New(queue buffer.Queue[sensors.Event], opts ...Option) *Pipeline {
	p := &Pipeline{
		queue:        queue,
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.Default().With("component", "pipeline"),
		dropLog:      rate.NewLimiter(rate.Every(time.Second), 1),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the background writer. Cancelling ctx has the same effect
// as Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Pipeline", "Start", "start writer")
	}
	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pipeline", "Start", "start writer")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancelRun = cancel
	p.started = true

	p.wg.Add(1)
	go p.run(runCtx)

	p.logger.Debug("Pipeline started",
		"queue_capacity", p.queue.Capacity(),
		"write_timeout", p.writeTimeout)
	return nil
}

// Post hands a batch to the pipeline. guard may be nil; it is released once
// the batch is fully written or dropped.
func (p *Pipeline) Post(batch sensors.EventBatch, guard *wakelock.Guard) {
	events := batch.Events
	if len(events) == 0 {
		guard.Release()
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.drop(len(events), DropStopped)
		guard.Release()
		return
	}

	p.posted.Add(int64(len(events)))

	remaining := events
	if len(p.pending) == 0 {
		n := min(len(events), p.queue.AvailableToWrite())
		if n > 0 && p.queue.TryWrite(events[:n]) {
			remaining = events[n:]
			p.immediate.Add(int64(n))
			if p.metrics != nil {
				p.metrics.RecordDelivered(metric.PathImmediate, n)
			}
		}
	}

	if len(remaining) == 0 {
		p.mu.Unlock()
		guard.Release()
		return
	}

	p.pending = append(p.pending, &entry{events: remaining, guard: guard})
	p.deferred.Add(int64(len(remaining)))
	p.recordPendingLocked()
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	defer p.stopAndDrain()

	for {
		e := p.front()
		if e == nil {
			select {
			case <-p.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		p.writeEntry(ctx, e)
	}
}

func (p *Pipeline) front() *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || len(p.pending) == 0 {
		return nil
	}
	return p.pending[0]
}

// writeEntry writes e in chunks no larger than the queue. The entry stays at
// the head of the pending list until it is done, so Post cannot overtake it.
func (p *Pipeline) writeEntry(ctx context.Context, e *entry) {
	capacity := p.queue.Capacity()
	written := 0
	var failure error

	for written < len(e.events) {
		end := min(written+capacity, len(e.events))

		writeCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		p.mu.Lock()
		if !p.ownsLocked(e) {
			p.mu.Unlock()
			cancel()
			break
		}
		p.cancelWrite = cancel
		p.mu.Unlock()

		err := p.queue.WriteWithContext(writeCtx, e.events[written:end])

		p.mu.Lock()
		p.cancelWrite = nil
		p.mu.Unlock()
		cancel()

		if err != nil {
			failure = err
			break
		}

		n := end - written
		written = end
		p.writtenByWriter.Add(int64(n))
		if p.metrics != nil {
			p.metrics.RecordDelivered(metric.PathWriter, n)
		}
	}

	p.mu.Lock()
	owned := p.ownsLocked(e)
	if owned {
		p.pending[0] = nil
		p.pending = p.pending[1:]
		p.recordPendingLocked()
	}
	p.mu.Unlock()

	// Whoever removes an entry from the list accounts for its drops.
	if owned && written < len(e.events) {
		p.drop(len(e.events)-written, dropReason(failure))
	}
	e.guard.Release()
}

func (p *Pipeline) ownsLocked(e *entry) bool {
	return len(p.pending) > 0 && p.pending[0] == e
}

func dropReason(err error) string {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return DropTimeout
	case stderrors.Is(err, errors.ErrQueueClosed):
		return DropClosed
	default:
		return DropStopped
	}
}

// stopAndDrain stops accepting batches and drops every pending entry,
// releasing its guard.
func (p *Pipeline) stopAndDrain() {
	p.mu.Lock()
	p.stopped = true
	entries := p.takePendingLocked()
	p.mu.Unlock()

	p.dropEntries(entries, DropStopped)
}

func (p *Pipeline) takePendingLocked() []*entry {
	entries := p.pending
	p.pending = nil
	p.recordPendingLocked()
	return entries
}

func (p *Pipeline) dropEntries(entries []*entry, reason string) {
	for _, e := range entries {
		p.drop(len(e.events), reason)
		e.guard.Release()
	}
}

func (p *Pipeline) drop(n int, reason string) {
	total := p.dropped.Add(int64(n))
	if p.metrics != nil {
		p.metrics.RecordDropped(reason, n)
	}
	if p.dropLog.Allow() {
		p.logger.Warn("Dropping sensor events",
			"count", n,
			"reason", reason,
			"dropped_total", total)
	}
}

func (p *Pipeline) recordPendingLocked() {
	if p.metrics != nil {
		p.metrics.PendingBatches.Set(float64(len(p.pending)))
	}
}

// Reset drops every pending batch, abandons an in-flight write and empties
// the queue. Used when the client re-initialises the proxy.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	if p.cancelWrite != nil {
		p.cancelWrite()
	}
	entries := p.takePendingLocked()
	p.mu.Unlock()

	p.dropEntries(entries, DropReset)
	p.queue.Reset()
}

// Stop stops the pipeline. Pending batches are dropped, not drained: an
// in-flight write is abandoned and every remaining guard is released. Post
// after Stop drops its batch. Stop waits at most timeout for the writer to
// exit and may be called more than once.
func (p *Pipeline) Stop(timeout time.Duration) error {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancelRun
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.WrapTransient(
			fmt.Errorf("writer still running after %v", timeout),
			"Pipeline", "Stop", "wait for writer")
	}

	p.stopAndDrain()
	p.logger.Debug("Pipeline stopped", "dropped_total", p.dropped.Load())
	return err
}

// Stats is a snapshot of pipeline counters. Event counts, not batch counts,
// except PendingBatches.
type Stats struct {
	Posted          int64 `json:"posted"`
	Immediate       int64 `json:"immediate"`
	Deferred        int64 `json:"deferred"`
	WrittenByWriter int64 `json:"written_by_writer"`
	Dropped         int64 `json:"dropped"`
	PendingBatches  int   `json:"pending_batches"`
	PendingEvents   int   `json:"pending_events"`
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	batches := len(p.pending)
	events := 0
	for _, e := range p.pending {
		events += len(e.events)
	}
	p.mu.Unlock()

	return Stats{
		Posted:          p.posted.Load(),
		Immediate:       p.immediate.Load(),
		Deferred:        p.deferred.Load(),
		WrittenByWriter: p.writtenByWriter.Load(),
		Dropped:         p.dropped.Load(),
		PendingBatches:  batches,
		PendingEvents:   events,
	}
}

// Health reports the pipeline as degraded while batches wait for the writer
// and unhealthy once stopped.
func (p *Pipeline) Health() health.Status {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	stats := p.Stats()

	var status health.Status
	switch {
	case stopped:
		status = health.NewUnhealthy("pipeline", "stopped")
	case stats.PendingBatches > 0:
		status = health.NewDegraded("pipeline",
			fmt.Sprintf("%d batches waiting for the writer", stats.PendingBatches))
	default:
		status = health.NewHealthy("pipeline", "queue keeping up")
	}
	return status.WithMetrics(&health.Metrics{
		EventsProcessed: stats.Immediate + stats.WrittenByWriter,
		ErrorCount:      int(stats.Dropped),
		Pending:         stats.PendingEvents,
	})
}
