package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/c360/sensorhub/errors"
)

// ringQueue is a mutex-guarded circular queue with batch semantics.
type ringQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *queueMetrics

	notFull  *sync.Cond
	readable chan struct{}
	closed   bool
}

func newRingQueue[T any](capacity int, opts *queueOptions) (*ringQueue[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *queueMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Queue", "newRingQueue", "metrics registration")
		}
	}

	q := &ringQueue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		readable: make(chan struct{}, 1),
	}
	q.notFull = sync.NewCond(&q.mu)

	return q, nil
}

// TryWrite appends the whole batch or nothing.
func (q *ringQueue[T]) TryWrite(items []T) bool {
	if len(items) == 0 {
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.capacity-q.size < len(items) {
		q.stats.Reject()
		if q.metrics != nil {
			q.metrics.recordReject()
		}
		return false
	}

	q.appendLocked(items)
	return true
}

// WriteWithTimeout blocks for at most timeout waiting for room.
func (q *ringQueue[T]) WriteWithTimeout(items []T, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := q.WriteWithContext(ctx, items)
	if err == context.DeadlineExceeded {
		return errors.WrapTransient(errors.ErrWriteTimeout, "Queue", "WriteWithTimeout",
			"wait for free capacity")
	}
	return err
}

// WriteWithContext blocks until the batch fits or ctx is done.
func (q *ringQueue[T]) WriteWithContext(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > q.capacity {
		return errors.WrapInvalid(errors.ErrBadValue, "Queue", "WriteWithContext",
			"batch larger than capacity")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.WrapInvalid(errors.ErrQueueClosed, "Queue", "WriteWithContext", "queue closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if q.capacity-q.size < len(items) {
		// Wake the waiter on cancellation. Taking the lock orders the
		// broadcast after Wait has released it, so no wakeup is lost.
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		})
		defer stop()

		for q.capacity-q.size < len(items) && !q.closed {
			q.notFull.Wait()

			select {
			case <-ctx.Done():
				q.stats.Timeout()
				if q.metrics != nil {
					q.metrics.recordTimeout()
				}
				return ctx.Err()
			default:
			}
		}
	}

	if q.closed {
		return errors.WrapInvalid(errors.ErrQueueClosed, "Queue", "WriteWithContext",
			"queue closed during wait")
	}

	q.appendLocked(items)
	return nil
}

// appendLocked writes items and signals readers. Caller holds q.mu.
func (q *ringQueue[T]) appendLocked(items []T) {
	for _, item := range items {
		q.items[q.head] = item
		q.head = (q.head + 1) % q.capacity
	}
	q.size += len(items)

	q.stats.Write(int64(len(items)))
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordWrite(len(items), q.size, q.capacity)
	}

	select {
	case q.readable <- struct{}{}:
	default:
	}
}

// Read removes up to max items.
func (q *ringQueue[T]) Read(max int) []T {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}

	n := max
	if n > q.size {
		n = q.size
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = q.items[q.tail]
		q.items[q.tail] = zero // Clear for GC
		q.tail = (q.tail + 1) % q.capacity
	}
	q.size -= n

	q.stats.Read(int64(n))
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordRead(n, q.size, q.capacity)
	}

	q.notFull.Broadcast()

	return result
}

func (q *ringQueue[T]) AvailableToRead() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *ringQueue[T]) AvailableToWrite() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	return q.capacity - q.size
}

// Capacity is immutable, so no lock needed.
func (q *ringQueue[T]) Capacity() int {
	return q.capacity
}

func (q *ringQueue[T]) Readable() <-chan struct{} {
	return q.readable
}

func (q *ringQueue[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.head, q.tail, q.size = 0, 0, 0

	q.stats.UpdateSize(0)
	if q.metrics != nil {
		q.metrics.updateSize(0, q.capacity)
	}

	select {
	case <-q.readable:
	default:
	}

	q.notFull.Broadcast()
}

func (q *ringQueue[T]) Stats() *Statistics {
	return q.stats
}

func (q *ringQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.notFull.Broadcast()

	return nil
}
