// Package buffer provides the bounded, thread-safe queue that carries sensor
// events from the proxy to its client.
//
// The queue mirrors a fast message queue: writes are all-or-nothing for a
// batch, a non-blocking TryWrite is the fast path, a blocking write bounded by
// a context or timeout is the fallback, and readers are woken through an
// edge-triggered notification channel.
//
// Statistics are always collected. Prometheus metrics can be enabled with the
// WithMetrics functional option.
package buffer

import (
	"context"
	"time"
)

// Queue is a bounded FIFO of items of type T.
type Queue[T any] interface {
	// TryWrite appends all items if they fit and returns true, or appends
	// nothing and returns false. It never blocks.
	TryWrite(items []T) bool

	// WriteWithContext blocks until all items fit, then appends them.
	// Returns ctx.Err() on cancellation and ErrQueueClosed after Close.
	// A batch larger than the capacity is rejected with ErrBadValue.
	WriteWithContext(ctx context.Context, items []T) error

	// WriteWithTimeout is WriteWithContext bounded by a timeout. A timeout
	// is reported as ErrWriteTimeout.
	WriteWithTimeout(items []T, timeout time.Duration) error

	// Read removes and returns up to max items in FIFO order.
	Read(max int) []T

	// AvailableToRead returns the number of queued items.
	AvailableToRead() int

	// AvailableToWrite returns the free capacity.
	AvailableToWrite() int

	// Capacity returns the maximum number of items the queue can hold.
	Capacity() int

	// Readable returns a channel that receives a value whenever items were
	// appended while the previous notification was unconsumed or consumed.
	// Readers must drain until AvailableToRead is zero after each signal.
	Readable() <-chan struct{}

	// Reset discards every queued item.
	Reset()

	// Stats returns queue statistics (always available for observability).
	Stats() *Statistics

	// Close wakes blocked writers and rejects further writes.
	Close() error
}

// NewQueue creates a queue with the given capacity and options.
// Returns an error if metrics registration fails when metrics are requested.
func NewQueue[T any](capacity int, options ...Option) (Queue[T], error) {
	opts := applyOptions(options...)
	return newRingQueue[T](capacity, opts)
}
