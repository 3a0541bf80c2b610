// Package buffer provides the bounded event queue between the sensor proxy and
// its client.
//
// # Quick Start
//
//	q, err := buffer.NewQueue[sensors.Event](256,
//		buffer.WithMetrics(registry, "events"),
//	)
//
//	// Producer fast path: the whole batch or nothing.
//	if !q.TryWrite(batch) {
//		// Fallback: bounded blocking write.
//		err = q.WriteWithTimeout(batch, 5*time.Second)
//	}
//
//	// Consumer: wait for the edge, then drain.
//	for range q.Readable() {
//		for q.AvailableToRead() > 0 {
//			handle(q.Read(64))
//		}
//	}
//
// # Semantics
//
// Writes are all-or-nothing: a batch is appended in full or not at all, so a
// reader never observes half of a batch written by one call. Callers that want
// partial progress write AvailableToWrite items first and queue the rest
// themselves, which is what the delivery pipeline does.
//
// A blocking write larger than the capacity can never succeed and is rejected
// with errors.ErrBadValue; callers split such batches into capacity-sized
// chunks.
//
// Readable is edge-triggered with a one-slot channel. A notification means
// "something was written since you last looked"; it does not carry a count.
//
// # Observability
//
// Statistics are always collected and count items rather than calls.
// Prometheus metrics are registered under the "sensorhub_queue_*" names with a
// "queue" label when WithMetrics is used.
package buffer
