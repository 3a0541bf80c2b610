// Package wakelock reference-counts a single named wake lock across every
// in-flight wake-up event batch.
//
// Coordinator.Acquire hands out a Guard; the underlying Lock is taken when the
// first guard is handed out and dropped when the last one is released.
// Release on a Guard is idempotent, so every exit path of a batch may call it.
package wakelock

import (
	"log/slog"
	"sync"

	"github.com/c360/sensorhub/metric"
)

// Coordinator owns the wake lock refcount. Held() == (RefCount() > 0) holds
// whenever the mutex is not held.
type Coordinator struct {
	name    string
	lock    Lock
	logger  *slog.Logger
	metrics *metric.Metrics

	mu       sync.Mutex
	refCount int64
	held     bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics reports refcount and held state to the core metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a coordinator for the named lock. A nil lock
// behaves like NopLock.
func NewCoordinator(name string, lock Lock, opts ...Option) *Coordinator {
	if lock == nil {
		lock = NopLock{}
	}
	c := &Coordinator{
		name:   name,
		lock:   lock,
		logger: slog.Default().With("component", "wakelock"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire increments the refcount, taking the lock on 0 to 1, and returns the
// guard that undoes it.
func (c *Coordinator) Acquire() *Guard {
	c.mu.Lock()
	c.refCount++
	if c.refCount == 1 {
		if err := c.lock.Acquire(c.name); err != nil {
			c.logger.Warn("Failed to acquire wake lock", "name", c.name, "error", err)
		}
		c.held = true
	}
	c.record()
	c.mu.Unlock()

	return &Guard{c: c}
}

func (c *Coordinator) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refCount == 0 {
		c.logger.Error("Wake lock released more often than acquired", "name", c.name)
		return
	}
	c.refCount--
	if c.refCount == 0 {
		if err := c.lock.Release(c.name); err != nil {
			c.logger.Warn("Failed to release wake lock", "name", c.name, "error", err)
		}
		c.held = false
	}
	c.record()
}

func (c *Coordinator) record() {
	if c.metrics != nil {
		c.metrics.RecordWakelock(c.refCount, c.held)
	}
}

// RefCount returns the number of live guards.
func (c *Coordinator) RefCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refCount
}

// Held reports whether the underlying lock is currently taken.
func (c *Coordinator) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// Name returns the wake lock name.
func (c *Coordinator) Name() string {
	return c.name
}

// Guard is one reference on the wake lock.
type Guard struct {
	c    *Coordinator
	once sync.Once
}

// Release drops the reference. Calls after the first, and calls on a nil
// guard, do nothing.
func (g *Guard) Release() {
	if g == nil || g.c == nil {
		return
	}
	g.once.Do(g.c.release)
}
