package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks queue activity. Write and Read count items, not calls.
type Statistics struct {
	writes   int64
	reads    int64
	rejects  int64
	timeouts int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Write records n items appended.
func (s *Statistics) Write(n int64) {
	atomic.AddInt64(&s.writes, n)
}

// Read records n items removed.
func (s *Statistics) Read(n int64) {
	atomic.AddInt64(&s.reads, n)
}

// Reject records a TryWrite that did not fit.
func (s *Statistics) Reject() {
	atomic.AddInt64(&s.rejects, 1)
}

// Timeout records a blocking write abandoned by its context.
func (s *Statistics) Timeout() {
	atomic.AddInt64(&s.timeouts, 1)
}

// UpdateSize updates the current queue size.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Writes returns the total number of items written.
func (s *Statistics) Writes() int64 {
	return atomic.LoadInt64(&s.writes)
}

// Reads returns the total number of items read.
func (s *Statistics) Reads() int64 {
	return atomic.LoadInt64(&s.reads)
}

// Rejects returns the number of non-blocking writes that did not fit.
func (s *Statistics) Rejects() int64 {
	return atomic.LoadInt64(&s.rejects)
}

// Timeouts returns the number of blocking writes that gave up.
func (s *Statistics) Timeouts() int64 {
	return atomic.LoadInt64(&s.timeouts)
}

// CurrentSize returns the current number of items in the queue.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the high-water mark of the queue.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// Throughput returns the average number of items written per second.
func (s *Statistics) Throughput() float64 {
	s.mu.RLock()
	elapsed := time.Since(s.startTime)
	s.mu.RUnlock()

	if elapsed == 0 {
		return 0.0
	}
	return float64(s.Writes()) / elapsed.Seconds()
}

// Utilization returns the current fill ratio (0.0 to 1.0).
func (s *Statistics) Utilization(capacity int64) float64 {
	if capacity == 0 {
		return 0.0
	}
	return float64(s.CurrentSize()) / float64(capacity)
}

// StatsSummary is a snapshot of all statistics.
type StatsSummary struct {
	Writes      int64         `json:"writes"`
	Reads       int64         `json:"reads"`
	Rejects     int64         `json:"rejects"`
	Timeouts    int64         `json:"timeouts"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	Throughput  float64       `json:"throughput"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	s.mu.RLock()
	uptime := time.Since(s.startTime)
	s.mu.RUnlock()

	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Rejects:     s.Rejects(),
		Timeouts:    s.Timeouts(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		Throughput:  s.Throughput(),
		Uptime:      uptime,
	}
}
