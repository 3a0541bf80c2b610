// Package retry runs an operation with exponential backoff.
//
// Errors classified as fatal or invalid by the errors package end the loop at
// once, as does any error wrapped with Stop. Everything else is retried until
// the policy runs out of attempts or the context is cancelled.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/sensorhub/errors"
)

type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop marks err as not worth retrying.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Stopped reports whether err ends a retry loop without further attempts.
func Stopped(err error) bool {
	var se *stopError
	return stderrors.As(err, &se) || errors.IsFatal(err) || errors.IsInvalid(err)
}

// Policy describes the attempts and delays of a retry loop.
type Policy struct {
	Attempts int           // total attempts, at least one
	Initial  time.Duration // delay after the first failure
	Max      time.Duration // delay ceiling
	Factor   float64       // growth per attempt
	Jitter   bool          // add up to 25% random delay
}

// Startup suits connecting to an optional dependency while the process
// starts: a few attempts over a few seconds.
func Startup() Policy {
	return Policy{
		Attempts: 5,
		Initial:  200 * time.Millisecond,
		Max:      2 * time.Second,
		Factor:   2,
		Jitter:   true,
	}
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	return p
}

// Delay returns the wait after the given failed attempt, counting from one,
// without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.Max) {
			return p.Max
		}
	}
	return time.Duration(d)
}

func (p Policy) wait(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter && d >= 4 {
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

// Do calls fn until it succeeds, returns a stopping error, the attempts run
// out or ctx is cancelled. fn receives the attempt number, starting at one.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt-1, lastErr)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if Stopped(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		timer := time.NewTimer(p.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", p.Attempts, lastErr)
}
