// Package util holds small cross-component helpers: a concurrency
// limiter, a token-count estimator, and keyword normalization — grounded
// on the teacher's buffered-channel semaphore and token-estimation
// patterns, generalized for reuse across the gateway, compressor, and
// orchestrator.
package util

import "context"

// Limiter bounds the number of concurrently in-flight operations using a
// buffered channel as a semaphore, the same pattern the teacher's
// embedding fan-out uses inline.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter returns a Limiter allowing up to n concurrent acquisitions.
// n <= 0 means unbounded.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		return &Limiter{}
	}
	return &Limiter{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.slots == nil {
		return nil
	}
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired with Acquire.
func (l *Limiter) Release() {
	if l.slots == nil {
		return
	}
	<-l.slots
}
