package kvcache

import (
	"context"
	"sync"
)

// signal is a single-resolution, multi-subscriber completion handle (spec
// section 9: "a value produced once, with a list of subscribers drained on
// resolution"). It stands in for the source's callback chaining and backs
// loadSignal, flushSignal, and each in-flight sidecar write.
//
// Grounded in the teacher's internal/fs Real.Lock, which races a
// goroutine-produced result against a timeout over a channel; signal
// generalizes that into a reusable, idempotent primitive with multiple
// waiters.
type signal struct {
	once sync.Once
	done chan struct{}
	err  error
}

// newSignal returns an unresolved signal.
func newSignal() *signal {
	return &signal{done: make(chan struct{})}
}

// resolve completes the signal with err, waking every current and future
// waiter. Resolving an already-resolved signal is a no-op: only the first
// call has any effect, matching the "done sentinel guards against
// double-completion" note in the spec's Loader section. Safe to call
// concurrently from multiple goroutines.
func (s *signal) resolve(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// wait blocks until the signal resolves or ctx is done, whichever comes
// first. It may be called concurrently by any number of goroutines, and
// called again after it has already returned.
func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolved reports whether resolve has already been called.
func (s *signal) resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
