package sberrors

import "sync"

// AvailabilityLatch is a one-shot relative of the teacher's CircuitBreaker
// (internal/errors.CircuitBreaker in the teacher repo): once an operation
// reports unavailable, the latch stays open for every subsequent caller
// without retrying the underlying check — spec §4.2 explicitly says a
// fresh probe on every request is not wanted, and that resetting it is a
// deliberate, explicit operator action rather than automatic half-open
// recovery.
type AvailabilityLatch struct {
	mu        sync.RWMutex
	tripped   bool
	cause     error
	checkOnce sync.Once
}

// Open reports whether the latch has tripped.
func (l *AvailabilityLatch) Open() (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tripped, l.cause
}

// EnsureChecked runs check exactly once across the life of the latch
// (or since the last Reset) and trips the latch if it returns an error.
func (l *AvailabilityLatch) EnsureChecked(check func() error) error {
	l.checkOnce.Do(func() {
		if err := check(); err != nil {
			l.trip(err)
		}
	})
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cause
}

func (l *AvailabilityLatch) trip(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tripped = true
	l.cause = err
}

// Reset clears the tripped state, allowing EnsureChecked to probe again.
// Out of scope for automatic use per spec §4.2; exposed for an operator
// tool to call explicitly.
func (l *AvailabilityLatch) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tripped = false
	l.cause = nil
	l.checkOnce = sync.Once{}
}
