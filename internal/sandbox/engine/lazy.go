package engine

import (
	"context"

	"github.com/agent-infra/sandboxd/internal/sberrors"
)

// Lazy wraps a Client as the "lazy singleton" spec §4.2 describes: the
// first call pings the engine; a failure trips an AvailabilityLatch and
// every subsequent call returns EngineUnavailableError without retrying
// the ping. An explicit Reset (not used automatically anywhere in this
// service) clears the latch.
type Lazy struct {
	inner Client
	latch sberrors.AvailabilityLatch
}

// NewLazy wraps inner as a lazily-pinged singleton.
func NewLazy(inner Client) *Lazy {
	return &Lazy{inner: inner}
}

// Client returns the underlying Client once it has been confirmed
// reachable, or an EngineUnavailableError.
func (l *Lazy) Client(ctx context.Context) (Client, error) {
	if err := l.latch.EnsureChecked(func() error { return l.inner.Ping(ctx) }); err != nil {
		return nil, &sberrors.EngineUnavailableError{Err: err}
	}
	return l.inner, nil
}

// Available reports connected/unavailable without forcing a check: it
// reports true until a ping has actually failed. GET /health does not use
// it; it goes through Client so the one-time ping is forced.
func (l *Lazy) Available() bool {
	tripped, _ := l.latch.Open()
	return !tripped
}

// Reset clears the tripped latch. Exposed for an operator tool; the
// lifecycle controller never calls this on its own (spec §4.2).
func (l *Lazy) Reset() {
	l.latch.Reset()
}
