package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rickgao/exchange-gateway/internal/cache"
	"github.com/rickgao/exchange-gateway/internal/fault"
	"github.com/rickgao/exchange-gateway/internal/request"
)

// Future is a caller's subscription to a fetch. Wait, or Release if the
// result is no longer wanted; a Future that is neither waited on nor
// released keeps its fetch alive until the fetch's own deadline.
type Future struct {
	q         *Queue
	spec      request.Spec
	flight    *cache.Flight
	deadline  time.Time
	coalesced bool
	once      sync.Once
}

func newFuture(q *Queue, spec request.Spec, flight *cache.Flight, deadline time.Time) *Future {
	return &Future{q: q, spec: spec, flight: flight, deadline: deadline}
}

// Spec returns the submitted request.
func (f *Future) Spec() request.Spec { return f.spec }

// Deadline returns this caller's deadline.
func (f *Future) Deadline() time.Time { return f.deadline }

// Coalesced reports whether the future joined a fetch already in flight.
func (f *Future) Coalesced() bool { return f.coalesced }

// Done is closed when the underlying fetch resolves.
func (f *Future) Done() <-chan struct{} { return f.flight.Done() }

// Wait blocks until the fetch resolves, the caller's deadline passes or ctx
// ends, then releases the subscription.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	defer f.Release()

	select {
	case <-f.flight.Done():
		return f.flight.Result()
	default:
	}

	remaining := f.deadline.Sub(f.q.clock.Now())
	if remaining <= 0 {
		return nil, f.timedOut(fault.ErrTimedOut)
	}
	timer := f.q.clock.Timer(remaining)
	defer timer.Stop()

	select {
	case <-f.flight.Done():
		return f.flight.Result()
	case <-ctx.Done():
		return nil, f.timedOut(ctx.Err())
	case <-timer.C:
		return nil, f.timedOut(fault.ErrTimedOut)
	}
}

// Release gives up the subscription. When every subscriber of a fetch has
// released it before it resolves, the fetch is cancelled.
func (f *Future) Release() {
	f.once.Do(f.flight.Leave)
}

func (f *Future) timedOut(err error) error {
	f.q.timedOut.Add(1)
	return &fault.Error{Kind: fault.TimedOut, Route: f.spec.Route(), Err: err}
}
