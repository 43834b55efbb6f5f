package cache

import (
	"context"
	"sync"
	"time"
)

// Flight is one outstanding fetch for a fingerprint. Every caller interested
// in the result holds a reference; when the last one leaves before the fetch
// completes, the flight is abandoned and its Context is cancelled.
type Flight struct {
	fp    string
	cache *Cache

	done    chan struct{}
	payload []byte
	err     error

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	refs      int
	deadline  time.Time
	abandoned bool
	completed bool
}

func newFlight(c *Cache, fp string, deadline time.Time) *Flight {
	ctx, cancel := context.WithCancel(context.Background())
	return &Flight{
		fp:       fp,
		cache:    c,
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		refs:     1,
		deadline: deadline,
	}
}

// Fingerprint returns the fingerprint being fetched.
func (f *Flight) Fingerprint() string { return f.fp }

// Done is closed once the flight is resolved.
func (f *Flight) Done() <-chan struct{} { return f.done }

// Result returns the resolved payload or error. Only valid after Done.
func (f *Flight) Result() ([]byte, error) {
	return f.payload, f.err
}

// Context is cancelled when every subscriber has left or the flight resolves.
// The fetch itself should run under it.
func (f *Flight) Context() context.Context { return f.ctx }

// Deadline returns the latest deadline among the subscribers.
func (f *Flight) Deadline() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deadline
}

// Subscribers returns the number of callers still waiting.
func (f *Flight) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs
}

// join adds a subscriber. It fails if the flight was already abandoned.
func (f *Flight) join(deadline time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.abandoned {
		return false
	}
	f.refs++
	if deadline.After(f.deadline) {
		f.deadline = deadline
	}
	return true
}

// Leave drops one subscriber. Each subscriber must call it exactly once.
func (f *Flight) Leave() {
	f.mu.Lock()
	f.refs--
	abandon := f.refs <= 0 && !f.completed && !f.abandoned
	if abandon {
		f.abandoned = true
	}
	f.mu.Unlock()

	if !abandon {
		return
	}

	f.cache.mu.Lock()
	if f.cache.flights[f.fp] == f {
		delete(f.cache.flights, f.fp)
	}
	f.cache.mu.Unlock()

	f.cancel()
}

// Abandoned reports whether every subscriber left before completion.
func (f *Flight) Abandoned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.abandoned
}

// BeginFetch registers interest in fp. The first caller becomes the leader
// (leader == true) and must eventually call CompleteFetch. Later callers
// receive the same Flight and must not fetch. Every caller, leader included,
// holds one subscription and must call Leave when it stops waiting.
func (c *Cache) BeginFetch(fp string, deadline time.Time) (f *Flight, leader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.flights[fp]; ok && existing.join(deadline) {
		return existing, false
	}

	f = newFlight(c, fp, deadline)
	c.flights[fp] = f
	return f, true
}

// JoinFetch subscribes to an outstanding fetch for fp without ever starting
// one. It reports false when no fetch is in flight.
func (c *Cache) JoinFetch(fp string, deadline time.Time) (*Flight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.flights[fp]; ok && existing.join(deadline) {
		return existing, true
	}
	return nil, false
}

// CompleteFetch resolves f. On success (err == nil) the payload is stored
// with ttl. Calls after the first are ignored.
func (c *Cache) CompleteFetch(f *Flight, payload []byte, ttl time.Duration, err error) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return
	}
	f.completed = true
	f.mu.Unlock()

	c.mu.Lock()
	if err == nil {
		c.putLocked(f.fp, payload, ttl)
	}
	if c.flights[f.fp] == f {
		delete(c.flights, f.fp)
	}
	c.mu.Unlock()

	f.payload = payload
	f.err = err
	close(f.done)
	f.cancel()
}

// InFlight reports whether a fetch for fp is outstanding.
func (c *Cache) InFlight(fp string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flights[fp]
	return ok
}
