package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/cache"
	"github.com/rickgao/exchange-gateway/internal/fault"
	"github.com/rickgao/exchange-gateway/internal/request"
	"github.com/rickgao/exchange-gateway/internal/retry"
	"github.com/rickgao/exchange-gateway/internal/tasks"
)

// Transport performs a single exchange call. *api.Client satisfies it.
type Transport interface {
	Do(ctx context.Context, req api.Request) (*api.Response, error)
}

// Config holds queue configuration.
type Config struct {
	Concurrency        int           // Max simultaneous calls (default: 10)
	Dispatchers        int           // Dispatcher loops (default: Concurrency)
	Backlog            int           // Max pending jobs (default: 256)
	RateTokens         float64       // Tokens per RateInterval, negative disables limiting (default: 8)
	RateInterval       time.Duration // default: 1s
	InteractiveTimeout time.Duration // Deadline when none is given (default: 10s)
	BackgroundTimeout  time.Duration // default: 60s
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		Dispatchers:        10,
		Backlog:            256,
		RateTokens:         8,
		RateInterval:       time.Second,
		InteractiveTimeout: 10 * time.Second,
		BackgroundTimeout:  60 * time.Second,
	}
}

// Stats are the queue's counters.
type Stats struct {
	Depth           int64   `json:"depth"`
	InFlight        int64   `json:"in_flight"`
	Concurrency     int     `json:"concurrency"`
	TokensAvailable float64 `json:"tokens_available"`
	Submitted       int64   `json:"submitted"`
	Coalesced       int64   `json:"coalesced"`
	Overloaded      int64   `json:"overloaded"`
	Succeeded       int64   `json:"succeeded"`
	Failed          int64   `json:"failed"`
	TimedOut        int64   `json:"timed_out"`
	Retries         int64   `json:"retries"`
}

// ResultHook is called after every successful fetch.
type ResultHook func(spec request.Spec, payload []byte)

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used for deadlines and retry waits.
func WithClock(clk clock.Clock) Option {
	return func(q *Queue) {
		q.clock = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithResultHook registers a hook for successful fetches.
func WithResultHook(h ResultHook) Option {
	return func(q *Queue) {
		q.hooks = append(q.hooks, h)
	}
}

type job struct {
	spec     request.Spec
	flight   *cache.Flight
	enqueued time.Time
}

// Queue schedules exchange calls.
type Queue struct {
	cfg       Config
	transport Transport
	cache     *cache.Cache
	policy    *retry.Policy
	tracker   *tasks.Tracker
	clock     clock.Clock
	logger    *slog.Logger
	hooks     []ResultHook

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	interactive chan *job
	background  chan *job

	mu          sync.RWMutex
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	dispatchers []*tasks.Handle

	depth      atomic.Int64
	inFlight   atomic.Int64
	submitted  atomic.Int64
	coalesced  atomic.Int64
	overloaded atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	timedOut   atomic.Int64
	retries    atomic.Int64
}

// New creates a Queue. Zero fields in cfg take their defaults.
func New(cfg Config, transport Transport, c *cache.Cache, policy *retry.Policy, tracker *tasks.Tracker, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Dispatchers <= 0 {
		cfg.Dispatchers = cfg.Concurrency
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = def.Backlog
	}
	if cfg.RateTokens == 0 {
		cfg.RateTokens = def.RateTokens
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = def.RateInterval
	}
	if cfg.InteractiveTimeout <= 0 {
		cfg.InteractiveTimeout = def.InteractiveTimeout
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = def.BackgroundTimeout
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateTokens > 0 {
		limit = rate.Limit(cfg.RateTokens / cfg.RateInterval.Seconds())
		burst = max(1, int(cfg.RateTokens))
	}

	q := &Queue{
		cfg:         cfg,
		transport:   transport,
		cache:       c,
		policy:      policy,
		tracker:     tracker,
		sem:         semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter:     rate.NewLimiter(limit, burst),
		interactive: make(chan *job, cfg.Backlog),
		background:  make(chan *job, cfg.Backlog),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.clock == nil {
		q.clock = clock.New()
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// Start launches the dispatcher loops.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fault.ErrClosed
	}
	if q.cancel != nil {
		return errors.New("queue already started")
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Dispatchers; i++ {
		h, err := q.tracker.Go(q.ctx, "dispatcher", q.dispatch)
		if err != nil {
			q.cancel()
			return fmt.Errorf("start dispatcher: %w", err)
		}
		q.dispatchers = append(q.dispatchers, h)
	}

	q.logger.Info("request queue started",
		"dispatchers", q.cfg.Dispatchers,
		"concurrency", q.cfg.Concurrency,
		"backlog", q.cfg.Backlog,
		"rate_tokens", q.cfg.RateTokens,
		"rate_interval", q.cfg.RateInterval,
	)
	return nil
}

// Stop refuses new submissions, stops the dispatchers and fails every job
// still waiting in the backlog with fault.ErrClosed. Calls already running
// are cancelled through their task contexts.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.cancel != nil {
		q.cancel()
	}
	dispatchers := q.dispatchers
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, h := range dispatchers {
			<-h.Done()
		}
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	drained := q.drain()
	q.logger.Info("request queue stopped", "drained", drained)
	return err
}

func (q *Queue) drain() int {
	n := 0
	for {
		var j *job
		select {
		case j = <-q.interactive:
		case j = <-q.background:
		default:
			return n
		}
		q.depth.Add(-1)
		q.finish(j, 0, closedError(j.spec, 0))
		n++
	}
}

// Submit schedules spec and returns a Future for its payload. A zero
// deadline means now plus the priority's default timeout.
func (q *Queue) Submit(spec request.Spec, deadline time.Time) (*Future, error) {
	now := q.clock.Now()
	if deadline.IsZero() {
		deadline = now.Add(q.timeout(spec.Priority()))
	}
	if !deadline.After(now) {
		q.timedOut.Add(1)
		return nil, &fault.Error{Kind: fault.TimedOut, Route: spec.Route(), Err: fault.ErrTimedOut}
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, closedError(spec, 0)
	}

	q.submitted.Add(1)
	fp := spec.Fingerprint()

	// A full backlog still lets callers share an outstanding fetch; it only
	// refuses to start a new one.
	if !q.reserve() {
		if flight, ok := q.cache.JoinFetch(fp, deadline); ok {
			return q.joined(spec, flight, deadline), nil
		}
		q.overloaded.Add(1)
		return nil, &fault.Error{Kind: fault.Overloaded, Route: spec.Route(), Err: fault.ErrOverloaded}
	}

	flight, leader := q.cache.BeginFetch(fp, deadline)
	if !leader {
		q.depth.Add(-1)
		return q.joined(spec, flight, deadline), nil
	}
	fut := newFuture(q, spec, flight, deadline)

	j := &job{spec: spec, flight: flight, enqueued: now}
	if spec.Priority() == request.Interactive {
		q.interactive <- j
	} else {
		q.background <- j
	}
	return fut, nil
}

// reserve claims a backlog slot. Depth never exceeds Backlog.
func (q *Queue) reserve() bool {
	for {
		d := q.depth.Load()
		if d >= int64(q.cfg.Backlog) {
			return false
		}
		if q.depth.CompareAndSwap(d, d+1) {
			return true
		}
	}
}

func (q *Queue) joined(spec request.Spec, flight *cache.Flight, deadline time.Time) *Future {
	q.coalesced.Add(1)
	fut := newFuture(q, spec, flight, deadline)
	fut.coalesced = true
	q.logger.Debug("joined in-flight fetch", "route", spec.Route(), "fingerprint", spec.Fingerprint())
	return fut
}

func (q *Queue) timeout(p request.Priority) time.Duration {
	if p == request.Background {
		return q.cfg.BackgroundTimeout
	}
	return q.cfg.InteractiveTimeout
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:           q.depth.Load(),
		InFlight:        q.inFlight.Load(),
		Concurrency:     q.cfg.Concurrency,
		TokensAvailable: q.tokens(),
		Submitted:       q.submitted.Load(),
		Coalesced:       q.coalesced.Load(),
		Overloaded:      q.overloaded.Load(),
		Succeeded:       q.succeeded.Load(),
		Failed:          q.failed.Load(),
		TimedOut:        q.timedOut.Load(),
		Retries:         q.retries.Load(),
	}
}

// PoolStats reports concurrency slot usage in the shape the pool monitor
// samples: Active slots out of Max.
func (q *Queue) PoolStats() api.PoolStats {
	active := int(q.inFlight.Load())
	return api.PoolStats{
		Active: active,
		Idle:   q.cfg.Concurrency - active,
		Max:    q.cfg.Concurrency,
	}
}

func (q *Queue) tokens() float64 {
	if q.limiter.Limit() == rate.Inf {
		return float64(q.limiter.Burst())
	}
	return q.limiter.Tokens()
}

func closedError(spec request.Spec, attempts int) error {
	return &fault.Error{Kind: fault.KindOf(fault.ErrClosed), Route: spec.Route(), Attempts: attempts, Err: fault.ErrClosed}
}
