package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/cache"
	"github.com/rickgao/exchange-gateway/internal/config"
	"github.com/rickgao/exchange-gateway/internal/monitor"
	"github.com/rickgao/exchange-gateway/internal/queue"
	"github.com/rickgao/exchange-gateway/internal/retry"
	"github.com/rickgao/exchange-gateway/internal/tasks"
	"github.com/rickgao/exchange-gateway/internal/worker"
)

// Pool names reported by the built-in monitors.
const (
	PoolExchange = "exchange"
	PoolQueue    = "queue"
)

// Client is the exchange transport. *api.Client satisfies it.
type Client interface {
	queue.Transport
	PoolStats() api.PoolStats
}

// Schedule is one refresh job started with the gateway.
type Schedule struct {
	Kind     string
	Interval time.Duration
}

// Config holds gateway configuration.
type Config struct {
	Cache         cache.Config
	SweepInterval time.Duration // default: 1m
	Queue         queue.Config
	Retry         retry.Config
	Workers       worker.Config
	TopSymbols    []string
	Schedule      []Schedule
	Monitor       monitor.Config
}

// DefaultConfig returns sensible defaults with no refresh jobs.
func DefaultConfig() Config {
	return Config{
		Cache:         cache.DefaultConfig(),
		SweepInterval: time.Minute,
		Queue:         queue.DefaultConfig(),
		Retry:         retry.DefaultConfig(),
		Workers:       worker.DefaultConfig(),
		Monitor:       monitor.DefaultConfig(),
	}
}

// ConfigFrom maps a loaded configuration file onto a gateway Config.
func ConfigFrom(c *config.GatewayConfig) Config {
	cfg := Config{
		Cache: cache.Config{
			MaxEntries:     c.Cache.MaxEntries,
			StaleRetention: c.Cache.StaleRetention,
			Classes:        c.Cache.Classes,
		},
		SweepInterval: c.Cache.SweepInterval,
		Queue: queue.Config{
			Concurrency:        c.Queue.Concurrency,
			Dispatchers:        c.Queue.Dispatchers,
			Backlog:            c.Queue.Backlog,
			RateTokens:         c.Queue.RateTokens,
			RateInterval:       c.Queue.RateInterval,
			InteractiveTimeout: c.Queue.InteractiveTimeout,
			BackgroundTimeout:  c.Queue.BackgroundTimeout,
		},
		Retry: retry.Config{
			BaseDelay:           c.Retry.BaseDelay,
			MaxDelay:            c.Retry.MaxDelay,
			InteractiveAttempts: c.Retry.InteractiveAttempts,
			BackgroundAttempts:  c.Retry.BackgroundAttempts,
			RateLimitFactor:     c.Retry.RateLimitFactor,
		},
		Workers:    worker.Config{Workers: c.Workers.Count},
		TopSymbols: c.Workers.TopSymbols,
		Monitor: monitor.Config{
			Interval:     c.Monitor.Interval,
			ThresholdPct: c.Monitor.Threshold,
			Consecutive:  c.Monitor.Consecutive,
			History:      c.Monitor.History,
		},
	}
	for _, s := range c.Workers.Schedule {
		cfg.Schedule = append(cfg.Schedule, Schedule{Kind: s.Kind, Interval: s.Interval})
	}
	return cfg
}

type namedPool struct {
	name   string
	source monitor.StatsSource
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock sets the clock every component uses.
func WithClock(clk clock.Clock) Option {
	return func(g *Gateway) {
		g.clock = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithResultHook registers a function called with every fresh payload.
func WithResultHook(h queue.ResultHook) Option {
	return func(g *Gateway) {
		g.hooks = append(g.hooks, h)
	}
}

// WithPool adds a connection pool to monitor alongside the built-in ones.
func WithPool(name string, source monitor.StatsSource) Option {
	return func(g *Gateway) {
		g.extraPools = append(g.extraPools, namedPool{name: name, source: source})
	}
}

// WithSampleHandler registers a callback for every pool sample.
func WithSampleHandler(cb monitor.SampleFunc) Option {
	return func(g *Gateway) {
		g.onSample = append(g.onSample, cb)
	}
}

// WithAlertHandler registers a callback for threshold breaches.
func WithAlertHandler(cb monitor.AlertFunc) Option {
	return func(g *Gateway) {
		g.onAlert = append(g.onAlert, cb)
	}
}

// WithCatalog replaces the refresh job catalog.
func WithCatalog(c worker.Catalog) Option {
	return func(g *Gateway) {
		g.catalog = c
	}
}

// WithRetryOptions passes options to the retry policy.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(g *Gateway) {
		g.retryOpts = append(g.retryOpts, opts...)
	}
}

// Gateway is the exchange data facade.
type Gateway struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	cache    *cache.Cache
	policy   *retry.Policy
	tracker  *tasks.Tracker
	queue    *queue.Queue
	workers  *worker.Pool
	monitors []*monitor.Monitor

	catalog    worker.Catalog
	hooks      []queue.ResultHook
	extraPools []namedPool
	onSample   []monitor.SampleFunc
	onAlert    []monitor.AlertFunc
	retryOpts  []retry.Option

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  bool
}

// New builds a Gateway around client. Nothing runs until Start.
func New(cfg Config, client Client, opts ...Option) *Gateway {
	g := &Gateway{cfg: cfg}
	for _, opt := range opts {
		opt(g)
	}
	if g.clock == nil {
		g.clock = clock.New()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.catalog == nil {
		g.catalog = worker.DefaultCatalog(cfg.TopSymbols)
	}
	if g.cfg.SweepInterval <= 0 {
		g.cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	g.cache = cache.New(cfg.Cache, g.clock, g.logger.With("component", "cache"))
	g.policy = retry.New(cfg.Retry, g.retryOpts...)
	g.tracker = tasks.New(g.clock, g.logger.With("component", "tasks"))

	qopts := []queue.Option{
		queue.WithClock(g.clock),
		queue.WithLogger(g.logger.With("component", "queue")),
	}
	for _, h := range g.hooks {
		qopts = append(qopts, queue.WithResultHook(h))
	}
	g.queue = queue.New(cfg.Queue, client, g.cache, g.policy, g.tracker, qopts...)

	g.workers = worker.New(cfg.Workers, g.catalog, g.queue, g.tracker, g.clock,
		g.logger.With("component", "workers"))

	pools := append([]namedPool{
		{name: PoolExchange, source: client},
		{name: PoolQueue, source: g.queue},
	}, g.extraPools...)
	for _, p := range pools {
		m := monitor.New(cfg.Monitor, p.name, p.source, g.tracker, g.clock,
			g.logger.With("component", "monitor"))
		for _, cb := range g.onSample {
			m.OnSample(cb)
		}
		for _, cb := range g.onAlert {
			m.OnThresholdExceeded(cb)
		}
		g.monitors = append(g.monitors, m)
	}

	return g
}

// Start launches the queue, the refresh workers and their schedules, the
// pool monitors and the cache sweeper.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return tasks.ErrClosed
	}
	if g.started {
		return errors.New("gateway already started")
	}
	g.started = true

	ctx, g.cancel = context.WithCancel(ctx)

	if err := g.queue.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	for _, s := range g.cfg.Schedule {
		if _, err := g.workers.Schedule(s.Kind, s.Interval); err != nil {
			return fmt.Errorf("schedule %s: %w", s.Kind, err)
		}
	}
	if err := g.workers.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	for _, m := range g.monitors {
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("start monitor %s: %w", m.Pool(), err)
		}
	}
	if _, err := g.tracker.Go(ctx, "cache-sweeper", g.sweep); err != nil {
		return fmt.Errorf("start cache sweeper: %w", err)
	}

	g.logger.Info("gateway started",
		"schedules", len(g.cfg.Schedule),
		"monitors", len(g.monitors),
	)
	return nil
}

func (g *Gateway) sweep(ctx context.Context) error {
	ticker := g.clock.Ticker(g.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := g.cache.Sweep(); n > 0 {
				g.logger.Debug("swept cache", "removed", n)
			}
		}
	}
}

// Shutdown stops the refresh schedules and workers, closes the queue, stops
// the monitors and cancels every remaining task. It waits at most timeout in
// total and reports how many tasks were cancelled and how many were still
// running when it gave up.
func (g *Gateway) Shutdown(timeout time.Duration) (cancelled, stillRunning int) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return 0, 0
	}
	g.closed = true
	cancel := g.cancel
	g.mu.Unlock()

	g.logger.Info("shutting down gateway", "timeout", timeout)
	start := time.Now()

	ctx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()

	if err := g.workers.Shutdown(ctx); err != nil {
		g.logger.Warn("worker pool shutdown incomplete", "error", err)
	}
	if err := g.queue.Stop(ctx); err != nil {
		g.logger.Warn("queue shutdown incomplete", "error", err)
	}
	for _, m := range g.monitors {
		if err := m.Stop(ctx); err != nil {
			g.logger.Warn("monitor shutdown incomplete", "pool", m.Pool(), "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}

	remaining := timeout - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}
	cancelled, stillRunning = g.tracker.CancelAll(remaining)

	g.logger.Info("gateway stopped",
		"cancelled", cancelled,
		"still_running", stillRunning,
		"duration", time.Since(start),
	)
	return cancelled, stillRunning
}

// Healthy reports whether the gateway is running and no monitored pool is
// in breach.
func (g *Gateway) Healthy() bool {
	g.mu.Lock()
	running := g.started && !g.closed
	g.mu.Unlock()
	return running && !g.degraded()
}

func (g *Gateway) degraded() bool {
	for _, m := range g.monitors {
		if m.InBreach() {
			return true
		}
	}
	return false
}

// Monitors returns the pool monitors.
func (g *Gateway) Monitors() []*monitor.Monitor {
	return append([]*monitor.Monitor(nil), g.monitors...)
}

// Workers returns the refresh worker pool.
func (g *Gateway) Workers() *worker.Pool { return g.workers }

// Tracker returns the task tracker every gateway goroutine is registered with.
func (g *Gateway) Tracker() *tasks.Tracker { return g.tracker }

// TTL returns the cache TTL of a class.
func (g *Gateway) TTL(class string) time.Duration { return g.cache.TTL(class) }
