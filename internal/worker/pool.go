package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"

	"github.com/rickgao/exchange-gateway/internal/fault"
	"github.com/rickgao/exchange-gateway/internal/queue"
	"github.com/rickgao/exchange-gateway/internal/request"
	"github.com/rickgao/exchange-gateway/internal/tasks"
)

// Submitter accepts request specs. *queue.Queue satisfies it.
type Submitter interface {
	Submit(spec request.Spec, deadline time.Time) (*queue.Future, error)
}

// Config holds worker pool configuration.
type Config struct {
	Workers int // Worker loops (default: 4)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Handle identifies a schedule.
type Handle struct {
	ID       int64
	Kind     string
	Interval time.Duration
}

// ScheduleInfo describes a schedule and its counters.
type ScheduleInfo struct {
	ID       int64         `json:"id"`
	Kind     string        `json:"kind"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	Skipped  int64         `json:"skipped"`
	LastRun  time.Time     `json:"last_run"`
}

type schedule struct {
	Handle
	build  JobFunc
	cancel context.CancelFunc

	runs    atomic.Int64
	skipped atomic.Int64
	lastRun atomic.Int64 // unix nanos
}

// Pool runs scheduled refresh jobs on a fixed set of workers.
type Pool struct {
	cfg     Config
	catalog Catalog
	queue   Submitter
	tracker *tasks.Tracker
	clock   clock.Clock
	logger  *slog.Logger

	ticks chan *schedule
	wg    sync.WaitGroup

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	nextID    int64
	schedules map[int64]*schedule
	stopped   bool
}

// New creates a Pool. A nil clock uses the wall clock.
func New(cfg Config, catalog Catalog, q Submitter, tracker *tasks.Tracker, clk clock.Clock, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:       cfg,
		catalog:   catalog,
		queue:     q,
		tracker:   tracker,
		clock:     clk,
		logger:    logger,
		ticks:     make(chan *schedule, cfg.Workers),
		schedules: make(map[int64]*schedule),
	}
}

// Start launches the worker loops and every schedule registered so far.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return tasks.ErrClosed
	}
	if p.cancel != nil {
		return errors.New("worker pool already started")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		if _, err := p.spawn(p.ctx, "worker", p.work); err != nil {
			p.cancel()
			return fmt.Errorf("start worker: %w", err)
		}
	}
	for _, s := range p.schedules {
		if err := p.startSchedule(s); err != nil {
			p.cancel()
			return err
		}
	}

	p.logger.Info("worker pool started",
		"workers", p.cfg.Workers,
		"schedules", len(p.schedules),
	)
	return nil
}

// Shutdown stops every schedule and worker loop and waits for in-progress
// jobs to return or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn starts a tracked task counted by the pool's WaitGroup.
func (p *Pool) spawn(ctx context.Context, kind string, fn tasks.Func) (*tasks.Handle, error) {
	p.wg.Add(1)
	h, err := p.tracker.Go(ctx, kind, func(ctx context.Context) error {
		defer p.wg.Done()
		return fn(ctx)
	})
	if err != nil {
		p.wg.Done()
		return nil, err
	}
	return h, nil
}

// Schedule runs the job kind every interval until the handle is stopped.
func (p *Pool) Schedule(kind string, interval time.Duration) (Handle, error) {
	build, ok := p.catalog[kind]
	if !ok {
		return Handle{}, fmt.Errorf("unknown job kind %q", kind)
	}
	if interval <= 0 {
		return Handle{}, fmt.Errorf("job %q: interval must be positive", kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return Handle{}, tasks.ErrClosed
	}

	p.nextID++
	s := &schedule{
		Handle: Handle{ID: p.nextID, Kind: kind, Interval: interval},
		build:  build,
	}
	p.schedules[s.ID] = s

	if p.cancel != nil {
		if err := p.startSchedule(s); err != nil {
			delete(p.schedules, s.ID)
			return Handle{}, err
		}
	}

	p.logger.Info("job scheduled", "kind", kind, "interval", interval, "id", s.ID)
	return s.Handle, nil
}

// Stop cancels a schedule. A run already in progress finishes.
func (p *Pool) Stop(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.schedules[h.ID]
	if !ok {
		return fmt.Errorf("no schedule with id %d", h.ID)
	}
	delete(p.schedules, h.ID)
	if s.cancel != nil {
		s.cancel()
	}

	p.logger.Info("job unscheduled", "kind", s.Kind, "id", s.ID)
	return nil
}

// Schedules lists the active schedules.
func (p *Pool) Schedules() []ScheduleInfo {
	p.mu.Lock()
	out := make([]ScheduleInfo, 0, len(p.schedules))
	for _, s := range p.schedules {
		info := ScheduleInfo{
			ID:       s.ID,
			Kind:     s.Kind,
			Interval: s.Interval,
			Runs:     s.runs.Load(),
			Skipped:  s.skipped.Load(),
		}
		if ns := s.lastRun.Load(); ns != 0 {
			info.LastRun = time.Unix(0, ns)
		}
		out = append(out, info)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunOnce runs the job kind in the caller's goroutine and waits for every
// request it submits.
func (p *Pool) RunOnce(ctx context.Context, kind string) error {
	build, ok := p.catalog[kind]
	if !ok {
		return fmt.Errorf("unknown job kind %q", kind)
	}
	return p.run(ctx, kind, build)
}

// startSchedule must be called with p.mu held and the pool started.
func (p *Pool) startSchedule(s *schedule) error {
	ctx, cancel := context.WithCancel(p.ctx)
	s.cancel = cancel
	if _, err := p.spawn(ctx, "scheduler", func(ctx context.Context) error {
		p.tick(ctx, s)
		return nil
	}); err != nil {
		cancel()
		return fmt.Errorf("start schedule %s: %w", s.Kind, err)
	}
	return nil
}

// tick hands s to a free worker every interval. If none is free the tick
// is dropped.
func (p *Pool) tick(ctx context.Context, s *schedule) {
	ticker := p.clock.Ticker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case p.ticks <- s:
		default:
			s.skipped.Add(1)
			p.logger.Warn("refresh tick skipped, workers busy", "kind", s.Kind)
		}
	}
}

// work is one worker loop. Each run is its own tracked task.
func (p *Pool) work(ctx context.Context) error {
	for {
		var s *schedule
		select {
		case <-ctx.Done():
			return nil
		case s = <-p.ticks:
		}

		h, err := p.spawn(ctx, "job:"+s.Kind, func(ctx context.Context) error {
			p.run(ctx, s.Kind, s.build)
			return nil
		})
		if err != nil {
			return nil
		}
		<-h.Done()

		s.runs.Add(1)
		s.lastRun.Store(p.clock.Now().UnixNano())
	}
}

// run submits every spec the job builds and waits for the results. An
// overloaded queue ends the run early.
func (p *Pool) run(ctx context.Context, kind string, build JobFunc) error {
	start := p.clock.Now()
	specs := build()

	futures := make([]*queue.Future, 0, len(specs))
	defer func() {
		for _, f := range futures {
			f.Release()
		}
	}()

	for _, spec := range specs {
		fut, err := p.queue.Submit(spec.WithPriority(request.Background), time.Time{})
		if err != nil {
			if fault.Is(err, fault.Overloaded) {
				p.logger.Warn("queue overloaded, skipping refresh tick",
					"kind", kind,
					"submitted", len(futures),
					"total", len(specs),
				)
				break
			}
			if errors.Is(err, fault.ErrClosed) {
				return nil
			}
			p.logger.Error("refresh submit failed", "kind", kind, "route", spec.Route(), "error", err)
			continue
		}
		futures = append(futures, fut)
	}

	var failed, coalesced int
	for _, f := range futures {
		if f.Coalesced() {
			coalesced++
		}
		if _, err := f.Wait(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, fault.ErrClosed) {
				return nil
			}
			failed++
			p.logger.Error("refresh failed",
				"kind", kind,
				"route", f.Spec().Route(),
				"error", err,
			)
		}
	}

	p.logger.Debug("refresh complete",
		"kind", kind,
		"requests", len(futures),
		"coalesced", coalesced,
		"failed", failed,
		"duration", p.clock.Now().Sub(start),
	)
	if failed > 0 {
		return fmt.Errorf("%s: %d of %d requests failed", kind, failed, len(futures))
	}
	return nil
}
