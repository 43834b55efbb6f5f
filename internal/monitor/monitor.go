package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/model"
	"github.com/rickgao/exchange-gateway/internal/tasks"
)

// StatsSource reports a pool's connection counts. *api.Client, *queue.Queue
// and database.PoolAdapter satisfy it.
type StatsSource interface {
	PoolStats() api.PoolStats
}

// StatsFunc adapts a function to StatsSource.
type StatsFunc func() api.PoolStats

// PoolStats implements StatsSource.
func (f StatsFunc) PoolStats() api.PoolStats { return f() }

// AlertFunc receives threshold breaches.
type AlertFunc func(model.Breach)

// SampleFunc receives every sample.
type SampleFunc func(model.PoolSample)

// Config holds monitor configuration.
type Config struct {
	Interval     time.Duration // Sampling interval (default: 60s)
	ThresholdPct float64       // Alert above this utilization (default: 80)
	Consecutive  int           // Samples above threshold before alerting, at least 2 (default: 2)
	History      int           // Samples retained (default: 500)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		ThresholdPct: 80,
		Consecutive:  2,
		History:      500,
	}
}

// Monitor samples one pool.
type Monitor struct {
	cfg     Config
	pool    string
	source  StatsSource
	tracker *tasks.Tracker
	clock   clock.Clock
	logger  *slog.Logger

	samples  *Ring[model.PoolSample]
	breaches *Ring[model.Breach]

	mu        sync.Mutex
	alerts    []AlertFunc
	observers []SampleFunc
	above     int
	inBreach  bool
	handle    *tasks.Handle
}

// New creates a Monitor for the named pool. A nil clock uses the wall clock.
func New(cfg Config, pool string, source StatsSource, tracker *tasks.Tracker, clk clock.Clock, logger *slog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ThresholdPct <= 0 {
		cfg.ThresholdPct = def.ThresholdPct
	}
	if cfg.Consecutive < 2 {
		cfg.Consecutive = def.Consecutive
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		pool:     pool,
		source:   source,
		tracker:  tracker,
		clock:    clk,
		logger:   logger.With("pool", pool),
		samples:  NewRing[model.PoolSample](cfg.History),
		breaches: NewRing[model.Breach](cfg.History),
	}
}

// Pool returns the monitored pool's name.
func (m *Monitor) Pool() string { return m.pool }

// OnThresholdExceeded registers an alert callback.
func (m *Monitor) OnThresholdExceeded(cb AlertFunc) {
	m.mu.Lock()
	m.alerts = append(m.alerts, cb)
	m.mu.Unlock()
}

// OnSample registers a callback for every sample.
func (m *Monitor) OnSample(cb SampleFunc) {
	m.mu.Lock()
	m.observers = append(m.observers, cb)
	m.mu.Unlock()
}

// Sample reads the pool, records the sample and evaluates the threshold.
func (m *Monitor) Sample() model.PoolSample {
	stats := m.source.PoolStats()
	sample := model.PoolSample{
		Pool:           m.pool,
		Timestamp:      m.clock.Now(),
		Active:         stats.Active,
		Idle:           stats.Idle,
		Max:            stats.Max,
		UtilizationPct: Utilization(stats.Active, stats.Max),
	}
	m.samples.Push(sample)

	m.mu.Lock()
	var breach *model.Breach
	if sample.UtilizationPct > m.cfg.ThresholdPct {
		m.above++
		if m.above >= m.cfg.Consecutive && !m.inBreach {
			m.inBreach = true
			breach = &model.Breach{
				Pool:           m.pool,
				At:             sample.Timestamp,
				UtilizationPct: sample.UtilizationPct,
				ThresholdPct:   m.cfg.ThresholdPct,
				Consecutive:    m.above,
			}
		}
	} else {
		if m.inBreach {
			m.logger.Info("pool utilization back under threshold",
				"utilization_pct", sample.UtilizationPct,
				"threshold_pct", m.cfg.ThresholdPct,
			)
		}
		m.above = 0
		m.inBreach = false
	}
	alerts := append([]AlertFunc(nil), m.alerts...)
	observers := append([]SampleFunc(nil), m.observers...)
	m.mu.Unlock()

	for _, cb := range observers {
		cb(sample)
	}

	if breach != nil {
		m.breaches.Push(*breach)
		m.logger.Warn("pool utilization above threshold",
			"utilization_pct", breach.UtilizationPct,
			"threshold_pct", breach.ThresholdPct,
			"consecutive", breach.Consecutive,
			"active", sample.Active,
			"max", sample.Max,
		)
		for _, cb := range alerts {
			cb(*breach)
		}
	}

	return sample
}

// Utilization returns active as a percentage of capacity, or 0 if capacity
// is not positive.
func Utilization(active, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return float64(active) * 100 / float64(capacity)
}

// Samples returns retained samples, oldest first.
func (m *Monitor) Samples() []model.PoolSample { return m.samples.Snapshot() }

// Breaches returns recorded breaches, oldest first.
func (m *Monitor) Breaches() []model.Breach { return m.breaches.Snapshot() }

// History is the retained record of one pool.
type History struct {
	Pool     string             `json:"pool"`
	Samples  []model.PoolSample `json:"samples"`
	Breaches []model.Breach     `json:"breaches"`
	Retained RingStats          `json:"retained"`
}

// History returns the retained samples and breaches along with the sample
// ring's counters.
func (m *Monitor) History() History {
	return History{
		Pool:     m.pool,
		Samples:  m.Samples(),
		Breaches: m.Breaches(),
		Retained: m.samples.Stats(),
	}
}

// Latest returns the most recent sample.
func (m *Monitor) Latest() (model.PoolSample, bool) { return m.samples.Latest() }

// InBreach reports whether the pool is currently above threshold long
// enough to have alerted.
func (m *Monitor) InBreach() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inBreach
}

// Start begins sampling every Interval as a tracked task.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil {
		return errors.New("monitor already started")
	}
	h, err := m.tracker.Go(ctx, "monitor:"+m.pool, m.run)
	if err != nil {
		return err
	}
	m.handle = h

	m.logger.Info("pool monitor started",
		"interval", m.cfg.Interval,
		"threshold_pct", m.cfg.ThresholdPct,
	)
	return nil
}

// Stop ends sampling and waits for the loop to exit or ctx to end.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h == nil {
		return nil
	}

	h.Cancel()
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) run(ctx context.Context) error {
	ticker := m.clock.Ticker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sample()
		}
	}
}
