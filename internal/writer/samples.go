package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/exchange-gateway/internal/model"
	"github.com/rickgao/exchange-gateway/internal/tasks"
)

// Config holds batch writer settings.
type Config struct {
	BatchSize     int           // Rows per batch (default: 1000)
	FlushInterval time.Duration // default: 1s
	BufferSize    int           // Pending rows before new ones are dropped (default: 10000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics are the writer's counters.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// Batcher sends a batch of statements. *pgxpool.Pool satisfies it.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const (
	insertSample = `
		INSERT INTO pool_samples (ts, pool, active, idle, max_conns, utilization_pct)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pool, ts) DO NOTHING`
	insertBreach = `
		INSERT INTO pool_breaches (ts, pool, utilization_pct, threshold_pct, consecutive)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pool, ts) DO NOTHING`
)

// row is a pending insert: exactly one of sample or breach is set.
type row struct {
	sample *model.PoolSample
	breach *model.Breach
}

// SampleWriter batches samples and breaches into TimescaleDB.
type SampleWriter struct {
	cfg     Config
	db      Batcher
	tracker *tasks.Tracker
	logger  *slog.Logger

	input chan row

	batch   []row
	batchMu sync.Mutex
	metrics Metrics

	cancel  context.CancelFunc
	handles []*tasks.Handle
}

// NewSampleWriter creates a SampleWriter.
func NewSampleWriter(cfg Config, db Batcher, tracker *tasks.Tracker, logger *slog.Logger) *SampleWriter {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SampleWriter{
		cfg:     cfg,
		db:      db,
		tracker: tracker,
		logger:  logger,
		input:   make(chan row, cfg.BufferSize),
		batch:   make([]row, 0, cfg.BatchSize),
	}
}

// WriteSample queues a sample. It returns false if the buffer is full.
func (w *SampleWriter) WriteSample(s model.PoolSample) bool {
	return w.enqueue(row{sample: &s})
}

// WriteBreach queues a breach. It returns false if the buffer is full.
func (w *SampleWriter) WriteBreach(b model.Breach) bool {
	return w.enqueue(row{breach: &b})
}

func (w *SampleWriter) enqueue(r row) bool {
	select {
	case w.input <- r:
		return true
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		return false
	}
}

// Start begins consuming rows and writing to the database.
func (w *SampleWriter) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	consumer, err := w.tracker.Go(ctx, "sample-writer", w.consumeLoop)
	if err != nil {
		w.cancel()
		return err
	}
	flusher, err := w.tracker.Go(ctx, "sample-flusher", w.flushLoop)
	if err != nil {
		w.cancel()
		return err
	}
	w.handles = []*tasks.Handle{consumer, flusher}

	w.logger.Info("sample writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the writer down and flushes what is pending.
func (w *SampleWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping sample writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		for _, h := range w.handles {
			<-h.Done()
		}
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("sample writer stopped")
	case <-ctx.Done():
		w.logger.Warn("sample writer stop timed out")
	}

	// Final flush, including rows still in the buffer.
	for {
		select {
		case r := <-w.input:
			w.add(r)
			continue
		default:
		}
		break
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *SampleWriter) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *SampleWriter) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-w.input:
			if w.add(r) {
				w.flush(ctx)
			}
		}
	}
}

func (w *SampleWriter) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// add appends r and reports whether the batch is full.
func (w *SampleWriter) add(r row) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, r)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch to the database.
func (w *SampleWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if ctx.Err() != nil {
		// Shutdown flush: the caller's context is done, give the insert a
		// short window of its own.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed pool samples",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *SampleWriter) batchInsert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		if s := r.sample; s != nil {
			batch.Queue(insertSample, s.Timestamp, s.Pool, s.Active, s.Idle, s.Max, s.UtilizationPct)
			continue
		}
		b := r.breach
		batch.Queue(insertBreach, b.At, b.Pool, b.UtilizationPct, b.ThresholdPct, b.Consecutive)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
