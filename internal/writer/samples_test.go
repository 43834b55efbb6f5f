package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/exchange-gateway/internal/model"
	"github.com/rickgao/exchange-gateway/internal/tasks"
)

type fakeResults struct {
	remaining []int64
	err       error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	n := r.remaining[0]
	r.remaining = r.remaining[1:]
	if n == 0 {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

// fakeDB records batches. Rows whose pool is in conflict report zero rows affected.
type fakeDB struct {
	mu       sync.Mutex
	batches  []int
	sqls     []string
	conflict map[string]bool
	err      error
}

func (d *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b.Len())
	affected := make([]int64, 0, b.Len())
	for _, q := range b.QueuedQueries {
		d.sqls = append(d.sqls, q.SQL)
		pool, _ := q.Arguments[1].(string)
		if d.conflict[pool] {
			affected = append(affected, 0)
		} else {
			affected = append(affected, 1)
		}
	}
	return &fakeResults{remaining: affected, err: d.err}
}

func (d *fakeDB) snapshot() ([]int, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.batches...), append([]string(nil), d.sqls...)
}

func sample(pool string, sec int64) model.PoolSample {
	return model.PoolSample{
		Pool:           pool,
		Timestamp:      time.Unix(sec, 0),
		Active:         8,
		Idle:           2,
		Max:            10,
		UtilizationPct: 80,
	}
}

func TestSampleWriter_FlushesFullBatches(t *testing.T) {
	db := &fakeDB{}
	tracker := tasks.New(clock.New(), nil)
	w := NewSampleWriter(Config{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 16}, db, tracker, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	w.WriteSample(sample("exchange", 1))
	w.WriteBreach(model.Breach{Pool: "exchange", At: time.Unix(2, 0), UtilizationPct: 90, ThresholdPct: 80, Consecutive: 2})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if batches, _ := db.snapshot(); len(batches) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("full batch was not flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.WriteSample(sample("exchange", 3))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	batches, sqls := db.snapshot()
	if len(batches) != 2 || batches[0] != 2 || batches[1] != 1 {
		t.Errorf("batches = %v, want [2 1]", batches)
	}
	if sqls[0] != insertSample || sqls[1] != insertBreach {
		t.Error("rows were not mapped to their tables in order")
	}

	stats := w.Stats()
	if stats.Inserts != 3 || stats.Flushes != 2 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if tracker.Len() != 0 {
		t.Errorf("tracker has %d tasks after Stop", tracker.Len())
	}
}

func TestSampleWriter_Conflicts(t *testing.T) {
	db := &fakeDB{conflict: map[string]bool{"dup": true}}
	w := NewSampleWriter(Config{BatchSize: 10}, db, tasks.New(clock.New(), nil), nil)

	w.add(row{sample: ptr(sample("dup", 1))})
	w.add(row{sample: ptr(sample("exchange", 1))})
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Inserts != 1 || stats.Conflicts != 1 {
		t.Errorf("inserts=%d conflicts=%d, want 1 and 1", stats.Inserts, stats.Conflicts)
	}
}

func TestSampleWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	w := NewSampleWriter(Config{}, db, tasks.New(clock.New(), nil), nil)

	w.add(row{sample: ptr(sample("exchange", 1))})
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Errors != 1 || stats.Inserts != 0 || stats.Flushes != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSampleWriter_DropsWhenFull(t *testing.T) {
	w := NewSampleWriter(Config{BufferSize: 1}, &fakeDB{}, tasks.New(clock.New(), nil), nil)

	if !w.WriteSample(sample("exchange", 1)) {
		t.Fatal("first write should be buffered")
	}
	if w.WriteSample(sample("exchange", 2)) {
		t.Fatal("second write should be dropped")
	}
	if got := w.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	w := NewSampleWriter(Config{}, &fakeDB{}, tasks.New(clock.New(), nil), nil)
	if w.cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want defaults", w.cfg)
	}
}

func ptr[T any](v T) *T { return &v }
