package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/cache"
	"github.com/rickgao/exchange-gateway/internal/fault"
	"github.com/rickgao/exchange-gateway/internal/queue"
	"github.com/rickgao/exchange-gateway/internal/request"
	"github.com/rickgao/exchange-gateway/internal/retry"
	"github.com/rickgao/exchange-gateway/internal/tasks"
)

const okBody = `{"code":"00000","data":[]}`

type fixture struct {
	pool    *Pool
	queue   *queue.Queue
	cache   *cache.Cache
	tracker *tasks.Tracker
	calls   *atomic.Int32
}

func newFixture(t *testing.T, cfg Config, catalog Catalog, clk clock.Clock) *fixture {
	t.Helper()

	calls := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(okBody))
	}))
	t.Cleanup(server.Close)

	tracker := tasks.New(nil, nil)
	c := cache.New(cache.DefaultConfig(), nil, nil)
	q := queue.New(queue.Config{RateTokens: -1}, api.NewClient(server.URL, 16), c, retry.New(retry.DefaultConfig()), tracker)
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		pool:    New(cfg, catalog, q, tracker, clk, nil),
		queue:   q,
		cache:   c,
		tracker: tracker,
		calls:   calls,
	}
	t.Cleanup(func() {
		f.pool.Shutdown(context.Background())
		q.Stop(context.Background())
		tracker.CancelAll(time.Second)
	})
	return f
}

func pingCatalog() Catalog {
	return Catalog{
		"ping": func() []request.Spec {
			return []request.Spec{api.TickerSpec("BTCUSDT", request.Interactive)}
		},
	}
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t, Config{Workers: 1}, pingCatalog(), nil)

	if _, err := f.pool.Schedule("nope", time.Second); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := f.pool.Schedule("ping", 0); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := f.pool.Stop(Handle{ID: 42}); err == nil {
		t.Error("expected error stopping an unknown handle")
	}
}

func TestScheduledJobRuns(t *testing.T) {
	mock := clock.NewMock()
	f := newFixture(t, Config{Workers: 2}, pingCatalog(), mock)

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h, err := f.pool.Schedule("ping", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if h.Kind != "ping" || h.Interval != 5*time.Second {
		t.Errorf("handle = %+v", h)
	}

	deadline := time.Now().Add(3 * time.Second)
	for f.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled job never ran")
		}
		mock.Add(time.Second)
		time.Sleep(2 * time.Millisecond)
	}

	spec := api.TickerSpec("BTCUSDT", request.Background)
	waitUntil(t, func() bool {
		_, ok := f.cache.Get(spec.Fingerprint())
		return ok
	})

	infos := f.pool.Schedules()
	if len(infos) != 1 || infos[0].Kind != "ping" {
		t.Fatalf("Schedules() = %+v", infos)
	}

	if err := f.pool.Stop(h); err != nil {
		t.Fatal(err)
	}
	if len(f.pool.Schedules()) != 0 {
		t.Error("schedule still listed after Stop")
	}

	// Let any run already handed to a worker finish, then make sure the
	// stopped schedule no longer fires.
	time.Sleep(50 * time.Millisecond)
	before := f.calls.Load()
	for i := 0; i < 5; i++ {
		mock.Add(10 * time.Second)
		time.Sleep(2 * time.Millisecond)
	}
	if got := f.calls.Load(); got != before {
		t.Errorf("calls after Stop = %d, want %d", got, before)
	}
}

func TestRunOnce(t *testing.T) {
	catalog := DefaultCatalog([]string{"BTCUSDT", "ETHUSDT"})
	f := newFixture(t, Config{}, catalog, nil)

	if err := f.pool.RunOnce(context.Background(), KindTopTickers); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	for _, s := range []string{"BTCUSDT", "ETHUSDT"} {
		if _, ok := f.cache.Get(api.TickerSpec(s, request.Background).Fingerprint()); !ok {
			t.Errorf("%s ticker not cached", s)
		}
	}

	if err := f.pool.RunOnce(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

type overloadedSubmitter struct {
	calls atomic.Int32
}

func (s *overloadedSubmitter) Submit(spec request.Spec, deadline time.Time) (*queue.Future, error) {
	s.calls.Add(1)
	return nil, &fault.Error{Kind: fault.Overloaded, Route: spec.Route(), Err: fault.ErrOverloaded}
}

func TestOverloadedSkipsRestOfTick(t *testing.T) {
	sub := &overloadedSubmitter{}
	catalog := DefaultCatalog([]string{"A", "B", "C"})
	p := New(Config{Workers: 1}, catalog, sub, tasks.New(nil, nil), nil, nil)

	if err := p.RunOnce(context.Background(), KindCandles); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if got := sub.calls.Load(); got != 1 {
		t.Errorf("submissions = %d, want 1", got)
	}
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, Config{Workers: 3}, pingCatalog(), nil)

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.pool.Schedule("ping", time.Hour); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.pool.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	for _, info := range f.tracker.Snapshot() {
		if info.Kind == "worker" || info.Kind == "scheduler" {
			t.Errorf("task %s still registered after Shutdown", info.Kind)
		}
	}
	if _, err := f.pool.Schedule("ping", time.Hour); err == nil {
		t.Error("Schedule after Shutdown should fail")
	}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})

	kinds := catalog.Kinds()
	sort.Strings(kinds)
	want := []string{KindCandles, KindSymbols, KindTickers, KindTopTickers}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Kinds()[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}

	tests := []struct {
		kind  string
		count int
		class string
	}{
		{KindTickers, 1, request.ClassTicker},
		{KindSymbols, 1, request.ClassSymbolList},
		{KindTopTickers, 3, request.ClassTicker},
		{KindCandles, 3, request.ClassCandles},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			specs := catalog[tt.kind]()
			if len(specs) != tt.count {
				t.Fatalf("got %d specs, want %d", len(specs), tt.count)
			}
			for _, s := range specs {
				if s.CacheClass() != tt.class || s.Priority() != request.Background {
					t.Errorf("unexpected spec %s class=%s priority=%s", s, s.CacheClass(), s.Priority())
				}
			}
		})
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
