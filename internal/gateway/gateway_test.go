package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/fault"
	"github.com/rickgao/exchange-gateway/internal/model"
	"github.com/rickgao/exchange-gateway/internal/monitor"
	"github.com/rickgao/exchange-gateway/internal/request"
	"github.com/rickgao/exchange-gateway/internal/retry"
)

func tickerJSON(symbol, last string) string {
	return fmt.Sprintf(`{"symbol":%q,"lastPr":%q,"bidPr":"1","askPr":"2","ts":"1700000000000"}`, symbol, last)
}

// exchange is a fake exchange counting calls per route.
type exchange struct {
	calls   atomic.Int64
	failing atomic.Bool
	latency time.Duration

	mu     sync.Mutex
	routes map[string]int
}

func (x *exchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	x.calls.Add(1)
	x.mu.Lock()
	if x.routes == nil {
		x.routes = make(map[string]int)
	}
	x.routes[r.URL.Path]++
	x.mu.Unlock()

	if x.latency > 0 {
		time.Sleep(x.latency)
	}
	if x.failing.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case api.RouteTickers:
		if symbol := r.URL.Query().Get("symbol"); symbol != "" {
			fmt.Fprintf(w, `{"code":"00000","msg":"success","data":[%s]}`, tickerJSON(symbol, "42.5"))
			return
		}
		fmt.Fprintf(w, `{"code":"00000","msg":"success","data":[%s,%s]}`,
			tickerJSON("BTCUSDT", "65000.1"), tickerJSON("ETHUSDT", "3100.2"))
	case api.RouteSymbols:
		fmt.Fprint(w, `{"code":"00000","msg":"success","data":[{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT","status":"online"}]}`)
	default:
		http.NotFound(w, r)
	}
}

func (x *exchange) routeCalls(route string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.routes[route]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Config{
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	}
	cfg.Queue.RateTokens = -1
	return cfg
}

func newGateway(t *testing.T, x *exchange, cfg Config, opts ...Option) *Gateway {
	t.Helper()

	server := httptest.NewServer(x)
	t.Cleanup(server.Close)

	opts = append([]Option{WithRetryOptions(retry.WithRand(func() float64 { return 0.5 }))}, opts...)
	gw := New(cfg, api.NewClient(server.URL, 16), opts...)
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { gw.Shutdown(time.Second) })
	return gw
}

func TestFetchServesFromCache(t *testing.T) {
	x := &exchange{}
	gw := newGateway(t, x, testConfig())
	ctx := context.Background()

	first, err := gw.GetTickers(ctx)
	if err != nil {
		t.Fatalf("GetTickers() error = %v", err)
	}
	second, err := gw.GetTickers(ctx)
	if err != nil {
		t.Fatalf("GetTickers() error = %v", err)
	}

	if got := x.calls.Load(); got != 1 {
		t.Errorf("exchange calls = %d, want 1", got)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("tickers = %d, %d, want 2 each", len(first), len(second))
	}
	if first[0].Symbol != "BTCUSDT" || first[0].Last.String() != "65000.1" {
		t.Errorf("first ticker = %+v", first[0])
	}
	if hits := gw.Stats().Cache.Hits; hits != 1 {
		t.Errorf("cache hits = %d, want 1", hits)
	}
}

func TestFetchSingleFlight(t *testing.T) {
	x := &exchange{latency: 200 * time.Millisecond}
	cfg := testConfig()
	cfg.Queue.Concurrency = 10
	gw := newGateway(t, x, cfg)

	spec := api.TickersSpec(request.Interactive)

	var wg sync.WaitGroup
	payloads := make([][]byte, 50)
	errs := make([]error, 50)
	start := time.Now()
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payloads[i], errs[i] = gw.Fetch(context.Background(), spec)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if got := x.calls.Load(); got != 1 {
		t.Errorf("exchange calls = %d, want 1", got)
	}
	for i := range payloads {
		if errs[i] != nil {
			t.Fatalf("Fetch[%d] error = %v", i, errs[i])
		}
		if string(payloads[i]) != string(payloads[0]) {
			t.Fatalf("Fetch[%d] payload differs", i)
		}
	}
	if elapsed > time.Second {
		t.Errorf("elapsed = %v, fetches were not shared", elapsed)
	}
}

func TestFetchOrStale(t *testing.T) {
	mock := clock.NewMock()
	x := &exchange{}
	cfg := testConfig()
	cfg.Cache.Classes = map[string]time.Duration{request.ClassTicker: 60 * time.Second}
	cfg.Retry.InteractiveAttempts = 1
	gw := newGateway(t, x, cfg, WithClock(mock))

	spec := api.TickersSpec(request.Interactive)
	ctx := context.Background()

	fresh, err := gw.FetchOrStale(ctx, spec, 2*time.Minute)
	if err != nil {
		t.Fatalf("FetchOrStale() error = %v", err)
	}
	if fresh.Stale {
		t.Error("first result should be live")
	}

	x.failing.Store(true)
	mock.Add(90 * time.Second)

	t.Run("within max staleness", func(t *testing.T) {
		res, err := gw.FetchOrStale(ctx, spec, 120*time.Second)
		if err != nil {
			t.Fatalf("FetchOrStale() error = %v", err)
		}
		if !res.Stale {
			t.Error("result should be stale")
		}
		if res.Age != 90*time.Second {
			t.Errorf("Age = %v, want 90s", res.Age)
		}
		if string(res.Payload) != string(fresh.Payload) {
			t.Error("stale payload differs from the cached one")
		}
	})

	t.Run("older than max staleness", func(t *testing.T) {
		_, err := gw.FetchOrStale(ctx, spec, 60*time.Second)
		if err == nil {
			t.Fatal("FetchOrStale() should fail")
		}
		if !fault.Is(err, fault.Transient) {
			t.Errorf("kind = %v, want transient", fault.KindOf(err))
		}
	})
}

func TestFetchOrStaleWithoutCacheEntry(t *testing.T) {
	x := &exchange{}
	x.failing.Store(true)
	cfg := testConfig()
	cfg.Retry.InteractiveAttempts = 2
	gw := newGateway(t, x, cfg)

	_, err := gw.FetchOrStale(context.Background(), api.SymbolsSpec(request.Interactive), time.Hour)
	if err == nil {
		t.Fatal("FetchOrStale() should fail without a cached entry")
	}
	if got := x.calls.Load(); got != 2 {
		t.Errorf("exchange calls = %d, want 2", got)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	gw := newGateway(t, &exchange{}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Fetch(ctx, api.TickersSpec(request.Interactive))
	if !fault.Is(err, fault.TimedOut) {
		t.Errorf("err = %v, want timed out", err)
	}
}

func TestFetchTickers(t *testing.T) {
	x := &exchange{}
	gw := newGateway(t, x, testConfig())

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	got, err := gw.FetchTickers(context.Background(), symbols)
	if err != nil {
		t.Fatalf("FetchTickers() error = %v", err)
	}
	for _, s := range symbols {
		if got[s].Symbol != s {
			t.Errorf("ticker[%s] = %+v", s, got[s])
		}
	}
	if calls := x.routeCalls(api.RouteTickers); calls != 3 {
		t.Errorf("ticker calls = %d, want 3", calls)
	}
}

func TestWarm(t *testing.T) {
	x := &exchange{}
	cfg := testConfig()
	cfg.Schedule = []Schedule{
		{Kind: "tickers", Interval: time.Hour},
		{Kind: "symbols", Interval: time.Hour},
	}
	gw := newGateway(t, x, cfg)

	if err := gw.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}

	if x.routeCalls(api.RouteTickers) != 1 || x.routeCalls(api.RouteSymbols) != 1 {
		t.Errorf("routes = %v", x.routes)
	}
	if entries := gw.Stats().Cache.Entries; entries != 2 {
		t.Errorf("cache entries = %d, want 2", entries)
	}

	// Served from the warmed cache.
	if _, err := gw.GetSymbols(context.Background()); err != nil {
		t.Fatalf("GetSymbols() error = %v", err)
	}
	if got := x.routeCalls(api.RouteSymbols); got != 1 {
		t.Errorf("symbol calls = %d, want 1", got)
	}
}

func TestMonitorsAndHealth(t *testing.T) {
	var busy atomic.Bool
	db := monitor.StatsFunc(func() api.PoolStats {
		if busy.Load() {
			return api.PoolStats{Active: 9, Idle: 1, Max: 10}
		}
		return api.PoolStats{Active: 1, Idle: 9, Max: 10}
	})

	var alerts atomic.Int64
	var samples atomic.Int64
	gw := newGateway(t, &exchange{}, testConfig(),
		WithClock(clock.NewMock()),
		WithPool("timescale", db),
		WithAlertHandler(func(model.Breach) { alerts.Add(1) }),
		WithSampleHandler(func(model.PoolSample) { samples.Add(1) }),
	)

	monitors := gw.Monitors()
	if len(monitors) != 3 {
		t.Fatalf("monitors = %d, want 3", len(monitors))
	}
	if !gw.Healthy() {
		t.Error("gateway should be healthy after Start")
	}

	busy.Store(true)
	for i := 0; i < 3; i++ {
		for _, m := range monitors {
			m.Sample()
		}
	}

	if got := alerts.Load(); got != 1 {
		t.Errorf("alerts = %d, want 1", got)
	}
	if got := samples.Load(); got != 9 {
		t.Errorf("samples = %d, want 9", got)
	}
	if gw.Healthy() {
		t.Error("gateway should be unhealthy while a pool is in breach")
	}

	stats := gw.Stats()
	if !stats.Degraded {
		t.Error("Stats().Degraded should be true")
	}
	for _, pool := range []string{PoolExchange, PoolQueue, "timescale"} {
		if _, ok := stats.Pools[pool]; !ok {
			t.Errorf("Stats().Pools missing %q", pool)
		}
	}
	if got := stats.Pools["timescale"].UtilizationPct; got != 90 {
		t.Errorf("timescale utilization = %v, want 90", got)
	}
	if len(stats.Running) != stats.Tasks {
		t.Errorf("Stats().Running = %d tasks, want %d", len(stats.Running), stats.Tasks)
	}
	sweeper := false
	for _, info := range stats.Running {
		if info.Kind == "cache-sweeper" {
			sweeper = true
		}
	}
	if !sweeper {
		t.Errorf("Stats().Running = %+v, missing cache-sweeper", stats.Running)
	}

	history, ok := gw.PoolHistory("timescale")
	if !ok || len(history.Samples) != 3 || len(history.Breaches) != 1 {
		t.Errorf("PoolHistory(timescale) = %+v, %v", history, ok)
	}
	if history.Retained.TotalPushed != 3 {
		t.Errorf("Retained.TotalPushed = %d, want 3", history.Retained.TotalPushed)
	}
	if _, ok := gw.PoolHistory("redis"); ok {
		t.Error("PoolHistory(redis) should report an unknown pool")
	}

	busy.Store(false)
	for _, m := range monitors {
		m.Sample()
	}
	if !gw.Healthy() {
		t.Error("gateway should recover once utilization drops")
	}
}

func TestShutdown(t *testing.T) {
	x := &exchange{}
	cfg := testConfig()
	cfg.Schedule = []Schedule{{Kind: "tickers", Interval: 5 * time.Second}}

	server := httptest.NewServer(x)
	defer server.Close()

	gw := New(cfg, api.NewClient(server.URL, 16), WithClock(clock.NewMock()))
	if gw.Healthy() {
		t.Error("gateway should not be healthy before Start")
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if gw.Tracker().Len() == 0 {
		t.Fatal("no tasks registered after Start")
	}

	_, stillRunning := gw.Shutdown(time.Second)
	if stillRunning != 0 {
		t.Errorf("still running = %d, want 0", stillRunning)
	}
	if n := gw.Tracker().Len(); n != 0 {
		t.Errorf("tasks after Shutdown = %d, want 0", n)
	}
	if gw.Healthy() {
		t.Error("gateway should not be healthy after Shutdown")
	}

	_, err := gw.Fetch(context.Background(), api.TickersSpec(request.Interactive))
	if !errors.Is(err, fault.ErrClosed) {
		t.Errorf("Fetch after Shutdown error = %v, want ErrClosed", err)
	}
	if err := gw.Start(context.Background()); err == nil {
		t.Error("Start after Shutdown should fail")
	}

	if c, s := gw.Shutdown(time.Second); c != 0 || s != 0 {
		t.Errorf("second Shutdown = (%d, %d), want (0, 0)", c, s)
	}
}
