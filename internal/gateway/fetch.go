package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/fault"
	"github.com/rickgao/exchange-gateway/internal/model"
	"github.com/rickgao/exchange-gateway/internal/request"
)

// Result is a payload served by FetchOrStale.
type Result struct {
	Payload []byte
	Stale   bool          // served from an expired cache entry
	Age     time.Duration // age of the cached entry when Stale
}

// Fetch returns the payload for spec: from the cache when the entry is
// fresh, otherwise from the exchange through the request queue. The
// deadline of ctx, if any, is the request deadline.
func (g *Gateway) Fetch(ctx context.Context, spec request.Spec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fault.Error{Kind: fault.TimedOut, Route: spec.Route(), Err: err}
	}

	if e, ok := g.cache.Get(spec.Fingerprint()); ok {
		g.logger.Debug("cache hit", "route", spec.Route(), "fingerprint", spec.Fingerprint())
		return e.Payload, nil
	}

	deadline, _ := ctx.Deadline()
	fut, err := g.queue.Submit(spec, deadline)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// FetchOrStale is Fetch with a degraded mode: when the live fetch fails it
// serves the last cached payload for spec, even past its TTL, as long as it
// is no older than maxStaleness. Otherwise the fetch error is returned.
func (g *Gateway) FetchOrStale(ctx context.Context, spec request.Spec, maxStaleness time.Duration) (Result, error) {
	payload, err := g.Fetch(ctx, spec)
	if err == nil {
		return Result{Payload: payload}, nil
	}

	e, ok := g.cache.Lookup(spec.Fingerprint())
	if !ok {
		return Result{}, err
	}
	age := e.Age(g.clock.Now())
	if age > maxStaleness {
		return Result{}, err
	}

	g.logger.Warn("serving stale payload",
		"route", spec.Route(),
		"fingerprint", spec.Fingerprint(),
		"age", age,
		"kind", fault.KindOf(err),
		"error", err,
	)
	return Result{Payload: e.Payload, Stale: true, Age: age}, nil
}

// GetTickers returns every spot ticker.
func (g *Gateway) GetTickers(ctx context.Context) ([]model.Ticker, error) {
	body, err := g.Fetch(ctx, api.TickersSpec(request.Interactive))
	if err != nil {
		return nil, err
	}
	return api.DecodeTickers(body)
}

// GetTicker returns the ticker of one symbol.
func (g *Gateway) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	body, err := g.Fetch(ctx, api.TickerSpec(symbol, request.Interactive))
	if err != nil {
		return model.Ticker{}, err
	}
	tickers, err := api.DecodeTickers(body)
	if err != nil {
		return model.Ticker{}, err
	}
	for _, t := range tickers {
		if t.Symbol == symbol {
			return t, nil
		}
	}
	return model.Ticker{}, fmt.Errorf("ticker %s not found", symbol)
}

// GetSymbols returns the spot symbol list.
func (g *Gateway) GetSymbols(ctx context.Context) ([]model.Symbol, error) {
	body, err := g.Fetch(ctx, api.SymbolsSpec(request.Interactive))
	if err != nil {
		return nil, err
	}
	return api.DecodeSymbols(body)
}

// GetCandles returns the latest limit candles of symbol.
func (g *Gateway) GetCandles(ctx context.Context, symbol, granularity string, limit int) ([]model.Candle, error) {
	body, err := g.Fetch(ctx, api.CandlesSpec(symbol, granularity, limit, request.Interactive))
	if err != nil {
		return nil, err
	}
	return api.DecodeCandles(body)
}

// GetBalances returns account balances, optionally for one coin.
func (g *Gateway) GetBalances(ctx context.Context, coin string) ([]model.Balance, error) {
	body, err := g.Fetch(ctx, api.AssetsSpec(coin))
	if err != nil {
		return nil, err
	}
	return api.DecodeBalances(body)
}

// FetchTickers fetches the tickers of symbols concurrently, at most the
// queue's concurrency at a time. It fails on the first error.
func (g *Gateway) FetchTickers(ctx context.Context, symbols []string) (map[string]model.Ticker, error) {
	results := make([]model.Ticker, len(symbols))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(g.cfg.Queue.Concurrency, 1))
	for i, symbol := range symbols {
		eg.Go(func() error {
			t, err := g.GetTicker(ctx, symbol)
			if err != nil {
				return fmt.Errorf("ticker %s: %w", symbol, err)
			}
			results[i] = t
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]model.Ticker, len(symbols))
	for i, symbol := range symbols {
		out[symbol] = results[i]
	}
	return out, nil
}

// Warm runs every scheduled refresh job once and waits for the results.
func (g *Gateway) Warm(ctx context.Context) error {
	var errs []error
	seen := make(map[string]bool)
	for _, s := range g.cfg.Schedule {
		if seen[s.Kind] {
			continue
		}
		seen[s.Kind] = true
		if err := g.workers.RunOnce(ctx, s.Kind); err != nil {
			errs = append(errs, fmt.Errorf("warm %s: %w", s.Kind, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	g.logger.Info("cache warmed", "jobs", len(seen))
	return nil
}
