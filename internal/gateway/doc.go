// Package gateway is the single entry point for exchange data.
//
// A Gateway composes the response cache, the request queue, the retry policy,
// the refresh worker pool and the connection pool monitors behind a small
// API:
//
//	gw := gateway.New(gateway.ConfigFrom(cfg), client)
//	if err := gw.Start(ctx); err != nil { ... }
//	defer gw.Shutdown(10 * time.Second)
//
//	tickers, err := gw.GetTickers(ctx)
//	res, err := gw.FetchOrStale(ctx, api.SymbolsSpec(request.Interactive), 2*time.Minute)
//
// Fetch answers from the cache when the entry is fresh and otherwise goes
// through the queue, where concurrent identical requests share one exchange
// call. FetchOrStale falls back to an expired entry, within a staleness bound,
// when the live call fails.
//
// Every background goroutine the gateway starts is registered with its task
// tracker; Shutdown reports how many tasks were cancelled and how many did not
// stop in time.
package gateway
