// Package api is the HTTP transport to the exchange REST API.
//
// REST endpoints (spot, v2):
//   - Production: https://api.bitget.com
//
// Routes used by the gateway:
//   - /api/v2/spot/market/tickers   (public)
//   - /api/v2/spot/public/symbols   (public)
//   - /api/v2/spot/market/candles   (public)
//   - /api/v2/spot/account/assets   (private, signed)
//
// The client performs exactly one HTTP exchange per Do call. Retries,
// rate limiting and caching live in the request queue, not here. The client
// tracks its own connections so the pool monitor can sample utilization.
package api
