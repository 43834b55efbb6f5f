package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// Ticker is a 24h rolling ticker for one symbol.
type Ticker struct {
	Symbol      string          // e.g. "BTCUSDT"
	Last        decimal.Decimal // Last traded price
	Bid         decimal.Decimal // Best bid
	Ask         decimal.Decimal // Best ask
	Open24h     decimal.Decimal
	High24h     decimal.Decimal
	Low24h      decimal.Decimal
	BaseVolume  decimal.Decimal // 24h volume in base coin
	QuoteVolume decimal.Decimal // 24h volume in quote coin
	Change24h   decimal.Decimal // Fractional change, 0.0123 = +1.23%
	Timestamp   int64           // Exchange time (ms)
}

// Spread returns Ask - Bid, or zero when either side is missing.
func (t Ticker) Spread() decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return decimal.Zero
	}
	return t.Ask.Sub(t.Bid)
}

// Symbol is the trading metadata of a spot pair.
type Symbol struct {
	Symbol            string
	BaseCoin          string
	QuoteCoin         string
	Status            string // "online", "offline", "halt", "gray"
	MinTradeAmount    decimal.Decimal
	PricePrecision    int
	QuantityPrecision int
}

// Online reports whether the symbol is currently tradeable.
func (s Symbol) Online() bool {
	return s.Status == "online"
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime    int64 // Exchange time (ms)
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	BaseVolume  decimal.Decimal
	QuoteVolume decimal.Decimal
}

// Balance is the account balance for one coin.
type Balance struct {
	Coin      string
	Available decimal.Decimal
	Frozen    decimal.Decimal
	Locked    decimal.Decimal
	UpdatedAt int64 // Exchange time (ms)
}

// Total returns available + frozen + locked.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Frozen).Add(b.Locked)
}

// -----------------------------------------------------------------------------
// Observability
// -----------------------------------------------------------------------------

// PoolSample is a point-in-time reading of a connection pool.
type PoolSample struct {
	Pool           string    `json:"pool"`
	Timestamp      time.Time `json:"timestamp"`
	Active         int       `json:"active_connections"`
	Idle           int       `json:"idle_connections"`
	Max            int       `json:"max_connections"`
	UtilizationPct float64   `json:"utilization_pct"`
}

// Breach records a sustained utilization above the monitor threshold.
type Breach struct {
	Pool           string    `json:"pool"`
	At             time.Time `json:"at"`
	UtilizationPct float64   `json:"utilization_pct"`
	ThresholdPct   float64   `json:"threshold_pct"`
	Consecutive    int       `json:"consecutive"`
}
