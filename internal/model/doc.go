// Package model defines the typed payloads served by the exchange gateway and
// the observability records produced alongside them.
//
// Conventions:
//   - Prices, sizes and balances: decimal.Decimal, never float64
//   - Exchange timestamps: int64 milliseconds since Unix epoch, as sent by the exchange
//   - Observability records: time.Time
package model
