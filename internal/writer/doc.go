// Package writer persists connection pool samples and threshold breaches to
// TimescaleDB.
//
// Rows are batched and written with pgx.Batch either when the batch is full
// or on a flush interval. Writes are append-only; a sample already stored for
// the same pool and timestamp is skipped.
package writer
