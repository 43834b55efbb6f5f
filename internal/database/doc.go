// Package database connects to the optional TimescaleDB instance that stores
// connection pool samples and threshold breaches.
//
// The pgx pool it opens is itself a monitored pool: PoolAdapter exposes its
// statistics in the same shape as the exchange client's, so a second
// ConnectionPoolMonitor can sample it.
package database
