// Package cache implements the gateway's response cache.
//
// Entries are keyed by request fingerprint and carry a per-class TTL. Reads
// through Get only return fresh entries; Lookup also returns expired entries
// so callers can serve stale data when the exchange is unavailable. Expired
// entries stay in memory for a grace window after their last read, and the
// total entry count is capped with least-recently-read eviction.
//
// The cache also owns the single-flight table: BeginFetch hands out at most
// one leader Flight per fingerprint, and every concurrent caller for that
// fingerprint joins the same Flight until CompleteFetch resolves it.
package cache
