// Package monitor implements the Connection Pool Monitor.
//
// A Monitor samples one connection pool on a fixed interval and keeps the
// most recent samples in a ring. When utilization stays above the threshold
// for Consecutive samples in a row it records a breach and calls the
// registered alert callbacks, once per episode. It only observes; nothing it
// does changes how the pool or the request queue behave.
package monitor
