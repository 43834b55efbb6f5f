// Package tasks implements the Task Tracker.
//
// Every goroutine the gateway starts in the background (dispatcher loops,
// scheduled worker iterations, monitors, the cache sweeper) is spawned through
// Tracker.Go, which registers it before it runs and removes it when it returns.
// There is no other way to obtain a Handle, so an untracked task cannot exist.
//
// On shutdown CancelAll cancels every registered task and waits a bounded time
// for them to return. Tasks still running after the timeout are detached,
// logged, and reported to the caller.
package tasks
