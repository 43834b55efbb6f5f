// Package queue implements the Request Queue.
//
// Every exchange call goes through Submit. A submission first joins the
// response cache's single-flight table: callers asking for a fingerprint that
// is already being fetched share that fetch and consume neither a concurrency
// slot nor a rate-limit token. Otherwise the job enters a bounded backlog and
// is picked up by one of a fixed set of dispatcher loops.
//
// A dispatcher moves a job from pending to running only after it holds both a
// concurrency slot (golang.org/x/sync/semaphore) and a rate-limit token
// (golang.org/x/time/rate). Interactive jobs are popped before background
// ones. Failed attempts are classified and handed to the retry policy; the
// slot is released while waiting out the backoff.
//
// When the backlog is full Submit fails fast with fault.ErrOverloaded.
package queue
