// Package worker implements the Worker Pool.
//
// The pool runs a fixed number of worker loops. Schedules registered with
// Schedule fire on their own interval and hand a tick to an idle worker,
// which builds the job's request specs from the catalog and submits them to
// the request queue at background priority. Results are not returned to
// anyone; a refresh only warms the response cache.
//
// A tick that finds every worker busy is skipped, and a job whose submission
// is rejected as overloaded gives up for that tick. Missed ticks are never
// caught up.
package worker
