package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/fault"
	"github.com/rickgao/exchange-gateway/internal/retry"
)

// dispatch is one dispatcher loop. It pops jobs, interactive first, waits
// for a slot and a token, then hands the job to a tracked call task.
func (q *Queue) dispatch(ctx context.Context) error {
	for {
		j, ok := q.next(ctx)
		if !ok {
			return nil
		}
		q.depth.Add(-1)

		jctx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(j.flight.Context(), cancel)

		if err := q.acquire(jctx); err != nil {
			stop()
			cancel()
			q.finish(j, 0, q.cancelError(ctx, j, 0, err))
			continue
		}

		_, err := q.tracker.Go(jctx, "call", func(callCtx context.Context) error {
			defer cancel()
			defer stop()
			q.call(callCtx, j)
			return nil
		})
		if err != nil {
			q.releaseSlot()
			stop()
			cancel()
			q.finish(j, 0, closedError(j.spec, 0))
		}
	}
}

func (q *Queue) next(ctx context.Context) (*job, bool) {
	select {
	case j := <-q.interactive:
		return j, true
	default:
	}

	select {
	case <-ctx.Done():
		return nil, false
	case j := <-q.interactive:
		return j, true
	case j := <-q.background:
		return j, true
	}
}

// acquire takes a concurrency slot, then a rate-limit token. On success the
// caller owns one slot.
func (q *Queue) acquire(ctx context.Context) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	q.inFlight.Add(1)

	if err := q.limiter.Wait(ctx); err != nil {
		q.releaseSlot()
		return err
	}
	return nil
}

func (q *Queue) releaseSlot() {
	q.inFlight.Add(-1)
	q.sem.Release(1)
}

// call runs the attempt loop for one job. The caller has already acquired
// the slot for the first attempt.
func (q *Queue) call(ctx context.Context, j *job) {
	started := q.clock.Now()
	req := api.Request{
		Path:    j.spec.Route(),
		Query:   j.spec.Query(),
		Private: j.spec.IsPrivate(),
	}

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if err := q.acquire(ctx); err != nil {
				q.finish(j, attempt-1, q.cancelError(ctx, j, attempt-1, err))
				return
			}
		}

		resp, err := q.attempt(ctx, j, req)
		q.releaseSlot()

		if err == nil {
			q.succeed(j, attempt, resp.Body)
			return
		}

		if ctx.Err() != nil {
			q.finish(j, attempt, q.cancelError(ctx, j, attempt, err))
			return
		}

		kind, hint := fault.Classify(err)
		now := q.clock.Now()
		decision := q.policy.Decide(retry.Input{
			Kind:       kind,
			RetryAfter: hint,
			Attempt:    attempt,
			Elapsed:    now.Sub(started),
			Remaining:  j.flight.Deadline().Sub(now),
			Priority:   j.spec.Priority(),
		})
		if !decision.Retry {
			if decision.Reason == retry.ReasonDeadline {
				kind = fault.TimedOut
			}
			q.logger.Debug("giving up",
				"route", j.spec.Route(),
				"fingerprint", j.spec.Fingerprint(),
				"attempt", attempt,
				"kind", kind.String(),
				"reason", decision.Reason,
				"error", err,
			)
			q.finish(j, attempt, &fault.Error{Kind: kind, Route: j.spec.Route(), Attempts: attempt, Err: err})
			return
		}

		q.retries.Add(1)
		q.logger.Debug("retrying request",
			"route", j.spec.Route(),
			"attempt", attempt,
			"kind", kind.String(),
			"delay", decision.Delay,
			"error", err,
		)

		if !q.sleep(ctx, decision.Delay) {
			q.finish(j, attempt, q.cancelError(ctx, j, attempt, err))
			return
		}
	}
}

// attempt performs one call bounded by the flight's current deadline.
func (q *Queue) attempt(ctx context.Context, j *job, req api.Request) (*api.Response, error) {
	remaining := j.flight.Deadline().Sub(q.clock.Now())
	if remaining <= 0 {
		return nil, fault.ErrTimedOut
	}
	actx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	return q.transport.Do(actx, req)
}

// sleep waits for d on the queue's clock. It returns false if ctx ends first.
func (q *Queue) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := q.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// cancelError explains why a job stopped without a terminal result: every
// subscriber left, or the queue is shutting down.
func (q *Queue) cancelError(ctx context.Context, j *job, attempts int, cause error) error {
	if j.flight.Abandoned() {
		return &fault.Error{Kind: fault.TimedOut, Route: j.spec.Route(), Attempts: attempts, Err: fault.ErrTimedOut}
	}
	if errors.Is(cause, fault.ErrTimedOut) {
		return &fault.Error{Kind: fault.TimedOut, Route: j.spec.Route(), Attempts: attempts, Err: cause}
	}
	return closedError(j.spec, attempts)
}

// finish fails the job's flight with err.
func (q *Queue) finish(j *job, attempts int, err error) {
	switch {
	case fault.Is(err, fault.TimedOut):
		// Abandoned flights were already counted by the futures that left.
		if !j.flight.Abandoned() {
			q.timedOut.Add(1)
		}
	case errors.Is(err, fault.ErrClosed):
		q.logger.Debug("request cancelled by shutdown", "route", j.spec.Route(), "attempts", attempts)
	default:
		q.failed.Add(1)
		q.logger.Warn("request failed",
			"route", j.spec.Route(),
			"fingerprint", j.spec.Fingerprint(),
			"attempts", attempts,
			"error", err,
		)
	}
	q.cache.CompleteFetch(j.flight, nil, 0, err)
}

// succeed caches body under the spec's class TTL, resolves the flight and
// runs the result hooks.
func (q *Queue) succeed(j *job, attempts int, body []byte) {
	q.succeeded.Add(1)
	q.cache.CompleteFetch(j.flight, body, q.cache.TTL(j.spec.CacheClass()), nil)

	q.logger.Debug("request completed",
		"route", j.spec.Route(),
		"attempts", attempts,
		"duration", q.clock.Now().Sub(j.enqueued),
	)

	for _, h := range q.hooks {
		h(j.spec, body)
	}
}
