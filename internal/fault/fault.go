// Package fault defines the gateway's error taxonomy.
//
// Every error that leaves the gateway maps to one Kind. Transient and
// RateLimited errors are retried inside the request queue; Fatal, Overloaded
// and TimedOut are surfaced to the caller unchanged.
package fault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/rickgao/exchange-gateway/internal/api"
)

// Kind classifies a failure.
type Kind int

const (
	Transient Kind = iota
	RateLimited
	Fatal
	Overloaded
	TimedOut
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Fatal:
		return "fatal"
	case Overloaded:
		return "overloaded"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether the queue may retry errors of this kind.
func (k Kind) Retryable() bool {
	return k == Transient || k == RateLimited
}

// Sentinel errors.
var (
	// ErrOverloaded is returned by Submit when the backlog is full.
	ErrOverloaded = errors.New("request queue overloaded")
	// ErrTimedOut is returned when a caller's deadline passes.
	ErrTimedOut = errors.New("request deadline exceeded")
	// ErrClosed is returned once shutdown has begun.
	ErrClosed = errors.New("gateway closed")
)

// Error is a terminal failure for one route.
type Error struct {
	Kind     Kind
	Route    string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s %s after %d attempt(s): %v", e.Kind, e.Route, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Route, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, classifying it if it is not already an *Error.
func KindOf(err error) Kind {
	k, _ := Classify(err)
	return k
}

// Is reports whether err is of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Classify maps err to a Kind and returns the provider's retry hint, if any.
func Classify(err error) (Kind, time.Duration) {
	if err == nil {
		return Transient, 0
	}

	var fe *Error
	if errors.As(err, &fe) {
		var apiErr *api.APIError
		if errors.As(fe.Err, &apiErr) {
			return fe.Kind, apiErr.RetryAfter
		}
		return fe.Kind, 0
	}

	switch {
	case errors.Is(err, ErrOverloaded):
		return Overloaded, 0
	case errors.Is(err, ErrTimedOut):
		return TimedOut, 0
	case errors.Is(err, ErrClosed):
		return Fatal, 0
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimited():
			return RateLimited, apiErr.RetryAfter
		case apiErr.StatusCode >= 500:
			return Transient, 0
		default:
			return Fatal, 0
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Fatal, 0
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if errors.Is(urlErr.Err, context.Canceled) {
			return TimedOut, 0
		}
		return Transient, 0
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TimedOut, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient, 0
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return Transient, 0
	}

	return Fatal, 0
}
