package fault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/rickgao/exchange-gateway/internal/api"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	var syntaxErr error
	if err := json.Unmarshal([]byte("{"), &struct{}{}); err != nil {
		syntaxErr = fmt.Errorf("unmarshal: %w", err)
	}

	tests := []struct {
		name     string
		err      error
		want     Kind
		wantHint time.Duration
	}{
		{"429", &api.APIError{StatusCode: 429, RetryAfter: 2 * time.Second}, RateLimited, 2 * time.Second},
		{"throttle code", &api.APIError{StatusCode: 200, Throttled: true}, RateLimited, 0},
		{"503", &api.APIError{StatusCode: 503}, Transient, 0},
		{"404", &api.APIError{StatusCode: 404}, Fatal, 0},
		{"400 wrapped", fmt.Errorf("get tickers: %w", &api.APIError{StatusCode: 400}), Fatal, 0},
		{"overloaded", fmt.Errorf("submit: %w", ErrOverloaded), Overloaded, 0},
		{"timed out", ErrTimedOut, TimedOut, 0},
		{"closed", ErrClosed, Fatal, 0},
		{"net timeout", &url.Error{Op: "Get", URL: "x", Err: timeoutErr{}}, Transient, 0},
		{"connection reset", fmt.Errorf("do request: %w", syscall.ECONNRESET), Transient, 0},
		{"unexpected eof", io.ErrUnexpectedEOF, Transient, 0},
		{"url error", &url.Error{Op: "Get", URL: "x", Err: errors.New("no such host")}, Transient, 0},
		{"malformed json", syntaxErr, Fatal, 0},
		{"deadline", context.DeadlineExceeded, TimedOut, 0},
		{"unknown", errors.New("boom"), Fatal, 0},
		{"already classified", &Error{Kind: RateLimited, Err: &api.APIError{StatusCode: 429, RetryAfter: time.Second}}, RateLimited, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, hint := Classify(tt.err)
			if kind != tt.want {
				t.Errorf("Classify() kind = %s, want %s", kind, tt.want)
			}
			if hint != tt.wantHint {
				t.Errorf("Classify() hint = %v, want %v", hint, tt.wantHint)
			}
		})
	}
}

func TestError(t *testing.T) {
	err := &Error{
		Kind:     Transient,
		Route:    "/api/v2/spot/market/tickers",
		Attempts: 3,
		Err:      &api.APIError{StatusCode: 502, Message: "Bad Gateway"},
	}

	want := "transient /api/v2/spot/market/tickers after 3 attempt(s): exchange api error 502: Bad Gateway"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Error("Error should unwrap to *api.APIError")
	}
	if !Is(fmt.Errorf("fetch: %w", err), Transient) {
		t.Error("Is(wrapped, Transient) = false")
	}
	if Is(nil, Transient) {
		t.Error("Is(nil) should be false")
	}
}

func TestKindRetryable(t *testing.T) {
	for k, want := range map[Kind]bool{
		Transient:   true,
		RateLimited: true,
		Fatal:       false,
		Overloaded:  false,
		TimedOut:    false,
	} {
		if got := k.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", k, got, want)
		}
	}
}
