package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rickgao/exchange-gateway/internal/version"
)

// ErrNoCredentials is returned for a private request on a client built
// without credentials.
var ErrNoCredentials = errors.New("private route requires credentials")

// APIError represents an error reply from the exchange.
type APIError struct {
	StatusCode int
	Code       string // Exchange envelope code, if the body carried one
	Message    string
	Body       []byte

	// Throttled is set when the reply carries a configured throttle code,
	// even if the HTTP status is not 429.
	Throttled bool

	// RetryAfter is the provider hint from the Retry-After header (0 = none).
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("exchange api error %d (code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange api error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether the exchange asked us to slow down.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Throttled
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.IsRateLimited()
}

// Do performs a single HTTP exchange. Replies with status >= 400, or whose
// envelope carries a code other than SuccessCode, are returned as *APIError.
// Envelope codes in the throttle set are marked Throttled.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	requestPath := req.Path
	if len(req.Query) > 0 {
		requestPath += "?" + req.Query.Encode()
	}

	var gotConn atomic.Bool
	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) {
			if gotConn.CompareAndSwap(false, true) {
				c.conns.acquire()
			}
		},
	}
	defer func() {
		if gotConn.Load() {
			c.conns.release()
		}
	}()

	httpReq, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, c.baseURL+requestPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if req.Private {
		if c.creds == nil {
			return nil, ErrNoCredentials
		}
		for k, v := range c.creds.SignRequest(method, requestPath, nil) {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	env := peekEnvelope(body)
	_, throttled := c.throttleCodes[env.Code]
	rejected := env.Code != "" && env.Code != SuccessCode

	if resp.StatusCode >= 400 || rejected {
		msg := env.Msg
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    msg,
			Body:       body,
			Throttled:  throttled,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Request is one outbound HTTP call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Private bool
}

// Response is a successful reply.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}
