package api

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rickgao/exchange-gateway/internal/auth"
)

// Client provides access to the exchange REST API.
type Client struct {
	baseURL    string
	creds      *auth.Credentials
	httpClient *http.Client
	logger     *slog.Logger
	conns      *connTracker

	throttleCodes map[string]struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. The transport is owned by the
// client; its pool is capped at maxConnsPerHost and sampled through PoolStats.
func NewClient(baseURL string, maxConnsPerHost int, opts ...ClientOption) *Client {
	conns := &connTracker{max: maxConnsPerHost}
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         conns.dialContext(dialer),
				MaxConnsPerHost:     maxConnsPerHost,
				MaxIdleConns:        maxConnsPerHost,
				MaxIdleConnsPerHost: maxConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				// HTTP/1.1 only: one request per connection keeps the
				// active/idle accounting exact.
				ForceAttemptHTTP2: false,
			},
		},
		logger: slog.Default(),
		conns:  conns,
		throttleCodes: map[string]struct{}{
			"429": {},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxIdleConns caps the idle keep-alive connections kept per host.
func WithMaxIdleConns(n int) ClientOption {
	return func(c *Client) {
		if t, ok := c.httpClient.Transport.(*http.Transport); ok && n > 0 {
			t.MaxIdleConns = n
			t.MaxIdleConnsPerHost = n
		}
	}
}

// WithCredentials enables signing of private routes.
func WithCredentials(creds *auth.Credentials) ClientOption {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithThrottleCodes sets the envelope codes the exchange uses to signal
// throttling, replacing the default set.
func WithThrottleCodes(codes ...string) ClientOption {
	return func(c *Client) {
		c.throttleCodes = make(map[string]struct{}, len(codes))
		for _, code := range codes {
			c.throttleCodes[code] = struct{}{}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// PoolStats returns the current connection usage of the client's transport.
func (c *Client) PoolStats() PoolStats {
	return c.conns.stats()
}

// CloseIdleConnections closes idle keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
