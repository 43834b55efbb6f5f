package api

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// PoolStats describes the transport's connection pool at an instant.
type PoolStats struct {
	Active int // Connections carrying a request
	Idle   int // Open connections parked in the keep-alive pool
	Max    int // Per-host connection cap (0 = unlimited)
}

// connTracker counts open connections (via the dialer) and active ones
// (via httptrace GotConn until the response body is consumed).
type connTracker struct {
	max    int
	open   atomic.Int64
	active atomic.Int64
}

func (t *connTracker) dialContext(d *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		t.open.Add(1)
		return &trackedConn{Conn: conn, tracker: t}, nil
	}
}

func (t *connTracker) acquire() { t.active.Add(1) }
func (t *connTracker) release() { t.active.Add(-1) }

func (t *connTracker) stats() PoolStats {
	open := int(t.open.Load())
	active := int(t.active.Load())
	if active > open {
		active = open
	}
	return PoolStats{
		Active: active,
		Idle:   open - active,
		Max:    t.max,
	}
}

type trackedConn struct {
	net.Conn
	tracker *connTracker
	once    sync.Once
}

func (c *trackedConn) Close() error {
	c.once.Do(func() { c.tracker.open.Add(-1) })
	return c.Conn.Close()
}
