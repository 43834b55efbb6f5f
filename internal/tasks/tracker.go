package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
)

// ErrClosed is returned by Go once CancelAll has been called.
var ErrClosed = errors.New("task tracker closed")

// Func is the body of a tracked task. It must return once ctx is done.
type Func func(ctx context.Context) error

// Handle identifies a running task.
type Handle struct {
	id        string
	kind      string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// ID returns the task's unique identifier.
func (h *Handle) ID() string { return h.id }

// Kind returns the label the task was spawned with.
func (h *Handle) Kind() string { return h.kind }

// StartedAt returns when the task was registered.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Cancel signals the task to stop. It does not wait.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the task function has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task's result. Valid after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Info is a point-in-time description of a tracked task.
type Info struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	StartedAt time.Time     `json:"started_at"`
	Age       time.Duration `json:"age"`
}

// Tracker is the registry of background tasks.
type Tracker struct {
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*Handle
	closed bool
}

// New creates a Tracker. A nil clock uses the wall clock.
func New(clk clock.Clock, logger *slog.Logger) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		clock:  clk,
		logger: logger,
		tasks:  make(map[string]*Handle),
	}
}

// Go registers and starts fn in a new goroutine. The task's context is
// derived from ctx and is also cancelled by Handle.Cancel or CancelAll.
// The task is unregistered when fn returns.
func (t *Tracker) Go(ctx context.Context, kind string, fn Func) (*Handle, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:        uuid.NewString(),
		kind:      kind,
		startedAt: t.clock.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	t.tasks[h.id] = h
	t.mu.Unlock()

	go t.run(taskCtx, h, fn)
	return h, nil
}

func (t *Tracker) run(ctx context.Context, h *Handle, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			h.setErr(fmt.Errorf("task panic: %v", r))
			t.logger.Error("task panicked", "id", h.id, "kind", h.kind, "panic", r)
		}
		h.cancel()
		t.unregister(h.id)
		close(h.done)
	}()

	err := fn(ctx)
	h.setErr(err)
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		t.logger.Error("task failed", "id", h.id, "kind", h.kind, "error", err)
	}
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

func (t *Tracker) unregister(id string) {
	t.mu.Lock()
	delete(t.tasks, id)
	t.mu.Unlock()
}

// Len returns the number of registered tasks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Snapshot lists the registered tasks, oldest first.
func (t *Tracker) Snapshot() []Info {
	now := t.clock.Now()

	t.mu.Lock()
	out := make([]Info, 0, len(t.tasks))
	for _, h := range t.tasks {
		out = append(out, Info{ID: h.id, Kind: h.kind, StartedAt: h.startedAt, Age: now.Sub(h.startedAt)})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Closed reports whether CancelAll has been called.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CancelAll stops accepting new tasks, cancels every registered task and
// waits up to timeout for them to return. It reports how many tasks were
// signalled and how many were still running when the timeout elapsed.
// Tasks still running are removed from the registry and logged.
func (t *Tracker) CancelAll(timeout time.Duration) (cancelled, stillRunning int) {
	t.mu.Lock()
	t.closed = true
	handles := make([]*Handle, 0, len(t.tasks))
	for _, h := range t.tasks {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	cancelled = len(handles)
	if cancelled == 0 {
		return 0, 0
	}

	allDone := make(chan struct{})
	go func() {
		for _, h := range handles {
			<-h.done
		}
		close(allDone)
	}()

	if timeout > 0 {
		timer := t.clock.Timer(timeout)
		defer timer.Stop()
		select {
		case <-allDone:
		case <-timer.C:
		}
	}

	now := t.clock.Now()
	for _, h := range handles {
		select {
		case <-h.done:
			continue
		default:
		}
		stillRunning++
		t.unregister(h.id)
		t.logger.Warn("task did not stop before shutdown timeout",
			"id", h.id,
			"kind", h.kind,
			"age", now.Sub(h.startedAt),
		)
	}

	t.logger.Info("tasks cancelled",
		"cancelled", cancelled,
		"still_running", stillRunning,
	)
	return cancelled, stillRunning
}
