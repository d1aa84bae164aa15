// Package engine implements the event-engine contract the supervisor
// consumes (spec.md §6): a fast work queue, idle-connection accounting, a
// shutdown flag, and per-engine identity. Two backends are registered
// under the "engine" service category: "goroutine", a single goroutine
// draining the fast work queue (the default, and the only one available
// off Linux), and "poller", which additionally reaps idle connections via
// epoll on Linux.
package engine

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	cerrors "unitgo/errors"
)

// Work is a unit of work enqueued on an engine's fast work queue — a
// continuation in the sense of spec.md §5: startup stages, thread-pool
// teardown completion, and worker-registration all run as one of these.
type Work func(context.Context)

// Engine is one event loop. Each supervisor process (master, single, or
// re-exec'd worker) runs one main engine, replaced only by the post-daemonize
// rebuild, and never touches its internals directly, only through this
// contract.
type Engine struct {
	id      uint32
	name    string
	batch   bool
	maxConn int

	queue        chan Work
	shutdownFlag atomic.Bool // business-level "quit has begun", per spec.md §4.6 stage 4
	freed        atomic.Bool // internal idempotency guard for Free's goroutine teardown

	mu     sync.Mutex
	conns  map[net.Conn]int // value is the watched fd, or -1 if unwatched
	poller *Poller

	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures a new Engine.
type Config struct {
	ID             uint32
	Name           string
	Batch          bool
	MaxConnections int
	QueueDepth     int
}

const defaultQueueDepth = 256

// New creates an engine and starts its work-queue-draining goroutine. The
// backend selects only whether idle-connection reaping is active; the
// fast-work-queue mechanics are identical between backends.
func New(cfg Config) *Engine {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		id:      cfg.ID,
		name:    cfg.Name,
		batch:   cfg.Batch,
		maxConn: cfg.MaxConnections,
		queue:   make(chan Work, depth),
		conns:   make(map[net.Conn]int),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go e.run(ctx)
	return e
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-e.queue:
			w(ctx)
		}
	}
}

// Enqueue places w on the fast work queue. It blocks if the queue is
// full, matching the original's single-producer assumption during
// startup — the supervisor never enqueues concurrently with itself.
func (e *Engine) Enqueue(w Work) {
	e.queue <- w
}

// FastWorkQueue exposes the raw channel for callers (workerpool) that need
// to enqueue a continuation from outside this package without routing
// through Enqueue's blocking semantics.
func (e *Engine) FastWorkQueue() chan<- Work {
	return e.queue
}

// ID returns the engine's identifier, assigned once at construction from
// the runtime's monotonically increasing counter.
func (e *Engine) ID() uint32 { return e.id }

// Name returns the backend name ("goroutine" or "poller").
func (e *Engine) Name() string { return e.name }

// Batch reports whether this engine was configured for batched wakeups.
func (e *Engine) Batch() bool { return e.batch }

// MaxConnections returns the configured connection ceiling, or 0 if
// unbounded.
func (e *Engine) MaxConnections() int { return e.maxConn }

// Shutdown reports whether MarkShutdown (or Free) has been called. It is
// the "engine.shutdown" flag of spec.md §4.6 stage 4 — set once quit
// begins, well before the engine's goroutine actually stops.
func (e *Engine) Shutdown() bool { return e.shutdownFlag.Load() }

// MarkShutdown sets the shutdown flag without stopping the engine's
// draining goroutine; quit needs the engine to keep running so it can
// drive the drain-and-exit continuations that follow.
func (e *Engine) MarkShutdown() { e.shutdownFlag.Store(true) }

// SetMaxConnections updates the connection ceiling, used by stage 3 to
// apply the configured limit to an engine already created in stage 1.
func (e *Engine) SetMaxConnections(n int) {
	e.mu.Lock()
	e.maxConn = n
	e.mu.Unlock()
}

// connFD extracts the raw file descriptor backing c, for handoff to the
// poller backend's epoll set. Connections that don't expose one (e.g.
// net.Pipe, used by this package's own tests) simply aren't watchable.
func connFD(c net.Conn) (int, bool) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}

	var fd int
	if ctrlErr := rc.Control(func(f uintptr) { fd = int(f) }); ctrlErr != nil {
		return 0, false
	}
	return fd, true
}

// AddConn registers a connection as tracked by this engine for idle
// accounting, failing with ErrResourceExhausted once MaxConnections is
// reached. When the engine has a poller backend, the connection's fd is
// also registered with epoll so IdleConnections can exclude it while
// readable.
func (e *Engine) AddConn(c net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.maxConn > 0 && len(e.conns) >= e.maxConn {
		return cerrors.New(cerrors.ErrResourceExhausted, "engine", "add connection")
	}

	fd := -1
	if e.poller != nil {
		if f, ok := connFD(c); ok {
			if err := e.poller.Watch(f); err == nil {
				fd = f
			}
		}
	}
	e.conns[c] = fd
	return nil
}

// RemoveConn stops tracking c, unwatching its fd from the poller if one
// was registered.
func (e *Engine) RemoveConn(c net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fd, ok := e.conns[c]; ok && fd >= 0 && e.poller != nil {
		e.poller.Unwatch(fd)
	}
	delete(e.conns, c)
}

// IdleConnections returns every tracked connection considered idle. The
// goroutine backend (no poller) treats every tracked connection as idle.
// The poller backend excludes connections whose fd epoll currently
// reports as readable, i.e. those with in-flight activity.
func (e *Engine) IdleConnections() []net.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.poller == nil {
		out := make([]net.Conn, 0, len(e.conns))
		for c := range e.conns {
			out = append(out, c)
		}
		return out
	}

	idleFds, err := e.poller.ReapIdle()
	if err != nil {
		out := make([]net.Conn, 0, len(e.conns))
		for c := range e.conns {
			out = append(out, c)
		}
		return out
	}
	idle := make(map[int]struct{}, len(idleFds))
	for _, fd := range idleFds {
		idle[fd] = struct{}{}
	}

	out := make([]net.Conn, 0, len(e.conns))
	for c, fd := range e.conns {
		if fd < 0 {
			// Not watchable by the poller at all; include it rather
			// than silently drop it from idle accounting.
			out = append(out, c)
			continue
		}
		if _, isIdle := idle[fd]; isIdle {
			out = append(out, c)
		}
	}
	return out
}

// ChangeBackend switches the engine's name/batch identity and, when
// moving to or away from the poller backend, creates or tears down the
// epoll set accordingly, re-registering any already-tracked connections.
func (e *Engine) ChangeBackend(name string, batch bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.name = name
	e.batch = batch

	if name != BackendPoller {
		if e.poller != nil {
			e.poller.Close()
			e.poller = nil
			for c := range e.conns {
				e.conns[c] = -1
			}
		}
		return
	}

	if e.poller != nil {
		return
	}
	p, err := NewPoller()
	if err != nil {
		// No epoll available (non-Linux): keep running unwatched,
		// matching RegisterDefaults' fallback.
		return
	}
	e.poller = p
	for c := range e.conns {
		if fd, ok := connFD(c); ok {
			if watchErr := p.Watch(fd); watchErr == nil {
				e.conns[c] = fd
			}
		}
	}
}

// Free stops the engine's goroutine and closes the poller's epoll set if
// one is active. Tracked connections are neither closed nor forgotten. Safe to call once; a
// second call is a no-op. It also marks the shutdown flag, so callers
// that tear an engine down directly (tests, the non-quit code paths)
// don't need a separate MarkShutdown call.
func (e *Engine) Free() {
	if !e.freed.CompareAndSwap(false, true) {
		return
	}
	e.shutdownFlag.Store(true)
	e.cancel()
	<-e.done

	e.mu.Lock()
	if e.poller != nil {
		e.poller.Close()
		e.poller = nil
	}
	e.mu.Unlock()
}
