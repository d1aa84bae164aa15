// Package supervisor implements the Supervisor (C7): the runtime object,
// its staged asynchronous start sequence, fork mediation, and teardown —
// the component where socket inheritance, registries, log files, the pid
// file, and the event-engine/thread-pool contracts all meet.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"unitgo/address"
	cerrors "unitgo/errors"
	"unitgo/engine"
	"unitgo/inherit"
	"unitgo/listen"
	"unitgo/logfile"
	"unitgo/procmodel"
	"unitgo/registry"
	"unitgo/serviceregistry"
	"unitgo/workerpool"
)

// ModuleInit is one entry of the injected, immutable module-init registry
// that replaces the original's extern nxt_init_modules[] / _n pair
// (spec.md §9 design notes).
type ModuleInit func(ctx context.Context, rt *Runtime) error

// Runtime is the process-wide state container (spec.md §3). Exactly one
// exists per process. Field mutation outside the owning engine goroutine
// is confined to the two registries, which carry their own locks.
type Runtime struct {
	log *slog.Logger

	prefix     string
	confPrefix string
	hostname   string

	modules []ModuleInit

	config Config
	role   Role
	state  State

	services *serviceregistry.Registry

	mu           sync.Mutex
	mainEngine   *engine.Engine
	engines      []*engine.Engine
	lastEngineID atomic.Uint32

	bootstrapPool *workerpool.Pool
	appPool       *workerpool.Pool

	processes *registry.Table[int32, *procmodel.Process]
	ports     *registry.Table[registry.PidPort, *registry.Port]

	logFiles *logfile.Table

	inheritedSockets []*listen.Socket
	listenSockets    []*listen.Socket

	master *procmodel.Master

	shutdown       atomic.Bool
	workersStopped bool
}

// New performs stage 1 (construct): resolves the working-directory
// prefix, recovers inherited sockets, discovers the hostname, preallocates
// the log-file table, creates the service registry and main engine, seeds
// a bootstrap thread pool, and enqueues stage 2 on the main engine. cfg is the
// ArgParser's (C6's) already-parsed output: the original parses argv
// before constructing the runtime and stage 2 only copies the result
// into the runtime's subsystems, so this package takes cfg as a
// constructor argument rather than mutating it later and risking a race
// with the engine goroutine stage 2 runs on.
func New(log *slog.Logger, modules []ModuleInit, cfg Config) (*Runtime, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "supervisor", "getwd")
	}
	prefix := filepath.Clean(wd) + string(os.PathSeparator)

	hostname, err := discoverHostname()
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "supervisor", "hostname")
	}

	services := serviceregistry.New()
	engine.RegisterDefaults(services)

	rt := &Runtime{
		log:        log,
		prefix:     prefix,
		confPrefix: prefix,
		hostname:   hostname,
		modules:    modules,
		config:     cfg,
		services:   services,
		processes:  registry.New[int32, *procmodel.Process](),
		ports:      registry.New[registry.PidPort, *registry.Port](),
		logFiles:   logfile.New(prefix),
		state:      StateCreated,
	}

	if cfg.ControllerListen != nil {
		rt.listenSockets = append(rt.listenSockets, listen.NewUnbound(cfg.ControllerListen))
	}

	env := func(k string) (string, bool) { return os.LookupEnv(k) }
	inheritedSockets, err := inherit.Sockets(log, env, os.Getpid())
	if err != nil {
		log.Error("failed to recover inherited sockets, continuing as fresh start",
			"subsystem", "supervisor", "error", err)
	}
	rt.inheritedSockets = inheritedSockets

	mainEngine, err := rt.newEngine(engine.BackendGoroutine, false, 0)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrInternal, "supervisor", "create engine")
	}
	rt.mainEngine = mainEngine
	rt.engines = []*engine.Engine{mainEngine}

	rt.bootstrapPool = workerpool.New(2, 60*time.Second)

	rt.state = StateStarting
	rt.mainEngine.Enqueue(rt.stage2)

	return rt, nil
}

// newEngine resolves the named backend from the service registry (falling
// back to the first-registered backend when name is empty) and invokes
// its factory with the next monotonically increasing engine id.
func (rt *Runtime) newEngine(name string, batch bool, maxConn int) (*engine.Engine, error) {
	raw, ok := rt.services.Get(engine.Category, name)
	if !ok {
		return nil, cerrors.New(cerrors.ErrInvalidConfig, "supervisor", fmt.Sprintf("unknown engine backend %q", name))
	}
	factory, ok := raw.(engine.Factory)
	if !ok {
		return nil, cerrors.New(cerrors.ErrInternal, "supervisor", "engine factory has wrong type")
	}

	id := rt.lastEngineID.Add(1)
	return factory(engine.Config{
		ID:             id,
		Name:           name,
		Batch:          batch,
		MaxConnections: maxConn,
	})
}

// Engine returns the currently active main engine. Safe to call from any
// goroutine; the pointer itself only ever changes under rt.mu (post-fork
// rebuild).
func (rt *Runtime) Engine() *engine.Engine {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.mainEngine
}

// Role reports the supervisor's current role.
func (rt *Runtime) Role() Role { return rt.role }

// State reports the supervisor's current stage-machine state.
func (rt *Runtime) State() State { return rt.state }

// Hostname returns the discovered, lowercased, truncated hostname.
func (rt *Runtime) Hostname() string { return rt.hostname }

// Prefix returns the working-directory prefix non-absolute paths resolve
// against; it always ends in a path separator.
func (rt *Runtime) Prefix() string { return rt.prefix }

// Processes exposes the process registry for module-init code and tests
// that need to assert on it directly.
func (rt *Runtime) Processes() *registry.Table[int32, *procmodel.Process] {
	return rt.processes
}

// Ports exposes the port registry.
func (rt *Runtime) Ports() *registry.Table[registry.PidPort, *registry.Port] {
	return rt.ports
}

// ListenSockets returns the reconciled listen sockets once stage 3 has run.
func (rt *Runtime) ListenSockets() []*listen.Socket { return rt.listenSockets }

// AddListenSocket registers a configured (not-yet-bound) listen socket,
// consumed by stage 3's call into C8.
func (rt *Runtime) AddListenSocket(addr *address.Address) {
	rt.listenSockets = append(rt.listenSockets, listen.NewUnbound(addr))
}

// Quit enqueues stage 4 (quit) on the main engine. Safe to call from any
// goroutine (e.g. a signal handler).
func (rt *Runtime) Quit() {
	rt.Engine().Enqueue(rt.quit)
}
