package supervisor

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	cerrors "unitgo/errors"
	"unitgo/engine"
	"unitgo/listen"
	"unitgo/pidfile"
	"unitgo/procmodel"
	"unitgo/workerpool"
)

// osExit is process termination indirected through a variable so tests
// can observe "the supervisor wanted to exit" without actually killing
// the test binary.
var osExit = os.Exit

// stage2 is "start": runs module init, materializes log files, switches
// the engine backend if the configured one differs, then tears down the
// bootstrap pool with stage 3 as its continuation. Runs on the main
// engine's goroutine, per spec.md §4.6.
func (rt *Runtime) stage2(ctx context.Context) {
	rt.log.Info("starting", "subsystem", "supervisor", "state", rt.state.String())

	for _, m := range rt.modules {
		if err := m(ctx, rt); err != nil {
			rt.log.Error("module init failed", "subsystem", "supervisor", "error", err)
			rt.quit(ctx)
			return
		}
	}
	rt.state = StateModulesInited

	rt.logFiles.SetMainPath(rt.config.ErrorLogPath)
	if err := rt.logFiles.Materialize(); err != nil {
		rt.log.Error("failed to materialize log files", "subsystem", "supervisor", "error", err)
		rt.quit(ctx)
		return
	}
	rt.state = StateLogsOpened

	if rt.config.EngineBackend != "" && rt.config.EngineBackend != rt.mainEngine.Name() {
		rt.mainEngine.ChangeBackend(rt.config.EngineBackend, rt.config.Batch)
	}
	rt.state = StateEngineSwitched

	rt.bootstrapPool.Destroy(rt.mainEngine, rt.stage3)
}

const daemonizedEnv = "UNITGO_DAEMONIZED"

// stage3 is "initial_start": daemonizes and rebuilds the engine if this is
// a fresh start with daemonize requested, writes the pid file, reconciles
// listen sockets (C8), and either forks workers (master role) or starts
// serving single-process.
func (rt *Runtime) stage3(ctx context.Context) {
	rt.state = StateBootstrapped

	if len(rt.inheritedSockets) == 0 && rt.config.Daemon && os.Getenv(daemonizedEnv) != "1" {
		if err := daemonize(); err != nil {
			rt.log.Error("daemonize failed", "subsystem", "supervisor", "error", err)
			rt.quit(ctx)
			return
		}
		osExit(0)
	}

	if os.Getenv(daemonizedEnv) == "1" {
		// Poll descriptors did not survive the re-exec and the signal
		// thread was not inherited, so the engine must be rebuilt — done
		// off the engine's own goroutine to avoid Free() deadlocking
		// against itself.
		rt.rebuildEngine(rt.stage3Continued)
		return
	}

	rt.stage3Continued(ctx)
}

func (rt *Runtime) rebuildEngine(next func(context.Context)) {
	old := rt.Engine()
	go func() {
		old.Free()

		newEngine, err := rt.newEngine(rt.config.EngineBackend, rt.config.Batch, rt.config.EngineConns)
		if err != nil {
			rt.log.Error("failed to rebuild engine after daemonize", "subsystem", "supervisor", "error", err)
			osExit(1)
		}

		rt.mu.Lock()
		rt.mainEngine = newEngine
		rt.engines = []*engine.Engine{newEngine}
		rt.mu.Unlock()

		newEngine.Enqueue(next)
	}()
}

func (rt *Runtime) stage3Continued(ctx context.Context) {
	if err := pidfile.Write(rt.config.PidPath, os.Getpid()); err != nil {
		rt.log.Error("failed to write pid file", "subsystem", "supervisor", "error", err)
		rt.quit(ctx)
		return
	}

	rt.Engine().SetMaxConnections(rt.config.EngineConns)

	reconciled, err := listen.Reconcile(rt.listenSockets, rt.inheritedSockets)
	if err != nil {
		rt.log.Error("failed to reconcile listen sockets", "subsystem", "supervisor", "error", err)
		rt.quit(ctx)
		return
	}
	rt.listenSockets = reconciled

	if rt.config.WorkerProcesses > 0 {
		rt.startMaster(ctx)
		return
	}
	rt.startSingle(ctx)
}

func (rt *Runtime) startMaster(ctx context.Context) {
	rt.role = RoleMaster

	master, err := procmodel.New(rt.log, rt.processes, rt.ports)
	if err != nil {
		rt.log.Error("failed to initialize master", "subsystem", "supervisor", "error", err)
		rt.quit(ctx)
		return
	}
	rt.master = master

	// The master's own pid is inserted first, designating it "master" per
	// the processes registry's first-insert invariant (spec.md §4.3),
	// before any worker pid is added. Register (not a bare Add) so its
	// control port is mirrored into the ports registry too.
	master.Register(&procmodel.Process{Pid: int32(os.Getpid()), Ports: []uint32{procmodel.ControlPortID}})

	configJSON := rt.serializeWorkerConfig()
	for i := 0; i < rt.config.WorkerProcesses; i++ {
		if _, err := master.Spawn(rt.listenSockets, configJSON); err != nil {
			rt.log.Error("failed to spawn worker", "subsystem", "supervisor", "error", err)
			rt.quit(ctx)
			return
		}
	}

	rt.state = StateMasterRunning
}

func (rt *Runtime) startSingle(ctx context.Context) {
	rt.role = RoleSingle
	rt.appPool = workerpool.New(rt.config.AuxiliaryThreads, workerpool.DefaultIdleTimeout)

	if err := listen.Enable(rt.listenSockets, rt.watchAccept); err != nil {
		rt.log.Error("failed to enable listen sockets", "subsystem", "supervisor", "error", err)
		rt.quit(ctx)
		return
	}

	rt.state = StateSingleRunning
}

// watchAccept is the enable hook C8 calls per non-blocking socket; the
// goroutine engine backend has no separate watch-registration step, so
// this is a no-op placeholder for the poller backend to override.
func (rt *Runtime) watchAccept(s *listen.Socket) error {
	return nil
}

// quit is stage 4: idempotent. The first call marks the engine's
// shutdown flag; while an application thread pool remains, quit is
// re-entered as its drain continuation; once drained, master workers are
// signaled to stop, idle connections are closed, and the process exits.
func (rt *Runtime) quit(ctx context.Context) {
	if !rt.shutdown.Swap(true) {
		rt.state = StateQuitting
		rt.Engine().MarkShutdown()
		rt.log.Info("quitting", "subsystem", "supervisor")
	}

	if rt.appPool != nil {
		pool := rt.appPool
		rt.appPool = nil
		pool.Destroy(rt.Engine(), rt.quit)
		return
	}

	rt.state = StateDrained

	if rt.role == RoleMaster && rt.master != nil && !rt.workersStopped {
		rt.workersStopped = true
		if err := rt.master.StopWorkers(syscall.SIGQUIT); err != nil {
			rt.log.Error("failed to signal workers", "subsystem", "supervisor", "error", err)
		}
	}

	eng := rt.Engine()
	for _, c := range eng.IdleConnections() {
		c.Close()
		eng.RemoveConn(c)
	}

	rt.exit(ctx)
}

func (rt *Runtime) exit(ctx context.Context) {
	if rt.role == RoleSingle || rt.role == RoleMaster {
		if err := pidfile.Remove(rt.config.PidPath); err != nil {
			rt.log.Error("failed to remove pid file", "subsystem", "supervisor", "error", err)
		}
	}

	rt.state = StateExited
	rt.logFiles.Close()

	// Not rt.Engine().Free(): exit always runs on the main engine's own
	// draining goroutine, and Free blocks for that goroutine to return —
	// calling it here would deadlock against ourselves. The process exit
	// below tears the goroutine down regardless.
	osExit(0)
}

// serializeWorkerConfig encodes the minimal configuration a re-exec'd
// worker needs, carried via procmodel.WorkerConfigEnv.
func (rt *Runtime) serializeWorkerConfig() string {
	upstream := rt.config.Upstream
	return upstream
}

// daemonize re-execs the current binary with Setsid detached from the
// controlling terminal and stdio redirected to /dev/null. The caller (the
// original, not-yet-daemonized process — stage3 only calls this when
// UNITGO_DAEMONIZED is unset) must exit immediately once this returns
// successfully, handing off to the detached child.
func daemonize() error {
	self, err := os.Executable()
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrIOFailed, "supervisor", "resolve executable")
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrIOFailed, "supervisor", "open /dev/null")
	}
	defer devnull.Close()

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
	cmd.Dir, _ = os.Getwd()
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return cerrors.Wrap(err, cerrors.ErrIOFailed, "supervisor", "daemonize re-exec")
	}

	return nil
}
