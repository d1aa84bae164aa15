// Package procmodel is the Go-idiomatic reading of "the runtime forks
// into a master and worker processes" (spec.md §4.6 stage 3): since a
// real fork() mid-process is unsafe once goroutines exist, each worker is
// instead a re-exec of the current binary under a hidden subcommand,
// following the teacher's own exec.Command(self, "init") pattern.
package procmodel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"unitgo/listen"
	"unitgo/registry"

	cerrors "unitgo/errors"
)

// WorkerConfigEnv is the environment variable a spawned worker reads its
// serialized runtime configuration from.
const WorkerConfigEnv = "UNITGO_WORKER_CONFIG"

// Process is a registry entry: either the master (role recorded
// separately by the caller) or a worker, identified by pid. Ports is the
// process's port list (spec.md §3's "Process: {pid, port list head, …}")
// — every id in it is mirrored into the ports registry on Register and
// removed from it on unregister, per spec.md §4.3's add(process)/remove(process).
type Process struct {
	Pid   int32
	Cmd   *exec.Cmd
	Ports []uint32
}

// ControlPortID is the port id every supervised process (master or
// worker) registers for master<->worker IPC, the one port this repo's
// re-exec process model actually needs (spec.md §1 scopes the rest of
// the controller/application protocol out).
const ControlPortID = 0

// Master owns the worker fleet: a re-exec spawner, the process registry
// (shared with the supervisor so Table's "first insert is master"
// invariant is realized — the caller inserts the master's own pid before
// calling Spawn for any worker), and the port registry mirrored alongside
// it. The sockets workers inherit are passed to each Spawn call.
type Master struct {
	log      *slog.Logger
	self     string
	registry *registry.Table[int32, *Process]
	ports    *registry.Table[registry.PidPort, *registry.Port]
}

// New resolves the current executable path once at construction, so every
// Spawn call re-execs the same binary regardless of working-directory
// changes later in the process lifetime.
func New(log *slog.Logger, processes *registry.Table[int32, *Process], ports *registry.Table[registry.PidPort, *registry.Port]) (*Master, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "procmodel", "resolve executable")
	}
	return &Master{log: log, self: self, registry: processes, ports: ports}, nil
}

// Register inserts proc into the process registry and mirrors every port
// on its port list into the port registry — spec.md §4.3's add(process).
// Used both for the master's own pid (before any worker is spawned) and,
// via Spawn, for each worker.
func (m *Master) Register(proc *Process) {
	m.registry.Add(proc.Pid, proc)
	for _, portID := range proc.Ports {
		key := registry.PidPort{Pid: proc.Pid, PortID: portID}
		m.ports.Add(key, &registry.Port{Pid: proc.Pid, PortID: portID})
	}
}

// unregister removes proc from the process registry and removes every
// port on its port list from the port registry — spec.md §4.3's
// remove(process).
func (m *Master) unregister(proc *Process) {
	m.registry.Remove(proc.Pid)
	for _, portID := range proc.Ports {
		m.ports.Remove(registry.PidPort{Pid: proc.Pid, PortID: portID})
	}
}

// Spawn re-execs the binary as "unitgo __worker", handing down sockets as
// inherited file descriptors (in order, starting at fd 3) and the
// serialized config via WorkerConfigEnv, then registers the spawned pid.
func (m *Master) Spawn(sockets []*listen.Socket, configJSON string) (*Process, error) {
	cmd := exec.Command(m.self, "__worker")
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", WorkerConfigEnv, configJSON))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	// ExtraFiles places each socket at fd 3+i in the child; NGINX carries
	// that same range back to the legacy inheritance scheme (inherit.go)
	// so the worker's own startup recovers them exactly as a re-exec'd
	// supervisor would recover sockets handed down across an upgrade.
	var nginxFds strings.Builder
	for i, s := range sockets {
		cmd.ExtraFiles = append(cmd.ExtraFiles, s.File())
		fmt.Fprintf(&nginxFds, "%d;", 3+i)
	}
	if nginxFds.Len() > 0 {
		cmd.Env = append(cmd.Env, "NGINX="+nginxFds.String())
	}

	if err := cmd.Start(); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "procmodel", "spawn worker")
	}

	proc := &Process{Pid: int32(cmd.Process.Pid), Cmd: cmd, Ports: []uint32{ControlPortID}}
	m.Register(proc)

	m.log.Info("worker spawned", "subsystem", "procmodel", "pid", proc.Pid)
	return proc, nil
}

// Wait reaps proc once it exits, removing it from the registry and
// returning its exit status. It blocks until proc exits or ctx is
// canceled.
func (m *Master) Wait(ctx context.Context, proc *Process) (int, error) {
	waitCh := make(chan error, 1)
	go func() { waitCh <- proc.Cmd.Wait() }()

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-waitCh:
		m.unregister(proc)

		if err == nil {
			return 0, nil
		}
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, cerrors.Wrap(err, cerrors.ErrInternal, "procmodel", "wait")
	}
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// StopWorkers signals every currently registered worker pid with sig
// (SIGQUIT for a graceful drain per spec.md §4.6 stage 4). The calling
// process's own pid is skipped. A failed signal does not stop the rest;
// the first such error is returned.
func (m *Master) StopWorkers(sig syscall.Signal) error {
	var firstErr error
	self := os.Getpid()
	m.registry.Each(func(pid int32, p *Process) bool {
		if int(pid) == self {
			return true
		}
		if err := syscall.Kill(int(pid), sig); err != nil && firstErr == nil {
			firstErr = cerrors.WrapWithDetail(err, cerrors.ErrIOFailed, "procmodel", "signal worker", fmt.Sprint(pid))
		}
		return true
	})
	return firstErr
}
