package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func failingModule(ctx context.Context, rt *Runtime) error {
	return errors.New("injected module init failure")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// withMockExit replaces osExit for the duration of a test, restoring the
// real os.Exit on cleanup, and reports the exit code(s) observed.
func withMockExit(t *testing.T) (exited chan int) {
	t.Helper()
	exited = make(chan int, 1)
	original := osExit
	osExit = func(code int) { exited <- code }
	t.Cleanup(func() { osExit = original })
	return exited
}

func TestSingleProcessReachesSingleRunningAndQuitsCleanly(t *testing.T) {
	dir := t.TempDir()
	exited := withMockExit(t)

	cfg := Config{
		WorkerProcesses:  0,
		Daemon:           false,
		PidPath:          filepath.Join(dir, "unitgo.pid"),
		ErrorLogPath:     filepath.Join(dir, "error.log"),
		EngineBackend:    "goroutine",
		AuxiliaryThreads: 1,
	}

	rt, err := New(testLogger(), nil, cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rt.State() == StateSingleRunning }, time.Second, time.Millisecond)
	require.Equal(t, RoleSingle, rt.Role())

	_, err = os.Stat(cfg.PidPath)
	require.NoError(t, err, "pid file must exist once single-process start completes")

	rt.Quit()

	select {
	case code := <-exited:
		require.Equal(t, 0, code)
	case <-time.After(time.Second):
		t.Fatal("quit never reached exit")
	}

	require.Eventually(t, func() bool { return rt.State() == StateExited }, time.Second, time.Millisecond)

	_, err = os.Stat(cfg.PidPath)
	require.True(t, os.IsNotExist(err), "pid file must be removed on clean shutdown")
}

func TestModuleInitFailureJumpsToQuit(t *testing.T) {
	dir := t.TempDir()
	exited := withMockExit(t)

	cfg := Config{
		Daemon:        false,
		PidPath:       filepath.Join(dir, "unitgo.pid"),
		ErrorLogPath:  filepath.Join(dir, "error.log"),
		EngineBackend: "goroutine",
	}

	rt, err := New(testLogger(), []ModuleInit{failingModule}, cfg)
	require.NoError(t, err)

	select {
	case code := <-exited:
		require.Equal(t, 0, code)
	case <-time.After(time.Second):
		t.Fatal("failed module init never reached quit/exit")
	}

	require.Equal(t, StateExited, rt.State())
	_, err = os.Stat(cfg.PidPath)
	require.True(t, os.IsNotExist(err), "pid file is never created when module init fails before role assignment")
}

func TestQuitIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	exited := withMockExit(t)

	cfg := Config{
		Daemon:        false,
		PidPath:       filepath.Join(dir, "unitgo.pid"),
		ErrorLogPath:  filepath.Join(dir, "error.log"),
		EngineBackend: "goroutine",
	}

	rt, err := New(testLogger(), nil, cfg)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rt.State() == StateSingleRunning }, time.Second, time.Millisecond)

	rt.Quit()
	rt.Quit() // must not panic or double-signal workers

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("quit never reached exit")
	}
}
