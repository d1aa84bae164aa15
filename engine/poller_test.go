//go:build linux

package engine

import (
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func socketPairConns(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)

	f1 := os.NewFile(uintptr(fds[0]), "sp0")
	f2 := os.NewFile(uintptr(fds[1]), "sp1")

	c1, err := net.FileConn(f1)
	require.NoError(t, err)
	require.NoError(t, f1.Close())

	c2, err := net.FileConn(f2)
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	return c1, c2
}

func TestPollerWatchUnwatchRoundTrip(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	local, remote := socketPairConns(t)
	defer local.Close()
	defer remote.Close()

	fd, ok := connFD(local)
	require.True(t, ok)

	require.NoError(t, p.Watch(fd))
	p.Unwatch(fd)

	idle, err := p.ReapIdle()
	require.NoError(t, err)
	require.Empty(t, idle, "unwatched fd must not appear in the active set")
}

func TestEngineIdleConnectionsExcludesReadableFdsUnderPollerBackend(t *testing.T) {
	e := New(Config{ID: 100, Name: BackendGoroutine})
	defer e.Free()

	p, err := NewPoller()
	require.NoError(t, err)
	e.poller = p

	local, remote := socketPairConns(t)
	defer remote.Close()

	require.NoError(t, e.AddConn(local))
	require.Len(t, e.IdleConnections(), 1, "a freshly added connection with no pending data is idle")

	_, err = remote.Write([]byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(e.IdleConnections()) == 0
	}, time.Second, 10*time.Millisecond, "a connection with pending readable data must not be reported idle")

	e.RemoveConn(local)
	local.Close()
}
