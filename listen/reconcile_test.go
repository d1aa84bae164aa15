package listen

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"unitgo/address"
)

func mustParse(t *testing.T, s string) *address.Address {
	t.Helper()
	a, err := address.Parse(s)
	require.NoError(t, err)
	return a
}

func TestReconcileReusesMatchingInheritedSocket(t *testing.T) {
	addr := mustParse(t, "127.0.0.1:8080")
	configured := []*Socket{{Sockaddr: addr, FD: -1, Backlog: 128}}
	inherited := []*Socket{{Sockaddr: mustParse(t, "127.0.0.1:8080"), FD: 42, NonBlocking: true}}

	result, err := Reconcile(configured, inherited)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, 42, result[0].FD, "expected the inherited descriptor to be reused")
	require.Equal(t, 128, result[0].Backlog, "expected the configured backlog to win")
}

func TestReconcileFallsBackWhenNoMatch(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "s.sock")
	configured := []*Socket{{Sockaddr: mustParse(t, "unix:"+sockPath), FD: -1}}
	inherited := []*Socket{{Sockaddr: mustParse(t, "127.0.0.1:8080"), FD: 42}}

	// An empty configured list yields nothing, even with inherited sockets.
	result, err := Reconcile(nil, inherited)
	require.NoError(t, err)
	require.Empty(t, result)

	// A configured address with no inherited match gets a freshly created
	// socket (a Unix socket in a temp dir, so no TCP port is needed).
	result, err = Reconcile(configured, inherited)
	require.NoError(t, err)
	require.Len(t, result, 1)
	defer result[0].Close()
	require.NotEqual(t, 42, result[0].FD, "expected a fresh socket, not the unrelated inherited descriptor")
	require.GreaterOrEqual(t, result[0].FD, 0)
}

func TestEnableSkipsBlockingSockets(t *testing.T) {
	sockets := []*Socket{
		{NonBlocking: true},
		{NonBlocking: false},
	}

	var enabled int
	err := Enable(sockets, func(s *Socket) error {
		enabled++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, enabled)
}
