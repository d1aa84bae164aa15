package serviceregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetByExactName(t *testing.T) {
	r := New()
	r.Register("engine", "goroutine", 1)
	r.Register("engine", "poller", 2)

	v, ok := r.Get("engine", "poller")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestGetEmptyNameReturnsFirstRegistered(t *testing.T) {
	r := New()
	r.Register("engine", "goroutine", "first")
	r.Register("engine", "poller", "second")

	v, ok := r.Get("engine", "")
	require.True(t, ok)
	require.Equal(t, "first", v)
}

func TestGetUnknownReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Get("engine", "nope")
	require.False(t, ok)

	_, ok = r.Get("engine", "")
	require.False(t, ok)
}

func TestNamesPreservesRegistrationOrder(t *testing.T) {
	r := New()
	r.Register("engine", "b", 1)
	r.Register("engine", "a", 2)

	require.Equal(t, []string{"b", "a"}, r.Names("engine"))
}
