package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetOrNewReturnsSameValueAndMarksFirstOnlyOnce(t *testing.T) {
	tbl := New[int32, *int]()

	v1 := 1
	got1, inserted1, first1 := tbl.GetOrNew(100, func() *int { return &v1 })
	require.True(t, inserted1)
	require.True(t, first1)
	require.Same(t, &v1, got1)

	v2 := 2
	got2, inserted2, first2 := tbl.GetOrNew(100, func() *int { return &v2 })
	require.False(t, inserted2)
	require.False(t, first2)
	require.Same(t, &v1, got2, "GetOrNew on existing key must return the original value")
}

func TestSecondInsertIsNotFirst(t *testing.T) {
	tbl := New[int32, string]()

	_, _, first1 := tbl.GetOrNew(1, func() string { return "a" })
	_, _, first2 := tbl.GetOrNew(2, func() string { return "b" })

	require.True(t, first1)
	require.False(t, first2)

	v, ok := tbl.First()
	require.True(t, ok)
	require.Equal(t, "a", v)
}

func TestAddRemoveIsObservationallyNeutral(t *testing.T) {
	tbl := New[int32, string]()

	before := tbl.Len()

	inserted, _ := tbl.Add(7, "x")
	require.True(t, inserted)
	require.Equal(t, before+1, tbl.Len())

	removed := tbl.Remove(7)
	require.True(t, removed)
	require.Equal(t, before, tbl.Len())

	_, ok := tbl.Find(7)
	require.False(t, ok)
}

func TestRemoveResetsFirstWhenTableEmpties(t *testing.T) {
	tbl := New[int32, string]()

	tbl.Add(1, "a")
	tbl.Remove(1)

	// Next insert should again become "first".
	_, _, first := tbl.GetOrNew(2, func() string { return "b" })
	require.True(t, first)
}

func TestAddIsIdempotentForSameKey(t *testing.T) {
	tbl := New[int32, string]()

	inserted1, _ := tbl.Add(1, "a")
	inserted2, _ := tbl.Add(1, "b")

	require.True(t, inserted1)
	require.False(t, inserted2)

	v, ok := tbl.Find(1)
	require.True(t, ok)
	require.Equal(t, "a", v, "second Add must not replace the first value")
}

func TestEachVisitsAllLiveEntries(t *testing.T) {
	tbl := New[int32, int]()
	tbl.Add(1, 10)
	tbl.Add(2, 20)
	tbl.Add(3, 30)
	tbl.Remove(2)

	seen := map[int32]int{}
	tbl.Each(func(key int32, value int) bool {
		seen[key] = value
		return true
	})

	require.Equal(t, map[int32]int{1: 10, 3: 30}, seen)
}

func TestPidPortAsMapKey(t *testing.T) {
	tbl := New[PidPort, string]()

	k1 := PidPort{Pid: 100, PortID: 1}
	k2 := PidPort{Pid: 100, PortID: 2}

	tbl.Add(k1, "a")
	tbl.Add(k2, "b")

	v, ok := tbl.Find(PidPort{Pid: 100, PortID: 1})
	require.True(t, ok)
	require.Equal(t, "a", v)
	require.Equal(t, 2, tbl.Len())
}
