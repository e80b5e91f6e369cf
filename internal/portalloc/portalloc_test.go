package portalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shepherdjerred/clauderon/internal/portalloc"
)

func TestAllocateReleaseRoundTrip(t *testing.T) {
	a := portalloc.New(18100, 18103)

	p1, err := a.Allocate("s1")
	require.NoError(t, err)
	require.True(t, a.IsAllocated(p1))

	a.Release(p1)
	require.False(t, a.IsAllocated(p1))
}

func TestAllocateExhaustsRange(t *testing.T) {
	a := portalloc.New(18100, 18102)

	_, err := a.Allocate("s1")
	require.NoError(t, err)
	_, err = a.Allocate("s2")
	require.NoError(t, err)

	_, err = a.Allocate("s3")
	require.Error(t, err)
}

func TestRestoreAllocationsThenAllocateAvoidsRestored(t *testing.T) {
	a := portalloc.New(18100, 18103)

	require.NoError(t, a.RestoreAllocations([]portalloc.Pair{
		{Port: 18100, SessionID: "s1"},
		{Port: 18101, SessionID: "s2"},
	}))

	p, err := a.Allocate("s3")
	require.NoError(t, err)
	require.Equal(t, 18102, p)
}

func TestRestoreAllocationsRejectsConflict(t *testing.T) {
	a := portalloc.New(18100, 18103)

	err := a.RestoreAllocations([]portalloc.Pair{
		{Port: 18100, SessionID: "s1"},
		{Port: 18100, SessionID: "s2"},
	})
	require.Error(t, err)
}

func TestRestoreAllocationsIsWhollyAtomic(t *testing.T) {
	a := portalloc.New(18100, 18103)
	require.NoError(t, a.RestoreAllocations([]portalloc.Pair{{Port: 18100, SessionID: "s1"}}))

	err := a.RestoreAllocations([]portalloc.Pair{{Port: 18999, SessionID: "bad"}})
	require.Error(t, err)

	// Failed restore must not have clobbered prior state.
	require.True(t, a.IsAllocated(18100))
}
