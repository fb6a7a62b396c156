package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/actorcore/internal/actor/errs"
	"github.com/webitel/actorcore/internal/actor/pid"
)

// fakeLocator reports liveness from a plain set, so registry tests don't
// need a real pid.Table.
type fakeLocator struct {
	live map[pid.PID]bool
}

func (f *fakeLocator) IsLive(p pid.PID) bool { return f.live[p] }

func newFakeLocator(live ...pid.PID) *fakeLocator {
	m := make(map[pid.PID]bool, len(live))
	for _, p := range live {
		m[p] = true
	}
	return &fakeLocator{live: m}
}

func TestRegisterAndResolve(t *testing.T) {
	a := pid.PID{Index: 1, Gen: 1}
	loc := newFakeLocator(a)
	reg := New(loc)

	require.NoError(t, reg.Register("worker", a))
	got, ok := reg.Resolve("worker")
	require.True(t, ok)
	require.Equal(t, a, got)
}

func TestRegisterRejectsTakenNameWithLiveOwner(t *testing.T) {
	a := pid.PID{Index: 1, Gen: 1}
	b := pid.PID{Index: 2, Gen: 1}
	loc := newFakeLocator(a, b)
	reg := New(loc)

	require.NoError(t, reg.Register("worker", a))
	err := reg.Register("worker", b)
	require.ErrorIs(t, err, errs.ErrNameTaken)
}

func TestRegisterReclaimsStaleName(t *testing.T) {
	a := pid.PID{Index: 1, Gen: 1}
	b := pid.PID{Index: 2, Gen: 1}
	loc := newFakeLocator(b) // a is not live
	reg := New(loc)

	require.NoError(t, reg.Register("worker", a))
	require.NoError(t, reg.Register("worker", b), "registering over a dead owner's name must succeed")

	got, ok := reg.Resolve("worker")
	require.True(t, ok)
	require.Equal(t, b, got)
}

func TestResolveScrubsStaleBinding(t *testing.T) {
	a := pid.PID{Index: 1, Gen: 1}
	loc := newFakeLocator() // a is not live
	reg := New(loc)
	reg.m.Store("worker", a) // bind directly, bypassing Register's own liveness check

	_, ok := reg.Resolve("worker")
	require.False(t, ok)

	// the stale entry must have been scrubbed, not merely reported missing
	_, stillThere := reg.m.Load("worker")
	require.False(t, stillThere)
}

func TestUnregisterOnlyRemovesOwnBinding(t *testing.T) {
	a := pid.PID{Index: 1, Gen: 1}
	b := pid.PID{Index: 2, Gen: 1}
	loc := newFakeLocator(a, b)
	reg := New(loc)

	require.NoError(t, reg.Register("worker", a))
	reg.Unregister("worker", b) // not the owner, must be a no-op

	got, ok := reg.Resolve("worker")
	require.True(t, ok)
	require.Equal(t, a, got)

	reg.Unregister("worker", a)
	_, ok = reg.Resolve("worker")
	require.False(t, ok)
}

func TestScrubTerminatedRemovesEveryNameForPID(t *testing.T) {
	a := pid.PID{Index: 1, Gen: 1}
	loc := newFakeLocator(a)
	reg := New(loc)

	require.NoError(t, reg.Register("alias-one", a))
	require.NoError(t, reg.Register("alias-two", a))

	reg.ScrubTerminated(a)

	_, ok := reg.m.Load("alias-one")
	require.False(t, ok)
	_, ok = reg.m.Load("alias-two")
	require.False(t, ok)
}
