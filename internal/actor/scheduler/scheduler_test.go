package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/actorcore/internal/actor/acb"
	"github.com/webitel/actorcore/internal/actor/behavior"
	"github.com/webitel/actorcore/internal/actor/mailbox"
	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/membrane"
)

// fakeHooks records every call instead of implementing real supervision, so
// scheduler tests only exercise the dispatch loop's own contract.
type fakeHooks struct {
	mu       sync.Mutex
	exits    []string
	links    []pid.PID
	monitors []pid.PID
}

func (f *fakeHooks) OnExit(a *acb.ACB, reason string) {
	f.mu.Lock()
	f.exits = append(f.exits, reason)
	f.mu.Unlock()
	a.SetState(acb.Terminated)
}

func (f *fakeHooks) OnLink(a *acb.ACB, other pid.PID) {
	f.mu.Lock()
	f.links = append(f.links, other)
	f.mu.Unlock()
}

func (f *fakeHooks) OnMonitor(a *acb.ACB, target pid.PID) {
	f.mu.Lock()
	f.monitors = append(f.monitors, target)
	f.mu.Unlock()
}

func newTestScheduler(t *testing.T, hooks Hooks) (*Scheduler, *pid.Table[*acb.ACB]) {
	t.Helper()
	table := pid.NewTable[*acb.ACB](4)
	s := New(Config{Workers: 2}, table, hooks, nil, nil)
	s.Start()
	t.Cleanup(s.Stop)
	return s, table
}

func spawnPush(table *pid.Table[*acb.ACB], budget int, h membrane.PushHandler) *acb.ACB {
	a := acb.New(pid.Zero, 0, budget, acb.ModePush)
	a.Behavior = behavior.New(h)
	a.SetState(acb.Alive)
	p := table.Alloc(a)
	a.PID = p
	return a
}

func TestDispatchPreservesPerProducerOrder(t *testing.T) {
	s, table := newTestScheduler(t, &fakeHooks{})

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	var count int32

	h := membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		mu.Lock()
		got = append(got, string(payload))
		mu.Unlock()
		if atomic.AddInt32(&count, 1) == 3 {
			close(done)
		}
		return nil
	})
	a := spawnPush(table, 100, h)

	for _, m := range []string{"a", "b", "c"} {
		_, err := a.Mailbox.PushUser([]byte(m))
		require.NoError(t, err)
	}
	s.NotifyReady(a)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSystemLaneDrainsBeforeUserLane(t *testing.T) {
	s, table := newTestScheduler(t, &fakeHooks{})

	var mu sync.Mutex
	var order []string
	var sysPendingAtUser bool
	done := make(chan struct{})

	var a *acb.ACB
	h := membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		mu.Lock()
		order = append(order, "user:"+string(payload))
		sysPendingAtUser = a.Mailbox.HasSystem()
		mu.Unlock()
		close(done)
		return nil
	})
	a = spawnPush(table, 100, h)

	_, err := a.Mailbox.PushUser([]byte("payload"))
	require.NoError(t, err)
	a.Mailbox.PushSystem(mailbox.SystemMessage{Kind: mailbox.SysPong})
	s.NotifyReady(a)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	// The Pong was pushed after the user message but must have been drained
	// first: when the handler ran, the system lane was already empty.
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"user:payload"}, order)
	require.False(t, sysPendingAtUser, "system lane still held the Pong when the user message was dispatched")
}

func TestBudgetBoundsOneDispatchPass(t *testing.T) {
	s, table := newTestScheduler(t, &fakeHooks{})

	var processed int32
	var overBudget atomic.Bool
	var a *acb.ACB
	h := membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		// Each invocation runs with at least one reduction left in the
		// current pass; a pass that ran past its budget would get here at 0.
		if a.BudgetRemaining <= 0 {
			overBudget.Store(true)
		}
		atomic.AddInt32(&processed, 1)
		return nil
	})
	a = spawnPush(table, 2, h) // budget of 2

	for i := 0; i < 5; i++ {
		_, err := a.Mailbox.PushUser([]byte{byte(i)})
		require.NoError(t, err)
	}
	s.NotifyReady(a)

	// With a budget of 2 the 5 messages need several passes, so the actor
	// must re-queue itself; all 5 are eventually processed and no pass
	// dispatched a message after its budget was spent.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&processed) == 5
	}, 2*time.Second, 10*time.Millisecond)
	require.False(t, overBudget.Load(), "a dispatch pass invoked the handler with no budget left")
}

func TestHandlerPanicBecomesSelfExit(t *testing.T) {
	hooks := &fakeHooks{}
	s, table := newTestScheduler(t, hooks)

	h := membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		panic("boom")
	})
	a := spawnPush(table, 10, h)

	_, err := a.Mailbox.PushUser([]byte("x"))
	require.NoError(t, err)
	s.NotifyReady(a)

	require.Eventually(t, func() bool {
		hooks.mu.Lock()
		defer hooks.mu.Unlock()
		return len(hooks.exits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	require.Contains(t, hooks.exits[0], "panic")
}

func TestBudgetRatioBoundsDispatchShareAcrossActors(t *testing.T) {
	table := pid.NewTable[*acb.ACB](4)
	s := New(Config{Workers: 1}, table, &fakeHooks{}, nil, nil)
	s.Start()

	var countA, countB int32
	hA := membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		atomic.AddInt32(&countA, 1)
		return nil
	})
	hB := membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		atomic.AddInt32(&countB, 1)
		return nil
	})
	a := spawnPush(table, 10, hA) // budget 10
	b := spawnPush(table, 2, hB)  // budget 2

	// Keep both actors permanently ready (more messages than either could
	// drain in the sampling window below) so every dispatch turn is
	// budget-bound rather than mailbox-bound.
	const messagesEach = 200000
	for i := 0; i < messagesEach; i++ {
		_, err := a.Mailbox.PushUser([]byte{0})
		require.NoError(t, err)
		_, err = b.Mailbox.PushUser([]byte{0})
		require.NoError(t, err)
	}
	s.NotifyReady(a)
	s.NotifyReady(b)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	ca, cb := atomic.LoadInt32(&countA), atomic.LoadInt32(&countB)
	require.Greater(t, cb, int32(0), "the low-budget actor must still get turns, never be starved")
	ratio := float64(ca) / float64(cb)
	require.InDelta(t, 5.0, ratio, 2.0,
		"dispatch share between two always-ready actors on one worker should track their budget ratio (10:2)")
}

func TestNotifyReadyIsIdempotentWhileInDispatch(t *testing.T) {
	_, table := newTestScheduler(t, &fakeHooks{})

	started := make(chan struct{})
	release := make(chan struct{})
	var concurrentEntries int32

	h := membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		if atomic.AddInt32(&concurrentEntries, 1) > 1 {
			t.Error("more than one worker entered the handler concurrently for the same actor")
		}
		close(started)
		<-release
		atomic.AddInt32(&concurrentEntries, -1)
		return nil
	})

	s2 := New(Config{Workers: 4}, table, &fakeHooks{}, nil, nil)
	s2.Start()
	defer s2.Stop()

	a := spawnPush(table, 10, h)
	_, err := a.Mailbox.PushUser([]byte("first"))
	require.NoError(t, err)
	s2.NotifyReady(a)

	<-started
	// fire several redundant NotifyReady calls while the actor is mid-dispatch
	for i := 0; i < 10; i++ {
		s2.NotifyReady(a)
	}
	close(release)
}
