package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/actorcore/internal/actor/errs"
	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/cluster/network"
	"github.com/webitel/actorcore/internal/membrane"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt := New(Config{DefaultBudget: 50, SchedulerWorkers: 2}, nil)
	require.NoError(t, rt.Start())
	t.Cleanup(rt.Stop)
	return rt
}

func TestSpawnAndSendDeliversPayload(t *testing.T) {
	rt := newTestRuntime(t)
	got := make(chan string, 1)

	p := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		got <- string(payload)
		return nil
	}))

	require.NoError(t, rt.Send(context.Background(), p, []byte("hello")))

	select {
	case v := <-got:
		require.Equal(t, "hello", v)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestHotSwapReplacesHandlerAndRecordsNotification(t *testing.T) {
	rt := newTestRuntime(t)
	var version int32

	p := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		atomic.StoreInt32(&version, 1)
		return nil
	}))
	require.NoError(t, rt.Send(context.Background(), p, []byte("x")))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&version) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, rt.HotSwap(context.Background(), p, membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		atomic.StoreInt32(&version, 2)
		return nil
	})))
	require.NoError(t, rt.Send(context.Background(), p, []byte("y")))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&version) == 2 }, time.Second, 5*time.Millisecond)

	msgs, err := rt.GetMessages(context.Background(), p)
	require.NoError(t, err)
	found := false
	for _, m := range msgs {
		if m.Kind.String() == "HotSwap" {
			found = true
		}
	}
	require.True(t, found, "a HotSwap notification must be observable via GetMessages")
}

func TestHotSwapNotifiesWatchingMonitor(t *testing.T) {
	rt := newTestRuntime(t)

	target := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))
	watcher := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))
	require.NoError(t, rt.Monitor(context.Background(), watcher, target))

	require.NoError(t, rt.HotSwap(context.Background(), target, membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil })))

	require.Eventually(t, func() bool {
		msgs, err := rt.GetMessages(context.Background(), watcher)
		if err != nil {
			return false
		}
		for _, m := range msgs {
			if m.Kind.String() == "HotSwap" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "a monitor of the swapped actor, not just the swapped actor itself, must observe HotSwap")
}

func TestHotSwapUnderSendStormLosesNoMessages(t *testing.T) {
	rt := newTestRuntime(t)

	var v1, v2 int32
	h1 := membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		atomic.AddInt32(&v1, 1)
		return nil
	})
	h2 := membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		atomic.AddInt32(&v2, 1)
		return nil
	})

	p := rt.Spawn(context.Background(), h1)

	const totalMessages = 2000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < totalMessages; i++ {
			_ = rt.Send(context.Background(), p, []byte{byte(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				_ = rt.HotSwap(context.Background(), p, h1)
			} else {
				_ = rt.HotSwap(context.Background(), p, h2)
			}
		}
	}()
	wg.Wait()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&v1)+atomic.LoadInt32(&v2) == totalMessages
	}, 3*time.Second, 10*time.Millisecond, "every sent message must be processed by exactly one handler version despite concurrent hot-swaps")
}

func TestLinkedActorsTerminateTogether(t *testing.T) {
	rt := newTestRuntime(t)

	a := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))
	b := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))

	require.NoError(t, rt.Link(context.Background(), a, b))
	require.NoError(t, rt.StopActor(context.Background(), a, "test-stop"))

	require.Eventually(t, func() bool {
		for _, info := range rt.ListActors() {
			if info.PID == b && info.State == "Terminated" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "a linked partner must terminate when its link partner exits")
}

func TestMonitorDeliversObservationWithoutTerminatingWatcher(t *testing.T) {
	rt := newTestRuntime(t)

	target := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))
	watcher := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))

	require.NoError(t, rt.Monitor(context.Background(), watcher, target))
	require.NoError(t, rt.StopActor(context.Background(), target, "done"))

	require.Eventually(t, func() bool {
		msgs, err := rt.GetMessages(context.Background(), watcher)
		return err == nil && len(msgs) == 1
	}, time.Second, 5*time.Millisecond)

	for _, info := range rt.ListActors() {
		if info.PID == watcher {
			require.Equal(t, "Alive", info.State, "a monitor notification must never terminate the watcher")
		}
	}
}

func TestSupervisedRestartSpawnsNewPIDAfterHandlerFault(t *testing.T) {
	rt := newTestRuntime(t)

	var calls int32
	newWorkerHandler := func() membrane.PushHandler {
		return membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
			if atomic.AddInt32(&calls, 1) >= 3 {
				return fmt.Errorf("boom")
			}
			return nil
		})
	}

	w := rt.Spawn(context.Background(), newWorkerHandler())
	supervisor := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))
	require.NoError(t, rt.Monitor(context.Background(), supervisor, w))

	for i := 0; i < 3; i++ {
		require.NoError(t, rt.Send(context.Background(), w, []byte("x")))
	}

	require.Eventually(t, func() bool {
		msgs, err := rt.GetMessages(context.Background(), supervisor)
		return err == nil && len(msgs) == 1 && msgs[0].Reason == "HandlerError:boom"
	}, time.Second, 5*time.Millisecond, "the supervisor must observe the worker's fault-triggered Exit")

	wNew := rt.Spawn(context.Background(), newWorkerHandler())
	require.NotEqual(t, w, wNew, "a restarted worker must receive a new PID")
}

func TestTwoNodeMonitorRemoteObservesDownRemoteThenSendRemoteFailsNoPeer(t *testing.T) {
	nodeA := New(Config{
		DefaultBudget: 50,
		ListenAddr:    "127.0.0.1:0",
		Network:       network.Config{PingInterval: time.Second, TimeoutMultiple: 5},
	}, nil)
	require.NoError(t, nodeA.Start())
	t.Cleanup(nodeA.Stop)

	nodeB := New(Config{
		DefaultBudget: 50,
		ListenAddr:    "127.0.0.1:0",
		Network:       network.Config{PingInterval: time.Second, TimeoutMultiple: 5},
	}, nil)
	require.NoError(t, nodeB.Start())
	t.Cleanup(nodeB.Stop)

	addrB := nodeB.netman.ListenerAddr()
	require.NoError(t, nodeA.DialPeer(context.Background(), addrB))

	target := nodeB.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))
	watcher := nodeA.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))

	require.NoError(t, nodeA.MonitorRemote(context.Background(), watcher, addrB, pid.Encode(target)))

	require.NoError(t, nodeB.StopActor(context.Background(), target, "done"))

	require.Eventually(t, func() bool {
		msgs, err := nodeA.GetMessages(context.Background(), watcher)
		return err == nil && len(msgs) == 1 && msgs[0].Kind.String() == "DownRemote"
	}, 2*time.Second, 10*time.Millisecond, "a MonitorRemote watcher must observe DownRemote within the heartbeat timeout window")

	require.NoError(t, nodeA.netman.Close())
	err := nodeA.SendRemote(context.Background(), addrB, target, []byte("x"))
	require.ErrorIs(t, err, errs.ErrNoPeer)
}

func TestRegisterResolveAndUnregister(t *testing.T) {
	rt := newTestRuntime(t)

	p := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))
	require.NoError(t, rt.Register(context.Background(), "worker", p))

	got, ok := rt.ResolveLocal(context.Background(), "worker")
	require.True(t, ok)
	require.Equal(t, p, got)

	rt.Unregister(context.Background(), "worker", p)
	_, ok = rt.ResolveLocal(context.Background(), "worker")
	require.False(t, ok)
}

// TestTwoNodeResolveAndSendRemote exercises the full cluster loop: two
// in-process Runtimes dial each other over real loopback TCP, one resolves
// a name registered on the other, then forwards a user message to the PID
// that resolution returned.
func TestTwoNodeResolveAndSendRemote(t *testing.T) {
	nodeA := New(Config{
		DefaultBudget: 50,
		ListenAddr:    "127.0.0.1:0",
		Network:       network.Config{PingInterval: time.Second, TimeoutMultiple: 5},
	}, nil)
	require.NoError(t, nodeA.Start())
	t.Cleanup(nodeA.Stop)

	nodeB := New(Config{
		DefaultBudget: 50,
		ListenAddr:    "127.0.0.1:0",
		Network:       network.Config{PingInterval: time.Second, TimeoutMultiple: 5},
	}, nil)
	require.NoError(t, nodeB.Start())
	t.Cleanup(nodeB.Stop)

	addrB := nodeB.netman.ListenerAddr()

	got := make(chan string, 1)
	target := nodeB.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		got <- string(payload)
		return nil
	}))
	require.NoError(t, nodeB.Register(context.Background(), "echo", target))

	require.NoError(t, nodeA.DialPeer(context.Background(), addrB))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resolved, err := nodeA.ResolveRemote(ctx, addrB, "echo")
	require.NoError(t, err)
	require.Equal(t, target, resolved)

	require.NoError(t, nodeA.SendRemote(context.Background(), addrB, resolved, []byte("ping-across-the-wire")))

	select {
	case v := <-got:
		require.Equal(t, "ping-across-the-wire", v)
	case <-time.After(2 * time.Second):
		t.Fatal("remote message never arrived")
	}
}
