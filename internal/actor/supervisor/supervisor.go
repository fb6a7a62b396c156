// Package supervisor implements the link/monitor fabric (spec C6): symmetric
// links propagate Exit to both sides, monitors deliver a one-way
// notification, and remote monitors fan out over a peer session instead of
// a local mailbox push. It implements scheduler.Hooks so the scheduler can
// call into it without importing it back (internal/actor/scheduler defines
// the interface; this package only depends on acb/mailbox/pid).
package supervisor

import (
	"log/slog"

	"github.com/webitel/actorcore/internal/actor/acb"
	"github.com/webitel/actorcore/internal/actor/mailbox"
	"github.com/webitel/actorcore/internal/actor/pid"
)

// RemoteNotifier delivers a DownRemote system message across a peer session
// when a monitored actor terminates and the watcher lives on another node.
// internal/cluster/network provides the concrete implementation.
type RemoteNotifier interface {
	SendDownRemote(peerAddr string, remotePID uint64, reason string) error
}

// Locator resolves a PID to its live ACB, so the fabric can push
// notifications into a linked/watching actor's own mailbox.
type Locator interface {
	Lookup(p pid.PID) (*acb.ACB, bool)
}

// Waker re-enters an actor into the ready queue after a mailbox push,
// mirroring scheduler.Scheduler.NotifyReady without an import cycle.
type Waker interface {
	NotifyReady(a *acb.ACB)
}

// NameScrubber removes every registry name bound to a terminated PID.
// internal/actor/registry.Registry implements this; it is optional since a
// Runtime with no name registry configured has nothing to scrub.
type NameScrubber interface {
	ScrubTerminated(p pid.PID)
}

// Fabric is the supervision engine shared by every actor in one Runtime.
type Fabric struct {
	locator Locator
	waker   Waker
	remote  RemoteNotifier
	names   NameScrubber
	logger  *slog.Logger
}

// New constructs a Fabric. remote may be nil for single-node runtimes;
// waker may also be nil at construction time and supplied later via
// SetWaker, since the scheduler and the fabric reference each other
// (the scheduler needs the fabric as its Hooks, the fabric needs the
// scheduler as its Waker) and one of the two must be built second.
func New(locator Locator, waker Waker, remote RemoteNotifier, logger *slog.Logger) *Fabric {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fabric{locator: locator, waker: waker, remote: remote, logger: logger}
}

// SetWaker binds the scheduler used to re-enter a notified actor into the
// ready queue. See New's doc comment for why this is sometimes set after
// construction rather than passed in up front.
func (f *Fabric) SetWaker(waker Waker) { f.waker = waker }

// SetNameScrubber binds the name registry to scrub on every Exit. Unlike
// the waker, there is no ordering constraint here: internal/runtime builds
// the registry before the fabric and binds it right after New. New simply
// does not take it as a parameter; it is a setter for symmetry with
// SetWaker.
func (f *Fabric) SetNameScrubber(names NameScrubber) { f.names = names }

// OnLink establishes a symmetric link between a and other. If other has
// already terminated, a immediately observes a synthetic Exit, matching
// the behavior of linking to a still-live peer that later terminates.
func (f *Fabric) OnLink(a *acb.ACB, other pid.PID) {
	a.AddLink(other)
	ob, ok := f.locator.Lookup(other)
	if !ok {
		f.deliverExit(a, other, "noproc", true)
		return
	}
	if ob.State() == acb.Terminated {
		f.deliverExit(a, other, "noproc", true)
		return
	}
	ob.AddLink(a.PID)
}

// OnMonitor registers a as watching target, delivering a synthetic Exit
// immediately if target is already gone.
func (f *Fabric) OnMonitor(a *acb.ACB, target pid.PID) {
	ob, ok := f.locator.Lookup(target)
	if !ok || ob.State() == acb.Terminated {
		f.deliverExit(a, target, "noproc", true)
		return
	}
	ob.AddWatcher(a.PID)
}

// OnExit transitions a to Terminated and fans the termination out to every
// link (symmetric: both sides see it, as an unprompted self-directed Exit
// on the peer's own lane) and every watcher (asymmetric: a one-way
// notification, never a trigger to terminate the watcher), plus any
// registered remote monitors over their originating peer sessions.
func (f *Fabric) OnExit(a *acb.ACB, reason string) {
	if !a.CompareAndSwapState(acb.Alive, acb.Terminated) {
		a.SetState(acb.Terminated)
	}
	if f.names != nil {
		f.names.ScrubTerminated(a.PID)
	}

	for _, lp := range a.Links() {
		if peer, ok := f.locator.Lookup(lp); ok {
			f.deliverExit(peer, a.PID, reason, false)
		}
	}
	for _, wp := range a.Watchers() {
		if peer, ok := f.locator.Lookup(wp); ok {
			f.deliverExit(peer, a.PID, reason, true)
		}
	}
	if f.remote != nil {
		for _, rw := range a.RemoteWatchers() {
			if err := f.remote.SendDownRemote(rw.PeerAddr, rw.RemotePID, reason); err != nil {
				f.logger.Warn("remote monitor notification failed",
					slog.String("peer", rw.PeerAddr), slog.Any("err", err))
			}
		}
	}
}

// deliverExit pushes an Exit/DownRemote-flavored system message about
// source into target's mailbox and wakes it. notify=true marks it as an
// informational notification (monitor or already-dead link target);
// notify=false marks it as a live link's termination signal, which the
// scheduler's OnExit path will in turn propagate again from the peer —
// this is the documented "linked actors terminate together" cascade.
//
// The notify=true case is buffered into target's observed set once, by the
// scheduler when it drains this very message (handleSystem's SysExit
// branch) — not here, or get_messages would see every notification twice.
func (f *Fabric) deliverExit(target *acb.ACB, source pid.PID, reason string, notify bool) {
	target.Mailbox.PushSystem(mailbox.SystemMessage{
		Kind:   mailbox.SysExit,
		Source: source,
		Target: source,
		Reason: reason,
		Notify: notify,
	})
	f.waker.NotifyReady(target)
}

// OnPeerDown fans NODEDOWN out to every remote-monitor watcher whose peer
// session matches addr: within a heartbeat timeout window, every local
// actor monitoring a PID on that peer gets a DownRemote notification.
func (f *Fabric) OnPeerDown(addr string, affected []*acb.ACB) {
	for _, a := range affected {
		for _, rm := range a.RemoteMonitors() {
			if rm.PeerAddr != addr {
				continue
			}
			a.Mailbox.PushSystem(mailbox.SystemMessage{
				Kind:       mailbox.SysDownRemote,
				RemoteAddr: addr,
				Reason:     "nodedown",
				Notify:     true,
			})
			f.waker.NotifyReady(a)
		}
	}
}
