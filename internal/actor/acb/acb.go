// Package acb implements the Actor Control Block: the struct that binds a
// PID to its mailbox, behavior cell, reduction budget, links and monitors,
// and lifecycle state. The dispatch fields (budget, dispatch token) are
// touched by the scheduler worker currently dispatching it; producers push
// into its mailbox. The link, watcher and remote-monitor sets are guarded
// by a mutex because they are also updated from outside the owning
// worker: by the supervision fabric on a link partner's or monitored
// target's ACB, by Runtime.MonitorRemote, and by inbound cluster frames.
package acb

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/actorcore/internal/actor/behavior"
	"github.com/webitel/actorcore/internal/actor/mailbox"
	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/membrane"
)

// State is the ACB lifecycle state.
type State int32

const (
	Spawning State = iota
	Alive
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Spawning:
		return "Spawning"
	case Alive:
		return "Alive"
	case Draining:
		return "Draining"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Mode distinguishes Push-mode actors (driven by a PushHandler via the
// scheduler) from Pull-mode actors (driven by invoke_pull_step).
type Mode int

const (
	ModePush Mode = iota
	ModePull
)

// RemoteMonitorKey identifies a remote-monitor relationship keyed by
// (peer_addr, remote_pid).
type RemoteMonitorKey struct {
	PeerAddr string
	RemotePID uint64
}

// ACB is the Actor Control Block.
type ACB struct {
	PID      pid.PID
	Mailbox  *mailbox.Mailbox
	Behavior *behavior.Cell // nil for Pull-mode actors
	Mode     Mode

	// Pull-mode only.
	PullHandler membrane.PullHandler
	PullWake    chan mailbox.SystemMessage // used by the scheduler to deliver a wake event

	BudgetDefault int
	// BudgetRemaining is touched only by the owning worker during a dispatch
	// pass; it is not atomic because exactly one worker ever writes it.
	BudgetRemaining int

	state atomic.Int32

	// Pending/InDispatch implement the ready-queue protocol: Pending
	// prevents duplicate ready-queue entries while idle;
	// InDispatch tells producers to skip enqueuing (the worker will
	// re-check and re-queue itself once it finishes its budget).
	Pending    atomic.Bool
	InDispatch atomic.Bool

	mu             sync.Mutex
	links          map[pid.PID]struct{}
	watchers       map[pid.PID]struct{} // PIDs monitoring this actor (asymmetric)
	remoteMonitors map[RemoteMonitorKey]struct{}
	// remoteWatchers holds the inverse relationship: remote (peer, pid) pairs
	// that registered to watch THIS actor, keyed by the sending peer's
	// address and the watcher's own PID on that peer. Populated by a Monitor
	// SystemSignal arriving over the wire, consulted by the supervision
	// fabric when this actor terminates.
	remoteWatchers map[RemoteMonitorKey]struct{}

	obsMu    sync.Mutex
	observed []mailbox.SystemMessage // notifications buffered for get_messages polling

	createdAt time.Time
}

const maxObserved = 1000

// New constructs an ACB in state Spawning.
func New(p pid.PID, userCap, budget int, mode Mode) *ACB {
	a := &ACB{
		PID:            p,
		Mailbox:        mailbox.New(userCap),
		Mode:           mode,
		BudgetDefault:  budget,
		links:          make(map[pid.PID]struct{}),
		watchers:       make(map[pid.PID]struct{}),
		remoteMonitors: make(map[RemoteMonitorKey]struct{}),
		remoteWatchers: make(map[RemoteMonitorKey]struct{}),
		createdAt:      time.Now(),
	}
	a.state.Store(int32(Spawning))
	return a
}

func (a *ACB) State() State { return State(a.state.Load()) }

func (a *ACB) SetState(s State) { a.state.Store(int32(s)) }

// CompareAndSwapState is a convenience CAS over the lifecycle state.
func (a *ACB) CompareAndSwapState(old, new State) bool {
	return a.state.CompareAndSwap(int32(old), int32(new))
}

func (a *ACB) ResetBudget() { a.BudgetRemaining = a.BudgetDefault }

// AddLink adds a symmetric link to other. Safe for concurrent use.
func (a *ACB) AddLink(other pid.PID) {
	a.mu.Lock()
	a.links[other] = struct{}{}
	a.mu.Unlock()
}

// RemoveLink removes a symmetric link to other. Safe for concurrent use.
func (a *ACB) RemoveLink(other pid.PID) {
	a.mu.Lock()
	delete(a.links, other)
	a.mu.Unlock()
}

// Links returns a snapshot of currently-linked PIDs.
func (a *ACB) Links() []pid.PID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]pid.PID, 0, len(a.links))
	for p := range a.links {
		out = append(out, p)
	}
	return out
}

// AddWatcher registers watcher as monitoring this actor.
func (a *ACB) AddWatcher(watcher pid.PID) {
	a.mu.Lock()
	a.watchers[watcher] = struct{}{}
	a.mu.Unlock()
}

// Watchers returns a snapshot of PIDs currently monitoring this actor.
func (a *ACB) Watchers() []pid.PID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]pid.PID, 0, len(a.watchers))
	for p := range a.watchers {
		out = append(out, p)
	}
	return out
}

// AddRemoteMonitor records that this actor monitors remotePID on peerAddr.
func (a *ACB) AddRemoteMonitor(k RemoteMonitorKey) {
	a.mu.Lock()
	a.remoteMonitors[k] = struct{}{}
	a.mu.Unlock()
}

// RemoteMonitorsByPeer returns remote-monitor keys for a given peer address.
func (a *ACB) RemoteMonitorsByPeer(addr string) []RemoteMonitorKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []RemoteMonitorKey
	for k := range a.remoteMonitors {
		if k.PeerAddr == addr {
			out = append(out, k)
		}
	}
	return out
}

// RemoteMonitors returns a snapshot of all remote-monitor keys.
func (a *ACB) RemoteMonitors() []RemoteMonitorKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RemoteMonitorKey, 0, len(a.remoteMonitors))
	for k := range a.remoteMonitors {
		out = append(out, k)
	}
	return out
}

// AddRemoteWatcher registers a remote watcher of this actor, identified by
// the peer session it arrived on and its own PID on that peer.
func (a *ACB) AddRemoteWatcher(k RemoteMonitorKey) {
	a.mu.Lock()
	a.remoteWatchers[k] = struct{}{}
	a.mu.Unlock()
}

// RemoteWatchers returns a snapshot of every remote watcher of this actor.
func (a *ACB) RemoteWatchers() []RemoteMonitorKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RemoteMonitorKey, 0, len(a.remoteWatchers))
	for k := range a.remoteWatchers {
		out = append(out, k)
	}
	return out
}

// Observe buffers a notification system message for later get_messages
// polling, dropping the oldest entry on overflow.
func (a *ACB) Observe(sm mailbox.SystemMessage) {
	a.obsMu.Lock()
	if len(a.observed) >= maxObserved {
		a.observed = a.observed[1:]
	}
	a.observed = append(a.observed, sm)
	a.obsMu.Unlock()
}

// DrainObserved returns and clears all buffered notifications in FIFO order.
func (a *ACB) DrainObserved() []mailbox.SystemMessage {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	out := a.observed
	a.observed = nil
	return out
}
