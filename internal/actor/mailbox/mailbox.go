// Package mailbox implements the per-actor dual-priority queue: an
// unbounded system lane drained ahead of a bounded-or-unbounded user lane.
// Both lanes preserve per-producer FIFO order.
//
// A mutex-guarded slice-backed FIFO stands in for a true lock-free MPSC
// queue here: system-before-user drain, per-producer FIFO, and
// budget-bounded partial draining only need a correct FIFO with a
// peek/pop split, which a raw buffered channel cannot give without an extra
// side-table for "is it empty". A lock-free ring would be a pure throughput
// optimization with no semantic difference, so it's left as a documented
// option rather than a rewrite (see DESIGN.md).
package mailbox

import (
	"sync"

	"github.com/webitel/actorcore/internal/actor/errs"
	"github.com/webitel/actorcore/internal/actor/pid"
)

// SystemKind enumerates the kinds of system message an actor can receive.
type SystemKind int

const (
	SysExit SystemKind = iota
	SysHotSwap
	SysLink
	SysMonitor
	SysDownRemote
	SysPing
	SysPong
)

func (k SystemKind) String() string {
	switch k {
	case SysExit:
		return "Exit"
	case SysHotSwap:
		return "HotSwap"
	case SysLink:
		return "Link"
	case SysMonitor:
		return "Monitor"
	case SysDownRemote:
		return "DownRemote"
	case SysPing:
		return "Ping"
	case SysPong:
		return "Pong"
	default:
		return "Unknown"
	}
}

// SystemMessage is the System variant of the actor's tagged message union.
// Target identifies which actor the message is ABOUT: for a self-directed
// Exit (stop() or a handler fault) Target equals the PID the message sits
// in; for an Exit *notification* delivered to a link/monitor, Target names
// the actor that terminated while the message physically sits in the
// recipient's (the watcher's) mailbox. See DESIGN.md for the
// worked-through rationale.
type SystemMessage struct {
	Kind       SystemKind
	Source     pid.PID
	Target     pid.PID
	Reason     string
	RemoteAddr string         // for DownRemote
	Notify     bool           // true => observational only, never a self-terminate trigger
	Metadata   map[string]any
}

// Mailbox is the per-actor queue. The single consumer is the scheduler
// worker currently dispatching the owning actor; many producers may push
// concurrently.
type Mailbox struct {
	mu      sync.Mutex
	sys     []SystemMessage
	user    [][]byte
	userCap int // 0 = unbounded
}

// New creates a Mailbox. userCap == 0 means an unbounded user lane.
func New(userCap int) *Mailbox {
	return &Mailbox{userCap: userCap}
}

// PushSystem enqueues a system message, bypassing user-lane capacity. It
// reports whether the mailbox was empty (both lanes) before the push, so
// callers can decide whether to wake the scheduler.
func (m *Mailbox) PushSystem(sm SystemMessage) (wasEmpty bool) {
	m.mu.Lock()
	wasEmpty = len(m.sys) == 0 && len(m.user) == 0
	m.sys = append(m.sys, sm)
	m.mu.Unlock()
	return wasEmpty
}

// PushUser enqueues a user payload. If the mailbox has a positive capacity
// and the user lane is already at that capacity, it fails with
// errs.ErrMailboxFull; the caller (producer) decides drop vs. backpressure.
func (m *Mailbox) PushUser(payload []byte) (wasEmpty bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userCap > 0 && len(m.user) >= m.userCap {
		return false, errs.ErrMailboxFull
	}
	wasEmpty = len(m.sys) == 0 && len(m.user) == 0
	m.user = append(m.user, payload)
	return wasEmpty, nil
}

// NextSystem pops the oldest system message, if any.
func (m *Mailbox) NextSystem() (SystemMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sys) == 0 {
		return SystemMessage{}, false
	}
	sm := m.sys[0]
	m.sys = m.sys[1:]
	return sm, true
}

// NextUser pops the oldest user payload, if any. Must only be called
// after NextSystem reports empty, within one drain pass.
func (m *Mailbox) NextUser() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.user) == 0 {
		return nil, false
	}
	p := m.user[0]
	m.user = m.user[1:]
	return p, true
}

// Pending reports whether either lane is nonempty.
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sys) > 0 || len(m.user) > 0
}

// HasSystem reports whether the system lane is nonempty, used by the
// scheduler to decide it must dispatch a system message next.
func (m *Mailbox) HasSystem() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sys) > 0
}

// Len returns (system count, user count) for introspection/metrics.
func (m *Mailbox) Len() (sysLen, userLen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sys), len(m.user)
}
