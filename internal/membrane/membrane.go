// Package membrane defines the host-language membrane contract. The
// runtime never sees the guest language: it calls out through these three
// narrow capabilities and gets back either an error it converts to an Exit
// system message, or an explicit pull-mode status.
//
// Variants inside the core are Push{invoke} and Pull{step, state}: the
// core dispatches to one of these two interfaces and never branches on the
// guest language itself.
package membrane

import (
	"context"

	"github.com/webitel/actorcore/internal/actor/pid"
)

// PushHandler is the synchronous-from-the-worker's-view capability used by
// Push-mode actors. The membrane is responsible for acquiring any
// interpreter-level lock and crossing into the guest; it must tolerate
// concurrent invocations from different actors but need not support the
// same actor from two workers (the scheduler already guarantees that via
// its dispatch-token CAS).
type PushHandler interface {
	Invoke(ctx context.Context, payload []byte) error
}

// PushHandlerFunc adapts a plain function to a PushHandler.
type PushHandlerFunc func(ctx context.Context, payload []byte) error

func (f PushHandlerFunc) Invoke(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// PullEventKind enumerates the events invoke_pull_step can be driven with.
type PullEventKind int

const (
	PullEventMessage PullEventKind = iota
	PullEventTimeout
	PullEventCancel
)

// PullEvent is one step input for a Pull-mode coroutine.
type PullEvent struct {
	Kind    PullEventKind
	Payload []byte
}

// PullStatus is the coarse result of one invoke_pull_step call.
type PullStatus int

const (
	PullYielded PullStatus = iota
	PullCompleted
)

// PullResult is the full result of one step: Yielded carries the duration
// the scheduler should wait before the next Message/Timeout event if the
// coroutine is awaiting with a deadline (zero means "wait indefinitely for
// a message, no timeout"); Completed carries the terminal reason.
type PullResult struct {
	Status   PullStatus
	NextWait int64 // nanoseconds; 0 = no deadline
	Reason   string
}

// PullHandler drives a suspendable Pull-mode actor one step at a time. The
// runtime owns the wake-up (a time.Timer deadline in scheduler.AwaitPull or
// a wake event), never the guest: see the "Coroutines for pull actors"
// design note (§9).
type PullHandler interface {
	Step(ctx context.Context, ev PullEvent) (PullResult, error)
}

// PullFactory produces a fresh PullHandler for one spawn_with_mailbox call.
type PullFactory func() PullHandler

// SystemReporter is the reverse direction (§6.1 post_system_message): the
// membrane reports host-side exceptions as Exit(reason=trace) into the
// actor's own system lane. No runtime code constructs or hands out a
// SystemReporter: handler faults reach the system lane through the error a
// PushHandler returns, which the scheduler converts into an Exit.
type SystemReporter interface {
	PostSystemMessage(target pid.PID, reason string)
}

// SystemReporterFunc adapts a plain function to a SystemReporter.
type SystemReporterFunc func(target pid.PID, reason string)

func (f SystemReporterFunc) PostSystemMessage(target pid.PID, reason string) { f(target, reason) }
