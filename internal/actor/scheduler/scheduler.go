// Package scheduler implements the cooperative reduction scheduler: a pool
// of workers pop ready PIDs, drain the system lane ahead of the user lane,
// invoke the membrane up to the actor's reduction budget, and re-queue
// actors whose mailbox is still nonempty.
//
// The worker loop and its ready-queue/pending/in-dispatch token protocol
// generalize a one-fixed-goroutine-per-actor run loop into a bounded pool
// of worker goroutines shared across all actors, for multi-worker
// scheduling rather than a goroutine-per-actor model.
package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/webitel/actorcore/internal/actor/acb"
	"github.com/webitel/actorcore/internal/actor/errs"
	"github.com/webitel/actorcore/internal/actor/mailbox"
	"github.com/webitel/actorcore/internal/actor/pid"
)

// Hooks lets the scheduler delegate supervision/notification logic without
// importing the supervisor package (which would create an import cycle,
// since supervisor needs the scheduler's wake-up to re-queue notified
// actors). The supervisor.Fabric type implements this interface.
type Hooks interface {
	// OnExit is called when an actor's own system lane yields a
	// terminating Exit (Notify == false): one the actor was sent for itself,
	// or one cascaded from a linked partner, whose Target is that partner.
	// It must transition the actor to Terminated and fan the notification
	// out to links and monitors.
	OnExit(a *acb.ACB, reason string)
	// OnLink processes a Link system message: establish a symmetric link
	// between a and other.
	OnLink(a *acb.ACB, other pid.PID)
	// OnMonitor processes a Monitor system message: a starts watching
	// target (asymmetric).
	OnMonitor(a *acb.ACB, target pid.PID)
}

// RemoteSender lets the scheduler reply to an actor-level Ping over the
// originating peer session with a Pong, routed back through the network
// manager.
type RemoteSender interface {
	SendPong(peerAddr string, targetRemotePID uint64) error
}

// Config bounds the scheduler's behavior.
type Config struct {
	Workers int // 0 => runtime.GOMAXPROCS(0)
	// ReadyQueueSize bounds the in-flight ready-queue channel; it is sized
	// generously since actors dedupe via the Pending flag before entering it.
	ReadyQueueSize int
}

// Scheduler is the worker pool.
type Scheduler struct {
	cfg     Config
	table   *pid.Table[*acb.ACB]
	hooks   Hooks
	remote  RemoteSender
	logger  *slog.Logger
	ready   chan pid.PID
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New constructs a Scheduler bound to table, delegating supervision to
// hooks and remote Ping replies to remote (either may be nil for tests that
// don't need them, in which case Link/Monitor/Ping simply no-op).
func New(cfg Config, table *pid.Table[*acb.ACB], hooks Hooks, remote RemoteSender, logger *slog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.ReadyQueueSize <= 0 {
		cfg.ReadyQueueSize = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		table:  table,
		hooks:  hooks,
		remote: remote,
		logger: logger,
		ready:  make(chan pid.PID, cfg.ReadyQueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker pool. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
}

// Stop signals all workers to exit and waits for them to drain out.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	close(s.stopCh)
	s.wg.Wait()
}

// ReadyLen reports the current depth of the ready queue, used by the ops
// console and HTTP introspection surface.
func (s *Scheduler) ReadyLen() int { return len(s.ready) }

// NotifyReady implements the enqueue-producer path: if the actor is Alive
// and not currently in-dispatch, it marks pending and
// pushes the PID into the ready queue exactly once. If the actor is
// in-dispatch, the owning worker's own re-check after finishing its budget
// is responsible for re-queuing — this is what prevents both lost wakeups
// and duplicate ready-queue entries.
func (s *Scheduler) NotifyReady(a *acb.ACB) {
	if a.State() != acb.Alive {
		return
	}
	if a.InDispatch.Load() {
		return
	}
	if a.Pending.CompareAndSwap(false, true) {
		select {
		case s.ready <- a.PID:
		default:
			// Ready queue saturated: drop the pending marker so a future
			// push retries. This only trades a little latency, never a
			// lost message (the mailbox itself still holds the payload).
			a.Pending.Store(false)
		}
	}
}

func (s *Scheduler) workerLoop() {
	defer s.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-s.stopCh:
			return
		case p := <-s.ready:
			s.dispatch(ctx, p)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, p pid.PID) {
	a, ok := s.table.Lookup(p)
	if !ok {
		return
	}
	if !a.InDispatch.CompareAndSwap(false, true) {
		return
	}
	a.Pending.Store(false)
	a.ResetBudget()

	for {
		if a.BudgetRemaining <= 0 {
			break
		}
		if sm, ok := a.Mailbox.NextSystem(); ok {
			s.handleSystem(ctx, a, sm)
			a.BudgetRemaining-- // Design Notes (a): system messages are charged 1 reduction.
			if a.State() != acb.Alive {
				break
			}
			continue
		}
		if a.State() != acb.Alive {
			break
		}
		payload, ok := a.Mailbox.NextUser()
		if !ok {
			break
		}
		s.invokeUser(ctx, a, payload)
		a.BudgetRemaining--
	}

	a.InDispatch.Store(false)
	if a.State() == acb.Alive && a.Mailbox.Pending() {
		s.NotifyReady(a)
	}
}

func (s *Scheduler) invokeUser(ctx context.Context, a *acb.ACB, payload []byte) {
	if a.Mode != acb.ModePush || a.Behavior == nil {
		return
	}
	handler := a.Behavior.Load()
	if handler == nil {
		return
	}
	reason := s.invokeGuarded(ctx, handler, payload)
	if reason != "" {
		// A handler fault never crashes the runtime: it becomes a
		// self-directed Exit on the faulting actor.
		a.Mailbox.PushSystem(mailbox.SystemMessage{
			Kind:   mailbox.SysExit,
			Source: a.PID,
			Target: a.PID,
			Reason: "HandlerError:" + reason,
		})
	}
}

// invokeGuarded calls the handler with panic recovery: no code path on a
// message boundary may panic the process.
func (s *Scheduler) invokeGuarded(ctx context.Context, h interface {
	Invoke(ctx context.Context, payload []byte) error
}, payload []byte) (reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("actor handler panic recovered", slog.Any("panic", r))
			reason = "panic"
		}
	}()
	if err := h.Invoke(ctx, payload); err != nil {
		return err.Error()
	}
	return ""
}

func (s *Scheduler) handleSystem(ctx context.Context, a *acb.ACB, sm mailbox.SystemMessage) {
	switch sm.Kind {
	case mailbox.SysExit:
		if sm.Notify {
			// Informational notification about a link/monitor partner's
			// termination: buffered for get_messages polling, never a
			// self-terminate trigger.
			a.Observe(sm)
			return
		}
		if s.hooks != nil {
			s.hooks.OnExit(a, sm.Reason)
		} else {
			a.SetState(acb.Terminated)
		}
	case mailbox.SysHotSwap:
		a.Observe(sm)
	case mailbox.SysLink:
		if s.hooks != nil {
			s.hooks.OnLink(a, sm.Target)
		}
	case mailbox.SysMonitor:
		if s.hooks != nil {
			s.hooks.OnMonitor(a, sm.Target)
		}
	case mailbox.SysDownRemote:
		a.Observe(sm)
	case mailbox.SysPing:
		if s.remote != nil && sm.RemoteAddr != "" {
			if err := s.remote.SendPong(sm.RemoteAddr, pidEncodeSelf(a)); err != nil {
				s.logger.Warn("pong reply failed", slog.String("peer", sm.RemoteAddr), slog.Any("err", err))
			}
		}
	case mailbox.SysPong:
		a.Observe(sm)
	}
}

func pidEncodeSelf(a *acb.ACB) uint64 { return pid.Encode(a.PID) }

// AwaitPull waits for one wake event on wake, bounded by timeout (zero
// means no deadline), returning errs.ErrTimeout when the deadline passes.
// It does not call a PullHandler itself. The deadline is enforced with a
// plain time.Timer. A shared timer wheel would only pay off at orders of
// magnitude more concurrent waiters than this runtime targets.
func AwaitPull(ctx context.Context, wake <-chan mailbox.SystemMessage, timeout time.Duration) (mailbox.SystemMessage, error) {
	if timeout <= 0 {
		select {
		case sm := <-wake:
			return sm, nil
		case <-ctx.Done():
			return mailbox.SystemMessage{}, ctx.Err()
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case sm := <-wake:
		return sm, nil
	case <-t.C:
		return mailbox.SystemMessage{}, errs.ErrTimeout
	case <-ctx.Done():
		return mailbox.SystemMessage{}, ctx.Err()
	}
}
