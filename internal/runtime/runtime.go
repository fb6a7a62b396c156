// Package runtime assembles the core components into the single external
// entry point: every operation a host program calls (spawn, send,
// hot_swap, link, monitor, register, resolve, listen) goes through the
// Runtime facade, never through the component packages directly, the way a
// constructor-injected façade fronts a bounded context rather than letting
// callers reach into internal packages themselves.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/actorcore/internal/actor/acb"
	"github.com/webitel/actorcore/internal/actor/behavior"
	"github.com/webitel/actorcore/internal/actor/errs"
	"github.com/webitel/actorcore/internal/actor/mailbox"
	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/actor/registry"
	"github.com/webitel/actorcore/internal/actor/scheduler"
	"github.com/webitel/actorcore/internal/actor/supervisor"
	"github.com/webitel/actorcore/internal/cluster/discovery"
	"github.com/webitel/actorcore/internal/cluster/network"
	"github.com/webitel/actorcore/internal/cluster/router"
	"github.com/webitel/actorcore/internal/cluster/wire"
	"github.com/webitel/actorcore/internal/membrane"
)

var tracer = otel.Tracer("github.com/webitel/actorcore/internal/runtime")

// Config bounds the Runtime's defaults and cluster participation.
type Config struct {
	DefaultBudget    int
	DefaultUserCap   int
	ShardCount       int
	ListenAddr       string // empty => single-node, no inbound cluster listener
	SchedulerWorkers int
	Network          network.Config
	ResolveTTL       time.Duration
	Discovery        discovery.Source // optional
}

func (c Config) withDefaults() Config {
	if c.DefaultBudget <= 0 {
		c.DefaultBudget = 200
	}
	if c.ShardCount <= 0 {
		c.ShardCount = 16
	}
	if c.ResolveTTL <= 0 {
		c.ResolveTTL = 30 * time.Second
	}
	return c
}

// Runtime is the single entry point onto the actor core.
type Runtime struct {
	cfg Config

	table      *pid.Table[*acb.ACB]
	sched      *scheduler.Scheduler
	fabric     *supervisor.Fabric
	reg        *registry.Registry
	netman     *network.Manager
	rt         *router.Router
	discovery  discovery.Source
	logger     *slog.Logger
}

// New wires every component together. logger may be nil (defaults to
// slog.Default()).
func New(cfg Config, logger *slog.Logger) *Runtime {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		cfg:       cfg,
		table:     pid.NewTable[*acb.ACB](cfg.ShardCount),
		discovery: cfg.Discovery,
		logger:    logger,
	}
	r.reg = registry.New(tableLocator{r.table})

	// netRemoteSender/netRemoteNotifier stay nil interfaces (not typed-nil
	// *network.Manager pointers) when clustering is disabled, so the
	// scheduler/fabric's "remote != nil" checks behave correctly.
	var netSender scheduler.RemoteSender
	var netNotifier supervisor.RemoteNotifier
	if cfg.ListenAddr != "" {
		r.netman = network.New(cfg.Network, runtimeFrameHandler{r}, r.onPeerDown, logger)
		netSender = r.netman
		netNotifier = r.netman
	}
	// fabric and scheduler reference each other (fabric is the scheduler's
	// Hooks, the scheduler is the fabric's Waker); build the fabric first
	// with no waker, then bind it once the scheduler exists.
	r.fabric = supervisor.New(tableLookup{r.table}, nil, netNotifier, logger)
	r.sched = scheduler.New(scheduler.Config{Workers: cfg.SchedulerWorkers}, r.table, r.fabric, netSender, logger)
	r.fabric.SetWaker(r.sched)
	r.fabric.SetNameScrubber(r.reg)
	r.rt = router.New(tableMailboxLookup{r.table}, r.reg, netPeerSender{r}, cfg.ResolveTTL)
	return r
}

// tableLocator/tableLookup/tableMailboxLookup adapt *pid.Table[*acb.ACB]
// to the narrow interfaces registry/supervisor/router each declare, so
// none of those packages import pid.Table directly.
type tableLocator struct{ t *pid.Table[*acb.ACB] }

func (l tableLocator) IsLive(p pid.PID) bool { return l.t.IsLive(p) }

type tableLookup struct{ t *pid.Table[*acb.ACB] }

func (l tableLookup) Lookup(p pid.PID) (*acb.ACB, bool) { return l.t.Lookup(p) }

type tableMailboxLookup struct{ t *pid.Table[*acb.ACB] }

func (l tableMailboxLookup) Lookup(p pid.PID) (*mailbox.Mailbox, bool) {
	a, ok := l.t.Lookup(p)
	if !ok {
		return nil, false
	}
	return a.Mailbox, true
}

type netPeerSender struct{ r *Runtime }

func (s netPeerSender) SendFrame(addr string, f wire.Frame) error {
	if s.r.netman == nil {
		return errs.ErrNoPeer
	}
	return s.r.netman.SendFrame(addr, f)
}

// Start launches the worker pool and, if configured, the cluster listener.
func (r *Runtime) Start() error {
	r.sched.Start()
	if r.netman != nil {
		if err := r.netman.Listen(r.cfg.ListenAddr); err != nil {
			return err
		}
	}
	return nil
}

// Stop halts the scheduler and closes every peer session.
func (r *Runtime) Stop() {
	r.sched.Stop()
	if r.netman != nil {
		_ = r.netman.Close()
	}
}

// Spawn creates a Push-mode actor running handler.
func (r *Runtime) Spawn(ctx context.Context, handler membrane.PushHandler) pid.PID {
	_, span := tracer.Start(ctx, "runtime.Spawn")
	defer span.End()

	a := acb.New(pid.Zero, r.cfg.DefaultUserCap, r.cfg.DefaultBudget, acb.ModePush)
	a.Behavior = behavior.New(handler)
	p := r.table.Alloc(a)
	a.PID = p
	a.SetState(acb.Alive)
	span.SetAttributes(attribute.String("actor.pid", p.String()))
	return p
}

// SpawnWithMailbox creates a Pull-mode actor driven by factory, a
// coroutine-style handler that pulls its own messages instead of being
// invoked with each one.
func (r *Runtime) SpawnWithMailbox(ctx context.Context, factory membrane.PullFactory) pid.PID {
	_, span := tracer.Start(ctx, "runtime.SpawnWithMailbox")
	defer span.End()

	a := acb.New(pid.Zero, r.cfg.DefaultUserCap, r.cfg.DefaultBudget, acb.ModePull)
	a.PullHandler = factory()
	a.PullWake = make(chan mailbox.SystemMessage, 1)
	p := r.table.Alloc(a)
	a.PID = p
	a.SetState(acb.Alive)
	span.SetAttributes(attribute.String("actor.pid", p.String()))
	return p
}

// Send delivers payload to a local actor's mailbox and wakes its worker.
func (r *Runtime) Send(ctx context.Context, target pid.PID, payload []byte) error {
	_, span := tracer.Start(ctx, "runtime.Send", trace.WithAttributes(attribute.String("actor.pid", target.String())))
	defer span.End()

	a, ok := r.table.Lookup(target)
	if !ok {
		span.SetAttributes(attribute.Bool("actor.found", false))
		return errs.ErrNoSuchActor
	}
	wasEmpty, err := a.Mailbox.PushUser(payload)
	if err != nil {
		return err
	}
	if wasEmpty || !a.InDispatch.Load() {
		r.sched.NotifyReady(a)
	}
	return nil
}

// SendRemote forwards payload to a PID believed to live on peerAddr.
func (r *Runtime) SendRemote(ctx context.Context, peerAddr string, target pid.PID, payload []byte) error {
	_, span := tracer.Start(ctx, "runtime.SendRemote", trace.WithAttributes(attribute.String("peer", peerAddr)))
	defer span.End()
	return r.rt.SendRemote(peerAddr, target, payload)
}

// HotSwap atomically replaces a Push-mode actor's handler. A SysHotSwap
// notification is delivered both to the swapped actor itself and to every
// actor currently monitoring it, mirroring supervisor.Fabric.OnExit's
// watcher fan-out.
func (r *Runtime) HotSwap(ctx context.Context, target pid.PID, handler membrane.PushHandler) error {
	_, span := tracer.Start(ctx, "runtime.HotSwap")
	defer span.End()

	a, ok := r.table.Lookup(target)
	if !ok || a.Behavior == nil {
		return errs.ErrNoSuchActor
	}
	a.Behavior.Store(handler)

	sm := mailbox.SystemMessage{Kind: mailbox.SysHotSwap, Source: target, Target: target, Notify: true}
	a.Mailbox.PushSystem(sm)
	r.sched.NotifyReady(a)

	for _, wp := range a.Watchers() {
		watcher, ok := r.table.Lookup(wp)
		if !ok {
			continue
		}
		watcher.Mailbox.PushSystem(sm)
		r.sched.NotifyReady(watcher)
	}
	return nil
}

// StopActor transitions target out of Alive via a self-directed Exit, fanning
// the termination out through links/monitors.
func (r *Runtime) StopActor(ctx context.Context, target pid.PID, reason string) error {
	_, span := tracer.Start(ctx, "runtime.StopActor")
	defer span.End()

	a, ok := r.table.Lookup(target)
	if !ok {
		return errs.ErrNoSuchActor
	}
	a.Mailbox.PushSystem(mailbox.SystemMessage{
		Kind:   mailbox.SysExit,
		Source: target,
		Target: target,
		Reason: reason,
	})
	r.sched.NotifyReady(a)
	return nil
}

// Link establishes a symmetric link between a and b.
func (r *Runtime) Link(ctx context.Context, a, b pid.PID) error {
	actorA, ok := r.table.Lookup(a)
	if !ok {
		return errs.ErrNoSuchActor
	}
	r.fabric.OnLink(actorA, b)
	return nil
}

// Monitor makes watcher observe target's termination.
func (r *Runtime) Monitor(ctx context.Context, watcher, target pid.PID) error {
	actorW, ok := r.table.Lookup(watcher)
	if !ok {
		return errs.ErrNoSuchActor
	}
	r.fabric.OnMonitor(actorW, target)
	return nil
}

// MonitorRemote registers watcher (local) as monitoring a PID that lives on
// a remote peer, for cross-node monitor fan-out. It also sends a Monitor
// SystemSignal to peerAddr so the watched node records watcher as a remote
// watcher of that PID and knows to notify it over the wire when the PID
// terminates.
func (r *Runtime) MonitorRemote(ctx context.Context, watcher pid.PID, peerAddr string, remotePID uint64) error {
	actorW, ok := r.table.Lookup(watcher)
	if !ok {
		return errs.ErrNoSuchActor
	}
	actorW.AddRemoteMonitor(acb.RemoteMonitorKey{PeerAddr: peerAddr, RemotePID: remotePID})
	if r.netman == nil {
		return errs.ErrNoPeer
	}
	return r.netman.SendMonitorRemote(peerAddr, pid.Decode(remotePID), pid.Encode(watcher))
}

// Register binds name to target in the process-local name registry.
func (r *Runtime) Register(ctx context.Context, name string, target pid.PID) error {
	return r.reg.Register(name, target)
}

// Unregister removes name if it is currently bound to target.
func (r *Runtime) Unregister(ctx context.Context, name string, target pid.PID) {
	r.reg.Unregister(name, target)
}

// ResolveLocal resolves name against this node's own registry.
func (r *Runtime) ResolveLocal(ctx context.Context, name string) (pid.PID, bool) {
	return r.rt.ResolveLocal(name)
}

// ResolveRemote resolves name on peerAddr over the wire.
func (r *Runtime) ResolveRemote(ctx context.Context, peerAddr, name string) (pid.PID, error) {
	_, span := tracer.Start(ctx, "runtime.ResolveRemote", trace.WithAttributes(attribute.String("peer", peerAddr)))
	defer span.End()
	return r.rt.ResolveRemote(ctx, peerAddr, name)
}

// ResolveViaDiscovery looks nodeName up through the configured discovery
// source and then resolves name against that peer.
func (r *Runtime) ResolveViaDiscovery(ctx context.Context, nodeName, name string) (pid.PID, error) {
	if r.discovery == nil {
		return pid.Zero, fmt.Errorf("runtime: no discovery source configured")
	}
	addr, err := r.discovery.Resolve(nodeName)
	if err != nil {
		return pid.Zero, err
	}
	return r.ResolveRemote(ctx, addr, name)
}

// Listen exposes the configured inbound cluster address, if any.
func (r *Runtime) Listen() string { return r.cfg.ListenAddr }

// GetMessages drains the notification buffer accumulated for target (hot
// swap acks, link/monitor exits), a polling surface for hosts that prefer
// pull-style observation over a push callback.
func (r *Runtime) GetMessages(ctx context.Context, target pid.PID) ([]mailbox.SystemMessage, error) {
	a, ok := r.table.Lookup(target)
	if !ok {
		return nil, errs.ErrNoSuchActor
	}
	return a.DrainObserved(), nil
}

// DialPeer eagerly establishes a session to addr, so that a session exists
// before the first message needs to cross the wire.
func (r *Runtime) DialPeer(ctx context.Context, addr string) error {
	if r.netman == nil {
		return fmt.Errorf("runtime: cluster networking not enabled")
	}
	_, err := r.netman.Dial(ctx, addr)
	return err
}

// Stats is a point-in-time snapshot for introspection (HTTP control
// surface, terminal dashboard).
type Stats struct {
	ActorCount    int      `json:"actor_count"`
	ReadyQueueLen int      `json:"ready_queue_len"`
	Peers         []string `json:"peers"`
}

// Stats reports the current actor count, ready-queue depth, and known peer
// addresses.
func (r *Runtime) Stats() Stats {
	count := 0
	r.table.Range(func(p pid.PID, a *acb.ACB) bool {
		count++
		return true
	})
	var peers []string
	if r.netman != nil {
		peers = r.netman.PeerAddrs()
	}
	return Stats{
		ActorCount:    count,
		ReadyQueueLen: r.sched.ReadyLen(),
		Peers:         peers,
	}
}

// ActorInfo is a per-actor introspection snapshot.
type ActorInfo struct {
	PID   pid.PID `json:"pid"`
	State string  `json:"state"`
	Mode  string  `json:"mode"`
}

// ListActors enumerates every ACB in the table, including Terminated ones:
// termination does not free an actor's slot.
func (r *Runtime) ListActors() []ActorInfo {
	var out []ActorInfo
	r.table.Range(func(p pid.PID, a *acb.ACB) bool {
		mode := "push"
		if a.Mode == acb.ModePull {
			mode = "pull"
		}
		out = append(out, ActorInfo{PID: p, State: a.State().String(), Mode: mode})
		return true
	})
	return out
}

func (r *Runtime) onPeerDown(addr string) {
	r.rt.InvalidatePeer(addr)
	var affected []*acb.ACB
	r.table.Range(func(p pid.PID, a *acb.ACB) bool {
		if len(a.RemoteMonitorsByPeer(addr)) > 0 {
			affected = append(affected, a)
		}
		return true
	})
	r.fabric.OnPeerDown(addr, affected)
	r.logger.Warn("peer declared down", slog.String("peer", addr), slog.Int("affected_actors", len(affected)))
}

// runtimeFrameHandler adapts Runtime to network.FrameHandler.
type runtimeFrameHandler struct{ r *Runtime }

func (h runtimeFrameHandler) HandleFrame(addr string, f wire.Frame) {
	switch f.Type {
	case wire.TypeUserMessage:
		m := f.UserMessage
		if err := h.r.rt.SendLocal(m.Target, m.Body); err != nil {
			h.r.logger.Debug("remote user message dropped", slog.String("peer", addr), slog.Any("err", err))
		}
	case wire.TypeResolveRequest:
		req := f.ResolveRequest
		p, _ := h.r.rt.ResolveLocal(req.Name)
		_ = h.r.netman.SendFrame(addr, wire.Frame{
			Type: wire.TypeResolveResponse,
			ResolveResponse: &wire.ResolveResponse{
				Correlation: req.Correlation,
				PID:         p, // zero PID doubles as the not-found sentinel
			},
		})
	case wire.TypeResolveResponse:
		h.r.rt.HandleResolveResponse(*f.ResolveResponse)
	case wire.TypeSystemSignal:
		sig := f.SystemSignal
		switch sig.Kind {
		case wire.SignalMonitor:
			// A remote watcher is registering interest in sig.Target, one of
			// our local actors; sig.Aux is the watcher's own PID, encoded,
			// on the sending peer.
			if a, ok := h.r.table.Lookup(sig.Target); ok {
				a.AddRemoteWatcher(acb.RemoteMonitorKey{PeerAddr: addr, RemotePID: sig.Aux})
			}
		case wire.SignalDownRemote:
			// Delivered to whichever local actor is monitoring the remote
			// PID that just terminated; sig.Target carries the local watcher.
			if a, ok := h.r.table.Lookup(sig.Target); ok {
				a.Mailbox.PushSystem(mailbox.SystemMessage{
					Kind:       mailbox.SysDownRemote,
					RemoteAddr: addr,
					Reason:     "noproc",
					Notify:     true,
				})
				h.r.sched.NotifyReady(a)
			}
		}
	}
}
