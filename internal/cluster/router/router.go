// Package router implements the dispatch decision: a send targeting a
// local PID goes straight to the mailbox, a send targeting a remote PID is
// framed and handed to that peer's session. Names are resolved either
// against the local registry (ResolveLocal) or on one caller-named peer
// (ResolveRemote); the router has no send-by-name operation and never
// falls back from one to the other or queries peers it was not given.
// The (peer, name) -> pid answer is cached with a TTL via
// hashicorp/golang-lru/v2's expirable cache to avoid re-querying on every
// message in a hot loop.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/webitel/actorcore/internal/actor/errs"
	"github.com/webitel/actorcore/internal/actor/mailbox"
	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/cluster/wire"
)

// LocalTable looks up a local actor's mailbox by PID; internal/runtime
// adapts its pid.Table to this interface.
type LocalTable interface {
	Lookup(p pid.PID) (*mailbox.Mailbox, bool)
}

// LocalRegistry resolves a name within this node only.
type LocalRegistry interface {
	Resolve(name string) (pid.PID, bool)
}

// PeerSender sends a frame to a specific peer and is how the router both
// forwards user messages to a remote PID and issues ResolveRequest frames.
type PeerSender interface {
	SendFrame(peerAddr string, f wire.Frame) error
}

type cacheKey struct {
	peer string
	name string
}

// Router is the single entry point for send_remote and resolve_remote.
type Router struct {
	local    LocalTable
	registry LocalRegistry
	peers    PeerSender
	cache    *lru.LRU[cacheKey, pid.PID]

	mu       sync.Mutex
	inflight map[uint32]chan wire.ResolveResponse
	nextID   uint32
}

// New constructs a Router. ttl bounds how long a resolved (peer,name)
// mapping is trusted before a fresh ResolveRequest is issued.
func New(local LocalTable, registry LocalRegistry, peers PeerSender, ttl time.Duration) *Router {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Router{
		local:    local,
		registry: registry,
		peers:    peers,
		cache:    lru.NewLRU[cacheKey, pid.PID](4096, nil, ttl),
		inflight: make(map[uint32]chan wire.ResolveResponse),
	}
}

// SendLocal pushes a user payload straight into target's mailbox.
func (r *Router) SendLocal(target pid.PID, payload []byte) error {
	mb, ok := r.local.Lookup(target)
	if !ok {
		return errs.ErrNoSuchActor
	}
	_, err := mb.PushUser(payload)
	return err
}

// SendRemote forwards a user payload addressed to a PID on peerAddr.
func (r *Router) SendRemote(peerAddr string, target pid.PID, payload []byte) error {
	return r.peers.SendFrame(peerAddr, wire.Frame{
		Type:        wire.TypeUserMessage,
		UserMessage: &wire.UserMessage{Target: target, Body: payload},
	})
}

// ResolveLocal resolves name against this node's registry only.
func (r *Router) ResolveLocal(name string) (pid.PID, bool) {
	return r.registry.Resolve(name)
}

// ResolveRemote resolves name on peerAddr, consulting the TTL cache first
// and issuing a fresh ResolveRequest/ResolveResponse round trip on a miss.
func (r *Router) ResolveRemote(ctx context.Context, peerAddr, name string) (pid.PID, error) {
	key := cacheKey{peer: peerAddr, name: name}
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	ch := make(chan wire.ResolveResponse, 1)
	r.inflight[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, id)
		r.mu.Unlock()
	}()

	if err := r.peers.SendFrame(peerAddr, wire.Frame{
		Type:           wire.TypeResolveRequest,
		ResolveRequest: &wire.ResolveRequest{Correlation: id, Name: name},
	}); err != nil {
		return pid.Zero, fmt.Errorf("router: resolve request to %s: %w", peerAddr, err)
	}

	select {
	case resp := <-ch:
		if resp.PID.IsZero() {
			return pid.Zero, errs.ErrNotFound
		}
		r.cache.Add(key, resp.PID)
		return resp.PID, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return pid.Zero, fmt.Errorf("%w: %w", errs.ErrTimeout, ctx.Err())
		}
		return pid.Zero, ctx.Err()
	}
}

// HandleResolveResponse delivers an inbound ResolveResponse frame to the
// waiting ResolveRemote call, if any is still pending.
func (r *Router) HandleResolveResponse(resp wire.ResolveResponse) {
	r.mu.Lock()
	ch, ok := r.inflight[resp.Correlation]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// InvalidatePeer drops every cached resolution for addr, called by the
// runtime's peer-down handler when that peer's session is torn down.
func (r *Router) InvalidatePeer(addr string) {
	for _, k := range r.cache.Keys() {
		if k.peer == addr {
			r.cache.Remove(k)
		}
	}
}
