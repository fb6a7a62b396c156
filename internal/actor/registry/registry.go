// Package registry implements the name registry: a name maps to at most
// one live PID, keyed in a sync.Map and scrubbed the moment its PID stops,
// generalized from "username to connection cell" to "name to any PID".
package registry

import (
	"sync"

	"github.com/webitel/actorcore/internal/actor/errs"
	"github.com/webitel/actorcore/internal/actor/pid"
)

// Locator resolves a PID to liveness, so Resolve can self-heal past a
// stale entry left by a crash that skipped the normal terminate path.
type Locator interface {
	IsLive(p pid.PID) bool
}

// Registry is the process-local name table.
type Registry struct {
	m       sync.Map // name(string) -> pid.PID
	locator Locator
}

// New constructs a Registry backed by locator for liveness checks.
func New(locator Locator) *Registry {
	return &Registry{locator: locator}
}

// Register binds name to p. It fails with errs.ErrNameTaken if name is
// already bound to a different, still-live PID; a stale binding (owner no
// longer live) is silently reclaimed, the same replace-on-stale behavior
// as a user reconnecting under the same username.
func (r *Registry) Register(name string, p pid.PID) error {
	for {
		existing, loaded := r.m.LoadOrStore(name, p)
		if !loaded {
			return nil
		}
		ep := existing.(pid.PID)
		if ep == p {
			return nil
		}
		if r.locator.IsLive(ep) {
			return errs.ErrNameTaken
		}
		if r.m.CompareAndSwap(name, existing, p) {
			return nil
		}
	}
}

// Unregister removes name if it currently maps to p (a no-op, not an
// error, if it maps to someone else or nothing — avoids a new registrant
// racing ahead of a slow terminate cleanup for the old owner).
func (r *Registry) Unregister(name string, p pid.PID) {
	if v, ok := r.m.Load(name); ok {
		if v.(pid.PID) == p {
			r.m.CompareAndDelete(name, v)
		}
	}
}

// Resolve looks up name, scrubbing and reporting not-found if the bound PID
// is no longer live.
func (r *Registry) Resolve(name string) (pid.PID, bool) {
	v, ok := r.m.Load(name)
	if !ok {
		return pid.Zero, false
	}
	p := v.(pid.PID)
	if !r.locator.IsLive(p) {
		r.m.CompareAndDelete(name, v)
		return pid.Zero, false
	}
	return p, true
}

// ScrubTerminated removes every name currently bound to p, called once by
// the supervision fabric at the moment p transitions to Terminated (eager
// scrub rather than waiting for the next failed resolve to notice).
func (r *Registry) ScrubTerminated(p pid.PID) {
	r.m.Range(func(k, v any) bool {
		if v.(pid.PID) == p {
			r.m.CompareAndDelete(k, v)
		}
		return true
	})
}
