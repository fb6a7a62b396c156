// Package behavior implements the atomically swappable handler reference:
// readers take shared access via an atomic load, hot_swap takes exclusive
// access only for the pointer store itself.
package behavior

import (
	"sync"
	"sync/atomic"

	"github.com/webitel/actorcore/internal/membrane"
)

// Cell holds the current Push-mode handler for one actor. The zero value is
// not usable; construct with New. The invariant that the reference is never
// null while the ACB is Alive, and a load never observes a torn pointer,
// follows directly from atomic.Pointer semantics.
type Cell struct {
	ptr atomic.Pointer[membrane.PushHandler]
	mu  sync.Mutex // held only across Store
}

// New constructs a Cell with an initial, non-nil handler.
func New(initial membrane.PushHandler) *Cell {
	c := &Cell{}
	c.ptr.Store(&initial)
	return c
}

// Load returns the current handler. Safe for concurrent use by any number
// of scheduler workers.
func (c *Cell) Load() membrane.PushHandler {
	p := c.ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Store atomically swaps in a new handler. A handler already executing
// finishes on the old code; the next reduction observes the new one.
func (c *Cell) Store(h membrane.PushHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ptr.Store(&h)
}
