// Package pid implements the slab-backed PID allocator: stable 64-bit
// actor identifiers with generation tagging so a stale reference across
// the FFI membrane is a clean miss rather than a use-after-free.
package pid

import (
	"encoding/json"
	"fmt"
	"hash/maphash"
	"sync"
)

// PID identifies an actor by slab index and allocation generation. Equality
// is value equality; ordering is unspecified.
type PID struct {
	Index uint32
	Gen   uint32
}

// Zero is the never-allocated PID value, used as the wire sentinel for "none".
var Zero = PID{}

func (p PID) IsZero() bool { return p.Index == 0 && p.Gen == 0 }

func (p PID) String() string { return fmt.Sprintf("<%d.%d>", p.Index, p.Gen) }

// MarshalJSON renders a PID the same way String does, so the HTTP/WS/gRPC
// control surfaces hand callers the same "<index.gen>" token everywhere.
func (p PID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON parses the "<index.gen>" token produced by MarshalJSON.
func (p *PID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	var idx, gen uint32
	if _, err := fmt.Sscanf(s, "<%d.%d>", &idx, &gen); err != nil {
		return fmt.Errorf("pid: malformed pid %q: %w", s, err)
	}
	p.Index, p.Gen = idx, gen
	return nil
}

// Encode packs a PID into the u64 wire representation carried by cluster
// frames. The zero PID encodes to 0, matching the wire protocol's
// not-found sentinel.
func Encode(p PID) uint64 {
	return uint64(p.Gen)<<32 | uint64(p.Index)
}

// Decode reverses Encode. Decoding 0 yields the zero PID.
func Decode(v uint64) PID {
	return PID{Index: uint32(v), Gen: uint32(v >> 32)}
}

type slot[T any] struct {
	gen      uint32
	occupied bool
	value    T
}

type shard[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
}

// Table is a sharded slab allocator that also stores an arbitrary handle
// (an ACB pointer in practice) alongside each PID, so allocation and the
// "lookup(PID) -> Option<handle>" contract live in one place instead of a
// PID space and a separate registry drifting apart.
//
// Sharding uses fine-grained per-shard locking (one sync.RWMutex per
// shard) rather than one global mutex guarding the whole slab.
type Table[T any] struct {
	shards []*shard[T]
	mask   uint64
	seed   maphash.Seed
}

// NewTable creates a Table with shardCount shards (rounded up to a power of
// two, minimum 1).
func NewTable[T any](shardCount int) *Table[T] {
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shards := make([]*shard[T], n)
	for i := range shards {
		shards[i] = &shard[T]{}
	}
	return &Table[T]{shards: shards, mask: uint64(n - 1), seed: maphash.MakeSeed()}
}

func (t *Table[T]) shardFor(index uint32) *shard[T] {
	return t.shards[uint64(index)&t.mask]
}

// shardPick selects a shard index to allocate a fresh slot into, spreading
// allocation across shards instead of always favoring shard 0.
func (t *Table[T]) shardPick(hint uint64) uint32 {
	return uint32(hint & t.mask)
}

var allocCounter = struct {
	mu sync.Mutex
	n  uint64
}{}

func nextHint() uint64 {
	allocCounter.mu.Lock()
	allocCounter.n++
	v := allocCounter.n
	allocCounter.mu.Unlock()
	return v
}

// Alloc reserves a fresh PID and stores value under it. A freed-then-reused
// slot always yields a PID with a strictly greater generation than any PID
// previously issued for that slot.
func (t *Table[T]) Alloc(value T) PID {
	shardIdx := t.shardPick(nextHint())
	sh := t.shards[shardIdx]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	nShards := uint32(len(t.shards))

	if len(sh.free) > 0 {
		localIdx := sh.free[len(sh.free)-1]
		sh.free = sh.free[:len(sh.free)-1]
		sl := &sh.slots[localIdx]
		sl.occupied = true
		sl.value = value
		return PID{Index: localIdx*nShards + shardIdx, Gen: sl.gen}
	}

	localIdx := uint32(len(sh.slots))
	sh.slots = append(sh.slots, slot[T]{gen: 1, occupied: true, value: value})
	return PID{Index: localIdx*nShards + shardIdx, Gen: 1}
}

func (t *Table[T]) localIndex(p PID) (shardIdx, localIdx uint32) {
	n := uint32(len(t.shards))
	return p.Index % n, p.Index / n
}

// Free releases p's slot, bumping its generation so future PID values for
// the same slot never alias it, and returns whether the slot was actually
// occupied with a matching generation.
func (t *Table[T]) Free(p PID) bool {
	shardIdx, localIdx := t.localIndex(p)
	sh := t.shards[shardIdx]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if int(localIdx) >= len(sh.slots) {
		return false
	}
	sl := &sh.slots[localIdx]
	if !sl.occupied || sl.gen != p.Gen {
		return false
	}
	var zero T
	sl.occupied = false
	sl.value = zero
	sl.gen++
	sh.free = append(sh.free, localIdx)
	return true
}

// Lookup returns the stored value for p if, and only if, the slot is
// occupied and its stored generation matches p.Gen.
func (t *Table[T]) Lookup(p PID) (T, bool) {
	var zero T
	if p.IsZero() {
		return zero, false
	}
	shardIdx, localIdx := t.localIndex(p)
	if int(shardIdx) >= len(t.shards) {
		return zero, false
	}
	sh := t.shards[shardIdx]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if int(localIdx) >= len(sh.slots) {
		return zero, false
	}
	sl := &sh.slots[localIdx]
	if !sl.occupied || sl.gen != p.Gen {
		return zero, false
	}
	return sl.value, true
}

// IsLive reports whether p currently refers to an occupied slot.
func (t *Table[T]) IsLive(p PID) bool {
	_, ok := t.Lookup(p)
	return ok
}

// Range iterates all occupied slots. fn returning false stops iteration.
// The callback runs with the per-shard read lock held; it must not call
// back into the table for that shard's PIDs (Free/Alloc use the write lock
// and would deadlock).
func (t *Table[T]) Range(fn func(PID, T) bool) {
	n := uint32(len(t.shards))
	for shardIdx, sh := range t.shards {
		sh.mu.RLock()
		for localIdx := range sh.slots {
			sl := &sh.slots[localIdx]
			if !sl.occupied {
				continue
			}
			p := PID{Index: uint32(localIdx)*n + uint32(shardIdx), Gen: sl.gen}
			if !fn(p, sl.value) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}
