// Package scope implements per-lexical-scope local variable storage.
//
// A Storage is either stack-resident (its slots live inside the owning
// coroutine context's stack window and every access is translated through
// the context's current displacement) or isolated, with slots copied once
// into independently owned heap storage. The transition is one-way.
//
// Locking is opt-in and scope-local: SetLocked serializes local access
// through the scope's lock and propagates to every ancestor in the parent
// chain at the moment of locking.
package scope

import (
	"sync"
	"sync/atomic"

	"github.com/Acidburn0zzz/rubinius/core"
	"github.com/Acidburn0zzz/rubinius/stack"
)

// Owner is the coroutine context a stack-resident scope lives in. Slot
// access goes through the owner so the scope always observes the region's
// current displacement, even after the stack was reused or copied to heap.
type Owner interface {
	Displacement() stack.Displacement
	SlotGet(addr int) core.Value
	SlotSet(addr int, v core.Value)
}

// Storage holds one lexical scope's locals.
type Storage struct {
	owner  Owner
	base   int // nominal address of slot 0, valid while stack-resident
	count  int
	parent *Storage

	mu       sync.Mutex
	locked   atomic.Bool
	isolated atomic.Bool
	heap     []core.Value
}

// New creates a stack-resident scope addressing count slots at the nominal
// base address inside owner's stack window.
func New(owner Owner, base, count int, parent *Storage) *Storage {
	return &Storage{owner: owner, base: base, count: count, parent: parent}
}

// Synthesize creates a scope that was never stack-resident: its locals are
// heap-owned from birth. Used for scopes fabricated outside any call frame.
func Synthesize(locals []core.Value, parent *Storage) *Storage {
	s := &Storage{count: len(locals), parent: parent, heap: locals}
	s.isolated.Store(true)
	return s
}

// Parent returns the enclosing scope, nil at the chain root.
func (s *Storage) Parent() *Storage { return s.parent }

// Count returns the number of local slots.
func (s *Storage) Count() int { return s.count }

// Isolated reports whether the locals have been promoted to heap storage.
func (s *Storage) Isolated() bool { return s.isolated.Load() }

// Locked reports whether local access is serialized through the scope lock.
func (s *Storage) Locked() bool { return s.locked.Load() }

// SetLocked marks this scope, and transitively every ancestor, as
// lock-protected. From this point every local read and write holds the
// owning scope's lock for its duration.
func (s *Storage) SetLocked() {
	s.locked.Store(true)
	for p := s.parent; p != nil; p = p.parent {
		p.locked.Store(true)
	}
}

// GetLocal reads one slot. A negative or out-of-range index is a caller
// error, reported as ErrLocalIndex.
func (s *Storage) GetLocal(index int) (core.Value, error) {
	if index < 0 || index >= s.count {
		return core.Nil, core.ErrLocalIndex
	}

	if s.locked.Load() {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return s.getLocal(index), nil
}

// SetLocal writes one slot, with the same index validation as GetLocal.
func (s *Storage) SetLocal(index int, v core.Value) error {
	if index < 0 || index >= s.count {
		return core.ErrLocalIndex
	}

	if s.locked.Load() {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	s.setLocal(index, v)
	return nil
}

func (s *Storage) getLocal(index int) core.Value {
	if s.isolated.Load() {
		return s.heap[index]
	}
	return s.owner.SlotGet(s.base + index)
}

func (s *Storage) setLocal(index int, v core.Value) {
	if s.isolated.Load() {
		s.heap[index] = v
		return
	}
	s.owner.SlotSet(s.base+index, v)
}

// Locals returns a snapshot of every slot.
func (s *Storage) Locals() []core.Value {
	if s.locked.Load() {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	out := make([]core.Value, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.getLocal(i)
	}
	return out
}

// FlushToHeap promotes the locals to independently owned heap storage. The
// promotion is one-way and idempotent: after the first call, local access
// never consults the displaced-stack path again. Flushing a locked scope
// also drops the lock requirement, since heap locals no longer share the
// movable stack.
func (s *Storage) FlushToHeap() {
	if s.locked.Load() {
		s.mu.Lock()
		s.flushToHeap()
		s.locked.Store(false)
		s.mu.Unlock()
		return
	}
	s.flushToHeap()
}

func (s *Storage) flushToHeap() {
	if s.isolated.Load() {
		return
	}

	heap := make([]core.Value, s.count)
	for i := 0; i < s.count; i++ {
		heap[i] = s.owner.SlotGet(s.base + i)
	}

	s.heap = heap
	s.isolated.Store(true)
}

// Mark offers each live stack-resident reference slot to the collector's
// relocation callback, rewriting slots whose objects moved. Locals are
// located through the owner's current displacement, exactly like normal
// access. Isolated scopes are skipped: their heap storage is reached through
// the ordinary object graph.
func (s *Storage) Mark(relocate core.RelocateFunc) {
	if s.isolated.Load() {
		return
	}

	for i := 0; i < s.count; i++ {
		addr := s.base + i
		v := s.owner.SlotGet(addr)
		if v == nil || core.IsNil(v) {
			continue
		}
		if nv, moved := relocate(v); moved {
			s.owner.SlotSet(addr, nv)
		}
	}
}
