package fiber

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Acidburn0zzz/rubinius/core"
	"github.com/Acidburn0zzz/rubinius/stack"
)

// Context is the suspended or running execution state of one fiber: a leased
// stack region, the saved execution point, liveness and GC-mark flags, and
// the identity of the native thread the fiber is bound to.
//
// A context's stack data keeps the nominal addresses it was born with. When
// the pool steals the region (eviction) the data is flushed to a heap copy;
// when the fiber is next resumed it is restored into whatever region the
// pool hands back, possibly at a different base. Displacement carries the
// mapping either way, so stack-resident scopes stay addressable throughout.
type Context struct {
	id     string
	hostID string
	root   bool
	pool   *stack.Pool

	mu       sync.Mutex
	region   *stack.Region
	retired  []*stack.Region // flushed-out regions still lease-held until orphaning
	nominal  int             // base address at creation; never changes
	curBase  int             // base within the current region, valid while resident
	size     int
	sp       int // next unallocated nominal address
	heap     []core.Value
	resident bool

	dead     atomic.Bool
	marked   atomic.Bool
	orphaned atomic.Bool

	point *point
}

func newContext(pool *stack.Pool, hostID string, slots int, root bool) *Context {
	c := &Context{
		id:     uuid.NewString(),
		hostID: hostID,
		root:   root,
		pool:   pool,
		size:   slots,
		point:  newPoint(),
	}

	// Lease and occupancy are installed in one step so the fresh region
	// cannot be picked as an eviction victim before c is recorded as its
	// resident.
	pool.LeaseResident(slots, c, func(r *stack.Region) {
		base := r.Cap() - slots // stack windows sit at the top of the region
		c.region = r
		c.nominal = base
		c.curBase = base
		c.sp = base
		c.resident = true
	})
	pool.Register(c)

	return c
}

// ID returns the context's diagnostic identity.
func (c *Context) ID() string { return c.id }

// HostID returns the identity of the native thread this context is bound to.
func (c *Context) HostID() string { return c.hostID }

// Dead reports whether the context has died.
func (c *Context) Dead() bool { return c.dead.Load() }

// Kill invalidates the context: it can never be switched into again and any
// goroutine parked on its execution point is released. The leased stack is
// not returned here; that happens exactly once, at orphaning.
func (c *Context) Kill() {
	c.dead.Store(true)
	c.point.kill()
}

// Marked reports whether the collector marked this context in the current
// cycle.
func (c *Context) Marked() bool { return c.marked.Load() }

// SetMark flags the context as reachable for the current cycle.
func (c *Context) SetMark() { c.marked.Store(true) }

// ClearMark resets the mark flag ahead of a new cycle.
func (c *Context) ClearMark() { c.marked.Store(false) }

// Displacement returns the current mapping from nominal stack addresses to
// physical slots.
func (c *Context) Displacement() stack.Displacement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displacementLocked()
}

func (c *Context) displacementLocked() stack.Displacement {
	if c.resident {
		return stack.Displacement{Offset: c.curBase - c.nominal, Lower: c.nominal, Upper: c.nominal + c.size}
	}
	// Displaced to the heap copy, which is indexed from zero.
	return stack.Displacement{Offset: -c.nominal, Lower: c.nominal, Upper: c.nominal + c.size}
}

// SlotGet reads the slot at a nominal stack address, translated through the
// current displacement.
func (c *Context) SlotGet(addr int) core.Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.displacementLocked().Displace(addr)
	if c.resident {
		return c.region.Slots()[i]
	}
	return c.heap[i]
}

// SlotSet writes the slot at a nominal stack address, translated through the
// current displacement.
func (c *Context) SlotSet(addr int, v core.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.displacementLocked().Displace(addr)
	if c.resident {
		c.region.Slots()[i] = v
		return
	}
	c.heap[i] = v
}

// AllocLocals reserves n contiguous slots in the context's stack window and
// returns their nominal base address. Running out of stack is fatal:
// continuing without a usable stack is unsafe.
func (c *Context) AllocLocals(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 0 || c.sp+n > c.nominal+c.size {
		core.Bug("fiber stack exhausted: %d slots requested, %d free", n, c.nominal+c.size-c.sp)
	}
	base := c.sp
	c.sp += n
	return base
}

// Flush copies the context's live window out of its region into a context
// owned heap copy. The pool calls this, under its own lock, when it steals
// the region; the context must not call back into the pool here.
func (c *Context) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resident || c.dead.Load() {
		return
	}

	c.heap = make([]core.Value, c.size)
	copy(c.heap, c.region.Slots()[c.curBase:c.curBase+c.size])
	c.resident = false
}

// ensureResident restores a displaced context into a leased region before it
// is switched into. The region may differ from the one the context last ran
// on; the displacement absorbs the new base.
//
// The lease, the residency claim and the copy-in all happen under the pool
// lock: a concurrent Lease on another thread cannot steal the region in
// between and leave two contexts resident in one window.
func (c *Context) ensureResident() {
	c.mu.Lock()
	if c.resident || c.dead.Load() {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	restored := false
	r := c.pool.LeaseResident(c.size, c, func(r *stack.Region) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.resident || c.dead.Load() {
			return
		}
		c.retired = append(c.retired, c.region)
		c.region = r
		c.curBase = r.Cap() - c.size
		copy(r.Slots()[c.curBase:c.curBase+c.size], c.heap)
		c.heap = nil
		c.resident = true
		restored = true
	})
	if !restored {
		// The context died while the lease was taken; hand the unused
		// lease straight back.
		c.pool.Release(r, c)
	}
}

// Scan walks the allocated portion of the context's stack window through the
// current displacement, offering each live reference slot to the collector's
// relocation callback and rewriting slots whose objects moved.
func (c *Context) Scan(relocate core.RelocateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.displacementLocked()
	for addr := c.nominal; addr < c.sp; addr++ {
		i := d.Displace(addr)

		var slot *core.Value
		if c.resident {
			slot = &c.region.Slots()[i]
		} else {
			slot = &c.heap[i]
		}

		if *slot == nil || core.IsNil(*slot) {
			continue
		}
		if nv, moved := relocate(*slot); moved {
			*slot = nv
		}
	}
}

// Orphan releases the context's stack leases exactly once, deregisters it
// from the pool and kills it. Called from fiber finalization and from the
// trampoline when a fiber dies.
func (c *Context) Orphan() {
	if c.orphaned.Swap(true) {
		return
	}

	c.mu.Lock()
	regions := c.retired
	if c.region != nil {
		regions = append(regions, c.region)
	}
	c.region = nil
	c.retired = nil
	c.mu.Unlock()

	for _, r := range regions {
		c.pool.Release(r, c)
	}
	c.pool.Deregister(c)
	c.Kill()
}
