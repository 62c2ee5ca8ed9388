// Package stack owns the bounded recycling pool of fiber execution stacks
// and the displacement abstraction used to address data that lives inside
// them. Regions are never handed back to the allocator while the pool is
// live; a released region becomes eligible for reuse and its memory is only
// dropped at teardown.
package stack

import (
	"sync"

	"github.com/Acidburn0zzz/rubinius/core"
	"github.com/Acidburn0zzz/rubinius/logging"
)

// Context is the pool's view of a live coroutine context. The pool keeps a
// registry of every context so the collector can enumerate stacks to scan,
// and so teardown can invalidate contexts that would otherwise outlive their
// regions.
type Context interface {
	// Dead reports whether the context has died.
	Dead() bool

	// Kill invalidates the context. Called at pool teardown and when a
	// marked-only scan finds the context unreferenced.
	Kill()

	// Marked reports whether the collector marked the context live in the
	// current cycle.
	Marked() bool

	// ClearMark resets the collector's mark flag for the next cycle.
	ClearMark()

	// Scan walks the context's stack contents, offering each live
	// reference slot to the relocation callback.
	Scan(relocate core.RelocateFunc)
}

// Pool owns a bounded set of fixed-capacity stack regions. Lease never
// blocks and never fails: it reuses an unused region, grows below the
// configured maximum, and past the maximum it evicts. Lease and Release are
// safe to call from multiple threads.
type Pool struct {
	mu       sync.Mutex
	max      int
	regions  []*Region
	contexts map[Context]struct{}
	closed   bool
	logger   logging.Logger
}

// NewPool creates a pool bounded to maxRegions stack regions.
func NewPool(maxRegions int, logger logging.Logger) *Pool {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Pool{
		max:      maxRegions,
		contexts: make(map[Context]struct{}),
		logger:   logger,
	}
}

// Lease returns a region of capacity >= slots with one additional reference
// held by the caller.
//
// Preference order: an existing unused region of sufficient capacity, then a
// fresh allocation while the pool is below its maximum, then eviction of the
// lowest-reference-count region of sufficient capacity (ties broken
// arbitrarily, vacant regions preferred). Stealing an occupied region
// flushes its resident user to heap first. If no pooled region is large
// enough, the pool grows past its bound rather than failing.
func (p *Pool) Lease(slots int) *Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaseLocked(slots)
}

// LeaseResident leases a region of capacity >= slots, installs user as its
// resident occupant and runs install with the region, all under the pool
// lock. A steal cannot interleave: any previous occupant is flushed before
// install runs, and until LeaseResident returns no other Lease can pick the
// region as a victim, so a restoring context is never flushed mid-copy.
func (p *Pool) LeaseResident(slots int, user User, install func(r *Region)) *Region {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.leaseLocked(slots)
	if r.user != nil && r.user != user {
		r.user.Flush()
	}
	r.user = user
	if install != nil {
		install(r)
	}
	return r
}

func (p *Pool) leaseLocked(slots int) *Region {
	if p.closed {
		core.Bug("lease from closed stack pool")
	}

	for _, r := range p.regions {
		if r.unused() && r.Cap() >= slots {
			r.refs++
			return r
		}
	}

	if len(p.regions) < p.max {
		return p.grow(slots)
	}

	var victim *Region
	for _, r := range p.regions {
		if r.Cap() < slots {
			continue
		}
		if victim == nil || betterVictim(r, victim) {
			victim = r
		}
	}

	if victim == nil {
		// Every pooled region is too small for this request.
		p.logger.Warn("stack pool growing past bound", "max", p.max, "slots", slots)
		return p.grow(slots)
	}

	if victim.user != nil {
		victim.user.Flush()
		victim.user = nil
	}

	p.logger.Debug("stack region evicted for reuse", "region", victim.ID(), "refs", victim.refs)

	victim.refs++
	return victim
}

// betterVictim orders eviction candidates: vacant regions beat occupied
// ones, then lower reference counts win.
func betterVictim(a, b *Region) bool {
	if a.vacant() != b.vacant() {
		return a.vacant()
	}
	return a.refs < b.refs
}

func (p *Pool) grow(slots int) *Region {
	r := newRegion(slots)
	r.refs = 1
	p.regions = append(p.regions, r)
	p.logger.Debug("stack region allocated", "region", r.ID(), "slots", slots, "regions", len(p.regions))
	return r
}

// Release drops one lease held by user. The region becomes eligible for
// reuse when its reference count reaches zero; its memory is retained until
// teardown. If user is the region's resident occupant, the region becomes
// vacant.
func (p *Pool) Release(r *Region, user User) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.user == user {
		r.user = nil
	}

	r.refs--
	if r.refs < 0 {
		core.Bug("stack region %s released more times than leased", r.ID())
	}
}

// SetResident records user as the region's current occupant, flushing any
// previous occupant to heap.
func (p *Pool) SetResident(r *Region, user User) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.user != nil && r.user != user {
		r.user.Flush()
	}
	r.user = user
}

// Register adds a live context to the pool's registry for collector scans.
func (p *Pool) Register(ctx Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts[ctx] = struct{}{}
}

// Deregister removes a context from the registry.
func (p *Pool) Deregister(ctx Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.contexts, ctx)
}

// Scan enumerates live contexts for a mark pass, offering each one's stack
// contents to the relocation callback. With markedOnly set, contexts the
// collector did not mark are killed instead of scanned; this is how
// unreferenced fibers die during a full collection.
func (p *Pool) Scan(markedOnly bool, relocate core.RelocateFunc) {
	p.mu.Lock()
	contexts := make([]Context, 0, len(p.contexts))
	for ctx := range p.contexts {
		contexts = append(contexts, ctx)
	}
	p.mu.Unlock()

	for _, ctx := range contexts {
		if ctx.Dead() {
			continue
		}
		if markedOnly && !ctx.Marked() {
			ctx.Kill()
			continue
		}
		ctx.Scan(relocate)
	}
}

// ClearMarks resets the mark flag on every registered context ahead of a new
// collection cycle.
func (p *Pool) ClearMarks() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ctx := range p.contexts {
		ctx.ClearMark()
	}
}

// Stats is a diagnostic snapshot of the pool.
type Stats struct {
	Regions  int
	Unused   int
	Contexts int
}

// Snapshot returns current pool counts.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Regions: len(p.regions), Contexts: len(p.contexts)}
	for _, r := range p.regions {
		if r.unused() {
			s.Unused++
		}
	}
	return s
}

// Close tears the pool down: every registered context is invalidated and all
// regions are dropped. Leases outstanding at teardown are void.
func (p *Pool) Close() {
	p.mu.Lock()
	contexts := make([]Context, 0, len(p.contexts))
	for ctx := range p.contexts {
		contexts = append(contexts, ctx)
	}
	p.contexts = make(map[Context]struct{})
	p.regions = nil
	p.closed = true
	p.mu.Unlock()

	for _, ctx := range contexts {
		ctx.Kill()
	}
}
