package stack

import (
	"github.com/google/uuid"

	"github.com/Acidburn0zzz/rubinius/core"
)

// User is the resident occupant of a Region, from the pool's point of view.
// When the pool steals a region out from under its occupant, it asks the
// occupant to flush its contents to heap first; the occupant's saved
// displacement is what keeps its stack-resident data reachable afterwards.
type User interface {
	// Flush copies the occupant's live stack contents out of the region
	// into occupant-owned heap storage.
	Flush()
}

// Region is one fixed-capacity slot buffer usable as a fiber execution
// stack. Regions are owned by the Pool for their whole life: leased out
// (reference counted) to contexts, recycled when unused, and only freed at
// pool teardown. All mutation happens under the pool's lock.
type Region struct {
	id    string
	slots []core.Value
	refs  int
	user  User
}

func newRegion(capacity int) *Region {
	return &Region{
		id:    uuid.NewString(),
		slots: make([]core.Value, capacity),
	}
}

// ID returns the region's diagnostic identity.
func (r *Region) ID() string { return r.id }

// Cap returns the region's capacity in value slots.
func (r *Region) Cap() int { return len(r.slots) }

// Refs returns the number of outstanding leases.
func (r *Region) Refs() int { return r.refs }

// Slots exposes the backing slot buffer. Callers address it only through a
// Displacement.
func (r *Region) Slots() []core.Value { return r.slots }

// unused reports whether no lease is outstanding.
func (r *Region) unused() bool { return r.refs == 0 }

// vacant reports whether no context is currently resident.
func (r *Region) vacant() bool { return r.user == nil }
