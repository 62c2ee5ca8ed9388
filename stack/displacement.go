package stack

import (
	"fmt"

	"github.com/Acidburn0zzz/rubinius/core"
)

// Displacement maps a nominal stack-relative address to its current physical
// slot. Stack-resident data keeps the addresses it was born with; whenever
// the backing region is reused, relocated or copied to heap, the owning
// context's current Displacement carries the delta. Every dereference of a
// stack-resident address is a function of (nominal address, current
// displacement), never a raw slot index.
type Displacement struct {
	// Offset is added to a nominal address to reach the current slot.
	Offset int

	// Lower and Upper bound the nominal addresses this displacement is
	// valid for: Lower <= addr < Upper.
	Lower int
	Upper int
}

// Displace translates a nominal address. An address outside the valid bounds
// is a scheduler or pool bug, not a recoverable error, and aborts.
func (d Displacement) Displace(addr int) int {
	if addr < d.Lower || addr >= d.Upper {
		core.Bug("displaced address %d outside valid bounds [%d, %d)", addr, d.Lower, d.Upper)
	}
	return addr + d.Offset
}

// Contains reports whether addr is inside the valid nominal range.
func (d Displacement) Contains(addr int) bool {
	return addr >= d.Lower && addr < d.Upper
}

func (d Displacement) String() string {
	return fmt.Sprintf("displacement{offset=%d bounds=[%d,%d)}", d.Offset, d.Lower, d.Upper)
}
