package core

// RelocateFunc is the collector's relocation callback, invoked once per live
// reference slot during a mark pass. It returns the object's new location and
// true when the object moved, in which case the caller must rewrite the slot
// in place.
type RelocateFunc func(v Value) (Value, bool)

// FinalizerFunc runs when a managed object becomes unreachable.
type FinalizerFunc func(obj Value)

// Collector is the narrow contract the concurrency core consumes from the
// allocator/collector. The marking algorithm and object layout are external;
// the core only leases objects, pins them while referenced from unmanaged
// code, and registers finalizers for native resources.
type Collector interface {
	// LeaseObject allocates a managed object cell for native bookkeeping.
	LeaseObject() Value

	// Pin prevents obj from being relocated until Unpin. It reports whether
	// pinning succeeded.
	Pin(obj Value) bool

	// Unpin releases a previous Pin.
	Unpin(obj Value)

	// RegisterFinalizer arranges for fn to run when obj becomes
	// unreachable. Fibers use this to orphan their leased stacks.
	RegisterFinalizer(obj Value, fn FinalizerFunc)
}

// NoopCollector satisfies Collector without doing any memory management.
// It is the default wired into a Machine until a real collector is attached.
type NoopCollector struct{}

// LeaseObject returns a fresh empty cell.
func (NoopCollector) LeaseObject() Value { return new(struct{}) }

// Pin always succeeds.
func (NoopCollector) Pin(Value) bool { return true }

// Unpin is a no-op.
func (NoopCollector) Unpin(Value) {}

// RegisterFinalizer discards the finalizer.
func (NoopCollector) RegisterFinalizer(Value, FinalizerFunc) {}
