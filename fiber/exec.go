package fiber

import (
	"github.com/google/uuid"

	"github.com/Acidburn0zzz/rubinius/core"
	"github.com/Acidburn0zzz/rubinius/stack"
)

// Exec tracks the fiber execution state of one native thread: the currently
// running fiber and the thread's root fiber. All scheduling operations on an
// Exec must be issued from the thread that owns it; the single-active-fiber
// invariant depends on it.
type Exec struct {
	id        string
	pool      *stack.Pool
	collector core.Collector
	slots     int

	current *Fiber
	root    *Fiber
}

// NewExec creates the fiber execution state for one native thread.
// stackSlots is the capacity requested for each leased stack region.
func NewExec(pool *stack.Pool, collector core.Collector, stackSlots int) *Exec {
	if collector == nil {
		collector = core.NoopCollector{}
	}
	return &Exec{
		id:        uuid.NewString(),
		pool:      pool,
		collector: collector,
		slots:     stackSlots,
	}
}

// ID returns the native thread identity fibers created here are bound to.
func (e *Exec) ID() string { return e.id }

// Current returns the running fiber, lazily materializing the thread's root
// fiber on first use. The root fiber represents the thread's own execution
// and is always Running when no other fiber is.
func (e *Exec) Current() *Fiber {
	if e.current == nil {
		f := &Fiber{id: uuid.NewString(), root: true}
		f.setStatus(StatusRunning)
		f.data = newContext(e.pool, e.id, e.slots, true)
		e.collector.RegisterFinalizer(f, func(core.Value) { f.Finalize() })
		e.current = f
		e.root = f
	}
	return e.current
}

// Root returns the thread's root fiber, creating it if needed.
func (e *Exec) Root() *Fiber {
	e.Current()
	return e.root
}
