package fiber

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Acidburn0zzz/rubinius/core"
)

// Status is a fiber's scheduling state. Dead is terminal.
type Status int32

const (
	// StatusCreated is a fiber that has never been resumed. It holds no
	// context or stack yet.
	StatusCreated Status = iota
	// StatusRunning is the fiber currently executing on its thread.
	StatusRunning
	// StatusSleeping is a fiber suspended at a switch point.
	StatusSleeping
	// StatusDead is a fiber whose callable has returned or whose context
	// was torn down.
	StatusDead
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusSleeping:
		return "sleeping"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Fiber is a user-visible coroutine handle. The prev link records the most
// recent resume relationship: it points at the fiber control returns to on
// yield, and a non-nil prev on a suspended fiber means a resumer is already
// waiting (double resume).
//
// prev, value and err are only touched by the owning thread, between
// switches; the switch handoff provides the ordering. status is atomic so
// the marker can observe it from outside.
type Fiber struct {
	id      string
	root    bool
	starter core.Callable
	status  atomic.Int32

	prev  *Fiber
	value []core.Value
	err   error

	data *Context

	localsMu sync.Mutex
	locals   map[string]core.Value
}

// Create builds a fiber around a callable. No stack region is leased and no
// context exists until the first resume: fibers that are created but never
// run cost nothing.
func Create(e *Exec, starter core.Callable) *Fiber {
	f := &Fiber{id: uuid.NewString(), starter: starter}
	f.setStatus(StatusCreated)
	e.collector.RegisterFinalizer(f, func(core.Value) { f.Finalize() })
	return f
}

// ID returns the fiber's diagnostic identity.
func (f *Fiber) ID() string { return f.id }

// Root reports whether this is a thread's root fiber.
func (f *Fiber) Root() bool { return f.root }

// Status returns the fiber's scheduling state.
func (f *Fiber) Status() Status { return Status(f.status.Load()) }

func (f *Fiber) setStatus(s Status) { f.status.Store(int32(s)) }

// Context returns the fiber's coroutine context, nil before first resume.
func (f *Fiber) Context() *Context { return f.data }

// Mark records that the collector found this fiber reachable, keeping its
// context's stack contents live for the current cycle.
func (f *Fiber) Mark() {
	if f.data == nil || f.data.Dead() {
		return
	}
	f.data.SetMark()
}

// Resume suspends the caller's fiber and switches into f, handing it args as
// its pending value. Control returns when f yields, transfers away or dies;
// the yielded value is returned unwrapped (none -> Nil, one -> the element,
// several -> a Tuple). An error set by the returning fiber is re-raised here
// instead of a value.
func (f *Fiber) Resume(e *Exec, args ...core.Value) (core.Value, error) {
	if err := f.resumeCheck(e, true); err != nil {
		return core.Nil, err
	}

	f.value = core.Box(args...)

	cur := e.Current()
	f.prev = cur

	return switchInto(e, cur, f)
}

// Transfer is Resume with the caller/callee relationship severed: the
// target's prev is unconditionally set to the thread's root fiber, so a
// yield inside f lands on the root, not here. A suspended target's existing
// prev link is overwritten rather than rejected; that is what makes transfer
// ping-pong possible.
func (f *Fiber) Transfer(e *Exec, args ...core.Value) (core.Value, error) {
	if err := f.resumeCheck(e, false); err != nil {
		return core.Nil, err
	}

	f.value = core.Box(args...)

	cur := e.Current()
	f.prev = e.Root()

	return switchInto(e, cur, f)
}

// resumeCheck enforces the switch preconditions, lazily allocating the
// context on a first resume.
func (f *Fiber) resumeCheck(e *Exec, checkPrev bool) error {
	if f.data == nil {
		if f.Status() == StatusDead {
			return core.ErrDeadFiber
		}
		f.data = newContext(e.pool, e.id, e.slots, false)
		f.data.point.start(func() { f.startOnStack(e) })
	}

	if f.Status() == StatusDead || f.data.Dead() {
		return core.ErrDeadFiber
	}
	if checkPrev && f.prev != nil {
		return core.ErrDoubleResume
	}
	if f.data.HostID() != e.id {
		return core.ErrCrossThreadFiber
	}
	return nil
}

// Yield suspends the currently running fiber, stores args as its resumer's
// pending value and switches back to it. The root fiber has no resumer and
// can never yield.
func Yield(e *Exec, args ...core.Value) (core.Value, error) {
	cur := e.Current()
	if cur.root {
		return core.Nil, core.ErrRootFiberYield
	}

	dest := cur.prev
	if dest == nil || dest == cur {
		// Only reachable through resume/transfer, which always set prev.
		core.Bug("yield from fiber %s with no pending resumer", cur.id)
	}

	cur.prev = nil
	dest.value = core.Box(args...)

	cur.setStatus(StatusSleeping)
	dest.setStatus(StatusRunning)
	e.current = dest

	dest.data.ensureResident()
	if !dest.data.point.wake() {
		return core.Nil, core.ErrInterrupted
	}
	if !cur.data.point.park() {
		return core.Nil, core.ErrInterrupted
	}

	return core.Unbox(e.Current().value), nil
}

// switchInto performs the suspend/run half of resume and transfer and
// interprets the state it finds when control eventually comes back.
func switchInto(e *Exec, cur, target *Fiber) (core.Value, error) {
	cur.setStatus(StatusSleeping)
	target.setStatus(StatusRunning)
	e.current = target

	target.data.ensureResident()
	if !target.data.point.wake() {
		// Target context torn down before it could run; undo the switch.
		target.prev = nil
		cur.setStatus(StatusRunning)
		e.current = cur
		return core.Nil, core.ErrDeadFiber
	}

	if !cur.data.point.park() {
		return core.Nil, core.ErrInterrupted
	}

	// Back here when someone yields back to us.
	back := e.Current()
	if back.err != nil {
		err := back.err
		back.err = nil
		return core.Nil, err
	}
	return core.Unbox(back.value), nil
}

// startOnStack is the fiber entry trampoline. It runs the fiber's callable
// with its initial value, then marks the fiber dead and hands control back
// to prev: a normal result is boxed as prev's pending value, an escaping
// failure becomes prev's pending error. If the destination context was
// already torn down (the machine shutting down mid-flight) it does nothing.
func (f *Fiber) startOnStack(e *Exec) {
	data := f.data // finalization may detach f.data while we unwind

	res, err := f.starter.Call(f.value...)

	f.setStatus(StatusDead)

	dest := f.prev
	if dest == nil || dest.data == nil || dest.data.Dead() {
		data.Orphan()
		return
	}

	if err != nil {
		dest.err = err
		dest.value = nil
	} else {
		dest.value = core.Box(res)
	}

	dest.setStatus(StatusRunning)
	e.current = dest

	data.Orphan()
	dest.data.point.wake()
}

// Finalize releases the fiber's native resources once the object is
// unreachable: the leased stack region is orphaned and the context killed.
// The dead context stays attached so concurrent observers (mark, resume
// checks) never race a nil field. Safe to call more than once.
func (f *Fiber) Finalize() {
	if f.data == nil {
		return
	}
	f.data.Orphan()
	f.setStatus(StatusDead)
}

// LocalGet reads a fiber-local value.
func (f *Fiber) LocalGet(key string) (core.Value, bool) {
	f.localsMu.Lock()
	defer f.localsMu.Unlock()
	v, ok := f.locals[key]
	return v, ok
}

// LocalSet writes a fiber-local value.
func (f *Fiber) LocalSet(key string, v core.Value) {
	f.localsMu.Lock()
	defer f.localsMu.Unlock()
	if f.locals == nil {
		f.locals = make(map[string]core.Value)
	}
	f.locals[key] = v
}

// LocalRemove deletes a fiber-local value, returning what was stored.
func (f *Fiber) LocalRemove(key string) (core.Value, bool) {
	f.localsMu.Lock()
	defer f.localsMu.Unlock()
	v, ok := f.locals[key]
	if ok {
		delete(f.locals, key)
	}
	return v, ok
}

// LocalKeys lists the fiber-local keys.
func (f *Fiber) LocalKeys() []string {
	f.localsMu.Lock()
	defer f.localsMu.Unlock()
	keys := make([]string, 0, len(f.locals))
	for k := range f.locals {
		keys = append(keys, k)
	}
	return keys
}
