// Package thread maps logical thread objects onto native threads and manages
// their lifecycle: start, join, wake, raise and kill, plus thread-local
// storage that resolves against the active fiber.
package thread

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Acidburn0zzz/rubinius/channel"
	"github.com/Acidburn0zzz/rubinius/config"
	"github.com/Acidburn0zzz/rubinius/core"
	"github.com/Acidburn0zzz/rubinius/fiber"
	"github.com/Acidburn0zzz/rubinius/logging"
	"github.com/Acidburn0zzz/rubinius/nexus"
	"github.com/Acidburn0zzz/rubinius/stack"
)

// Func is the managed function a thread runs.
type Func func(t *Thread) (core.Value, error)

// Options configures thread creation.
type Options struct {
	// Config supplies the stack size bounds and fiber stack capacity.
	Config config.Config

	// StackSize is the native stack size request; 0 selects the configured
	// default. Requests below the configured minimum are rejected.
	StackSize int

	// Priority is the initial scheduling priority hint.
	Priority int

	// Logger receives lifecycle events. Defaults to NoOpLogger.
	Logger logging.Logger

	// Nexus is the safepoint coordinator the thread registers with.
	Nexus *nexus.Nexus

	// Pool backs the thread's fiber stacks.
	Pool *stack.Pool

	// Collector receives finalizer registrations for fibers created on
	// this thread. Defaults to the no-op collector.
	Collector core.Collector
}

// Thread binds a logical thread object to one native thread. State
// transitions (alive, pending raise/kill, wake) are serialized by a
// short-lived init lock so a thread cannot vanish mid-signal.
type Thread struct {
	id        string
	name      string
	stackSize int
	fn        Func

	exec   *fiber.Exec
	nx     *nexus.Nexus
	logger logging.Logger

	initMu sync.Mutex // guards signal delivery against thread teardown

	joinMu   sync.Mutex
	joinCond *sync.Cond
	alive    bool
	started  bool
	value    core.Value
	err      error

	pendingMu    sync.Mutex
	pendingKill  bool
	pendingRaise error

	waiterMu sync.Mutex
	waiter   *channel.Channel

	locksMu sync.Mutex
	held    []sync.Locker

	localsMu sync.Mutex
	locals   map[string]core.Value

	priority atomic.Int32
}

// New creates a thread record running fn. The native thread is not spawned
// until Start. The stack size request is validated against the configured
// minimum.
func New(name string, fn Func, optFns ...func(o *Options)) (*Thread, error) {
	opts := Options{
		Config: config.DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.StackSize == 0 {
		opts.StackSize = opts.Config.DefaultThreadStackSize
	}
	if opts.StackSize < opts.Config.MinThreadStackSize {
		return nil, fmt.Errorf("thread stack size %d below minimum %d",
			opts.StackSize, opts.Config.MinThreadStackSize)
	}
	if opts.Nexus == nil {
		opts.Nexus = nexus.New()
	}
	if opts.Pool == nil {
		opts.Pool = stack.NewPool(opts.Config.MaxFiberStacks, opts.Logger)
	}

	t := &Thread{
		id:        uuid.NewString(),
		name:      name,
		stackSize: opts.StackSize,
		fn:        fn,
		exec:      fiber.NewExec(opts.Pool, opts.Collector, opts.Config.FiberStackSlots),
		nx:        opts.Nexus,
		logger:    opts.Logger,
	}
	t.joinCond = sync.NewCond(&t.joinMu)
	t.priority.Store(int32(opts.Priority))

	return t, nil
}

// ID returns the thread's identity.
func (t *Thread) ID() string { return t.id }

// Name returns the thread's diagnostic name.
func (t *Thread) Name() string { return t.name }

// Exec returns the thread's fiber execution state. Fiber operations on it
// must be issued from the thread itself.
func (t *Thread) Exec() *fiber.Exec { return t.exec }

// StackSize returns the validated native stack size request.
func (t *Thread) StackSize() int { return t.stackSize }

// Start spawns the native thread running the entry trampoline.
func (t *Thread) Start() error {
	t.joinMu.Lock()
	if t.started {
		t.joinMu.Unlock()
		return fmt.Errorf("thread %q already started", t.name)
	}
	t.started = true
	t.alive = true
	t.joinMu.Unlock()

	go t.run()
	return nil
}

// run is the fixed entry trampoline: bind thread state, run the function,
// then under the join lock mark not-alive, release held object locks and
// broadcast the join condition.
func (t *Thread) run() {
	start := time.Now()
	t.logger.Info("start thread", "thread", t.name, "stack_size", t.stackSize)

	t.nx.Register(t.id)

	value, err := t.fn(t)

	t.joinMu.Lock()
	t.value = value
	t.err = err
	t.alive = false

	t.locksMu.Lock()
	held := t.held
	t.held = nil
	t.locksMu.Unlock()
	for _, l := range held {
		l.Unlock()
	}

	t.joinCond.Broadcast()
	t.joinMu.Unlock()

	t.nx.Deregister(t.id)
	t.logger.Info("exit thread", "thread", t.name, "run_time", time.Since(start))
}

// Alive reports whether the native thread is running.
func (t *Thread) Alive() bool {
	t.joinMu.Lock()
	defer t.joinMu.Unlock()
	return t.started && t.alive
}

// Value returns the function's result once the thread has finished.
func (t *Thread) Value() (core.Value, error) {
	t.joinMu.Lock()
	defer t.joinMu.Unlock()
	return t.value, t.err
}

// Join blocks until the thread is no longer alive or the timeout elapses.
// A negative timeout waits indefinitely. Joining a finished thread returns
// immediately. On timeout the distinguished core.ErrTimedOut is returned; on
// ctx cancellation, core.ErrInterrupted.
//
// from identifies the joining thread when it is itself a registered managed
// thread: it spends the wait in the blocking phase, so a stop-the-world can
// proceed around it, and re-enters the managed phase when the join ends. A
// nil from joins without a phase transition.
func (t *Thread) Join(ctx context.Context, from *Thread, timeout time.Duration) (*Thread, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if from != nil {
		from.nx.Blocking(from.id)
		defer from.nx.Managed(from.id)
	}

	t.joinMu.Lock()
	defer t.joinMu.Unlock()

	if !t.alive {
		return t, nil
	}

	timedOut := false
	if timeout >= 0 {
		timer := time.AfterFunc(timeout, func() {
			t.joinMu.Lock()
			timedOut = true
			t.joinMu.Unlock()
			t.joinCond.Broadcast()
		})
		defer timer.Stop()
	}
	stop := context.AfterFunc(ctx, t.joinCond.Broadcast)
	defer stop()

	for t.alive {
		t.joinCond.Wait()
		if !t.alive {
			break
		}
		if timedOut {
			return nil, core.ErrTimedOut
		}
		if ctx.Err() != nil {
			return nil, core.ErrInterrupted
		}
	}
	return t, nil
}

// Wake signals the thread's current wait condition, if any. It reports
// whether the thread was alive to be woken.
func (t *Thread) Wake() bool {
	t.initMu.Lock()
	defer t.initMu.Unlock()

	if !t.Alive() {
		return false
	}
	if w := t.Waiting(); w != nil {
		w.Interrupt()
	}
	return true
}

// Raise installs err as the thread's pending exception and wakes it so the
// next safepoint or wait observes it.
func (t *Thread) Raise(err error) bool {
	t.initMu.Lock()
	defer t.initMu.Unlock()

	if !t.Alive() {
		return false
	}

	t.pendingMu.Lock()
	t.pendingRaise = err
	t.pendingMu.Unlock()

	if w := t.Waiting(); w != nil {
		w.Interrupt()
	}
	return true
}

// Kill requests the thread's termination. Killing the current thread
// triggers an immediate unwind: the distinguished core.ErrThreadKill is
// returned for the caller to propagate. Killing another thread installs a
// pending kill and wakes it; the target unwinds at its next safepoint.
func (t *Thread) Kill(from *Thread) error {
	t.initMu.Lock()
	defer t.initMu.Unlock()

	if from == t {
		return core.ErrThreadKill
	}
	if !t.Alive() {
		return nil
	}

	t.pendingMu.Lock()
	t.pendingKill = true
	t.pendingMu.Unlock()

	if w := t.Waiting(); w != nil {
		w.Interrupt()
	}
	return nil
}

// CheckAsync reports the thread's pending asynchronous signal: a kill
// request wins over a pending raise, and a raise is consumed by the check.
func (t *Thread) CheckAsync() error {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	if t.pendingKill {
		return core.ErrThreadKill
	}
	if err := t.pendingRaise; err != nil {
		t.pendingRaise = nil
		return err
	}
	return nil
}

// Safepoint is the cooperative check managed loops run between units of
// work: it parks for any stop-the-world phase and then reports pending
// asynchronous signals.
func (t *Thread) Safepoint() error {
	t.nx.Yield(t.id)
	return t.CheckAsync()
}

// WaitingOnChannel records the channel this thread is blocked on, for
// deadlock diagnostics and wake delivery, and enters the blocking phase: a
// receiver parked on a channel must not hold up a stop-the-world.
func (t *Thread) WaitingOnChannel(c *channel.Channel) {
	t.waiterMu.Lock()
	t.waiter = c
	t.waiterMu.Unlock()

	t.nx.Blocking(t.id)
}

// ClearWaiter removes the blocked-on-channel registration and re-enters the
// managed phase, parking first if a stop-the-world is in progress.
func (t *Thread) ClearWaiter() {
	t.waiterMu.Lock()
	t.waiter = nil
	t.waiterMu.Unlock()

	t.nx.Managed(t.id)
}

// Waiting returns the channel this thread is currently blocked on, if any.
func (t *Thread) Waiting() *channel.Channel {
	t.waiterMu.Lock()
	defer t.waiterMu.Unlock()
	return t.waiter
}

// HoldLock records an object-level lock held by this thread so it can be
// released if the thread terminates while holding it.
func (t *Thread) HoldLock(l sync.Locker) {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	t.held = append(t.held, l)
}

// DropLock removes a previously recorded lock.
func (t *Thread) DropLock(l sync.Locker) {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	for i, h := range t.held {
		if h == l {
			t.held = append(t.held[:i], t.held[i+1:]...)
			return
		}
	}
}

// Pass hints the scheduler to run another thread.
func Pass() { runtime.Gosched() }

// SetPriority stores the scheduling priority hint.
func (t *Thread) SetPriority(p int) { t.priority.Store(int32(p)) }

// Priority returns the scheduling priority hint.
func (t *Thread) Priority() int { return int(t.priority.Load()) }
