// Package channel implements the blocking handoff queue used for
// cross-thread coordination, independent of fibers.
//
// A Channel carries either real payload values or permits: value-less
// signals issued by sending the no-value sentinel. Permits collapse into
// queued no-value placeholders, in issue order, the moment a real value is
// sent while permits are outstanding, so waiting consumers always observe
// sends in the order they were issued.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/Acidburn0zzz/rubinius/core"
)

// Consumer is the execution context performing a blocking receive. A
// consumer is registered for the duration of the wait so external tooling
// (deadlock diagnostics, wakeups) can observe blocked receivers, and its
// async check is re-run on every wake so pending kill or raise requests are
// not swallowed by the wait. Registration doubles as the consumer's phase
// transition: a registered consumer is in a blocking region, already safe
// for a stop-the-world to proceed around.
type Consumer interface {
	// WaitingOnChannel records that the consumer is blocked on c and moves
	// it into its blocking phase.
	WaitingOnChannel(c *Channel)

	// ClearWaiter removes the registration once the wait ends and
	// re-enters the consumer's managed phase. Re-entry may park until an
	// in-progress stop-the-world ends, so the channel never invokes it
	// while holding its own lock.
	ClearWaiter()

	// CheckAsync reports a pending asynchronous signal (kill, raise) that
	// should interrupt the wait.
	CheckAsync() error
}

// Channel is a thread-safe FIFO value queue with permit semantics. The zero
// value is not usable; construct with New.
type Channel struct {
	mu      sync.Mutex
	cond    *sync.Cond
	fifo    []core.Value
	permits int
	waiters int
}

// New creates an empty channel.
func New() *Channel {
	c := &Channel{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Send appends v for a future receiver and never blocks. Sending the
// no-value sentinel issues a permit instead of queueing a payload. Sending a
// real value while permits are outstanding first materializes those permits
// as queued no-value entries, preserving issue order, then appends v. One
// waiter is signalled if any are blocked.
func (c *Channel) Send(v core.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if core.IsNil(v) {
		c.permits++
	} else {
		for i := 0; i < c.permits; i++ {
			c.fifo = append(c.fifo, core.Nil)
		}
		c.permits = 0
		c.fifo = append(c.fifo, v)
	}

	if c.waiters > 0 {
		c.cond.Signal()
	}
}

// TryReceive consumes a permit or pops the front entry without blocking.
// An empty channel with no permits also yields the no-value sentinel; the
// result deliberately does not distinguish the two cases.
func (c *Channel) TryReceive() core.Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.permits > 0 {
		c.permits--
		return core.Nil
	}
	if len(c.fifo) > 0 {
		return c.pop()
	}
	return core.Nil
}

// Receive blocks until a permit or value is available, the timeout elapses,
// or the wait is cancelled. A negative timeout waits indefinitely.
//
// Distinguished results: core.ErrTimedOut when the deadline passed, and
// core.ErrInterrupted when ctx was cancelled or the consumer's async check
// reported a pending signal. In both cases nothing was consumed and the
// caller should re-check its pending signals.
func (c *Channel) Receive(ctx context.Context, consumer Consumer, timeout time.Duration) (core.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()

	if c.permits > 0 {
		c.permits--
		c.mu.Unlock()
		return core.Nil, nil
	}
	if len(c.fifo) > 0 {
		v := c.pop()
		c.mu.Unlock()
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return core.Nil, core.ErrInterrupted
	}
	if consumer != nil {
		if err := consumer.CheckAsync(); err != nil {
			c.mu.Unlock()
			return core.Nil, core.ErrInterrupted
		}
		consumer.WaitingOnChannel(c)
		// Registered before the unlock defer so it runs after the channel
		// lock is released: managed-phase re-entry can park for a
		// stop-the-world, and a parked receiver must not hold up senders.
		defer consumer.ClearWaiter()
	}
	defer c.mu.Unlock()

	timedOut := false
	if timeout >= 0 {
		t := time.AfterFunc(timeout, func() {
			c.mu.Lock()
			timedOut = true
			c.mu.Unlock()
			c.cond.Broadcast()
		})
		defer t.Stop()
	}
	stop := context.AfterFunc(ctx, c.cond.Broadcast)
	defer stop()

	c.waiters++
	defer func() { c.waiters-- }()

	// Loop, not a single wait: wakeups may be spurious, racing, or aimed at
	// delivering a pending signal rather than a value.
	for {
		c.cond.Wait()

		if c.permits > 0 {
			c.permits--
			return core.Nil, nil
		}
		if len(c.fifo) > 0 {
			return c.pop(), nil
		}
		if timedOut {
			return core.Nil, core.ErrTimedOut
		}
		if ctx.Err() != nil {
			return core.Nil, core.ErrInterrupted
		}
		if consumer != nil {
			if err := consumer.CheckAsync(); err != nil {
				return core.Nil, core.ErrInterrupted
			}
		}
	}
}

// Interrupt wakes every blocked receiver so pending asynchronous signals are
// observed. Used by thread wake/raise/kill delivery.
func (c *Channel) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cond.Broadcast()
}

// pop removes and returns the front entry. Caller holds the lock.
func (c *Channel) pop() core.Value {
	v := c.fifo[0]
	c.fifo = c.fifo[1:]
	return v
}

// Stats is a diagnostic snapshot of a channel.
type Stats struct {
	Permits int
	Queued  int
	Waiters int
}

// Snapshot returns the channel's current counters.
func (c *Channel) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Permits: c.permits, Queued: len(c.fifo), Waiters: c.waiters}
}
