package core

import (
	"errors"
	"fmt"
)

// Precondition violations. These are caller errors: they are reported as
// distinguished error values and never silently ignored.
var (
	// ErrDeadFiber is returned when resuming or transferring to a fiber
	// whose context has died.
	ErrDeadFiber = errors.New("dead fiber called")

	// ErrDoubleResume is returned when resuming a fiber that is already
	// suspended awaiting a resumer.
	ErrDoubleResume = errors.New("double resume")

	// ErrCrossThreadFiber is returned when a fiber bound to one native
	// thread is resumed from another.
	ErrCrossThreadFiber = errors.New("cross thread fiber resuming is illegal")

	// ErrRootFiberYield is returned when yield is attempted from a thread's
	// root fiber.
	ErrRootFiberYield = errors.New("can't yield from root fiber")

	// ErrLocalIndex is returned for a negative or out-of-range local slot
	// index on a scope.
	ErrLocalIndex = errors.New("local index out of range")
)

// Distinguished non-fatal results for blocking operations.
var (
	// ErrTimedOut reports that a channel receive or thread join deadline
	// elapsed before the operation completed.
	ErrTimedOut = errors.New("timed out")

	// ErrInterrupted reports that a blocking wait was cancelled by the host
	// runtime before anything was consumed.
	ErrInterrupted = errors.New("interrupted")

	// ErrThreadKill is the pending asynchronous signal installed by a kill
	// request; a thread observing it at a safepoint unwinds.
	ErrThreadKill = errors.New("thread killed")
)

// BugError carries the diagnostic for an internal invariant violation. It is
// delivered by panic, never as a returned error.
type BugError struct {
	Msg string
}

func (e *BugError) Error() string { return "machine bug: " + e.Msg }

// Bug reports an internal invariant violation: scheduler or pool corruption
// that no user action can trigger. Continuing would be unsafe, so it aborts
// the current goroutine via panic rather than returning an error.
func Bug(format string, args ...any) {
	panic(&BugError{Msg: fmt.Sprintf(format, args...)})
}
