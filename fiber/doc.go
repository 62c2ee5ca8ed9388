// Package fiber implements stackful coroutines cooperatively scheduled
// within one native thread.
//
// A Fiber is the user-visible coroutine handle; its Context owns a stack
// region leased from the pool plus a saved execution point that can be
// resumed. Exactly one fiber per Exec runs at any instant: Resume, Transfer
// and Yield are synchronous handoffs, never preemptive.
//
// The saved execution point is a goroutine parked on an unbuffered handoff
// channel. That pair of operations (start, switch) is the entire switching
// boundary; everything above it is ordinary state-machine code.
package fiber
