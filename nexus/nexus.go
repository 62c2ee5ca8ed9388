// Package nexus implements the global safepoint coordinator shared by every
// native thread and the concurrent marker.
//
// The coordinator is an explicitly owned object: the machine creates it at
// startup, hands a reference to every component that needs safepoint or
// registry access, and tears it down at shutdown. It is the sole arbiter of
// when a stop-the-world phase may run; components request a stop and
// cooperate with the handshake, they never force one.
package nexus

import (
	"sync"
	"sync/atomic"
)

// Phase is a registered thread's standing with respect to safepoints.
type Phase int

const (
	// PhaseManaged threads run managed code and must reach a safepoint
	// before a stop-the-world phase may begin.
	PhaseManaged Phase = iota
	// PhaseBlocking threads are inside a blocking region (native call,
	// condition wait) and are already safe to stop around.
	PhaseBlocking
	// PhaseWaiting threads are parked at a safepoint until the stop ends.
	PhaseWaiting
)

// Nexus coordinates stop/yield safepoints across registered threads.
type Nexus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	threads map[string]Phase
	stop    bool

	interrupt atomic.Bool
}

// New creates an empty coordinator.
func New() *Nexus {
	n := &Nexus{threads: make(map[string]Phase)}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Register adds a thread to the coordinator in the managed phase.
func (n *Nexus) Register(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.threads[id] = PhaseManaged
	n.cond.Broadcast()
}

// Deregister removes a thread; an exiting thread can no longer hold up a
// stop request.
func (n *Nexus) Deregister(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.threads, id)
	n.cond.Broadcast()
}

// Blocking marks a thread as inside a blocking region: safe to stop around
// without waiting for it.
func (n *Nexus) Blocking(id string) {
	n.setPhase(id, PhaseBlocking)
}

// Managed marks a thread as running managed code again. If a stop is in
// progress the thread parks here until it ends.
func (n *Nexus) Managed(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.stop {
		n.threads[id] = PhaseWaiting
		n.cond.Broadcast()
		n.cond.Wait()
	}
	n.threads[id] = PhaseManaged
}

// Yield is the cooperative safepoint check. If a stop has been requested the
// calling thread parks until the stop ends; otherwise it returns at once.
func (n *Nexus) Yield(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.stop {
		return
	}
	for n.stop {
		n.threads[id] = PhaseWaiting
		n.cond.Broadcast()
		n.cond.Wait()
	}
	n.threads[id] = PhaseManaged
}

func (n *Nexus) setPhase(id string, p Phase) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.threads[id] = p
	n.cond.Broadcast()
}

// RequestStop begins a stop-the-world phase on behalf of requester and
// blocks until every other registered thread is parked at a safepoint or
// inside a blocking region. The requester must call Resume to end the phase.
func (n *Nexus) RequestStop(requester string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stop = true
	n.cond.Broadcast()

	for !n.allStoppedLocked(requester) {
		n.cond.Wait()
	}
}

// Resume ends the stop-the-world phase and releases parked threads.
func (n *Nexus) Resume() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stop = false
	n.cond.Broadcast()
}

// StopRequested reports whether a stop-the-world phase is pending or active.
func (n *Nexus) StopRequested() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stop
}

func (n *Nexus) allStoppedLocked(requester string) bool {
	for id, phase := range n.threads {
		if id == requester {
			continue
		}
		if phase == PhaseManaged {
			return false
		}
	}
	return true
}

// SetInterrupt raises the generic checkpoint request observed by cooperative
// loops (the marker, channel waits).
func (n *Nexus) SetInterrupt() { n.interrupt.Store(true) }

// InterruptPending reports whether a generic interrupt is outstanding.
func (n *Nexus) InterruptPending() bool { return n.interrupt.Load() }

// ResetInterrupt clears the generic interrupt flag.
func (n *Nexus) ResetInterrupt() { n.interrupt.Store(false) }

// Threads returns the ids of all registered threads.
func (n *Nexus) Threads() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.threads))
	for id := range n.threads {
		ids = append(ids, id)
	}
	return ids
}
