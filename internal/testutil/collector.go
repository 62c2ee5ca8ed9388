package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/Acidburn0zzz/rubinius/core"
)

// FakeCollector scripts the collector side of the marking handshake.
// Load Work with a number of mark units, optionally arm a full or young
// collection request after a given amount of progress, and observe the
// lifecycle counters from the test.
type FakeCollector struct {
	// Work is the number of mark units remaining. ProcessMarkStack
	// consumes from it and reports more work while it is positive.
	Work atomic.Int64

	// FullAfter arms a full collection request once Processed reaches
	// the given value. Zero means never.
	FullAfter atomic.Int64

	// YoungOnce makes CollectYoungRequested report true exactly once.
	YoungOnce atomic.Bool

	Processed      atomic.Int64
	Finished       atomic.Int64
	Restarted      atomic.Int64
	Cleared        atomic.Int64
	fullRequested  atomic.Bool
	markInProgress atomic.Bool
}

// NewFakeCollector returns a collector preloaded with units of mark work.
func NewFakeCollector(units int64) *FakeCollector {
	fc := &FakeCollector{}
	fc.Work.Store(units)
	fc.markInProgress.Store(true)
	return fc
}

func (fc *FakeCollector) ProcessMarkStack(units int) bool {
	for i := 0; i < units; i++ {
		if fc.Work.Add(-1) < 0 {
			fc.Work.Store(0)
			return false
		}
		done := fc.Processed.Add(1)
		if after := fc.FullAfter.Load(); after > 0 && done >= after {
			fc.FullAfter.Store(0)
			fc.fullRequested.Store(true)
		}
	}
	return fc.Work.Load() > 0
}

func (fc *FakeCollector) CollectFullRequested() bool  { return fc.fullRequested.Load() }
func (fc *FakeCollector) CollectYoungRequested() bool { return fc.YoungOnce.CompareAndSwap(true, false) }

func (fc *FakeCollector) FinishFullCollection() {
	fc.fullRequested.Store(false)
	fc.Finished.Add(1)
}

func (fc *FakeCollector) RestartFullCollection() { fc.Restarted.Add(1) }

func (fc *FakeCollector) ClearMarkInProgress() {
	fc.markInProgress.Store(false)
	fc.Cleared.Add(1)
}

// MarkInProgress reports whether the mark-in-progress flag is still set.
func (fc *FakeCollector) MarkInProgress() bool { return fc.markInProgress.Load() }

// ResetMark re-arms the mark-in-progress flag, as a collector would at the
// start of a new cycle.
func (fc *FakeCollector) ResetMark() { fc.markInProgress.Store(true) }

// RecordingCollector implements core.Collector and records every
// registration so tests can assert on object lifecycle wiring.
type RecordingCollector struct {
	mu         sync.Mutex
	leased     int
	pinned     map[core.Value]int
	finalizers []finalizer
}

type finalizer struct {
	obj core.Value
	fn  core.FinalizerFunc
}

// NewRecordingCollector returns an empty recording collector.
func NewRecordingCollector() *RecordingCollector {
	return &RecordingCollector{pinned: make(map[core.Value]int)}
}

func (rc *RecordingCollector) LeaseObject() core.Value {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.leased++
	return new(struct{})
}

func (rc *RecordingCollector) Pin(obj core.Value) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.pinned[obj]++
	return true
}

func (rc *RecordingCollector) Unpin(obj core.Value) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.pinned[obj]--
}

func (rc *RecordingCollector) RegisterFinalizer(obj core.Value, fn core.FinalizerFunc) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.finalizers = append(rc.finalizers, finalizer{obj: obj, fn: fn})
}

// Leased returns the number of cells handed out so far.
func (rc *RecordingCollector) Leased() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.leased
}

// Finalizers returns the number of finalizers registered so far.
func (rc *RecordingCollector) Finalizers() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.finalizers)
}

// RunFinalizers invokes every registered finalizer once, in order.
func (rc *RecordingCollector) RunFinalizers() {
	rc.mu.Lock()
	fns := append([]finalizer(nil), rc.finalizers...)
	rc.mu.Unlock()
	for _, f := range fns {
		f.fn(f.obj)
	}
}
