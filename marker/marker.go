// Package marker runs the dedicated background thread that drives
// incremental and concurrent trace marking, cooperating with the global
// safepoint coordinator for stop-the-world phases.
//
// The marker never forces a stop itself: it requests one when a full
// collection is due and performs a synchronous finish-then-restart handshake
// with the collector while the world is stopped.
package marker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Acidburn0zzz/rubinius/config"
	"github.com/Acidburn0zzz/rubinius/logging"
	"github.com/Acidburn0zzz/rubinius/nexus"
)

// Collector is the marking side of the garbage collector, as consumed by the
// marker thread. The marking algorithm itself is external; the marker only
// drains bounded units of work and runs the collection handshakes.
type Collector interface {
	// ProcessMarkStack drains at most units of mark work. It reports
	// whether any work was performed; false means the mark stack is empty.
	ProcessMarkStack(units int) bool

	// CollectFullRequested reports that a full collection is due; the
	// marker escalates to a stop-the-world phase.
	CollectFullRequested() bool

	// CollectYoungRequested reports that a young-generation collection is
	// due; the marker yields at the next safepoint so it can run.
	CollectYoungRequested() bool

	// FinishFullCollection completes the current cycle. Called with the
	// world stopped.
	FinishFullCollection()

	// RestartFullCollection begins the next cycle. Called with the world
	// stopped, immediately after FinishFullCollection.
	RestartFullCollection()

	// ClearMarkInProgress resets the collector's mark-in-progress flag.
	// The marker calls it on every exit path so a forked child never
	// inherits a marker believing a cycle is mid-flight.
	ClearMarkInProgress()
}

// Marker is the background marking driver.
type Marker struct {
	id     string
	nx     *nexus.Nexus
	gc     Collector
	logger logging.Logger

	units    int
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
	running atomic.Bool
}

// New creates a marker bound to the coordinator and collector. Start must be
// called before any marking happens.
func New(nx *nexus.Nexus, gc Collector, cfg config.Config, logger logging.Logger) *Marker {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Marker{
		id:       uuid.NewString(),
		nx:       nx,
		gc:       gc,
		logger:   logger,
		units:    cfg.MarkUnitSize,
		interval: cfg.MarkerSleepInterval,
	}
}

// ID returns the marker thread's identity in the coordinator's registry.
func (m *Marker) ID() string { return m.id }

// Running reports whether the marker loop is active.
func (m *Marker) Running() bool { return m.running.Load() }

// Start launches the marking loop on its own thread. Starting a running
// marker is a no-op.
func (m *Marker) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.running.Store(true)

	go m.run(m.stopCh, m.done)
}

// Stop asks the loop to exit and waits for it. Stopping a stopped marker is
// a no-op.
func (m *Marker) Stop() {
	m.mu.Lock()
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-done
}

// AfterFork reinitializes the marker in a forked child: the loop state is
// discarded and the collector's mark-in-progress flag is cleared, so the
// child never believes a cycle is mid-flight.
func (m *Marker) AfterFork() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCh = nil
	m.done = nil
	m.running.Store(false)
	m.gc.ClearMarkInProgress()
}

func (m *Marker) run(stopCh, done chan struct{}) {
	defer close(done)
	defer m.running.Store(false)
	defer m.gc.ClearMarkInProgress()

	m.nx.Register(m.id)
	defer m.nx.Deregister(m.id)

	stopping := func() bool {
		select {
		case <-stopCh:
			return true
		default:
			return false
		}
	}

	for !stopping() {
		cycleStart := time.Now()
		units := 0

		m.nx.Blocking(m.id)

		// Each pass consumes up to one batch of m.units mark units.
		for m.gc.ProcessMarkStack(m.units) {
			units += m.units

			if stopping() || m.gc.CollectFullRequested() {
				break
			} else if m.gc.CollectYoungRequested() {
				m.nx.Yield(m.id)
			} else if m.nx.InterruptPending() {
				// We may be trying to fork or otherwise checkpoint.
				m.nx.Yield(m.id)
				m.nx.ResetInterrupt()
			}

			m.nx.Blocking(m.id)
		}

		if stopping() {
			break
		}

		if m.gc.CollectFullRequested() {
			m.nx.RequestStop(m.id)
			m.gc.FinishFullCollection()
			m.gc.RestartFullCollection()
			m.nx.Resume()

			m.logger.Debug("concurrent mark cycle", "mark_units", units,
				"stop_the_world", true, "duration", time.Since(cycleStart))
			continue
		}

		m.logger.Debug("concurrent mark cycle", "mark_units", units,
			"stop_the_world", false, "duration", time.Since(cycleStart))

		select {
		case <-stopCh:
		case <-time.After(m.interval):
		}
	}
}
