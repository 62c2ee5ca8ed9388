// Package rubinius provides a high-level façade over the concurrency core of
// the machine: the bounded fiber stack pool, the safepoint coordinator, the
// thread lifecycle and the concurrent marker. Most applications interact
// with this package by:
//  1. Creating a Machine via New() (optionally overriding the default
//     configuration, logger or collector)
//  2. Spawning managed threads with NewThread and fibers on each thread's
//     Exec
//  3. Attaching a collector and starting the marker when concurrent marking
//     is wanted
//
// The façade delegates the actual protocols to the stack, fiber, channel,
// thread, nexus and marker packages while keeping setup ergonomics concise.
// All defaults are safe for local development and testing.
package rubinius

import (
	"fmt"
	"sync"

	"github.com/Acidburn0zzz/rubinius/channel"
	"github.com/Acidburn0zzz/rubinius/config"
	"github.com/Acidburn0zzz/rubinius/core"
	"github.com/Acidburn0zzz/rubinius/logging"
	"github.com/Acidburn0zzz/rubinius/marker"
	"github.com/Acidburn0zzz/rubinius/nexus"
	"github.com/Acidburn0zzz/rubinius/stack"
	"github.com/Acidburn0zzz/rubinius/thread"
)

// Options configures the Machine instance.
type Options struct {
	// Config tunes pool bounds, stack sizes and marker behavior.
	Config config.Config

	// Logger receives machine, thread and marker events. Defaults to the
	// NoOp logger if nil.
	Logger logging.Logger

	// Collector is the external allocator/collector the core leases
	// objects from and registers finalizers with. Defaults to a no-op
	// implementation.
	Collector core.Collector
}

// Machine aggregates the explicitly owned shared state of the concurrency
// core: one safepoint coordinator, one stack pool, and the threads and
// marker built on them. Nothing here is ambient or global; every component
// receives the coordinator by reference and the whole machine has a
// well-defined lifecycle ending in Shutdown.
type Machine struct {
	cfg       config.Config
	logger    logging.Logger
	collector core.Collector

	nx   *nexus.Nexus
	pool *stack.Pool
	mark *marker.Marker

	mu      sync.Mutex
	threads map[string]*thread.Thread
}

// New creates a Machine with optional overrides. The configuration is
// validated; an invalid configuration is an error, not a degraded machine.
func New(optFns ...func(o *Options)) (*Machine, error) {
	opts := Options{
		Config:    config.DefaultConfig,
		Logger:    logging.NoOpLogger{},
		Collector: core.NoopCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("machine config: %w", err)
	}

	return &Machine{
		cfg:       opts.Config,
		logger:    opts.Logger,
		collector: opts.Collector,
		nx:        nexus.New(),
		pool:      stack.NewPool(opts.Config.MaxFiberStacks, opts.Logger),
		threads:   make(map[string]*thread.Thread),
	}, nil
}

// Config returns the machine's validated configuration.
func (m *Machine) Config() config.Config { return m.cfg }

// Nexus returns the machine's safepoint coordinator.
func (m *Machine) Nexus() *nexus.Nexus { return m.nx }

// Pool returns the machine's fiber stack pool.
func (m *Machine) Pool() *stack.Pool { return m.pool }

// NewThread creates a managed thread running fn. stackSize 0 selects the
// configured default; requests below the configured minimum fail. The thread
// is registered with the machine but not started.
func (m *Machine) NewThread(name string, fn thread.Func, stackSize int) (*thread.Thread, error) {
	t, err := thread.New(name, fn, func(o *thread.Options) {
		o.Config = m.cfg
		o.StackSize = stackSize
		o.Logger = m.logger
		o.Nexus = m.nx
		o.Pool = m.pool
		o.Collector = m.collector
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.threads[t.ID()] = t
	m.mu.Unlock()

	return t, nil
}

// Threads returns the machine's registered threads.
func (m *Machine) Threads() []*thread.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*thread.Thread, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, t)
	}
	return out
}

// NewChannel creates a blocking handoff channel. Channels are not owned by
// the machine; their lifetime is that of their longest holder.
func (m *Machine) NewChannel() *channel.Channel { return channel.New() }

// StartMarker attaches a collector's marking side and starts the concurrent
// marker. Starting an already running marker is a no-op.
func (m *Machine) StartMarker(gc marker.Collector) *marker.Marker {
	m.mu.Lock()
	if m.mark == nil {
		m.mark = marker.New(m.nx, gc, m.cfg, m.logger)
	}
	mk := m.mark
	m.mu.Unlock()

	mk.Start()
	return mk
}

// Marker returns the machine's marker, nil before StartMarker.
func (m *Machine) Marker() *marker.Marker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mark
}

// Shutdown tears the machine down: the marker is stopped and the stack pool
// is closed, invalidating every live coroutine context. Threads are not
// forcibly killed; callers wanting an orderly exit should Kill and Join them
// first.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	mk := m.mark
	m.mu.Unlock()

	if mk != nil {
		mk.Stop()
	}
	m.pool.Close()
	m.logger.Info("machine shutdown complete")
}
