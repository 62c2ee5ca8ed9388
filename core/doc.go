// Package core provides the foundational domain types, interfaces and error
// taxonomy used by the concurrency machine. It defines the core abstractions
// for:
//
//   - Values (the managed value model, the no-value sentinel, tuple boxing)
//   - Callables (units of managed code invoked by fibers and threads)
//   - The collector contract (object leasing, pinning, finalizers, relocation)
//   - Distinguished error values for precondition violations, timeouts and
//     interrupts, plus the Bug abort path for internal invariant violations
//
// The package intentionally keeps implementation concerns (stack pooling,
// fiber scheduling, thread lifecycle, marking) out of scope, exposing small
// interfaces so the surrounding subsystems stay decoupled.
package core
