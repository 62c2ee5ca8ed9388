// Package testutil provides shared test doubles for the concurrency core:
// a scriptable marking collector for marker tests and a recording collector
// for finalizer/pin assertions. Test-only; not part of the public API.
package testutil
