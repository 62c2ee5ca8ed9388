package nexus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYieldWithoutStopReturnsAtOnce(t *testing.T) {
	n := New()
	n.Register("w")

	done := make(chan struct{})
	go func() {
		n.Yield("w")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("yield blocked with no stop requested")
	}
}

func TestRequestStopWaitsForSafepoint(t *testing.T) {
	n := New()
	n.Register("w")
	n.Register("m")

	release := make(chan struct{})
	go func() {
		for {
			n.Yield("w")
			select {
			case <-release:
				n.Deregister("w")
				return
			default:
			}
			time.Sleep(time.Millisecond)
		}
	}()

	stopped := make(chan struct{})
	go func() {
		n.RequestStop("m")
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never reached a safepoint")
	}

	require.True(t, n.StopRequested())
	n.Resume()
	require.False(t, n.StopRequested())
	close(release)
}

func TestBlockingThreadDoesNotHoldUpStop(t *testing.T) {
	n := New()
	n.Register("b")
	n.Register("m")
	n.Blocking("b")

	done := make(chan struct{})
	go func() {
		n.RequestStop("m")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop waited on a blocking thread")
	}
	n.Resume()
}

func TestManagedParksDuringStop(t *testing.T) {
	n := New()
	n.Register("m")
	n.RequestStop("m")

	n.Register("w")
	resumed := make(chan struct{})
	go func() {
		n.Managed("w")
		close(resumed)
	}()

	select {
	case <-resumed:
		t.Fatal("managed transition did not park during a stop")
	case <-time.After(50 * time.Millisecond):
	}

	n.Resume()
	select {
	case <-resumed:
	case <-time.After(2 * time.Second):
		t.Fatal("parked thread never released")
	}
}

func TestDeregisterReleasesStopRequest(t *testing.T) {
	n := New()
	n.Register("w")
	n.Register("m")

	done := make(chan struct{})
	go func() {
		n.RequestStop("m")
		close(done)
	}()

	// An exiting thread can no longer hold up the stop.
	time.Sleep(10 * time.Millisecond)
	n.Deregister("w")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deregistration did not release the stop request")
	}
	n.Resume()
}

func TestInterruptFlag(t *testing.T) {
	n := New()

	assert.False(t, n.InterruptPending())
	n.SetInterrupt()
	assert.True(t, n.InterruptPending())
	n.ResetInterrupt()
	assert.False(t, n.InterruptPending())
}

func TestThreadsLists(t *testing.T) {
	n := New()
	n.Register("a")
	n.Register("b")

	assert.ElementsMatch(t, []string{"a", "b"}, n.Threads())

	n.Deregister("a")
	assert.Equal(t, []string{"b"}, n.Threads())
}
