package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acidburn0zzz/rubinius/core"
)

// fakeConsumer records waiter registration and can arm a pending signal.
type fakeConsumer struct {
	mu      sync.Mutex
	pending error
	waiting *Channel
	cleared int
}

func (fc *fakeConsumer) WaitingOnChannel(c *Channel) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.waiting = c
}

func (fc *fakeConsumer) ClearWaiter() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.waiting = nil
	fc.cleared++
}

func (fc *fakeConsumer) CheckAsync() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.pending
}

func (fc *fakeConsumer) arm(err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.pending = err
}

func waitForWaiters(t *testing.T, c *Channel, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Snapshot().Waiters >= n
	}, 2*time.Second, time.Millisecond, "receiver never blocked")
}

func TestSendPermitOrdering(t *testing.T) {
	c := New()

	c.Send(core.Nil)
	c.Send(core.Nil)
	c.Send(5)

	assert.Equal(t, core.Nil, c.TryReceive())
	assert.Equal(t, core.Nil, c.TryReceive())
	assert.Equal(t, 5, c.TryReceive())
}

func TestSendInterleavedPermits(t *testing.T) {
	c := New()

	c.Send(1)
	c.Send(core.Nil)
	c.Send(2)

	assert.Equal(t, 1, c.TryReceive())
	assert.Equal(t, core.Nil, c.TryReceive())
	assert.Equal(t, 2, c.TryReceive())
}

func TestPermitsCollapseOnlyOnRealSend(t *testing.T) {
	c := New()

	c.Send(core.Nil)
	c.Send(core.Nil)
	require.Equal(t, Stats{Permits: 2}, c.Snapshot())

	c.Send("payload")
	require.Equal(t, Stats{Queued: 3}, c.Snapshot())
}

func TestTryReceiveEmpty(t *testing.T) {
	c := New()

	// No way to tell an empty channel from a pending permit; both yield
	// the no-value sentinel without blocking.
	assert.Equal(t, core.Nil, c.TryReceive())
	assert.Equal(t, Stats{}, c.Snapshot())
}

func TestReceiveConsumesQueuedValue(t *testing.T) {
	c := New()
	c.Send(42)

	v, err := c.Receive(context.Background(), nil, -1)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	c := New()

	got := make(chan core.Value, 1)
	go func() {
		v, err := c.Receive(context.Background(), nil, -1)
		if err != nil {
			got <- err
			return
		}
		got <- v
	}()

	waitForWaiters(t, c, 1)
	c.Send("late")

	select {
	case v := <-got:
		assert.Equal(t, "late", v)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never woke")
	}
}

func TestReceivePermitWhileBlocked(t *testing.T) {
	c := New()

	got := make(chan core.Value, 1)
	go func() {
		v, _ := c.Receive(context.Background(), nil, -1)
		got <- v
	}()

	waitForWaiters(t, c, 1)
	c.Send(core.Nil)

	select {
	case v := <-got:
		assert.Equal(t, core.Nil, v)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never woke")
	}
}

func TestReceiveTimeout(t *testing.T) {
	c := New()

	start := time.Now()
	v, err := c.Receive(context.Background(), nil, 20*time.Millisecond)

	require.ErrorIs(t, err, core.ErrTimedOut)
	assert.Equal(t, core.Nil, v)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 0, c.Snapshot().Waiters)
}

func TestReceiveContextCancelled(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		_, err := c.Receive(ctx, nil, -1)
		errs <- err
	}()

	waitForWaiters(t, c, 1)
	cancel()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, core.ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never woke")
	}
}

func TestReceiveConsumerSignal(t *testing.T) {
	c := New()
	fc := &fakeConsumer{}

	errs := make(chan error, 1)
	go func() {
		_, err := c.Receive(context.Background(), fc, -1)
		errs <- err
	}()

	waitForWaiters(t, c, 1)
	fc.mu.Lock()
	assert.Same(t, c, fc.waiting)
	fc.mu.Unlock()

	fc.arm(errors.New("pending kill"))
	c.Interrupt()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, core.ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never woke")
	}

	fc.mu.Lock()
	assert.Nil(t, fc.waiting)
	assert.Equal(t, 1, fc.cleared)
	fc.mu.Unlock()
}

func TestReceiveConsumerSignalBeforeWait(t *testing.T) {
	c := New()
	fc := &fakeConsumer{}
	fc.arm(errors.New("pending raise"))

	_, err := c.Receive(context.Background(), fc, -1)
	require.ErrorIs(t, err, core.ErrInterrupted)
	assert.Equal(t, 0, fc.cleared) // never registered
}

func TestInterruptIsNotADelivery(t *testing.T) {
	c := New()

	got := make(chan core.Value, 1)
	go func() {
		v, _ := c.Receive(context.Background(), nil, -1)
		got <- v
	}()

	waitForWaiters(t, c, 1)
	c.Interrupt() // spurious wake; nothing pending, receiver keeps waiting

	select {
	case <-got:
		t.Fatal("interrupt alone should not complete a receive")
	case <-time.After(50 * time.Millisecond):
	}

	c.Send(7)
	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never woke")
	}
}

func TestManyProducersOneConsumer(t *testing.T) {
	c := New()
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Send(i)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		v, err := c.Receive(context.Background(), nil, time.Second)
		require.NoError(t, err)
		seen[v.(int)] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, Stats{}, c.Snapshot())
}
