package fiber

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acidburn0zzz/rubinius/core"
	"github.com/Acidburn0zzz/rubinius/internal/testutil"
	"github.com/Acidburn0zzz/rubinius/stack"
)

func newTestExec(t *testing.T) (*Exec, *stack.Pool) {
	t.Helper()
	pool := stack.NewPool(4, nil)
	t.Cleanup(pool.Close)
	return NewExec(pool, nil, 32), pool
}

func body(fn func(args ...core.Value) (core.Value, error)) core.Callable {
	return core.CallableFunc(fn)
}

func TestResumeYieldGenerator(t *testing.T) {
	e, _ := newTestExec(t)

	f := Create(e, body(func(args ...core.Value) (core.Value, error) {
		for i := 1; i <= 2; i++ {
			if _, err := Yield(e, i); err != nil {
				return core.Nil, err
			}
		}
		return 3, nil
	}))

	require.Equal(t, StatusCreated, f.Status())

	for want := 1; want <= 3; want++ {
		v, err := f.Resume(e)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	assert.Equal(t, StatusDead, f.Status())
	_, err := f.Resume(e)
	assert.ErrorIs(t, err, core.ErrDeadFiber)
}

func TestResumeCarriesValuesBothWays(t *testing.T) {
	e, _ := newTestExec(t)

	f := Create(e, body(func(args ...core.Value) (core.Value, error) {
		// assert, not require: this runs on the fiber's goroutine.
		assert.Equal(t, []core.Value{"first"}, args)

		got, err := Yield(e, "ack")
		if err != nil {
			return core.Nil, err
		}
		return got, nil
	}))

	v, err := f.Resume(e, "first")
	require.NoError(t, err)
	assert.Equal(t, "ack", v)

	v, err = f.Resume(e, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestValueUnwrapping(t *testing.T) {
	e, _ := newTestExec(t)

	f := Create(e, body(func(args ...core.Value) (core.Value, error) {
		if _, err := Yield(e); err != nil {
			return core.Nil, err
		}
		if _, err := Yield(e, 1, 2); err != nil {
			return core.Nil, err
		}
		return core.Nil, nil
	}))

	v, err := f.Resume(e)
	require.NoError(t, err)
	assert.Equal(t, core.Nil, v) // yield with no values

	v, err = f.Resume(e)
	require.NoError(t, err)
	assert.Equal(t, core.Tuple{1, 2}, v) // several values box as a tuple

	v, err = f.Resume(e)
	require.NoError(t, err)
	assert.Equal(t, core.Nil, v)
}

func TestDoubleResume(t *testing.T) {
	e, _ := newTestExec(t)

	var a *Fiber
	var innerErr error

	a = Create(e, body(func(args ...core.Value) (core.Value, error) {
		b := Create(e, body(func(args ...core.Value) (core.Value, error) {
			// a is suspended with its resumer still waiting on it.
			_, innerErr = a.Resume(e)
			return core.Nil, nil
		}))
		_, err := b.Resume(e)
		return core.Nil, err
	}))

	_, err := a.Resume(e)
	require.NoError(t, err)
	assert.ErrorIs(t, innerErr, core.ErrDoubleResume)
}

func TestRootFiberCannotYield(t *testing.T) {
	e, _ := newTestExec(t)

	_, err := Yield(e)
	assert.ErrorIs(t, err, core.ErrRootFiberYield)
	assert.True(t, e.Current().Root())
}

func TestCrossThreadResume(t *testing.T) {
	pool := stack.NewPool(4, nil)
	t.Cleanup(pool.Close)
	e1 := NewExec(pool, nil, 32)
	e2 := NewExec(pool, nil, 32)

	f := Create(e1, body(func(args ...core.Value) (core.Value, error) {
		_, err := Yield(e1)
		return core.Nil, err
	}))

	_, err := f.Resume(e1)
	require.NoError(t, err)

	// The fiber is bound to the thread that first resumed it.
	_, err = f.Resume(e2)
	assert.ErrorIs(t, err, core.ErrCrossThreadFiber)
}

func TestTransferSeversCallerLink(t *testing.T) {
	e, _ := newTestExec(t)

	b := Create(e, body(func(args ...core.Value) (core.Value, error) {
		v, err := Yield(e, "from-b")
		if err != nil {
			return core.Nil, err
		}
		return v, nil
	}))

	a := Create(e, body(func(args ...core.Value) (core.Value, error) {
		// Control never returns here: b's yield lands on the root fiber.
		return b.Transfer(e)
	}))

	v, err := a.Resume(e)
	require.NoError(t, err)
	assert.Equal(t, "from-b", v)
	assert.Equal(t, StatusSleeping, a.Status())

	// b can be resumed again from the root; transfer left no resumer link.
	v, err = b.Resume(e, "wake")
	require.NoError(t, err)
	assert.Equal(t, "wake", v)
	assert.Equal(t, StatusDead, b.Status())
}

func TestErrorPropagatesToResumer(t *testing.T) {
	e, _ := newTestExec(t)
	boom := errors.New("boom")

	f := Create(e, body(func(args ...core.Value) (core.Value, error) {
		return core.Nil, boom
	}))

	_, err := f.Resume(e)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusDead, f.Status())
}

func TestCreateIsLazy(t *testing.T) {
	e, _ := newTestExec(t)
	before := e.ID() // force nothing; Exec itself holds no region yet

	f := Create(e, body(func(args ...core.Value) (core.Value, error) {
		return core.Nil, nil
	}))

	assert.Nil(t, f.Context())
	assert.Equal(t, StatusCreated, f.Status())
	assert.Equal(t, before, e.ID())
}

func TestFinalizeReleasesStack(t *testing.T) {
	rc := testutil.NewRecordingCollector()
	pool := stack.NewPool(4, nil)
	t.Cleanup(pool.Close)
	e := NewExec(pool, rc, 16)

	f := Create(e, body(func(args ...core.Value) (core.Value, error) {
		_, err := Yield(e)
		return core.Nil, err
	}))
	require.Equal(t, 1, rc.Finalizers())

	_, err := f.Resume(e)
	require.NoError(t, err)
	require.Equal(t, 2, rc.Finalizers()) // the root fiber registered too

	require.Equal(t, 0, pool.Snapshot().Unused)

	f.Finalize()
	f.Finalize() // idempotent

	assert.Equal(t, 1, pool.Snapshot().Unused)
	assert.Equal(t, StatusDead, f.Status())

	_, err = f.Resume(e)
	assert.ErrorIs(t, err, core.ErrDeadFiber)
}

func TestDeadFiberNeverRan(t *testing.T) {
	e, _ := newTestExec(t)

	f := Create(e, body(func(args ...core.Value) (core.Value, error) {
		return core.Nil, nil
	}))
	f.Finalize()

	_, err := f.Resume(e)
	assert.ErrorIs(t, err, core.ErrDeadFiber)
}

func TestFiberLocals(t *testing.T) {
	e, _ := newTestExec(t)
	f := Create(e, body(func(args ...core.Value) (core.Value, error) {
		return core.Nil, nil
	}))

	f.LocalSet("k", 1)
	v, ok := f.LocalGet("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"k"}, f.LocalKeys())

	v, ok = f.LocalRemove("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = f.LocalGet("k")
	assert.False(t, ok)
}

func TestMarkSurvivesMarkedOnlyScan(t *testing.T) {
	e, pool := newTestExec(t)

	f := Create(e, body(func(args ...core.Value) (core.Value, error) {
		_, err := Yield(e)
		return core.Nil, err
	}))
	_, err := f.Resume(e)
	require.NoError(t, err)

	e.Root().Mark()
	f.Mark()
	pool.Scan(true, nil)
	require.Equal(t, StatusSleeping, f.Status())

	// Next cycle leaves f unmarked; the scan reaps it.
	pool.ClearMarks()
	e.Root().Mark()
	pool.Scan(true, nil)

	_, err = f.Resume(e)
	assert.ErrorIs(t, err, core.ErrDeadFiber)
}
