package thread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acidburn0zzz/rubinius/core"
	"github.com/Acidburn0zzz/rubinius/fiber"
)

func TestLocalsResolveAgainstActiveFiber(t *testing.T) {
	type report struct {
		fiberSawThreadLocal bool
		rootSawFiberLocal   bool
		threadLocal         core.Value
	}

	th := startThread(t, "locals", func(t *Thread) (core.Value, error) {
		// On the root fiber, locals land in the thread-level table.
		t.LocalSet(t, "tl", 1)

		var r report
		f := fiber.Create(t.Exec(), core.CallableFunc(func(args ...core.Value) (core.Value, error) {
			// On a non-root fiber, the fiber's own table is used.
			t.LocalSet(t, "fl", 2)
			r.fiberSawThreadLocal = t.LocalHasKey(t, "tl")
			return core.Nil, nil
		}))
		if _, err := f.Resume(t.Exec()); err != nil {
			return core.Nil, err
		}

		r.rootSawFiberLocal = t.LocalHasKey(t, "fl")
		r.threadLocal, _ = t.LocalGet(t, "tl")
		return r, nil
	})

	_, err := th.Join(context.Background(), nil, -1)
	require.NoError(t, err)

	v, err := th.Value()
	require.NoError(t, err)
	r := v.(report)

	assert.False(t, r.fiberSawThreadLocal, "fiber locals must shadow thread locals")
	assert.False(t, r.rootSawFiberLocal, "fiber locals must not leak into the thread table")
	assert.Equal(t, 1, r.threadLocal)
}

func TestLocalsFromAnotherThreadUseThreadTable(t *testing.T) {
	th := startThread(t, "owner", func(t *Thread) (core.Value, error) {
		t.LocalSet(t, "k", "mine")
		return core.Nil, nil
	})
	_, err := th.Join(context.Background(), nil, -1)
	require.NoError(t, err)

	// An outside observer always resolves against the thread table.
	v, ok := th.LocalGet(nil, "k")
	require.True(t, ok)
	assert.Equal(t, "mine", v)

	th.LocalSet(nil, "other", true)
	assert.ElementsMatch(t, []string{"k", "other"}, th.LocalKeys(nil))

	v, ok = th.LocalRemove(nil, "k")
	require.True(t, ok)
	assert.Equal(t, "mine", v)
	assert.False(t, th.LocalHasKey(nil, "k"))
}
