package thread

import "github.com/Acidburn0zzz/rubinius/core"

// Thread-local storage resolves in two layers. When another thread reads or
// writes this thread's locals, the thread-level table is always used. When
// the thread operates on its own locals and its active fiber is not the root
// fiber, the fiber's table is used instead, so fibers see private locals.

func (t *Thread) fiberLocals(from *Thread) (useFiber bool) {
	if from != t {
		return false
	}
	return !t.exec.Current().Root()
}

// LocalGet reads key from the thread's locals, or the active fiber's locals
// when from is this thread and it is running a non-root fiber.
func (t *Thread) LocalGet(from *Thread, key string) (core.Value, bool) {
	if t.fiberLocals(from) {
		return t.exec.Current().LocalGet(key)
	}

	t.localsMu.Lock()
	defer t.localsMu.Unlock()
	v, ok := t.locals[key]
	return v, ok
}

// LocalSet writes key into the thread's locals or the active fiber's locals,
// with the same resolution as LocalGet.
func (t *Thread) LocalSet(from *Thread, key string, v core.Value) {
	if t.fiberLocals(from) {
		t.exec.Current().LocalSet(key, v)
		return
	}

	t.localsMu.Lock()
	defer t.localsMu.Unlock()
	if t.locals == nil {
		t.locals = make(map[string]core.Value)
	}
	t.locals[key] = v
}

// LocalRemove deletes key, returning what was stored.
func (t *Thread) LocalRemove(from *Thread, key string) (core.Value, bool) {
	if t.fiberLocals(from) {
		return t.exec.Current().LocalRemove(key)
	}

	t.localsMu.Lock()
	defer t.localsMu.Unlock()
	v, ok := t.locals[key]
	if ok {
		delete(t.locals, key)
	}
	return v, ok
}

// LocalKeys lists the visible local keys under the same resolution as
// LocalGet.
func (t *Thread) LocalKeys(from *Thread) []string {
	if t.fiberLocals(from) {
		return t.exec.Current().LocalKeys()
	}

	t.localsMu.Lock()
	defer t.localsMu.Unlock()
	keys := make([]string, 0, len(t.locals))
	for k := range t.locals {
		keys = append(keys, k)
	}
	return keys
}

// LocalHasKey reports whether key resolves to a stored value.
func (t *Thread) LocalHasKey(from *Thread, key string) bool {
	_, ok := t.LocalGet(from, key)
	return ok
}
