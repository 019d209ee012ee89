package local

import (
	"sync"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
)

// table stores engine objects by reference. Counters are per kind and never
// reused, so a stale reference can never name a newer object.
type table struct {
	entries  map[flagcore.Ref]any
	counters map[flagcore.Kind]uint32
	mu       sync.RWMutex
	closed   bool
}

func newTable() *table {
	return &table{
		entries:  make(map[flagcore.Ref]any, 64),
		counters: make(map[flagcore.Kind]uint32, 8),
	}
}

func (t *table) create(kind flagcore.Kind, value any) (flagcore.Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, errors.NotInitialized(errors.PhaseCreate, "engine")
	}
	next := t.counters[kind] + 1
	if next == 0 {
		return 0, errors.New(errors.PhaseCreate, errors.KindNativeAllocation).
			Target(kind.String()).
			Detail("reference space exhausted").
			Build()
	}
	t.counters[kind] = next

	ref := flagcore.MakeRef(kind, next)
	t.entries[ref] = value
	return ref, nil
}

func (t *table) get(ref flagcore.Ref) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[ref]
	return v, ok
}

func (t *table) drop(ref flagcore.Ref) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[ref]
	if ok {
		delete(t.entries, ref)
	}
	return v, ok
}

func (t *table) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// each iterates over live objects. fn must not call back into the table.
func (t *table) each(fn func(flagcore.Ref, any) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for ref, v := range t.entries {
		if !fn(ref, v) {
			return
		}
	}
}

func (t *table) close() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	values := make([]any, 0, len(t.entries))
	for _, v := range t.entries {
		values = append(values, v)
	}
	t.entries = nil
	return values
}

// lookup returns the object under ref if it has type T.
func lookup[T any](t *table, ref flagcore.Ref, want flagcore.Kind) (T, error) {
	var zero T
	if ref.Kind() != want {
		return zero, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Target(want.String()).
			Ref(uint64(ref)).
			Detail("reference is a %s", ref.Kind()).
			Build()
	}
	v, ok := t.get(ref)
	if !ok {
		return zero, errors.New(errors.PhaseCall, errors.KindNotFound).
			Target(want.String()).
			Ref(uint64(ref)).
			Detail("no live object").
			Build()
	}
	typed, ok := v.(T)
	if !ok {
		return zero, errors.New(errors.PhaseCall, errors.KindInvalidData).
			Target(want.String()).
			Ref(uint64(ref)).
			Build()
	}
	return typed, nil
}
