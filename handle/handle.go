package handle

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
)

// State is the liveness of a handle.
type State uint32

const (
	Live State = iota
	Released
)

func (s State) String() string {
	if s == Live {
		return "live"
	}
	return "released"
}

// FreeFunc performs the native release of a reference.
type FreeFunc func(kind flagcore.Kind, ref flagcore.Ref)

// Handle owns one engine reference.
type Handle struct {
	free  FreeFunc
	ref   flagcore.Ref
	kind  flagcore.Kind
	state atomic.Uint32

	mu    sync.Mutex
	uses  int
	freed bool
}

// New wraps an already allocated reference. free runs at most once.
func New(kind flagcore.Kind, ref flagcore.Ref, free FreeFunc) *Handle {
	h := &Handle{kind: kind, ref: ref, free: free}
	notify(Event{Type: EventCreated, Kind: kind, Ref: ref})
	return h
}

// Create allocates an engine object from config and wraps it.
func Create(b flagcore.Boundary, kind flagcore.Kind, config []byte) (*Handle, error) {
	ref, err := b.Create(kind, config)
	if err != nil {
		return nil, errors.NativeAllocation(kind.String(), err)
	}
	if ref == 0 {
		return nil, errors.NativeAllocation(kind.String(), nil)
	}
	return New(kind, ref, b.Release), nil
}

// CreateHost allocates an engine object backed by a host function.
func CreateHost(b flagcore.Boundary, kind flagcore.Kind, fn flagcore.HostFunc) (*Handle, error) {
	ref, err := b.CreateHost(kind, fn)
	if err != nil {
		return nil, errors.NativeAllocation(kind.String(), err)
	}
	if ref == 0 {
		return nil, errors.NativeAllocation(kind.String(), nil)
	}
	return New(kind, ref, b.Release), nil
}

// Kind returns the engine object kind.
func (h *Handle) Kind() flagcore.Kind { return h.kind }

// Ref returns the raw reference without liveness checks. It is meant for
// logging and for passing a handle as an argument to another engine object.
func (h *Handle) Ref() flagcore.Ref { return h.ref }

// State returns the current liveness.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Acquire marks an in-flight use. Every successful Acquire must be paired
// with Return.
func (h *Handle) Acquire() (flagcore.Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if State(h.state.Load()) == Released {
		return 0, errors.UseAfterRelease(errors.PhaseCall, h.kind.String())
	}
	h.uses++
	return h.ref, nil
}

// Return ends an in-flight use and performs a deferred free if this was the
// last use after a release.
func (h *Handle) Return() {
	h.mu.Lock()
	h.uses--
	run := h.uses == 0 && !h.freed && State(h.state.Load()) == Released
	if run {
		h.freed = true
	}
	h.mu.Unlock()

	if run {
		h.doFree()
	}
}

// Use runs fn with the live reference.
func (h *Handle) Use(fn func(ref flagcore.Ref) error) error {
	ref, err := h.Acquire()
	if err != nil {
		return err
	}
	defer h.Return()
	return fn(ref)
}

// Release transitions the handle to Released. It reports whether this call
// won the transition. The native free happens now or after the last
// in-flight use returns.
func (h *Handle) Release() bool {
	if !h.state.CompareAndSwap(uint32(Live), uint32(Released)) {
		return false
	}
	notify(Event{Type: EventReleased, Kind: h.kind, Ref: h.ref})

	h.mu.Lock()
	run := h.uses == 0 && !h.freed
	if run {
		h.freed = true
	}
	h.mu.Unlock()

	if run {
		h.doFree()
	}
	return true
}

func (h *Handle) doFree() {
	if h.free != nil {
		h.free(h.kind, h.ref)
	}
	notify(Event{Type: EventFreed, Kind: h.kind, Ref: h.ref})
}
