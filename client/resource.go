package client

import (
	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/cleaner"
	"github.com/wippyai/flagcore/handle"
)

// resource is the handle and cleanup registration every facade owns.
type resource struct {
	h   *handle.Handle
	reg *cleaner.Registration
}

// track registers the release of h against owner. The task references only
// the handle, never owner.
func track[T any](owner *T, h *handle.Handle) resource {
	return resource{h: h, reg: cleaner.Track(owner, cleaner.ReleaseTask(h))}
}

// Close releases the engine object now. Later calls are no-ops.
func (r *resource) Close() error {
	return r.reg.Close()
}

// Released reports whether the engine object was released.
func (r *resource) Released() bool {
	return r.h.State() == handle.Released
}

// Ref returns the engine reference, for diagnostics.
func (r *resource) Ref() flagcore.Ref {
	return r.h.Ref()
}

// borrow acquires h for the duration of fn.
func borrow(h *handle.Handle, fn func(ref flagcore.Ref) error) error {
	return h.Use(fn)
}
