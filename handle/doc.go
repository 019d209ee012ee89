// Package handle implements the host side of an engine reference.
//
// A Handle is Live from construction until the first Release, then Released
// forever. The transition is a compare-and-swap, so any number of
// goroutines may race to release a handle and exactly one wins.
//
// # In-flight Uses
//
// Operations bracket their engine call with Acquire/Return (or use Use).
// A release that happens while calls are in flight is recorded immediately,
// so new uses fail with a use-after-release error, but the native free is
// deferred until the last in-flight call returns:
//
//	ref, err := h.Acquire()
//	if err != nil {
//	    return err // errors.ErrUseAfterRelease
//	}
//	defer h.Return()
//	return b.Operate(ref, "check_gate", args)
//
// # Observers
//
// Subscribe registers a process-wide observer for Created, Released and Freed
// events. Stats returns the corresponding counters.
package handle
