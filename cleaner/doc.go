// Package cleaner releases engine resources whose owners were garbage
// collected.
//
// Each facade registers one Task at construction. The task holds what it
// needs to release (usually a *handle.Handle) and never the facade itself:
//
//	c := &Client{h: h}
//	c.reg = cleaner.Track(c, cleaner.ReleaseTask(h))
//
// Close on the Registration runs the task synchronously and disarms the
// collector notification, so an explicitly closed facade is released once.
// Tasks that fail or panic are logged and counted; the worker keeps going.
package cleaner
