package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/wippyai/flagcore/errors"
)

// Future is the result of an operation the engine completes later.
// It completes exactly once.
type Future[T any] struct {
	result T
	err    error
	once   sync.Once
	done   chan struct{}
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns an already completed future.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.complete(v, nil)
	return f
}

// Failed returns an already failed future.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

func (f *Future[T]) complete(v T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.result = v
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Await blocks until the future completes or ctx is done. Cancelling ctx
// abandons the wait, not the operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitTimeout waits at most timeout.
func (f *Future[T]) AwaitTimeout(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.result, f.err
	case <-timer.C:
		var zero T
		return zero, errors.Timeout(errors.PhaseAsync, "")
	}
}

// Done returns a channel closed on completion.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsComplete reports completion without blocking.
func (f *Future[T]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome if the future completed.
func (f *Future[T]) Result() (v T, ok bool, err error) {
	if !f.IsComplete() {
		return v, false, nil
	}
	return f.result, true, f.err
}

// Then maps a future's value once it completes. Errors pass through.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := newFuture[U]()
	go func() {
		<-f.done
		if f.err != nil {
			var zero U
			out.complete(zero, f.err)
			return
		}
		v, err := fn(f.result)
		out.complete(v, err)
	}()
	return out
}

// Promise is the completing side of a Future.
type Promise[T any] struct {
	f *Future[T]
}

// NewPromise creates a pending promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{f: newFuture[T]()}
}

// Future returns the future completed by p.
func (p *Promise[T]) Future() *Future[T] { return p.f }

// Resolve completes with v. It reports whether this call completed the future.
func (p *Promise[T]) Resolve(v T) bool { return p.f.complete(v, nil) }

// Reject completes with err.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.f.complete(zero, err)
}

// Complete completes with v and err.
func (p *Promise[T]) Complete(v T, err error) bool { return p.f.complete(v, err) }
