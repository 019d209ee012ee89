package cleaner

import (
	"sync/atomic"

	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/handle"
)

// Task is a one-shot cleanup action. It must not reference the object it
// cleans up after, or that object never becomes unreachable.
type Task struct {
	fn    func() error
	label string
	done  atomic.Bool
}

// NewTask wraps fn. label is used in log output.
func NewTask(label string, fn func() error) *Task {
	return &Task{fn: fn, label: label}
}

// ReleaseTask returns a task releasing h.
func ReleaseTask(h *handle.Handle) *Task {
	return NewTask(h.Kind().String(), func() error {
		h.Release()
		return nil
	})
}

// Label returns the task label.
func (t *Task) Label() string { return t.label }

// Done reports whether the task already ran.
func (t *Task) Done() bool { return t.done.Load() }

// Run executes the task once. Later calls are no-ops returning nil.
// A panic inside the task is recovered and returned as an error.
func (t *Task) Run() error {
	_, err := t.execute()
	return err
}

func (t *Task) execute() (ran bool, err error) {
	if !t.done.CompareAndSwap(false, true) {
		return false, nil
	}
	ran = true
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(errors.PhaseCleanup, r)
		}
	}()
	if t.fn == nil {
		return ran, nil
	}
	if err := t.fn(); err != nil {
		return ran, errors.CleanupTask(err)
	}
	return ran, nil
}
