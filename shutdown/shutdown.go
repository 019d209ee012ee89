// Package shutdown sequences engine teardown in two phases.
//
// Prepare asks the engine to stop scheduling work and flush what it buffered;
// the engine signals completion through a callback. Finalize then tears the
// engine state down. Finalize runs on a dedicated executor goroutine, never
// on the goroutine that delivered the prepare callback, and only after every
// operation that entered the gate has left it.
package shutdown

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/bridge"
	"github.com/wippyai/flagcore/errors"
)

// State is the position in the shutdown sequence. It only moves forward.
type State uint32

const (
	Running State = iota
	PreparePending
	PrepareComplete
	Finalized
)

var stateNames = [...]string{"running", "prepare_pending", "prepare_complete", "finalized"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Hooks connect the controller to an engine object.
type Hooks struct {
	// Prepare issues the engine prepare call. It must arrange for cb to be
	// invoked exactly once.
	Prepare func(token flagcore.Token, cb flagcore.Callback)

	// Finalize tears the engine object down. Called once.
	Finalize func()
}

// Controller drives Running -> PreparePending -> PrepareComplete -> Finalized.
type Controller struct {
	hooks   Hooks
	bridge  *bridge.Bridge
	promise *bridge.Promise[struct{}]

	state atomic.Uint32
	once  sync.Once

	// gate is held shared by operations for the duration of their engine
	// call and exclusively by the state transitions.
	gate sync.RWMutex
}

// New creates a controller in the Running state.
func New(hooks Hooks) *Controller {
	return &Controller{
		hooks:   hooks,
		bridge:  bridge.New("shutdown"),
		promise: bridge.NewPromise[struct{}](),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Requested reports whether Shutdown has been called.
func (c *Controller) Requested() bool {
	return c.State() >= PreparePending
}

// Enter admits an operation. On success the caller must call exit once its
// engine call returned. After shutdown was requested Enter fails with a
// shutdown error.
func (c *Controller) Enter(op string) (exit func(), err error) {
	c.gate.RLock()
	if c.State() != Running {
		c.gate.RUnlock()
		return nil, errors.Shutdown(op)
	}
	return c.gate.RUnlock, nil
}

// Do runs fn inside the gate.
func (c *Controller) Do(op string, fn func() error) error {
	exit, err := c.Enter(op)
	if err != nil {
		return err
	}
	defer exit()
	return fn()
}

// Shutdown starts the sequence on the first call. Every call returns the
// same future, which completes after Finalize ran. A failed prepare still
// finalizes; the future then carries the prepare error.
func (c *Controller) Shutdown() *bridge.Future[struct{}] {
	c.once.Do(c.start)
	return c.promise.Future()
}

// Done is closed once the controller is Finalized.
func (c *Controller) Done() <-chan struct{} {
	return c.promise.Future().Done()
}

func (c *Controller) start() {
	c.gate.Lock()
	c.state.Store(uint32(PreparePending))
	c.gate.Unlock()

	exec := newExecutor()
	prepare := c.hooks.Prepare
	if prepare == nil {
		prepare = func(token flagcore.Token, cb flagcore.Callback) { cb(token, nil, nil) }
	}

	op := c.bridge.Invoke("prepare_shutdown", prepare)
	f := op.Future()
	go func() {
		<-f.Done()
		_, _, err := f.Result()
		exec.post(func() { c.finish(err) })
		exec.stop()
	}()
}

func (c *Controller) finish(prepareErr error) {
	c.state.Store(uint32(PrepareComplete))

	c.gate.Lock()
	err := c.finalize()
	c.state.Store(uint32(Finalized))
	c.gate.Unlock()

	if prepareErr != nil {
		err = prepareErr
	}
	c.promise.Complete(struct{}{}, err)
}

func (c *Controller) finalize() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(errors.PhaseShutdown, r)
		}
	}()
	if c.hooks.Finalize != nil {
		c.hooks.Finalize()
	}
	return nil
}
