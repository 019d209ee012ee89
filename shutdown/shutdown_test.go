package shutdown

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/flagcore"
	fcerrors "github.com/wippyai/flagcore/errors"
)

type recorder struct {
	mu        sync.Mutex
	events    []string
	prepares  atomic.Int64
	finalizes atomic.Int64
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func asyncHooks(r *recorder, prepareErr error) Hooks {
	return Hooks{
		Prepare: func(token flagcore.Token, cb flagcore.Callback) {
			r.prepares.Add(1)
			r.add("prepare")
			go func() {
				time.Sleep(2 * time.Millisecond)
				r.add("prepared")
				cb(token, nil, prepareErr)
			}()
		},
		Finalize: func() {
			r.finalizes.Add(1)
			r.add("finalize")
		},
	}
}

func TestShutdown_Sequence(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	c := New(asyncHooks(r, nil))
	assert.Equal(t, Running, c.State())

	f := c.Shutdown()
	assert.True(t, c.Requested())

	_, err := f.AwaitTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, Finalized, c.State())
	assert.Equal(t, []string{"prepare", "prepared", "finalize"}, r.list())
}

func TestShutdown_ConcurrentCallsShareFuture(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	c := New(asyncHooks(r, nil))

	const n = 32
	var wg sync.WaitGroup
	futures := make([]any, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := c.Shutdown()
			_, err := f.AwaitTimeout(time.Second)
			assert.NoError(t, err)
			futures[i] = f
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, futures[0], futures[i])
	}
	assert.Equal(t, int64(1), r.prepares.Load())
	assert.Equal(t, int64(1), r.finalizes.Load())

	// A later call still gets the completed future.
	assert.Same(t, futures[0], c.Shutdown())
}

func TestShutdown_SynchronousPrepareCallback(t *testing.T) {
	t.Parallel()

	var finalizeGoroutineDiffers atomic.Bool
	calling := make(chan struct{})
	c := New(Hooks{
		Prepare: func(token flagcore.Token, cb flagcore.Callback) {
			cb(token, nil, nil)
			close(calling)
		},
		Finalize: func() {
			select {
			case <-calling:
				finalizeGoroutineDiffers.Store(true)
			default:
			}
		},
	})

	_, err := c.Shutdown().AwaitTimeout(time.Second)
	require.NoError(t, err)
	assert.True(t, finalizeGoroutineDiffers.Load(), "finalize must run after prepare returned")
}

func TestShutdown_PrepareFailureStillFinalizes(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	c := New(asyncHooks(r, errors.New("flush failed")))

	_, err := c.Shutdown().AwaitTimeout(time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, fcerrors.ErrNativeCall)
	assert.Equal(t, Finalized, c.State())
	assert.Equal(t, int64(1), r.finalizes.Load())
}

func TestShutdown_FinalizePanicCompletesFuture(t *testing.T) {
	t.Parallel()

	c := New(Hooks{Finalize: func() { panic("teardown") }})
	_, err := c.Shutdown().AwaitTimeout(time.Second)
	require.Error(t, err)
	assert.Equal(t, Finalized, c.State())
}

func TestEnter_RejectedAfterShutdown(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	c := New(asyncHooks(r, nil))

	exit, err := c.Enter("check_gate")
	require.NoError(t, err)
	exit()

	c.Shutdown()
	_, err = c.Enter("check_gate")
	assert.ErrorIs(t, err, fcerrors.ErrShutdown)

	err = c.Do("log_event", func() error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, fcerrors.ErrShutdown)
}

func TestFinalize_WaitsForInFlightOperations(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	c := New(Hooks{
		Prepare: func(token flagcore.Token, cb flagcore.Callback) { cb(token, nil, nil) },
		Finalize: func() {
			r.add("finalize")
		},
	})

	exit, err := c.Enter("get_layer")
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.add("op done")
		exit()
		close(released)
	}()

	// Shutdown blocks on the gate until the operation leaves.
	f := c.Shutdown()
	_, err = f.AwaitTimeout(time.Second)
	require.NoError(t, err)
	<-released
	assert.Equal(t, []string{"op done", "finalize"}, r.list())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "prepare_pending", PreparePending.String())
	assert.Equal(t, "prepare_complete", PrepareComplete.String())
	assert.Equal(t, "finalized", Finalized.String())
	assert.Equal(t, "unknown", State(9).String())
}
