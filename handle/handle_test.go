package handle

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/flagcore"
	fcerrors "github.com/wippyai/flagcore/errors"
)

type countingBoundary struct {
	createErr error
	next      atomic.Uint32
	releases  atomic.Int64
	operates  atomic.Int64
}

func (b *countingBoundary) Create(kind flagcore.Kind, _ []byte) (flagcore.Ref, error) {
	if b.createErr != nil {
		return 0, b.createErr
	}
	return flagcore.MakeRef(kind, b.next.Add(1)), nil
}

func (b *countingBoundary) CreateHost(kind flagcore.Kind, _ flagcore.HostFunc) (flagcore.Ref, error) {
	return b.Create(kind, nil)
}

func (b *countingBoundary) Release(flagcore.Kind, flagcore.Ref) { b.releases.Add(1) }

func (b *countingBoundary) Operate(flagcore.Ref, string, []byte) ([]byte, error) {
	b.operates.Add(1)
	return []byte("true"), nil
}

func (b *countingBoundary) OperateAsync(_ flagcore.Ref, _ string, _ []byte, token flagcore.Token, cb flagcore.Callback) {
	cb(token, nil, nil)
}

func (b *countingBoundary) PrepareShutdown(_ flagcore.Ref, token flagcore.Token, cb flagcore.Callback) {
	cb(token, nil, nil)
}

func (b *countingBoundary) FinalizeShutdown(flagcore.Ref) {}

func TestCreate(t *testing.T) {
	t.Parallel()

	b := &countingBoundary{}
	h, err := Create(b, flagcore.KindUser, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Live, h.State())
	assert.Equal(t, flagcore.KindUser, h.Ref().Kind())
	assert.True(t, h.Ref().Valid())
}

func TestCreate_NativeAllocationError(t *testing.T) {
	t.Parallel()

	b := &countingBoundary{createErr: errors.New("no memory")}
	h, err := Create(b, flagcore.KindClient, nil)
	require.Error(t, err)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, fcerrors.ErrNativeAllocation)
	assert.Equal(t, int64(0), b.releases.Load())
}

func TestRelease_ConcurrentExactlyOnce(t *testing.T) {
	t.Parallel()

	b := &countingBoundary{}
	h, err := Create(b, flagcore.KindClient, nil)
	require.NoError(t, err)

	const n = 64
	var wins atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if h.Release() {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, int64(1), b.releases.Load())
	assert.Equal(t, Released, h.State())
}

func TestUse_AfterRelease(t *testing.T) {
	t.Parallel()

	b := &countingBoundary{}
	h, err := Create(b, flagcore.KindClient, nil)
	require.NoError(t, err)
	require.True(t, h.Release())

	err = h.Use(func(ref flagcore.Ref) error {
		_, err := b.Operate(ref, "check_gate", nil)
		return err
	})
	assert.ErrorIs(t, err, fcerrors.ErrUseAfterRelease)
	assert.Equal(t, int64(0), b.operates.Load())
}

func TestRelease_DeferredUntilReturn(t *testing.T) {
	t.Parallel()

	b := &countingBoundary{}
	h, err := Create(b, flagcore.KindClient, nil)
	require.NoError(t, err)

	ref, err := h.Acquire()
	require.NoError(t, err)
	require.Equal(t, h.Ref(), ref)

	require.True(t, h.Release())
	assert.Equal(t, int64(0), b.releases.Load(), "free must wait for the in-flight use")

	_, err = h.Acquire()
	assert.ErrorIs(t, err, fcerrors.ErrUseAfterRelease)

	h.Return()
	assert.Equal(t, int64(1), b.releases.Load())

	assert.False(t, h.Release())
	assert.Equal(t, int64(1), b.releases.Load())
}

func TestRelease_ConcurrentWithUses(t *testing.T) {
	t.Parallel()

	b := &countingBoundary{}
	h, err := Create(b, flagcore.KindUser, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.Use(func(flagcore.Ref) error { return nil })
		}()
		go func() {
			defer wg.Done()
			h.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), b.releases.Load())
}

func TestSubscribe(t *testing.T) {
	b := &countingBoundary{}

	var mu sync.Mutex
	var seen []EventType
	unsubscribe := Subscribe(ObserverFunc(func(e Event) {
		if e.Kind != flagcore.KindOutputLogger {
			return
		}
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}))
	defer unsubscribe()

	before := Stats()
	h, err := Create(b, flagcore.KindOutputLogger, nil)
	require.NoError(t, err)
	h.Release()
	after := Stats()

	mu.Lock()
	assert.Equal(t, []EventType{EventCreated, EventReleased, EventFreed}, seen)
	mu.Unlock()
	assert.GreaterOrEqual(t, after.Created-before.Created, uint64(1))
	assert.GreaterOrEqual(t, after.Freed-before.Freed, uint64(1))
}

func TestNew_NilFree(t *testing.T) {
	t.Parallel()

	h := New(flagcore.KindOptions, flagcore.MakeRef(flagcore.KindOptions, 1), nil)
	assert.True(t, h.Release())
	assert.Equal(t, "released", h.State().String())
}
