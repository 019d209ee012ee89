package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/flagcore"
	fcerrors "github.com/wippyai/flagcore/errors"
)

func TestInvoke_SyncCallbackDeliveredAfterIssueReturns(t *testing.T) {
	t.Parallel()

	b := New("test")
	var completeDuringIssue bool

	op := b.Invoke("initialize", func(token flagcore.Token, cb flagcore.Callback) {
		cb(token, []byte(`"ok"`), nil)

		b.mu.Lock()
		p := b.pending[token]
		b.mu.Unlock()
		completeDuringIssue = p.Future().IsComplete()
	})

	assert.False(t, completeDuringIssue)
	require.True(t, op.Future().IsComplete())
	res, err := op.Future().Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(res))
	assert.Equal(t, 0, b.Pending())
}

func TestInvoke_AsyncCallback(t *testing.T) {
	t.Parallel()

	b := New("test")
	op := b.Invoke("initialize", func(token flagcore.Token, cb flagcore.Callback) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			cb(token, []byte(`42`), nil)
		}()
	})

	res, err := op.Future().AwaitTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "42", string(res))
}

func TestInvoke_FailureCompletesFuture(t *testing.T) {
	t.Parallel()

	b := New("test")
	op := b.Invoke("initialize", func(token flagcore.Token, cb flagcore.Callback) {
		go cb(token, nil, errors.New("network down"))
	})

	_, err := op.Future().AwaitTimeout(time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, fcerrors.ErrNativeCall)
	assert.Contains(t, err.Error(), "network down")
}

func TestInvoke_IssuePanicFailsFuture(t *testing.T) {
	t.Parallel()

	b := New("test")
	op := b.Invoke("initialize", func(flagcore.Token, flagcore.Callback) {
		panic("engine unavailable")
	})

	_, err := op.Future().AwaitTimeout(time.Second)
	assert.ErrorIs(t, err, fcerrors.ErrNativeCall)
	assert.Equal(t, 0, b.Pending())
}

func TestInvoke_InterleavedOperationsDemultiplexed(t *testing.T) {
	t.Parallel()

	b := New("test")
	type issued struct {
		cb    flagcore.Callback
		token flagcore.Token
	}
	var mu sync.Mutex
	var calls []issued

	issue := func(token flagcore.Token, cb flagcore.Callback) {
		mu.Lock()
		calls = append(calls, issued{token: token, cb: cb})
		mu.Unlock()
	}

	first := b.Invoke("first", issue)
	second := b.Invoke("second", issue)
	require.NotEqual(t, first.Token, second.Token)

	// Complete in reverse order.
	calls[1].cb(calls[1].token, []byte("B"), nil)
	calls[0].cb(calls[0].token, []byte("A"), nil)

	a, err := first.Future().AwaitTimeout(time.Second)
	require.NoError(t, err)
	bb, err := second.Future().AwaitTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "A", string(a))
	assert.Equal(t, "B", string(bb))
}

func TestInvoke_DuplicateAndUnknownCallbacksIgnored(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	b := New("test").WithLogger(zap.New(core))

	var saved flagcore.Callback
	var token flagcore.Token
	op := b.Invoke("initialize", func(tk flagcore.Token, cb flagcore.Callback) {
		saved, token = cb, tk
	})

	saved(token, []byte("first"), nil)
	saved(token, []byte("second"), errors.New("late"))
	saved(token+100, nil, nil)

	res, err := op.Future().AwaitTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(res))
	assert.Equal(t, 2, logs.FilterMessage("callback for unknown or completed token").Len())
}

func TestFailAll(t *testing.T) {
	t.Parallel()

	b := New("test")
	var saved []flagcore.Callback
	var tokens []flagcore.Token
	issue := func(tk flagcore.Token, cb flagcore.Callback) {
		saved = append(saved, cb)
		tokens = append(tokens, tk)
	}
	ops := []*PendingOperation{b.Invoke("a", issue), b.Invoke("b", issue)}
	require.Equal(t, 2, b.Pending())

	n := b.FailAll(fcerrors.Shutdown("a"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, b.Pending())

	for _, op := range ops {
		_, err := op.Future().AwaitTimeout(time.Second)
		assert.ErrorIs(t, err, fcerrors.ErrShutdown)
	}

	// Late engine callbacks change nothing.
	saved[0](tokens[0], []byte("late"), nil)
	_, err := ops[0].Future().AwaitTimeout(time.Second)
	assert.ErrorIs(t, err, fcerrors.ErrShutdown)
}

func TestAbandonedFutureDoesNotLeak(t *testing.T) {
	t.Parallel()

	b := New("test")
	for range 100 {
		b.Invoke("fire_and_forget", func(tk flagcore.Token, cb flagcore.Callback) {
			go cb(tk, nil, nil)
		})
	}
	require.Eventually(t, func() bool { return b.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestFuture_Await(t *testing.T) {
	t.Parallel()

	p := NewPromise[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Future().Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = p.Future().AwaitTimeout(time.Millisecond)
	assert.ErrorIs(t, err, fcerrors.ErrTimeout)

	_, ok, _ := p.Future().Result()
	assert.False(t, ok)

	assert.True(t, p.Resolve(7))
	assert.False(t, p.Reject(errors.New("too late")))

	v, err := p.Future().Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, ok, err = p.Future().Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestThen(t *testing.T) {
	t.Parallel()

	f := Then(Resolved([]byte("12")), func(b []byte) (int, error) {
		return len(b), nil
	})
	v, err := f.AwaitTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	cause := errors.New("failed upstream")
	g := Then(Failed[[]byte](cause), func([]byte) (int, error) {
		t.Fatal("mapper must not run")
		return 0, nil
	})
	_, err = g.AwaitTimeout(time.Second)
	assert.ErrorIs(t, err, cause)
}
