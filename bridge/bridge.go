package bridge

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
)

// PendingOperation is one issued async engine call.
type PendingOperation struct {
	promise *Promise[[]byte]
	parked  *outcome
	Op      string
	ID      uuid.UUID
	Token   flagcore.Token

	mu    sync.Mutex
	armed bool
	fired bool
}

type outcome struct {
	err    error
	result []byte
}

// Future returns the completion slot.
func (p *PendingOperation) Future() *Future[[]byte] {
	return p.promise.Future()
}

// Bridge correlates engine callbacks with pending operations by token.
// Tokens are never reused within a bridge.
type Bridge struct {
	logger  *zap.Logger
	pending map[flagcore.Token]*PendingOperation
	name    string
	next    flagcore.Token
	mu      sync.Mutex
}

// New creates a bridge. name appears in log output.
func New(name string) *Bridge {
	return &Bridge{
		name:    name,
		pending: make(map[flagcore.Token]*PendingOperation),
	}
}

// WithLogger sets the logger and returns b.
func (b *Bridge) WithLogger(l *zap.Logger) *Bridge {
	b.logger = l
	return b
}

func (b *Bridge) log() *zap.Logger {
	if b.logger != nil {
		return b.logger
	}
	return Logger()
}

// Invoke registers a pending operation and calls issue with its token and
// the one-shot callback. The returned operation's future completes after
// issue has returned, even when the engine fires the callback synchronously.
// A panic in issue fails the future.
func (b *Bridge) Invoke(op string, issue func(token flagcore.Token, cb flagcore.Callback)) *PendingOperation {
	p := &PendingOperation{
		promise: NewPromise[[]byte](),
		Op:      op,
		ID:      uuid.New(),
	}

	b.mu.Lock()
	b.next++
	p.Token = b.next
	b.pending[p.Token] = p
	b.mu.Unlock()

	b.issue(p, issue)
	b.arm(p)
	return p
}

func (b *Bridge) issue(p *PendingOperation, issue func(flagcore.Token, flagcore.Callback)) {
	defer func() {
		if r := recover(); r != nil {
			b.fire(p.Token, nil, errors.Panic(errors.PhaseAsync, r), true)
		}
	}()
	issue(p.Token, b.callback)
}

func (b *Bridge) arm(p *PendingOperation) {
	p.mu.Lock()
	p.armed = true
	parked := p.parked
	p.parked = nil
	p.mu.Unlock()

	if parked != nil {
		b.deliver(p, parked)
	}
}

func (b *Bridge) callback(token flagcore.Token, result []byte, err error) {
	b.fire(token, result, err, true)
}

func (b *Bridge) fire(token flagcore.Token, result []byte, err error, wrap bool) {
	b.mu.Lock()
	p, ok := b.pending[token]
	b.mu.Unlock()
	if !ok {
		b.log().Warn("callback for unknown or completed token",
			zap.String("bridge", b.name),
			zap.Uint64("token", uint64(token)))
		return
	}

	if err != nil && wrap {
		switch errors.KindOf(err) {
		case errors.KindNativeCall, errors.KindShutdown:
		default:
			err = errors.AsyncCall(p.Op, err)
		}
	}
	out := &outcome{result: result, err: err}

	p.mu.Lock()
	if p.fired {
		p.mu.Unlock()
		b.log().Warn("duplicate callback ignored",
			zap.String("bridge", b.name),
			zap.String("op", p.Op),
			zap.Uint64("token", uint64(token)))
		return
	}
	p.fired = true
	if !p.armed {
		p.parked = out
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	b.deliver(p, out)
}

func (b *Bridge) deliver(p *PendingOperation, out *outcome) {
	b.mu.Lock()
	delete(b.pending, p.Token)
	b.mu.Unlock()

	if out.err != nil {
		b.log().Debug("async operation failed",
			zap.String("bridge", b.name),
			zap.String("op", p.Op),
			zap.Stringer("id", p.ID),
			zap.Error(out.err))
	}
	p.promise.Complete(out.result, out.err)
}

// FailAll completes every outstanding operation with err. Callbacks that
// arrive for them later are ignored.
func (b *Bridge) FailAll(err error) int {
	b.mu.Lock()
	tokens := make([]flagcore.Token, 0, len(b.pending))
	for token := range b.pending {
		tokens = append(tokens, token)
	}
	b.mu.Unlock()

	n := 0
	for _, token := range tokens {
		b.mu.Lock()
		p, ok := b.pending[token]
		b.mu.Unlock()
		if !ok {
			continue
		}
		p.mu.Lock()
		already := p.fired
		p.mu.Unlock()
		if already {
			continue
		}
		b.fire(token, nil, err, false)
		n++
	}
	return n
}

// Pending returns the number of operations awaiting completion.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
