// Package bridge turns one-shot engine callbacks into futures.
//
// Invoke allocates a token, registers a PendingOperation under it and hands
// token and callback to the engine. The engine fires the callback exactly
// once from any goroutine. A callback that arrives before the engine call has
// returned is parked and delivered right after it returns, so no future ever
// completes on the stack of the call that issued it.
//
//	op := br.Invoke("initialize", func(token flagcore.Token, cb flagcore.Callback) {
//	    b.OperateAsync(ref, "initialize", nil, token, cb)
//	})
//	res, err := op.Future().Await(ctx)
//
// FailAll completes everything still outstanding, which the shutdown
// sequence uses when the engine is finalized.
package bridge
