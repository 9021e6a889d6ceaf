package util

import "context"

// MergeCtx returns a context that is canceled as soon as either parent is,
// plus its cancel func. Used to bound a per-call context by an agent's
// lifetime context; callers must cancel to release the bridging goroutine.
func MergeCtx(a context.Context, b context.Context) (context.Context, context.CancelFunc) {
	if a == nil || b == nil {
		panic("a or b is nil")
	}
	ctxC, cancel := context.WithCancel(a)
	go loopCtxClose(ctxC, b, cancel)
	return ctxC, cancel
}

func loopCtxClose(
	a context.Context,
	b context.Context,
	cancel context.CancelFunc,
) {
	defer cancel()
	select {
	case <-a.Done():
	case <-b.Done():
	}
}
