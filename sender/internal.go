package sender

import (
	"context"
)

type internal struct {
	ctx              context.Context
	closeSignalCList []chan<- error
	lastMeta         RaceMeta
}

func loopInternal(
	ctx context.Context,
	cancel context.CancelFunc,
	internalC <-chan func(*internal),
	startErrorC chan<- error,
) {
	defer cancel()
	var err error

	in := new(internal)
	in.ctx = ctx
	in.closeSignalCList = make([]chan<- error, 0)

	startErrorC <- nil

	doneC := ctx.Done()
out:
	for {
		select {
		case <-doneC:
			break out
		case req := <-internalC:
			req(in)
		}
	}
	in.finish(err)
}

func (in *internal) finish(err error) {
	for i := 0; i < len(in.closeSignalCList); i++ {
		in.closeSignalCList[i] <- err
	}
}
