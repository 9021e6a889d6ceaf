package submit

import (
	"context"

	dssub "github.com/alihassan145/TurboSol-sub001/ds/sub"
)

type internal struct {
	ctx              context.Context
	closeSignalCList []chan<- error
	stageHome        *dssub.SubHome[StageEvent]
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
	in.stageHome = dssub.CreateSubHome[StageEvent]()

	startErrorC <- nil

	doneC := ctx.Done()
out:
	for {
		select {
		case <-doneC:
			break out
		case id := <-in.stageHome.DeleteC:
			in.stageHome.Delete(id)
		case req := <-internalC:
			req(in)
		}
	}
	in.stageHome.Close()
	for i := 0; i < len(in.closeSignalCList); i++ {
		in.closeSignalCList[i] <- err
	}
}
