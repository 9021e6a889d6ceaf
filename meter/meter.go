package meter

import (
	"context"
	"errors"
	"time"

	"github.com/alihassan145/TurboSol-sub001/errormsg"
	"github.com/alihassan145/TurboSol-sub001/util"
	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

// Meter guards calls to the upstream quote/swap service with a concurrency
// cap and a minimum gap between call starts. A rate-limit signal from the
// upstream switches to the strict preset (half concurrency, double gap) for
// a cooldown window, then reverts automatically.
type Meter struct {
	ctx       context.Context
	cancel    context.CancelFunc
	internalC chan<- func(*internal)
	sem       chan struct{}
	strictSem chan struct{}
}

type Configuration struct {
	MaxConcurrency int
	MinGap         time.Duration
	Cooldown       time.Duration
}

func ConfigurationFromEnv() Configuration {
	return Configuration{
		MaxConcurrency: util.GetenvInt("QUOTE_MAX_CONCURRENCY", 4),
		MinGap:         util.GetenvDurationMs("QUOTE_MIN_GAP_MS", 100*time.Millisecond),
		Cooldown:       util.GetenvDurationMs("QUOTE_RATELIMIT_COOLDOWN_MS", 10*time.Second),
	}
}

func (config Configuration) Check() error {
	if config.MaxConcurrency <= 0 {
		return errors.New("no concurrency")
	}
	if config.MinGap <= 0 {
		return errors.New("no min gap")
	}
	return nil
}

type internal struct {
	ctx              context.Context
	closeSignalCList []chan<- error
	config           Configuration
	limiter          ratelimit.Limiter
	strictLimiter    ratelimit.Limiter
	strictUntil      time.Time
}

func Create(ctx context.Context, config Configuration) (Meter, error) {
	if err := config.Check(); err != nil {
		return Meter{}, err
	}
	startErrorC := make(chan error, 1)
	internalC := make(chan func(*internal), 10)
	ctx2, cancel := context.WithCancel(ctx)
	go loopInternal(ctx2, cancel, internalC, startErrorC, config)
	err := <-startErrorC
	if err != nil {
		cancel()
		return Meter{}, err
	}
	strictCap := config.MaxConcurrency / 2
	if strictCap < 1 {
		strictCap = 1
	}
	return Meter{
		ctx:       ctx2,
		cancel:    cancel,
		internalC: internalC,
		sem:       make(chan struct{}, config.MaxConcurrency),
		strictSem: make(chan struct{}, strictCap),
	}, nil
}

func loopInternal(
	ctx context.Context,
	cancel context.CancelFunc,
	internalC <-chan func(*internal),
	startErrorC chan<- error,
	config Configuration,
) {
	defer cancel()
	var err error

	in := new(internal)
	in.ctx = ctx
	in.closeSignalCList = make([]chan<- error, 0)
	in.config = config
	in.limiter = ratelimit.New(rps(config.MinGap))
	in.strictLimiter = ratelimit.New(rps(2 * config.MinGap))

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
	for i := 0; i < len(in.closeSignalCList); i++ {
		in.closeSignalCList[i] <- err
	}
}

func parentErr(a context.Context, b context.Context) error {
	if err := a.Err(); err != nil {
		return err
	}
	return b.Err()
}

func rps(gap time.Duration) int {
	n := int(time.Second / gap)
	if n < 1 {
		n = 1
	}
	return n
}

func (e1 Meter) Close() <-chan error {
	signalC := e1.CloseSignal()
	e1.cancel()
	return signalC
}

func (e1 Meter) CloseSignal() <-chan error {
	signalC := make(chan error, 1)
	err := e1.ctx.Err()
	if err != nil {
		signalC <- err
		return signalC
	}
	select {
	case <-e1.ctx.Done():
		signalC <- errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		in.closeSignalCList = append(in.closeSignalCList, signalC)
	}:
	}
	return signalC
}

// Do runs f under the limiter. A rate-limited error from f tightens the
// meter for the cooldown window.
func (e1 Meter) Do(ctx context.Context, f func(context.Context) error) error {
	ctxC, cancel := util.MergeCtx(e1.ctx, ctx)
	defer cancel()
	doneC := ctxC.Done()
	// the merge goroutine cancels asynchronously; check the parents directly
	if err := parentErr(e1.ctx, ctx); err != nil {
		return err
	}

	strict, limiter, err := e1.mode(doneC)
	if err != nil {
		return err
	}
	select {
	case <-doneC:
		return errors.New("canceled")
	case e1.sem <- struct{}{}:
	}
	defer func() { <-e1.sem }()
	if err := parentErr(e1.ctx, ctx); err != nil {
		return err
	}
	if strict {
		select {
		case <-doneC:
			return errors.New("canceled")
		case e1.strictSem <- struct{}{}:
		}
		defer func() { <-e1.strictSem }()
		if err := parentErr(e1.ctx, ctx); err != nil {
			return err
		}
	}
	limiter.Take()

	err = f(ctxC)
	if errormsg.IsRateLimited(err) {
		e1.OnRateLimited()
	}
	return err
}

func (e1 Meter) mode(doneC <-chan struct{}) (bool, ratelimit.Limiter, error) {
	type answer struct {
		strict  bool
		limiter ratelimit.Limiter
	}
	respC := make(chan answer, 1)
	select {
	case <-doneC:
		return false, nil, errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		if time.Now().Before(in.strictUntil) {
			respC <- answer{strict: true, limiter: in.strictLimiter}
		} else {
			respC <- answer{strict: false, limiter: in.limiter}
		}
	}:
	}
	a := <-respC
	return a.strict, a.limiter, nil
}

// OnRateLimited switches to the strict preset for the cooldown window. Do
// calls it automatically on a rate-limited error; callers that learn of
// throttling out of band may call it directly.
func (e1 Meter) OnRateLimited() {
	select {
	case <-e1.ctx.Done():
	case e1.internalC <- func(in *internal) {
		in.strictUntil = time.Now().Add(in.config.Cooldown)
		log.Warnf("quote upstream rate limited, strict mode until %s", in.strictUntil.Format(time.RFC3339))
	}:
	}
}
