package pricing

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/alihassan145/TurboSol-sub001/util"
	sgo "github.com/gagliardetto/solana-go"
	sgorpc "github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// headroom biases the bid toward inclusion over cost before the configured
// multiplier applies.
const headroom = 1.2

// window keeps this many recent samples at most.
const maxWindow = 512

// FeeSource is the sampling side of an RPC connection. *sgorpc.Client
// satisfies it.
type FeeSource interface {
	GetRecentPrioritizationFees(ctx context.Context, accounts sgo.PublicKeySlice) ([]sgorpc.PriorizationFeeResult, error)
}

type Configuration struct {
	Timeout    time.Duration
	Multiplier float64
	// Floor is the minimum bid returned from live samples, lamports.
	Floor uint64
	// StaticDefault is returned whenever sampling fails, times out or comes
	// back empty.
	StaticDefault uint64
}

func ConfigurationFromEnv() Configuration {
	return Configuration{
		Timeout:       util.GetenvDurationMs("PRIORITY_FEE_TIMEOUT_MS", 800*time.Millisecond),
		Multiplier:    util.GetenvFloat("PRIORITY_FEE_MULTIPLIER", 1.0),
		Floor:         util.GetenvUint64("PRIORITY_FEE_FLOOR", 1000),
		StaticDefault: util.GetenvUint64("PRIORITY_FEE_DEFAULT", 50000),
	}
}

func (config Configuration) Check() error {
	if config.Timeout <= 0 {
		return errors.New("no fee timeout")
	}
	if config.Multiplier <= 0 {
		return errors.New("bad fee multiplier")
	}
	return nil
}

// PriorityFeeSample is one observed prioritization fee, lamports.
type PriorityFeeSample struct {
	Fee uint64
	At  time.Time
}

// Estimator recommends a priority fee bid from recent network samples. It
// never returns an error and never blocks past its configured timeout: any
// failure degrades to the static default.
type Estimator struct {
	ctx       context.Context
	cancel    context.CancelFunc
	internalC chan<- func(*internal)
	config    Configuration
	source    FeeSource
}

type internal struct {
	ctx              context.Context
	closeSignalCList []chan<- error
	window           []PriorityFeeSample
}

func Create(ctx context.Context, config Configuration, source FeeSource) (Estimator, error) {
	if err := config.Check(); err != nil {
		return Estimator{}, err
	}
	if source == nil {
		return Estimator{}, errors.New("no fee source")
	}
	startErrorC := make(chan error, 1)
	internalC := make(chan func(*internal), 10)
	ctx2, cancel := context.WithCancel(ctx)
	go loopInternal(ctx2, cancel, internalC, startErrorC)
	err := <-startErrorC
	if err != nil {
		cancel()
		return Estimator{}, err
	}
	return Estimator{
		ctx:       ctx2,
		cancel:    cancel,
		internalC: internalC,
		config:    config,
		source:    source,
	}, nil
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
	in.window = make([]PriorityFeeSample, 0, maxWindow)

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

func (e1 Estimator) Close() <-chan error {
	signalC := e1.CloseSignal()
	e1.cancel()
	return signalC
}

func (e1 Estimator) CloseSignal() <-chan error {
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

// Estimate samples the most recent prioritization fees and recommends a bid
// in lamports: median of the freshest sampleSize observations with headroom,
// the configured multiplier, then the floor. Sampling is bounded by the
// configured timeout; on timeout, error or an empty result the static
// default comes back instead.
func (e1 Estimator) Estimate(ctx context.Context, sampleSize int) uint64 {
	if sampleSize <= 0 {
		sampleSize = 16
	}
	ctxM, cancelM := util.MergeCtx(e1.ctx, ctx)
	defer cancelM()
	ctxC, cancel := context.WithTimeout(ctxM, e1.config.Timeout)
	defer cancel()

	type answer struct {
		list []sgorpc.PriorizationFeeResult
		err  error
	}
	fetchC := make(chan answer, 1)
	go func() {
		list, err := e1.source.GetRecentPrioritizationFees(ctxC, nil)
		fetchC <- answer{list: list, err: err}
	}()

	var a answer
	select {
	case <-ctxC.Done():
		log.Debugf("fee sampling timed out, using static default %d", e1.config.StaticDefault)
		return e1.config.StaticDefault
	case a = <-fetchC:
	}
	if a.err != nil || len(a.list) == 0 {
		log.Debugf("fee sampling failed (err=%v n=%d), using static default %d", a.err, len(a.list), e1.config.StaticDefault)
		return e1.config.StaticDefault
	}

	now := time.Now()
	samples := make([]PriorityFeeSample, 0, len(a.list))
	for _, r := range a.list {
		samples = append(samples, PriorityFeeSample{Fee: r.PrioritizationFee, At: now})
	}

	respC := make(chan uint64, 1)
	select {
	case <-ctxC.Done():
		return e1.config.StaticDefault
	case e1.internalC <- func(in *internal) {
		in.append(samples)
		respC <- in.recommend(sampleSize, e1.config)
	}:
	}
	select {
	case <-ctxC.Done():
		return e1.config.StaticDefault
	case fee := <-respC:
		return fee
	}
}

func (in *internal) append(samples []PriorityFeeSample) {
	in.window = append(in.window, samples...)
	if maxWindow < len(in.window) {
		in.window = in.window[len(in.window)-maxWindow:]
	}
}

func (in *internal) recommend(sampleSize int, config Configuration) uint64 {
	n := len(in.window)
	if n == 0 {
		return config.StaticDefault
	}
	if sampleSize < n {
		n = sampleSize
	}
	recent := make([]uint64, 0, n)
	for _, s := range in.window[len(in.window)-n:] {
		recent = append(recent, s.Fee)
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i] < recent[j] })
	var median float64
	if len(recent)%2 == 1 {
		median = float64(recent[len(recent)/2])
	} else {
		median = float64(recent[len(recent)/2-1]+recent[len(recent)/2]) / 2
	}
	fee := uint64(math.Round(median * headroom * config.Multiplier))
	if fee < config.Floor {
		fee = config.Floor
	}
	return fee
}
