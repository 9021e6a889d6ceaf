package sender

import (
	"context"
	"errors"
	"time"

	"github.com/alihassan145/TurboSol-sub001/state/endpoint"
	"github.com/alihassan145/TurboSol-sub001/util"
	sgo "github.com/gagliardetto/solana-go"
)

// SendFunc performs one send attempt against one endpoint url.
type SendFunc func(ctx context.Context, url string, txData []byte) (sgo.Signature, error)

type Configuration struct {
	Strategy          string
	PerAttemptTimeout time.Duration
	Stagger           time.Duration
	InterWaveDelay    time.Duration
	// Send overrides the registry-backed dispatch, used by tests and by
	// embedders with their own transport.
	Send SendFunc
}

func ConfigurationFromEnv() Configuration {
	return Configuration{
		Strategy:          util.GetenvString("SEND_RACE_STRATEGY", StrategyBalanced),
		PerAttemptTimeout: util.GetenvDurationMs("SEND_RACE_ATTEMPT_TIMEOUT_MS", 400*time.Millisecond),
		Stagger:           util.GetenvDurationMs("SEND_RACE_STAGGER_MS", 25*time.Millisecond),
		InterWaveDelay:    util.GetenvDurationMs("SEND_RACE_INTERWAVE_MS", 50*time.Millisecond),
	}
}

func (config Configuration) Check() error {
	if config.PerAttemptTimeout <= 0 {
		return errors.New("no per-attempt timeout")
	}
	if config.Stagger < 0 || config.InterWaveDelay < 0 {
		return errors.New("negative delay")
	}
	return nil
}

// RaceOptions tunes one race; zero fields inherit the sender configuration.
type RaceOptions struct {
	Strategy string
	// WaveSize overrides the strategy mapping when positive.
	WaveSize          int
	PerAttemptTimeout time.Duration
	Stagger           time.Duration
	InterWaveDelay    time.Duration
}

// RaceMeta is the diagnostic snapshot of one completed race.
type RaceMeta struct {
	Winner    string
	Attempts  int
	LatencyMs float64
	Timestamp time.Time
}

// Sender races transaction sends across the registry's endpoints in
// staggered waves. The most recent RaceMeta is held by the internal loop; it
// carries no correctness obligation.
type Sender struct {
	ctx       context.Context
	cancel    context.CancelFunc
	internalC chan<- func(*internal)
	registry  endpoint.Registry
	config    Configuration
}

func Create(ctx context.Context, config Configuration, registry endpoint.Registry) (Sender, error) {
	if err := config.Check(); err != nil {
		return Sender{}, err
	}
	if config.Send == nil {
		config.Send = registry.DispatchRawTransaction
	}
	startErrorC := make(chan error, 1)
	internalC := make(chan func(*internal), 10)
	ctx2, cancel := context.WithCancel(ctx)
	go loopInternal(ctx2, cancel, internalC, startErrorC)
	err := <-startErrorC
	if err != nil {
		cancel()
		return Sender{}, err
	}
	return Sender{
		ctx:       ctx2,
		cancel:    cancel,
		internalC: internalC,
		registry:  registry,
		config:    config,
	}, nil
}

func (e1 Sender) Close() <-chan error {
	signalC := e1.CloseSignal()
	e1.cancel()
	return signalC
}

func (e1 Sender) CloseSignal() <-chan error {
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

// SendTransactionRaced serializes tx and races it. See SendRawTransactionRaced.
func (e1 Sender) SendTransactionRaced(ctx context.Context, tx *sgo.Transaction, opts RaceOptions) (sgo.Signature, error) {
	txData, err := tx.MarshalBinary()
	if err != nil {
		return sgo.Signature{}, err
	}
	return e1.SendRawTransactionRaced(ctx, txData, opts)
}

// SendRawTransactionRaced dispatches txData to ranked endpoints in staggered
// waves and returns the first signature to resolve. It terminates on first
// success or on exhaustion of every eligible endpoint, in which case the
// error matches errormsg.ErrEndpointsExhausted.
func (e1 Sender) SendRawTransactionRaced(ctx context.Context, txData []byte, opts RaceOptions) (sgo.Signature, error) {
	ctxC, cancel := util.MergeCtx(e1.ctx, ctx)
	defer cancel()
	sig, meta, err := e1.race(ctxC, txData, e1.resolve(opts))
	e1.storeMeta(meta)
	return sig, err
}

// LastRaceMeta returns a copy of the most recent race's diagnostics.
func (e1 Sender) LastRaceMeta(ctx context.Context) (RaceMeta, error) {
	respC := make(chan RaceMeta, 1)
	select {
	case <-e1.ctx.Done():
		return RaceMeta{}, errors.New("canceled")
	case <-ctx.Done():
		return RaceMeta{}, errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		respC <- in.lastMeta
	}:
	}
	return <-respC, nil
}

func (e1 Sender) storeMeta(meta RaceMeta) {
	select {
	case <-e1.ctx.Done():
	case e1.internalC <- func(in *internal) {
		in.lastMeta = meta
	}:
	}
}

func (e1 Sender) resolve(opts RaceOptions) raceOptions {
	r := raceOptions{
		waveSize:          opts.WaveSize,
		perAttemptTimeout: opts.PerAttemptTimeout,
		stagger:           opts.Stagger,
		interWaveDelay:    opts.InterWaveDelay,
	}
	strategy := opts.Strategy
	if len(strategy) == 0 {
		strategy = e1.config.Strategy
	}
	if r.waveSize <= 0 {
		r.waveSize = MicroBatch(strategy)
	}
	if r.perAttemptTimeout <= 0 {
		r.perAttemptTimeout = e1.config.PerAttemptTimeout
	}
	if r.stagger <= 0 {
		r.stagger = e1.config.Stagger
	}
	if r.interWaveDelay <= 0 {
		r.interWaveDelay = e1.config.InterWaveDelay
	}
	return r
}
