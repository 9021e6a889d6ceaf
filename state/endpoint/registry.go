package endpoint

import (
	"context"
	"errors"
	"time"

	"github.com/alihassan145/TurboSol-sub001/util"
	sgo "github.com/gagliardetto/solana-go"
	sgorpc "github.com/gagliardetto/solana-go/rpc"
)

type Configuration struct {
	Rpc *util.RpcConfig
	// BackoffBase doubles per consecutive failure up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// BackoffOnTimeout parks an endpoint on a per-attempt timeout, not just
	// on an explicit rejection. Default true: under a tens-of-ms budget a
	// hung endpoint costs more than a fast-failing one.
	BackoffOnTimeout bool
	// ProbeInterval caches latency measurements between races; zero probes
	// on every Refresh call.
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	Prober        Prober
}

func ConfigurationFromEnv() (Configuration, error) {
	rpcConfig, err := util.RpcConfigFromEnv()
	if err != nil {
		return Configuration{}, err
	}
	return Configuration{
		Rpc:              rpcConfig,
		BackoffBase:      util.GetenvDurationMs("ENDPOINT_BACKOFF_BASE_MS", 250*time.Millisecond),
		BackoffMax:       util.GetenvDurationMs("ENDPOINT_BACKOFF_MAX_MS", 8*time.Second),
		BackoffOnTimeout: util.GetenvBool("ENDPOINT_BACKOFF_ON_TIMEOUT", true),
		ProbeInterval:    util.GetenvDurationMs("ENDPOINT_PROBE_INTERVAL_MS", 0),
		ProbeTimeout:     util.GetenvDurationMs("ENDPOINT_PROBE_TIMEOUT_MS", 2*time.Second),
	}, nil
}

func (config Configuration) Check() error {
	if err := config.Rpc.Check(); err != nil {
		return err
	}
	if config.BackoffBase <= 0 || config.BackoffMax < config.BackoffBase {
		return errors.New("bad backoff bounds")
	}
	return nil
}

// Registry owns all endpoint health state. Every mutation runs inside a
// single internal loop, so concurrent races never see torn updates.
type Registry struct {
	ctx       context.Context
	cancel    context.CancelFunc
	internalC chan<- func(*internal)
}

func Create(ctx context.Context, config Configuration) (Registry, error) {
	if err := config.Check(); err != nil {
		return Registry{}, err
	}
	if config.Prober == nil {
		config.Prober = CreateHealthProber(config.ProbeTimeout, config.Rpc.RpcClient)
	}
	startErrorC := make(chan error, 1)
	internalC := make(chan func(*internal), 10)
	ctx2, cancel := context.WithCancel(ctx)
	go loopInternal(ctx2, cancel, internalC, startErrorC, config)
	err := <-startErrorC
	if err != nil {
		cancel()
		return Registry{}, err
	}
	return Registry{
		ctx:       ctx2,
		cancel:    cancel,
		internalC: internalC,
	}, nil
}

func (e1 Registry) Close() <-chan error {
	signalC := e1.CloseSignal()
	e1.cancel()
	return signalC
}

func (e1 Registry) CloseSignal() <-chan error {
	doneC := e1.ctx.Done()
	signalC := make(chan error, 1)
	err := e1.ctx.Err()
	if err != nil {
		signalC <- err
		return signalC
	}
	select {
	case <-doneC:
		signalC <- errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		in.closeSignalCList = append(in.closeSignalCList, signalC)
	}:
	}
	return signalC
}

// RankEligible returns endpoints sorted ascending by measured latency with
// parked endpoints excluded. If every endpoint is parked the full ranked set
// comes back with allInBackoff set: stale backoff must never block a send.
func (e1 Registry) RankEligible(ctx context.Context) (list []Endpoint, allInBackoff bool, err error) {
	type answer struct {
		list []Endpoint
		all  bool
	}
	respC := make(chan answer, 1)
	select {
	case <-e1.ctx.Done():
		return nil, false, errors.New("canceled")
	case <-ctx.Done():
		return nil, false, errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		l, all := in.rank_eligible(time.Now())
		respC <- answer{list: l, all: all}
	}:
	}
	a := <-respC
	return a.list, a.all, nil
}

// Refresh invokes the prober unless a measurement newer than ProbeInterval
// is cached. The probe itself runs outside the internal loop.
func (e1 Registry) Refresh(ctx context.Context) error {
	type probePlan struct {
		urls   []string
		prober Prober
	}
	planC := make(chan *probePlan, 1)
	select {
	case <-e1.ctx.Done():
		return errors.New("canceled")
	case <-ctx.Done():
		return errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		if in.lastProbe.IsZero() || in.config.ProbeInterval <= time.Since(in.lastProbe) {
			in.lastProbe = time.Now()
			planC <- &probePlan{urls: append([]string{}, in.order...), prober: in.config.Prober}
		} else {
			planC <- nil
		}
	}:
	}
	plan := <-planC
	if plan == nil {
		return nil
	}
	measurements := plan.prober.MeasureEndpointsLatency(ctx, plan.urls)
	select {
	case <-e1.ctx.Done():
		return errors.New("canceled")
	case <-ctx.Done():
		return errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		in.on_measurements(measurements)
	}:
	}
	return nil
}

// RecordOutcome applies one attempt resolution to an endpoint's health.
func (e1 Registry) RecordOutcome(ctx context.Context, url string, outcome Outcome) error {
	select {
	case <-e1.ctx.Done():
		return errors.New("canceled")
	case <-ctx.Done():
		return errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		in.on_outcome(url, outcome, time.Now())
	}:
	}
	return nil
}

// Rotate moves the current-connection pointer to a different configured
// endpoint, preferring one that is not parked.
func (e1 Registry) Rotate(ctx context.Context, reason string) (string, error) {
	respC := make(chan string, 1)
	select {
	case <-e1.ctx.Done():
		return "", errors.New("canceled")
	case <-ctx.Done():
		return "", errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		respC <- in.rotate(reason)
	}:
	}
	return <-respC, nil
}

// Current returns the client behind the current-connection pointer.
func (e1 Registry) Current(ctx context.Context) (*sgorpc.Client, string, error) {
	type answer struct {
		client *sgorpc.Client
		url    string
	}
	respC := make(chan answer, 1)
	select {
	case <-e1.ctx.Done():
		return nil, "", errors.New("canceled")
	case <-ctx.Done():
		return nil, "", errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		url := in.order[in.current]
		respC <- answer{client: in.client(url), url: url}
	}:
	}
	a := <-respC
	return a.client, a.url, nil
}

// DispatchRawTransaction performs one send attempt against one endpoint.
// Client lookup goes through the loop; the network call does not.
func (e1 Registry) DispatchRawTransaction(ctx context.Context, url string, txData []byte) (sgo.Signature, error) {
	respC := make(chan *sgorpc.Client, 1)
	select {
	case <-e1.ctx.Done():
		return sgo.Signature{}, errors.New("canceled")
	case <-ctx.Done():
		return sgo.Signature{}, errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		respC <- in.client(url)
	}:
	}
	client := <-respC
	if client == nil {
		return sgo.Signature{}, errors.New("unknown endpoint " + url)
	}
	return client.SendRawTransactionWithOpts(ctx, txData, sgorpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: sgorpc.CommitmentProcessed,
	})
}

// Reset restores boot state: health cleared, pointer back to the first url.
// Exists so tests and embedders never leak health across lifetimes.
func (e1 Registry) Reset(ctx context.Context) error {
	select {
	case <-e1.ctx.Done():
		return errors.New("canceled")
	case <-ctx.Done():
		return errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		in.reset()
	}:
	}
	return nil
}

// Urls lists the configured endpoints in boot order.
func (e1 Registry) Urls(ctx context.Context) ([]string, error) {
	respC := make(chan []string, 1)
	select {
	case <-e1.ctx.Done():
		return nil, errors.New("canceled")
	case <-ctx.Done():
		return nil, errors.New("canceled")
	case e1.internalC <- func(in *internal) {
		respC <- append([]string{}, in.order...)
	}:
	}
	return <-respC, nil
}
