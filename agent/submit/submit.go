package submit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	dssub "github.com/alihassan145/TurboSol-sub001/ds/sub"
	"github.com/alihassan145/TurboSol-sub001/errormsg"
	"github.com/alihassan145/TurboSol-sub001/relay/jito"
	"github.com/alihassan145/TurboSol-sub001/sender"
	"github.com/alihassan145/TurboSol-sub001/state/endpoint"
	"github.com/alihassan145/TurboSol-sub001/util"
	bin "github.com/gagliardetto/binary"
	sgo "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Stage string

const (
	StageBundleRelay Stage = "bundle-relay"
	StageRace        Stage = "wave-race"
	StageDirect      Stage = "direct-send"
)

// StageEvent reports one stage transition or terminal outcome of a
// delivery, so a failed delivery is attributable after the fact.
type StageEvent struct {
	DeliveryId string
	Stage      Stage
	Outcome    string // enter|success|failure|skipped
	Reason     string
	At         time.Time
}

// Delivery identifies a successful submission and the stage that won.
type Delivery struct {
	Id        string
	Stage     Stage
	Signature sgo.Signature
	BundleId  string
}

type SubmitOptions struct {
	UseBundleRelay bool
	Strategy       string
}

type Configuration struct {
	Relay jito.Configuration
	// DirectAttempts bounds the last-resort raw sends.
	DirectAttempts int
	DirectBackoff  time.Duration
}

func ConfigurationFromEnv() Configuration {
	return Configuration{
		Relay:          jito.ConfigurationFromEnv(),
		DirectAttempts: util.GetenvInt("DIRECT_SEND_ATTEMPTS", 2),
		DirectBackoff:  util.GetenvDurationMs("DIRECT_SEND_BACKOFF_MS", 150*time.Millisecond),
	}
}

func (config Configuration) Check() error {
	if config.DirectAttempts <= 0 {
		return errors.New("no direct attempts")
	}
	return nil
}

// Agent is the only surface callers submit through. It chains the bundle
// relay, the wave race and a direct best-effort send, in that order, each
// stage entered only when the previous one is unavailable or failed.
type Agent struct {
	ctx       context.Context
	cancel    context.CancelFunc
	internalC chan<- func(*internal)
	config    Configuration
	sender    sender.Sender
	registry  endpoint.Registry
	relay     *jito.Client
}

func Create(
	ctx context.Context,
	config Configuration,
	s sender.Sender,
	registry endpoint.Registry,
) (Agent, error) {
	if err := config.Check(); err != nil {
		return Agent{}, err
	}
	var relayClient *jito.Client
	if config.Relay.Enabled() {
		var err error
		relayClient, err = jito.Create(config.Relay)
		if err != nil {
			return Agent{}, err
		}
	}
	startErrorC := make(chan error, 1)
	internalC := make(chan func(*internal), 10)
	ctx2, cancel := context.WithCancel(ctx)
	go loopInternal(ctx2, cancel, internalC, startErrorC)
	err := <-startErrorC
	if err != nil {
		cancel()
		return Agent{}, err
	}
	return Agent{
		ctx:       ctx2,
		cancel:    cancel,
		internalC: internalC,
		config:    config,
		sender:    s,
		registry:  registry,
		relay:     relayClient,
	}, nil
}

func (e1 Agent) Close() <-chan error {
	signalC := e1.CloseSignal()
	e1.cancel()
	return signalC
}

func (e1 Agent) CloseSignal() <-chan error {
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

// OnStage subscribes to stage transition events.
func (e1 Agent) OnStage() dssub.Subscription[StageEvent] {
	respC := make(chan dssub.Subscription[StageEvent], 1)
	select {
	case <-e1.ctx.Done():
		errorC := make(chan error, 1)
		errorC <- errors.New("canceled")
		return dssub.Subscription[StageEvent]{ErrorC: errorC}
	case e1.internalC <- func(in *internal) {
		respC <- in.stageHome.Subscribe(nil)
	}:
	}
	return <-respC
}

// Submit validates and serializes tx, then drives it through the fallback
// chain. Malformed input fails fast: it is a caller bug, not a network
// condition.
func (e1 Agent) Submit(ctx context.Context, tx *sgo.Transaction, opts SubmitOptions) (Delivery, error) {
	if tx == nil {
		return Delivery{}, errormsg.ErrMalformedTransaction
	}
	if len(tx.Signatures) == 0 {
		return Delivery{}, fmt.Errorf("%w: no signatures", errormsg.ErrMalformedTransaction)
	}
	if tx.Signatures[0].IsZero() {
		return Delivery{}, fmt.Errorf("%w: fee payer signature missing", errormsg.ErrMalformedTransaction)
	}
	txData, err := tx.MarshalBinary()
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: %s", errormsg.ErrMalformedTransaction, err)
	}
	return e1.SubmitRaw(ctx, txData, opts)
}

// SubmitRaw drives an already serialized signed transaction through the
// fallback chain: bundle relay, wave race, direct send.
func (e1 Agent) SubmitRaw(ctx context.Context, txData []byte, opts SubmitOptions) (Delivery, error) {
	if len(txData) == 0 {
		return Delivery{}, errormsg.ErrMalformedTransaction
	}
	decoded, err := sgo.TransactionFromDecoder(bin.NewBinDecoder(txData))
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: %s", errormsg.ErrMalformedTransaction, err)
	}
	if len(decoded.Signatures) == 0 {
		return Delivery{}, fmt.Errorf("%w: no signatures", errormsg.ErrMalformedTransaction)
	}
	if decoded.Signatures[0].IsZero() {
		return Delivery{}, fmt.Errorf("%w: fee payer signature missing", errormsg.ErrMalformedTransaction)
	}
	ctxC, cancel := util.MergeCtx(e1.ctx, ctx)
	defer cancel()
	id := uuid.New().String()

	// stage 1: private block-space relay; never retried on failure
	if opts.UseBundleRelay && e1.relay != nil {
		e1.emit(id, StageBundleRelay, "enter", "")
		bundleId, err := e1.relay.SubmitBundle(ctxC, []string{
			base64.StdEncoding.EncodeToString(txData),
		})
		if err == nil {
			e1.emit(id, StageBundleRelay, "success", bundleId)
			return Delivery{Id: id, Stage: StageBundleRelay, BundleId: bundleId}, nil
		}
		e1.emit(id, StageBundleRelay, "failure", err.Error())
		log.Debugf("delivery=%s relay failed, falling through: %s", id, err)
	} else if opts.UseBundleRelay {
		e1.emit(id, StageBundleRelay, "skipped", "relay not configured")
	}

	// stage 2: staggered wave race across ranked endpoints
	e1.emit(id, StageRace, "enter", "")
	sig, err := e1.sender.SendRawTransactionRaced(ctxC, txData, sender.RaceOptions{
		Strategy: opts.Strategy,
	})
	if err == nil {
		e1.emit(id, StageRace, "success", sig.String())
		return Delivery{Id: id, Stage: StageRace, Signature: sig}, nil
	}
	e1.emit(id, StageRace, "failure", err.Error())
	if !errors.Is(err, errormsg.ErrEndpointsExhausted) && !errormsg.IsTransient(err) {
		return Delivery{}, err
	}

	// stage 3: rotate away from the raced endpoints and send raw, bounded
	e1.emit(id, StageDirect, "enter", "")
	if _, rotateErr := e1.registry.Rotate(ctxC, "race-exhausted"); rotateErr != nil {
		e1.emit(id, StageDirect, "failure", rotateErr.Error())
		return Delivery{}, rotateErr
	}
	var lastErr error
	for attempt := 0; attempt < e1.config.DirectAttempts; attempt++ {
		if 0 < attempt {
			select {
			case <-ctxC.Done():
				e1.emit(id, StageDirect, "failure", "canceled")
				return Delivery{}, errors.New("canceled")
			case <-time.After(e1.config.DirectBackoff):
			}
		}
		_, url, err := e1.registry.Current(ctxC)
		if err != nil {
			e1.emit(id, StageDirect, "failure", err.Error())
			return Delivery{}, err
		}
		sig, err = e1.registry.DispatchRawTransaction(ctxC, url, txData)
		if err == nil {
			e1.emit(id, StageDirect, "success", sig.String())
			return Delivery{Id: id, Stage: StageDirect, Signature: sig}, nil
		}
		lastErr = err
		if !errormsg.IsTransient(err) {
			e1.emit(id, StageDirect, "failure", err.Error())
			return Delivery{}, err
		}
		log.Debugf("delivery=%s direct attempt %d failed: %s", id, attempt+1, err)
	}
	e1.emit(id, StageDirect, "failure", lastErr.Error())
	return Delivery{}, fmt.Errorf("delivery failed at every stage: %w", lastErr)
}

func (e1 Agent) emit(id string, stage Stage, outcome string, reason string) {
	event := StageEvent{
		DeliveryId: id,
		Stage:      stage,
		Outcome:    outcome,
		Reason:     reason,
		At:         time.Now(),
	}
	log.Infof("delivery=%s stage=%s outcome=%s %s", id, stage, outcome, reason)
	select {
	case <-e1.ctx.Done():
	case e1.internalC <- func(in *internal) {
		in.stageHome.Broadcast(event)
	}:
	}
}
