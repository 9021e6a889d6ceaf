package sender

import (
	"context"
	"errors"
	"time"

	"github.com/alihassan145/TurboSol-sub001/errormsg"
	"github.com/alihassan145/TurboSol-sub001/state/endpoint"
	sgo "github.com/gagliardetto/solana-go"
	log "github.com/sirupsen/logrus"
)

type raceOptions struct {
	waveSize          int
	perAttemptTimeout time.Duration
	stagger           time.Duration
	interWaveDelay    time.Duration
}

type attemptResult struct {
	url     string
	sig     sgo.Signature
	outcome endpoint.Outcome
	err     error
	latency time.Duration
}

// race walks the ranked endpoint list wave by wave. The first attempt to
// resolve with a signature wins the whole race; a wave whose every attempt
// failed or timed out is followed by interWaveDelay and the next wave.
func (e1 Sender) race(ctx context.Context, txData []byte, opts raceOptions) (sgo.Signature, RaceMeta, error) {
	start := time.Now()
	meta := RaceMeta{Timestamp: start}

	if err := e1.registry.Refresh(ctx); err != nil {
		return sgo.Signature{}, meta, err
	}
	list, allInBackoff, err := e1.registry.RankEligible(ctx)
	if err != nil {
		return sgo.Signature{}, meta, err
	}
	if allInBackoff {
		log.Warnf("all %d endpoints in backoff, racing the full set", len(list))
	}
	if len(list) == 0 {
		return sgo.Signature{}, meta, errormsg.Exhausted(0)
	}

	resultC := make(chan attemptResult, len(list))
	doneC := ctx.Done()
	dispatched := 0

	for waveStart := 0; waveStart < len(list); waveStart += opts.waveSize {
		if 0 < waveStart {
			select {
			case <-doneC:
				meta.Attempts = dispatched
				meta.LatencyMs = sinceMs(start)
				return sgo.Signature{}, meta, errors.New("canceled")
			case <-time.After(opts.interWaveDelay):
			}
		}
		wave := list[waveStart:min(waveStart+opts.waveSize, len(list))]
		for i, ep := range wave {
			go loopAttempt(
				ctx,
				e1.registry,
				e1.config.Send,
				ep.Url,
				time.Duration(i)*opts.stagger,
				opts.perAttemptTimeout,
				txData,
				resultC,
			)
			dispatched++
		}
		pending := len(wave)
		for 0 < pending {
			select {
			case <-doneC:
				meta.Attempts = dispatched
				meta.LatencyMs = sinceMs(start)
				return sgo.Signature{}, meta, errors.New("canceled")
			case r := <-resultC:
				pending--
				if r.outcome == endpoint.OutcomeSuccess {
					meta.Winner = r.url
					meta.Attempts = dispatched
					meta.LatencyMs = sinceMs(start)
					log.Debugf("race won url=%s attempts=%d latency=%.1fms", r.url, dispatched, meta.LatencyMs)
					return r.sig, meta, nil
				}
				log.Debugf("attempt lost url=%s outcome=%s err=%v", r.url, r.outcome, r.err)
			}
		}
	}
	meta.Attempts = dispatched
	meta.LatencyMs = sinceMs(start)
	return sgo.Signature{}, meta, errormsg.Exhausted(dispatched)
}

// loopAttempt runs one send attempt. The attempt reports exactly one result
// and applies its own health bookkeeping when it resolves, even if the race
// has already returned. A timed-out send counts as a failed attempt; its
// eventual real resolution is discarded.
func loopAttempt(
	ctx context.Context,
	registry endpoint.Registry,
	send SendFunc,
	url string,
	delay time.Duration,
	timeout time.Duration,
	txData []byte,
	resultC chan<- attemptResult,
) {
	doneC := ctx.Done()
	if 0 < delay {
		select {
		case <-doneC:
			resultC <- attemptResult{url: url, outcome: endpoint.OutcomeFailure, err: errors.New("canceled")}
			return
		case <-time.After(delay):
		}
	}
	start := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	innerC := make(chan attemptResult, 1)
	go func() {
		sig, err := send(attemptCtx, url, txData)
		if err != nil {
			innerC <- attemptResult{outcome: endpoint.OutcomeFailure, err: err}
			return
		}
		innerC <- attemptResult{outcome: endpoint.OutcomeSuccess, sig: sig}
	}()

	var r attemptResult
	select {
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// race canceled, not an endpoint fault
			resultC <- attemptResult{url: url, outcome: endpoint.OutcomeFailure, err: errors.New("canceled")}
			return
		}
		r = attemptResult{outcome: endpoint.OutcomeTimeout, err: context.DeadlineExceeded}
	case r = <-innerC:
	}
	r.url = url
	r.latency = time.Since(start)
	registry.RecordOutcome(context.Background(), url, r.outcome)
	resultC <- r
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
