package endpoint

import (
	"context"
	"sort"
	"time"

	sgorpc "github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

type internal struct {
	ctx              context.Context
	closeSignalCList []chan<- error
	config           Configuration
	endpoints        map[string]*Endpoint
	order            []string
	clients          map[string]*sgorpc.Client
	current          int
	lastProbe        time.Time
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
	in.clients = make(map[string]*sgorpc.Client)
	in.reset()

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

func (in *internal) reset() {
	in.endpoints = make(map[string]*Endpoint)
	in.order = make([]string, 0, len(in.config.Rpc.Urls))
	for _, url := range in.config.Rpc.Urls {
		_, present := in.endpoints[url]
		if present {
			continue
		}
		in.endpoints[url] = &Endpoint{Url: url}
		in.order = append(in.order, url)
	}
	in.current = 0
	in.lastProbe = time.Time{}
}

func (in *internal) client(url string) *sgorpc.Client {
	_, present := in.endpoints[url]
	if !present {
		return nil
	}
	client, present := in.clients[url]
	if !present {
		client = in.config.Rpc.RpcClient(url)
		in.clients[url] = client
	}
	return client
}

// rank_eligible copies endpoints sorted ascending by measured latency,
// dropping parked ones. With everything parked the full ranked set comes
// back instead so a send can still go out.
func (in *internal) rank_eligible(now time.Time) ([]Endpoint, bool) {
	all := make([]Endpoint, 0, len(in.order))
	eligible := make([]Endpoint, 0, len(in.order))
	for _, url := range in.order {
		ep := *in.endpoints[url]
		all = append(all, ep)
		if !ep.InBackoff(now) {
			eligible = append(eligible, ep)
		}
	}
	byLatency := func(list []Endpoint) func(int, int) bool {
		return func(i, j int) bool {
			return list[i].MeasuredLatencyMs < list[j].MeasuredLatencyMs
		}
	}
	if len(eligible) == 0 {
		sort.SliceStable(all, byLatency(all))
		return all, true
	}
	sort.SliceStable(eligible, byLatency(eligible))
	return eligible, false
}

func (in *internal) on_measurements(list []Measurement) {
	for _, m := range list {
		ep, present := in.endpoints[m.Url]
		if !present {
			continue
		}
		ep.MeasuredLatencyMs = m.LatencyMs
	}
}

func (in *internal) on_outcome(url string, outcome Outcome, now time.Time) {
	ep, present := in.endpoints[url]
	if !present {
		return
	}
	switch outcome {
	case OutcomeSuccess:
		ep.ConsecutiveFailures = 0
		ep.BackoffUntil = time.Time{}
	case OutcomeTimeout:
		if !in.config.BackoffOnTimeout {
			return
		}
		in.park(ep, now)
	case OutcomeFailure:
		in.park(ep, now)
	}
}

func (in *internal) park(ep *Endpoint, now time.Time) {
	ep.ConsecutiveFailures++
	d := cooldown(in.config.BackoffBase, in.config.BackoffMax, ep.ConsecutiveFailures)
	ep.BackoffUntil = now.Add(d)
	log.Debugf("endpoint parked url=%s failures=%d cooldown=%s", ep.Url, ep.ConsecutiveFailures, d)
}

// rotate advances the current pointer to a different endpoint, skipping
// parked ones when possible.
func (in *internal) rotate(reason string) string {
	if len(in.order) == 1 {
		return in.order[0]
	}
	now := time.Now()
	next := -1
	var nextExpiry time.Time
	for i := 1; i <= len(in.order); i++ {
		candidate := (in.current + i) % len(in.order)
		if candidate == in.current {
			continue
		}
		ep := in.endpoints[in.order[candidate]]
		if !ep.InBackoff(now) {
			next = candidate
			break
		}
		// everything else parked so far; hold the soonest to recover
		if next < 0 || ep.BackoffUntil.Before(nextExpiry) {
			next = candidate
			nextExpiry = ep.BackoffUntil
		}
	}
	in.current = next
	url := in.order[in.current]
	log.Infof("rpc rotated to %s reason=%s", url, reason)
	return url
}
