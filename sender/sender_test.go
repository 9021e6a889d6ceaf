package sender_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/alihassan145/TurboSol-sub001/errormsg"
	"github.com/alihassan145/TurboSol-sub001/sender"
	"github.com/alihassan145/TurboSol-sub001/state/endpoint"
	"github.com/alihassan145/TurboSol-sub001/util"
	sgo "github.com/gagliardetto/solana-go"
)

type staticProber struct {
	latency map[string]float64
}

func (p staticProber) MeasureEndpointsLatency(ctx context.Context, urls []string) []endpoint.Measurement {
	list := make([]endpoint.Measurement, 0, len(urls))
	for _, url := range urls {
		list = append(list, endpoint.Measurement{Url: url, LatencyMs: p.latency[url]})
	}
	return list
}

// fakeSend scripts per-url behavior and records dispatch order.
type fakeSend struct {
	mu       sync.Mutex
	order    []string
	delay    map[string]time.Duration
	failWith map[string]error
}

func (f *fakeSend) send(ctx context.Context, url string, txData []byte) (sgo.Signature, error) {
	f.mu.Lock()
	f.order = append(f.order, url)
	f.mu.Unlock()
	if d, present := f.delay[url]; present {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return sgo.Signature{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err, present := f.failWith[url]; present {
		return sgo.Signature{}, err
	}
	return sigFor(url), nil
}

func (f *fakeSend) dispatchOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.order...)
}

func sigFor(url string) sgo.Signature {
	var sig sgo.Signature
	copy(sig[:], url)
	return sig
}

func setup(t *testing.T, urls []string, latency map[string]float64, send sender.SendFunc, config sender.Configuration) (sender.Sender, endpoint.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	registry, err := endpoint.Create(ctx, endpoint.Configuration{
		Rpc:              &util.RpcConfig{Urls: urls},
		BackoffBase:      250 * time.Millisecond,
		BackoffMax:       8 * time.Second,
		BackoffOnTimeout: true,
		ProbeTimeout:     time.Second,
		Prober:           staticProber{latency: latency},
	})
	if err != nil {
		t.Fatal(err)
	}
	config.Send = send
	s, err := sender.Create(ctx, config, registry)
	if err != nil {
		t.Fatal(err)
	}
	return s, registry
}

var raceConfig = sender.Configuration{
	Strategy:          sender.StrategyConservative,
	PerAttemptTimeout: 60 * time.Millisecond,
	Stagger:           5 * time.Millisecond,
	InterWaveDelay:    10 * time.Millisecond,
}

// a times out, b succeeds, c rejects: the race must return b and never a's
// late result.
func TestRaceTimeoutThenNextWins(t *testing.T) {
	fake := &fakeSend{
		delay: map[string]time.Duration{
			"a": 120 * time.Millisecond,
			"b": 20 * time.Millisecond,
			"c": 25 * time.Millisecond,
		},
		failWith: map[string]error{
			"c": errors.New("rejected"),
		},
	}
	s, _ := setup(t,
		[]string{"a", "b", "c"},
		map[string]float64{"a": 10, "b": 20, "c": 30},
		fake.send,
		raceConfig,
	)

	ctx := context.Background()
	sig, err := s.SendRawTransactionRaced(ctx, []byte("tx-payload"), sender.RaceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if sig != sigFor("b") {
		t.Fatalf("wrong winner signature: %s", sig)
	}
	meta, err := s.LastRaceMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Winner != "b" {
		t.Fatalf("winner=%s, expected b", meta.Winner)
	}
	if meta.Attempts < 2 {
		t.Fatalf("attempts=%d, expected at least 2", meta.Attempts)
	}
	if meta.LatencyMs < 0 {
		t.Fatalf("negative latency %f", meta.LatencyMs)
	}
}

// a rejects before its timeout, then b succeeds: exactly two attempts.
func TestRaceFailFastCountsAttempts(t *testing.T) {
	fake := &fakeSend{
		failWith: map[string]error{
			"a": errors.New("rejected"),
		},
	}
	s, _ := setup(t,
		[]string{"a", "b"},
		map[string]float64{"a": 10, "b": 20},
		fake.send,
		raceConfig,
	)

	ctx := context.Background()
	sig, err := s.SendRawTransactionRaced(ctx, []byte("tx-payload"), sender.RaceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if sig != sigFor("b") {
		t.Fatalf("wrong winner signature: %s", sig)
	}
	meta, err := s.LastRaceMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Attempts != 2 {
		t.Fatalf("attempts=%d, expected 2", meta.Attempts)
	}
	if meta.Winner != "b" {
		t.Fatalf("winner=%s, expected b", meta.Winner)
	}
}

// a failed endpoint is parked: the next race must not pick it first.
func TestRaceDeprioritizesFailedEndpoint(t *testing.T) {
	fake := &fakeSend{
		failWith: map[string]error{
			"a": errors.New("rejected"),
		},
	}
	s, _ := setup(t,
		[]string{"a", "b"},
		map[string]float64{"a": 10, "b": 20},
		fake.send,
		raceConfig,
	)

	ctx := context.Background()
	if _, err := s.SendRawTransactionRaced(ctx, []byte("tx-1"), sender.RaceOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SendRawTransactionRaced(ctx, []byte("tx-2"), sender.RaceOptions{}); err != nil {
		t.Fatal(err)
	}
	order := fake.dispatchOrder()
	// race 1: a then b; race 2: b first since a is parked
	if len(order) != 3 {
		t.Fatalf("dispatch order %v, expected 3 attempts total", order)
	}
	if order[2] != "b" {
		t.Fatalf("second race dispatched %s first, expected b", order[2])
	}
}

func TestRaceExhaustion(t *testing.T) {
	fake := &fakeSend{
		failWith: map[string]error{
			"a": errors.New("rejected"),
			"b": errors.New("rejected"),
			"c": errors.New("rejected"),
		},
	}
	s, _ := setup(t,
		[]string{"a", "b", "c"},
		map[string]float64{"a": 10, "b": 20, "c": 30},
		fake.send,
		raceConfig,
	)

	ctx := context.Background()
	_, err := s.SendRawTransactionRaced(ctx, []byte("tx-payload"), sender.RaceOptions{})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if !errors.Is(err, errormsg.ErrEndpointsExhausted) {
		t.Fatalf("unexpected error: %v", err)
	}
	meta, err := s.LastRaceMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Attempts != 3 {
		t.Fatalf("attempts=%d, expected 3", meta.Attempts)
	}
	if len(meta.Winner) != 0 {
		t.Fatalf("unexpected winner %s", meta.Winner)
	}
	if meta.LatencyMs < 0 {
		t.Fatalf("negative latency %f", meta.LatencyMs)
	}
}

// wave size 2 dispatches the two fastest endpoints inside the first wave.
func TestRaceWaveSizeTwo(t *testing.T) {
	fake := &fakeSend{
		delay: map[string]time.Duration{
			"a": 30 * time.Millisecond,
			"b": 5 * time.Millisecond,
		},
	}
	config := raceConfig
	config.Strategy = sender.StrategyBalanced
	s, _ := setup(t,
		[]string{"a", "b", "c"},
		map[string]float64{"a": 10, "b": 20, "c": 30},
		fake.send,
		config,
	)

	ctx := context.Background()
	sig, err := s.SendRawTransactionRaced(ctx, []byte("tx-payload"), sender.RaceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// b resolves first even though a was dispatched earlier
	if sig != sigFor("b") {
		t.Fatalf("wrong winner signature: %s", sig)
	}
	meta, err := s.LastRaceMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Winner != "b" {
		t.Fatalf("winner=%s, expected b", meta.Winner)
	}
	if meta.Attempts != 2 {
		t.Fatalf("attempts=%d, expected 2 (one full wave)", meta.Attempts)
	}
}

// repeated races against one sender must not pin goroutines to its lifetime.
func TestRaceDoesNotLeakGoroutines(t *testing.T) {
	fake := &fakeSend{}
	s, _ := setup(t,
		[]string{"a"},
		map[string]float64{"a": 10},
		fake.send,
		raceConfig,
	)

	ctx := context.Background()
	if _, err := s.SendRawTransactionRaced(ctx, []byte("warmup"), sender.RaceOptions{}); err != nil {
		t.Fatal(err)
	}
	before := runtime.NumGoroutine()
	for i := 0; i < 200; i++ {
		if _, err := s.SendRawTransactionRaced(ctx, []byte("tx-payload"), sender.RaceOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if runtime.NumGoroutine() <= before+20 {
			break
		}
		if deadline.Before(time.Now()) {
			t.Fatalf("goroutines grew from %d to %d after 200 races", before, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
