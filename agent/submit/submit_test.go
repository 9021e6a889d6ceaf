package submit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alihassan145/TurboSol-sub001/agent/submit"
	dssub "github.com/alihassan145/TurboSol-sub001/ds/sub"
	"github.com/alihassan145/TurboSol-sub001/errormsg"
	"github.com/alihassan145/TurboSol-sub001/relay/jito"
	"github.com/alihassan145/TurboSol-sub001/sender"
	"github.com/alihassan145/TurboSol-sub001/state/endpoint"
	"github.com/alihassan145/TurboSol-sub001/util"
	sgo "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

type staticProber struct{}

func (p staticProber) MeasureEndpointsLatency(ctx context.Context, urls []string) []endpoint.Measurement {
	list := make([]endpoint.Measurement, 0, len(urls))
	for i, url := range urls {
		list = append(list, endpoint.Measurement{Url: url, LatencyMs: float64(10 * (i + 1))})
	}
	return list
}

func signedTx(t *testing.T) []byte {
	t.Helper()
	payer, err := sgo.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := sgo.NewTransaction(
		[]sgo.Instruction{
			system.NewTransferInstruction(1, payer.PublicKey(), payer.PublicKey()).Build(),
		},
		sgo.Hash{},
		sgo.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		t.Fatal(err)
	}
	_, err = tx.Sign(func(key sgo.PublicKey) *sgo.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// serialized but never signed: decodes cleanly with zero signatures.
func unsignedTx(t *testing.T) []byte {
	t.Helper()
	payer, err := sgo.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := sgo.NewTransaction(
		[]sgo.Instruction{
			system.NewTransferInstruction(1, payer.PublicKey(), payer.PublicKey()).Build(),
		},
		sgo.Hash{},
		sgo.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		t.Fatal(err)
	}
	data, err := tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func build(
	t *testing.T,
	urls []string,
	send sender.SendFunc,
	relayConfig jito.Configuration,
) (submit.Agent, sender.Sender) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	registry, err := endpoint.Create(ctx, endpoint.Configuration{
		Rpc:              &util.RpcConfig{Urls: urls},
		BackoffBase:      50 * time.Millisecond,
		BackoffMax:       time.Second,
		BackoffOnTimeout: true,
		ProbeTimeout:     time.Second,
		Prober:           staticProber{},
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := sender.Create(ctx, sender.Configuration{
		Strategy:          sender.StrategyConservative,
		PerAttemptTimeout: 100 * time.Millisecond,
		Stagger:           5 * time.Millisecond,
		InterWaveDelay:    5 * time.Millisecond,
		Send:              send,
	}, registry)
	if err != nil {
		t.Fatal(err)
	}
	agent, err := submit.Create(ctx, submit.Configuration{
		Relay:          relayConfig,
		DirectAttempts: 2,
		DirectBackoff:  10 * time.Millisecond,
	}, s, registry)
	if err != nil {
		t.Fatal(err)
	}
	return agent, s
}

func nextEvent(t *testing.T, sub dssub.Subscription[submit.StageEvent]) submit.StageEvent {
	t.Helper()
	select {
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stage event")
		return submit.StageEvent{}
	case err := <-sub.ErrorC:
		t.Fatalf("subscription closed: %v", err)
		return submit.StageEvent{}
	case event := <-sub.StreamC:
		return event
	}
}

func TestSubmitMalformed(t *testing.T) {
	okSend := func(ctx context.Context, url string, txData []byte) (sgo.Signature, error) {
		return sgo.Signature{1}, nil
	}
	agent, _ := build(t, []string{"a"}, okSend, jito.Configuration{})

	ctx := context.Background()
	if _, err := agent.Submit(ctx, nil, submit.SubmitOptions{}); !errors.Is(err, errormsg.ErrMalformedTransaction) {
		t.Fatalf("nil tx: %v", err)
	}
	if _, err := agent.SubmitRaw(ctx, []byte("not a transaction"), submit.SubmitOptions{}); !errors.Is(err, errormsg.ErrMalformedTransaction) {
		t.Fatalf("garbage bytes: %v", err)
	}
	unsigned := &sgo.Transaction{}
	if _, err := agent.Submit(ctx, unsigned, submit.SubmitOptions{}); !errors.Is(err, errormsg.ErrMalformedTransaction) {
		t.Fatalf("unsigned tx: %v", err)
	}
	// the raw path applies the same signature checks as Submit
	if _, err := agent.SubmitRaw(ctx, unsignedTx(t), submit.SubmitOptions{}); !errors.Is(err, errormsg.ErrMalformedTransaction) {
		t.Fatalf("unsigned raw tx: %v", err)
	}
	zeroSig := append([]byte{1}, make([]byte, 64)...)
	zeroSig = append(zeroSig, unsignedTx(t)[1:]...)
	if _, err := agent.SubmitRaw(ctx, zeroSig, submit.SubmitOptions{}); !errors.Is(err, errormsg.ErrMalformedTransaction) {
		t.Fatalf("zero fee payer signature: %v", err)
	}
}

func TestSubmitRelayWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","result":"bundle-9","id":1}`))
	}))
	t.Cleanup(server.Close)

	raced := false
	send := func(ctx context.Context, url string, txData []byte) (sgo.Signature, error) {
		raced = true
		return sgo.Signature{1}, nil
	}
	agent, _ := build(t, []string{"a"}, send, jito.Configuration{Url: server.URL, Timeout: time.Second})

	delivery, err := agent.SubmitRaw(context.Background(), signedTx(t), submit.SubmitOptions{
		UseBundleRelay: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if delivery.Stage != submit.StageBundleRelay {
		t.Fatalf("stage=%s", delivery.Stage)
	}
	if delivery.BundleId != "bundle-9" {
		t.Fatalf("bundleId=%s", delivery.BundleId)
	}
	if raced {
		t.Fatal("race stage should not run after relay success")
	}
}

func TestSubmitRelayRejectionFallsThroughToRace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"invalid params"},"id":1}`))
	}))
	t.Cleanup(server.Close)

	winner := sgo.Signature{7}
	send := func(ctx context.Context, url string, txData []byte) (sgo.Signature, error) {
		return winner, nil
	}
	agent, _ := build(t, []string{"a"}, send, jito.Configuration{Url: server.URL, Timeout: time.Second})

	events := agent.OnStage()
	defer events.Unsubscribe()

	delivery, err := agent.SubmitRaw(context.Background(), signedTx(t), submit.SubmitOptions{
		UseBundleRelay: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if delivery.Stage != submit.StageRace {
		t.Fatalf("stage=%s", delivery.Stage)
	}
	if delivery.Signature != winner {
		t.Fatalf("signature=%s", delivery.Signature)
	}

	expected := []struct {
		stage   submit.Stage
		outcome string
	}{
		{submit.StageBundleRelay, "enter"},
		{submit.StageBundleRelay, "failure"},
		{submit.StageRace, "enter"},
		{submit.StageRace, "success"},
	}
	for _, want := range expected {
		event := nextEvent(t, events)
		if event.Stage != want.stage || event.Outcome != want.outcome {
			t.Fatalf("event %s/%s, expected %s/%s", event.Stage, event.Outcome, want.stage, want.outcome)
		}
		if event.DeliveryId != delivery.Id {
			t.Fatalf("event delivery id %s, expected %s", event.DeliveryId, delivery.Id)
		}
	}
}

func TestSubmitExhaustionFallsThroughToDirect(t *testing.T) {
	send := func(ctx context.Context, url string, txData []byte) (sgo.Signature, error) {
		return sgo.Signature{}, errors.New("connection reset")
	}
	// unroutable endpoints so the direct stage fails fast too
	agent, _ := build(t, []string{"http://127.0.0.1:1", "http://127.0.0.1:2"}, send, jito.Configuration{})

	events := agent.OnStage()
	defer events.Unsubscribe()

	_, err := agent.SubmitRaw(context.Background(), signedTx(t), submit.SubmitOptions{})
	if err == nil {
		t.Fatal("expected delivery failure")
	}

	sawDirect := false
	for i := 0; i < 6; i++ {
		event := nextEvent(t, events)
		if event.Stage == submit.StageDirect {
			sawDirect = true
			break
		}
	}
	if !sawDirect {
		t.Fatal("direct stage was never entered")
	}
}

func TestSubmitRaceMetaExposed(t *testing.T) {
	send := func(ctx context.Context, url string, txData []byte) (sgo.Signature, error) {
		return sgo.Signature{3}, nil
	}
	agent, s := build(t, []string{"a", "b"}, send, jito.Configuration{})

	ctx := context.Background()
	if _, err := agent.SubmitRaw(ctx, signedTx(t), submit.SubmitOptions{}); err != nil {
		t.Fatal(err)
	}
	meta, err := s.LastRaceMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Winner != "a" {
		t.Fatalf("winner=%s", meta.Winner)
	}
	if meta.LatencyMs < 0 {
		t.Fatalf("latency=%f", meta.LatencyMs)
	}
}
