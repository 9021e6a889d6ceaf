package endpoint

import (
	"context"
	"sync"
	"time"

	sgorpc "github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

type Measurement struct {
	Url       string
	LatencyMs float64
	Err       error
}

// Prober measures round trip latency to a set of endpoints. Implementations
// must be best effort: a partial or total failure is reported per url, never
// as a hard error.
type Prober interface {
	MeasureEndpointsLatency(ctx context.Context, urls []string) []Measurement
}

// latency assigned to an endpoint whose probe failed, keeping it rankable
// but last.
const unreachableLatencyMs = float64(10 * time.Second / time.Millisecond)

type healthProber struct {
	timeout time.Duration
	client  func(url string) *sgorpc.Client
}

// CreateHealthProber times a getHealth round trip per url, all urls in
// parallel.
func CreateHealthProber(timeout time.Duration, client func(url string) *sgorpc.Client) Prober {
	if client == nil {
		client = func(url string) *sgorpc.Client {
			return sgorpc.New(url)
		}
	}
	return &healthProber{timeout: timeout, client: client}
}

func (p *healthProber) MeasureEndpointsLatency(ctx context.Context, urls []string) []Measurement {
	list := make([]Measurement, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			list[i] = p.measure(ctx, url)
		}(i, url)
	}
	wg.Wait()
	return list
}

func (p *healthProber) measure(ctx context.Context, url string) Measurement {
	ctxC, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	_, err := p.client(url).GetHealth(ctxC)
	if err != nil {
		log.Debugf("probe failed url=%s: %s", url, err)
		return Measurement{Url: url, LatencyMs: unreachableLatencyMs, Err: err}
	}
	return Measurement{
		Url:       url,
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
	}
}
