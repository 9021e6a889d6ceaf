package endpoint

import (
	"time"
)

// Endpoint is the health snapshot of one configured RPC url. Instances
// handed out by the registry are copies; the registry owns the mutable
// records for the whole process lifetime.
type Endpoint struct {
	Url                 string
	MeasuredLatencyMs   float64
	BackoffUntil        time.Time
	ConsecutiveFailures int
}

func (e Endpoint) InBackoff(now time.Time) bool {
	return now.Before(e.BackoffUntil)
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// cooldown doubles per consecutive failure, capped. The exact curve is a
// tunable, not a contract.
func cooldown(base time.Duration, max time.Duration, consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	d := base
	for i := 1; i < consecutiveFailures; i++ {
		d *= 2
		if max < d {
			return max
		}
	}
	if max < d {
		return max
	}
	return d
}
