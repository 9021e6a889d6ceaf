package errormsg

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Sentinel errors surfaced by the delivery engine. Callers match with
// errors.Is.
var (
	// ErrEndpointsExhausted means every eligible endpoint in a race failed
	// or timed out.
	ErrEndpointsExhausted = errors.New("no rpc endpoint succeeded")
	// ErrRelayRejected means the bundle relay explicitly refused the
	// submission. Not retryable on the relay stage.
	ErrRelayRejected = errors.New("bundle relay rejected submission")
	// ErrMalformedTransaction indicates a caller bug (undecodable payload or
	// missing signatures), never a network condition.
	ErrMalformedTransaction = errors.New("malformed transaction")
)

func Exhausted(attempts int) error {
	return fmt.Errorf("%w after %d attempts", ErrEndpointsExhausted, attempts)
}

func RelayRejected(code int, message string) error {
	return fmt.Errorf("%w: code=%d %s", ErrRelayRejected, code, message)
}

var transientFragments = []string{
	"429",
	"too many requests",
	"rate limit",
	"-32005", // node is behind / throttled
	"blockhash not found",
	"connection reset",
	"connection refused",
	"i/o timeout",
	"context deadline exceeded",
	"unexpected eof",
	"tls handshake timeout",
	"no such host",
}

// IsTransient reports whether err looks like a recoverable network
// condition: timeout, reset, rate limit, stale blockhash. Transient errors
// may be retried within a stage or escalated to the next fallback stage.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, f := range transientFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

// IsRateLimited matches the subset of transient errors caused by upstream
// throttling, used by the meter to tighten its limiter.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "-32005")
}

// IsStaleBlockhash matches the expired-blockhash rejection, retried only on
// the direct-send fallback.
func IsStaleBlockhash(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "blockhash not found")
}
