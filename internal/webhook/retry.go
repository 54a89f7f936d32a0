package webhook

import (
	"math/rand/v2"
	"time"
)

// retryDelays is the wait after the 1st, 2nd, ... failed attempt.
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

const (
	// DefaultMaxAttempts is the default maximum delivery attempts.
	DefaultMaxAttempts = 5

	// JitterFactor is the ±fraction of jitter applied to delays.
	JitterFactor = 0.2
)

// NextRetryDelay returns the backoff after attempts failed attempts, with
// ±20% jitter. Counts past the schedule reuse its last step.
func NextRetryDelay(attempts int) time.Duration {
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(retryDelays) {
		i = len(retryDelays) - 1
	}

	base := float64(retryDelays[i])
	jitter := (rand.Float64()*2 - 1) * base * JitterFactor
	return time.Duration(base + jitter)
}

// NextRetryAt is now plus NextRetryDelay(attempts).
func NextRetryAt(attempts int) time.Time {
	return time.Now().Add(NextRetryDelay(attempts))
}

// IsExhausted returns true if max attempts have been reached.
func IsExhausted(attempts, maxAttempts int) bool {
	return attempts >= maxAttempts
}
