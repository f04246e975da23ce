package remotetask

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy governs the exponential backoff applied between retried RPCs
// in a fetch/send loop.
type RetryPolicy struct {
	MinBackoff    time.Duration
	MaxBackoff    time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// DefaultRetryPolicy is tuned for short HTTP retries against a worker on
// the same network.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MinBackoff:    100 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// Backoff calculates the backoff duration for a given 0-indexed retry
// attempt, capping at MaxBackoff and applying symmetric jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return p.MinBackoff
	}

	backoff := float64(p.MinBackoff) * math.Pow(p.BackoffFactor, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	if p.JitterFactor > 0 {
		jitter := backoff * p.JitterFactor * (rand.Float64()*2 - 1)
		backoff += jitter
	}
	if backoff < 0 {
		backoff = float64(p.MinBackoff)
	}

	return time.Duration(backoff)
}

// errorWindow tracks how long a loop has been failing continuously, so it
// can age out into REMOTE_TASK_ERROR once the span exceeds
// maxErrorDuration.
type errorWindow struct {
	firstFailureAt time.Time
	attempt        int
}

func (w *errorWindow) recordFailure(now time.Time) {
	if w.firstFailureAt.IsZero() {
		w.firstFailureAt = now
	}
	w.attempt++
}

func (w *errorWindow) reset() {
	w.firstFailureAt = time.Time{}
	w.attempt = 0
}

func (w *errorWindow) exceeded(now time.Time, maxErrorDuration time.Duration) bool {
	if w.firstFailureAt.IsZero() {
		return false
	}
	return now.Sub(w.firstFailureAt) >= maxErrorDuration
}
