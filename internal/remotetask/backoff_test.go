package remotetask

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Backoff_CapsAtMax(t *testing.T) {
	p := RetryPolicy{
		MinBackoff:    10 * time.Millisecond,
		MaxBackoff:    100 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFactor:  0,
	}
	assert.Equal(t, 10*time.Millisecond, p.Backoff(0))
	assert.LessOrEqual(t, p.Backoff(10), 100*time.Millisecond)
}

func TestRetryPolicy_Backoff_Grows(t *testing.T) {
	p := RetryPolicy{
		MinBackoff:    10 * time.Millisecond,
		MaxBackoff:    10 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0,
	}
	assert.Less(t, p.Backoff(1), p.Backoff(2))
	assert.Less(t, p.Backoff(2), p.Backoff(3))
}

func TestErrorWindow_ExceededAfterMaxErrorDuration(t *testing.T) {
	w := &errorWindow{}
	now := time.Now()
	assert.False(t, w.exceeded(now, 100*time.Millisecond), "a window with no failures is never exceeded")

	w.recordFailure(now)
	assert.False(t, w.exceeded(now.Add(50*time.Millisecond), 100*time.Millisecond))
	assert.True(t, w.exceeded(now.Add(150*time.Millisecond), 100*time.Millisecond))
}

func TestErrorWindow_ResetClearsWindow(t *testing.T) {
	w := &errorWindow{}
	now := time.Now()
	w.recordFailure(now)
	w.reset()
	assert.False(t, w.exceeded(now.Add(time.Hour), 100*time.Millisecond))
	assert.Equal(t, 0, w.attempt)
}
