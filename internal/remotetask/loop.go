package remotetask

import (
	"context"
	"fmt"

	"github.com/taskctl/remotetask/internal/metrics"
	"github.com/taskctl/remotetask/internal/rpc"
)

// stoppableContext returns a context canceled either by the caller or by
// the handle reaching terminal, so an in-flight long-poll is best-effort
// canceled the moment the handle's stopCh closes.
func stoppableContext(h *TaskHandle) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-h.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// handleLoopFailure is the single classification point shared by all three
// loops. It returns true when the caller's loop must exit because the
// handle has entered terminal.
func handleLoopFailure(h *TaskHandle, loopName string, statusCode int, err error, window *errorWindow) bool {
	failure := rpc.Failure{StatusCode: statusCode, Cause: err, At: h.clock.Now()}
	outcome := rpc.Classify(failure)

	if outcome == rpc.OutcomeRejected {
		metrics.RecordRPCFatal(loopName)
		h.fail(ErrRemoteTaskError, fmt.Errorf("%s: rpc client rejected work: %w", loopName, err))
		return true
	}

	window.recordFailure(h.clock.Now())
	metrics.RecordRPCRetry(loopName)

	if window.exceeded(h.clock.Now(), h.timeouts.MaxErrorDuration) {
		metrics.RecordRPCFatal(loopName)
		h.fail(ErrRemoteTaskError, fmt.Errorf("%s: exceeded max error duration: %w", loopName, err))
		return true
	}

	backoff := h.timeouts.RetryPolicy.Backoff(window.attempt)
	timer := h.clock.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-timer.C():
	case <-h.stopCh:
	}
	return false
}

// httpStatusError wraps a non-2xx HTTP status so Classify can key off it
// without the loops needing to inspect raw response bytes.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.status)
}
