package remotetask

import (
	"net/http"

	"github.com/taskctl/remotetask/internal/metrics"
)

// statusFetcher issues GET {taskUri}/status long-polls with
// currentState/maxWait headers and feeds every reply through the handle's
// update-application rule. The wait happens server-side: the worker holds
// the request until its state differs from currentState or maxWait lapses.
type statusFetcher struct {
	handle *TaskHandle
}

func (f *statusFetcher) run() {
	h := f.handle
	window := &errorWindow{}

	for {
		if h.isTerminal() {
			return
		}

		status := h.TaskStatusSnapshot()
		if status.State.IsDone() {
			return
		}

		newStatus, statusCode, err := f.fetch(status.State)
		if err != nil {
			if handleLoopFailure(h, "status", statusCode, err, window) {
				return
			}
			continue
		}

		window.reset()
		h.applyStatus(newStatus)

		if h.isTerminal() {
			return
		}
	}
}

func (f *statusFetcher) fetch(currentState TaskState) (TaskStatus, int, error) {
	h := f.handle

	header := http.Header{}
	header.Set("X-Presto-Current-State", string(currentState))
	header.Set("X-Presto-Max-Wait", h.timeouts.StatusRefreshMaxWait.String())
	header.Set("Accept", h.codec.ContentType())

	ctx, cancel := stoppableContext(h)
	defer cancel()

	start := h.clock.Now()
	resp, err := h.client.Do(ctx, http.MethodGet, h.taskURI+"/status", header, nil)
	if err != nil {
		metrics.RecordRPC("status", http.MethodGet, "error", h.clock.Since(start).Seconds())
		return TaskStatus{}, 0, err
	}
	if resp.StatusCode >= 300 {
		metrics.RecordRPC("status", http.MethodGet, "http_error", h.clock.Since(start).Seconds())
		return TaskStatus{}, resp.StatusCode, &httpStatusError{status: resp.StatusCode}
	}

	var status TaskStatus
	if err := h.codec.UnmarshalReply(resp.Header.Get("Content-Type"), resp.Body, &status); err != nil {
		metrics.RecordRPC("status", http.MethodGet, "decode_error", h.clock.Since(start).Seconds())
		return TaskStatus{}, resp.StatusCode, err
	}
	metrics.RecordRPC("status", http.MethodGet, "ok", h.clock.Since(start).Seconds())
	return status, resp.StatusCode, nil
}
