package remotetask

import (
	"net/http"

	"github.com/taskctl/remotetask/internal/metrics"
)

// infoFetcher pulls the heavyweight TaskInfo from GET {taskUri} at
// infoUpdateInterval, following the same fetch-and-classify shape as
// statusFetcher.
type infoFetcher struct {
	handle *TaskHandle
}

func (f *infoFetcher) run() {
	h := f.handle
	window := &errorWindow{}

	for {
		timer := h.clock.NewTimer(h.timeouts.InfoUpdateInterval)
		select {
		case <-h.stopCh:
			timer.Stop()
			f.finalFetch()
			return
		case <-timer.C():
		}

		status := h.TaskStatusSnapshot()
		if status.State.IsDone() {
			f.finalFetch()
			return
		}

		info, statusCode, err := f.fetch(status.State)
		if err != nil {
			if handleLoopFailure(h, "info", statusCode, err, window) {
				// REMOTE_TASK_ERROR: the worker is demonstrably
				// unreachable, so the handle keeps its locally
				// synthesized terminal info.
				return
			}
			continue
		}

		window.reset()
		h.updateInfo(info)
		h.infoListeners.notify(info)

		if h.isTerminal() {
			f.finalFetch()
			return
		}
	}
}

// finalFetch performs one post-terminal GET to capture the worker-side
// final TaskInfo. Failures are swallowed: the
// handle simply keeps whichever TaskInfo it last held.
func (f *infoFetcher) finalFetch() {
	h := f.handle
	status := h.TaskStatusSnapshot()
	info, _, err := f.fetch(status.State)
	if err != nil {
		return
	}
	h.applyFinalInfo(info)
}

func (f *infoFetcher) fetch(currentState TaskState) (TaskInfo, int, error) {
	h := f.handle

	header := http.Header{}
	header.Set("X-Presto-Current-State", string(currentState))
	header.Set("X-Presto-Max-Wait", h.timeouts.TaskInfoRefreshMaxWait.String())
	header.Set("Accept", h.codec.ContentType())

	ctx, cancel := stoppableContext(h)
	defer cancel()

	start := h.clock.Now()
	resp, err := h.client.Do(ctx, http.MethodGet, h.taskURI, header, nil)
	if err != nil {
		metrics.RecordRPC("info", http.MethodGet, "error", h.clock.Since(start).Seconds())
		return TaskInfo{}, 0, err
	}
	if resp.StatusCode >= 300 {
		metrics.RecordRPC("info", http.MethodGet, "http_error", h.clock.Since(start).Seconds())
		return TaskInfo{}, resp.StatusCode, &httpStatusError{status: resp.StatusCode}
	}

	var info TaskInfo
	if err := h.codec.UnmarshalReply(resp.Header.Get("Content-Type"), resp.Body, &info); err != nil {
		metrics.RecordRPC("info", http.MethodGet, "decode_error", h.clock.Since(start).Seconds())
		return TaskInfo{}, resp.StatusCode, err
	}
	metrics.RecordRPC("info", http.MethodGet, "ok", h.clock.Since(start).Seconds())
	return info, resp.StatusCode, nil
}
