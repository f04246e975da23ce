package remotetask

import (
	"context"
	"net/http"

	"github.com/taskctl/remotetask/internal/metrics"
)

// updateSender is the single-in-flight intent publisher: it
// coalesces every pending split/marker/buffer change behind one dirty
// counter and never has more than one POST outstanding. A split marked
// sent is never re-queued, even if that POST later fails.
type updateSender struct {
	handle *TaskHandle
}

func (s *updateSender) run() {
	h := s.handle
	window := &errorWindow{}
	sentUpdateCount := int64(-1) // forces the first iteration to send

	for {
		// Intent queued before a cancel/abort (splits, no-more-splits
		// markers, buffer updates) must reach the worker before the final
		// DELETE, so a Cancel/Abort request is only acted on once nothing is
		// dirty. A handle that is already terminal drains immediately.
		if h.isTerminal() {
			s.drainTermination()
			return
		}

		if pending := h.pendingCount(); pending != sentUpdateCount {
			req := h.buildUpdateRequest(true)

			info, statusCode, err := s.send(req)
			if err != nil {
				if handleLoopFailure(h, "update", statusCode, err, window) {
					return
				}
				continue
			}

			window.reset()
			sentUpdateCount = pending
			metrics.UpdatesSent.Inc()
			h.updateInfo(info)
			continue
		}

		select {
		case abort := <-h.terminateCh:
			if h.pendingCount() != sentUpdateCount {
				select {
				case h.terminateCh <- abort:
				default:
				}
				continue
			}
			s.sendTermination(abort)
			return
		case <-h.dirtyCh:
		case <-h.stopCh:
			s.drainTermination()
			return
		}
	}
}

func (s *updateSender) send(req TaskUpdateRequest) (TaskInfo, int, error) {
	h := s.handle

	body, err := h.codec.Marshal(req)
	if err != nil {
		return TaskInfo{}, 0, err
	}

	header := http.Header{}
	header.Set("Content-Type", h.codec.ContentType())
	header.Set("Accept", h.codec.ContentType())

	ctx, cancel := stoppableContext(h)
	defer cancel()

	start := h.clock.Now()
	resp, err := h.client.Do(ctx, http.MethodPost, h.taskURI, header, body)
	if err != nil {
		metrics.RecordRPC("update", http.MethodPost, "error", h.clock.Since(start).Seconds())
		return TaskInfo{}, 0, err
	}
	if resp.StatusCode >= 300 {
		metrics.RecordRPC("update", http.MethodPost, "http_error", h.clock.Since(start).Seconds())
		return TaskInfo{}, resp.StatusCode, &httpStatusError{status: resp.StatusCode}
	}

	var info TaskInfo
	if err := h.codec.UnmarshalReply(resp.Header.Get("Content-Type"), resp.Body, &info); err != nil {
		metrics.RecordRPC("update", http.MethodPost, "decode_error", h.clock.Since(start).Seconds())
		return TaskInfo{}, resp.StatusCode, err
	}
	metrics.RecordRPC("update", http.MethodPost, "ok", h.clock.Since(start).Seconds())
	return info, resp.StatusCode, nil
}

// drainTermination fires the final DELETE only if the planner actually
// asked for Cancel/Abort; a handle that reached terminal because the
// worker itself reported FINISHED has nothing left to tell it.
func (s *updateSender) drainTermination() {
	select {
	case abort := <-s.handle.terminateCh:
		s.sendTermination(abort)
	default:
	}
}

// sendTermination issues the final DELETE, best-effort: failures are
// swallowed since the handle is already
// terminal and nothing downstream is waiting on this outcome.
func (s *updateSender) sendTermination(abort bool) {
	h := s.handle

	uri := h.taskURI + "?abort=false"
	if abort {
		uri = h.taskURI + "?abort=true"
	}

	header := http.Header{}
	header.Set("Accept", h.codec.ContentType())

	ctx, cancel := context.WithTimeout(context.Background(), h.timeouts.TaskInfoRefreshMaxWait)
	defer cancel()

	start := h.clock.Now()
	resp, err := h.client.Do(ctx, http.MethodDelete, uri, header, nil)
	if err != nil {
		metrics.RecordRPC("update", http.MethodDelete, "error", h.clock.Since(start).Seconds())
		return
	}
	if resp.StatusCode >= 300 {
		metrics.RecordRPC("update", http.MethodDelete, "http_error", h.clock.Since(start).Seconds())
		return
	}

	var info TaskInfo
	if err := h.codec.UnmarshalReply(resp.Header.Get("Content-Type"), resp.Body, &info); err != nil {
		metrics.RecordRPC("update", http.MethodDelete, "decode_error", h.clock.Since(start).Seconds())
		return
	}
	metrics.RecordRPC("update", http.MethodDelete, "ok", h.clock.Since(start).Seconds())
	h.applyFinalInfo(info)
}
