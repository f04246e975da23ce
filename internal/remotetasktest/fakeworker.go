// Package remotetasktest provides a scriptable in-process stand-in for a
// Presto/Trino worker, so controller tests can exercise the real HTTP
// loops without a distributed-execution worker in the build.
package remotetasktest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/taskctl/remotetask/internal/remotetask"
	"github.com/taskctl/remotetask/internal/rpc"
)

// FakeWorker answers the three endpoints a TaskHandle speaks to
// (GET .../status, GET/POST/DELETE ...) and records every request it
// receives so tests can assert on exactly-once delivery, ordering, and
// terminal behavior.
type FakeWorker struct {
	mu sync.Mutex

	codec  rpc.Codec
	taskId remotetask.TaskId

	instanceId remotetask.TaskInstanceId
	version    uint64
	state      remotetask.TaskState

	statusReplies int
	flipAtReply   int
	flipVersion   uint64

	rejectFromReply int

	receivedUpdates []remotetask.TaskUpdateRequest
	receivedDeletes []bool
}

// NewFakeWorker constructs a worker starting in PLANNED state with a fixed
// bootstrap instanceId, speaking the given codec.
func NewFakeWorker(codec rpc.Codec, taskId remotetask.TaskId) *FakeWorker {
	return &FakeWorker{
		codec:      codec,
		taskId:     taskId,
		instanceId: remotetask.TaskInstanceId("worker-instance-1"),
		state:      remotetask.TaskStatePlanned,
	}
}

// FlipInstanceAt scripts scenarios B/C: starting with the given /status
// reply number (1-indexed), the worker reports a new instanceId and the
// given version instead of incrementing normally.
func (w *FakeWorker) FlipInstanceAt(reply int, newVersion uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flipAtReply = reply
	w.flipVersion = newVersion
}

// RejectAfter scripts scenario D: starting with the given /status reply
// number, the worker answers 503 Service Unavailable. The handle treats
// each 503 as a transient failure, so the task ages into REMOTE_TASK_ERROR
// once failures outlast MaxErrorDuration.
func (w *FakeWorker) RejectAfter(reply int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rejectFromReply = reply
}

// StartAtVersion scripts scenario C: the worker's status version starts at
// v instead of 0.
func (w *FakeWorker) StartAtVersion(v uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.version = v
}

// Server starts the httptest server backing this worker. Callers must
// Close() it.
func (w *FakeWorker) Server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/task/status", w.handleStatus)
	mux.HandleFunc("/task", w.handleTask)
	return httptest.NewServer(mux)
}

func (w *FakeWorker) currentStatusLocked() remotetask.TaskStatus {
	return remotetask.TaskStatus{
		TaskId:     w.taskId,
		InstanceId: w.instanceId,
		Version:    w.version,
		State:      w.state,
	}
}

func (w *FakeWorker) handleStatus(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.mu.Lock()
	w.statusReplies++
	reply := w.statusReplies

	if w.rejectFromReply > 0 && reply >= w.rejectFromReply {
		w.mu.Unlock()
		rw.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if w.flipAtReply > 0 && reply == w.flipAtReply {
		w.instanceId = remotetask.TaskInstanceId("worker-instance-2")
		w.version = w.flipVersion
	}

	status := w.currentStatusLocked()
	w.mu.Unlock()

	w.writeBody(rw, status)
}

func (w *FakeWorker) handleTask(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.mu.Lock()
		info := remotetask.TaskInfo{TaskStatus: w.currentStatusLocked()}
		w.mu.Unlock()
		w.writeBody(rw, info)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		var req remotetask.TaskUpdateRequest
		if err := w.codec.Unmarshal(body, &req); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}

		w.mu.Lock()
		w.receivedUpdates = append(w.receivedUpdates, req)
		if w.state == remotetask.TaskStatePlanned {
			w.state = remotetask.TaskStateRunning
		}
		w.version++
		info := remotetask.TaskInfo{TaskStatus: w.currentStatusLocked()}
		w.mu.Unlock()
		w.writeBody(rw, info)

	case http.MethodDelete:
		abort := r.URL.Query().Get("abort") == "true"
		w.mu.Lock()
		w.receivedDeletes = append(w.receivedDeletes, abort)
		if abort {
			w.state = remotetask.TaskStateAborted
		} else {
			w.state = remotetask.TaskStateCanceled
		}
		w.version++
		info := remotetask.TaskInfo{TaskStatus: w.currentStatusLocked()}
		w.mu.Unlock()
		w.writeBody(rw, info)

	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (w *FakeWorker) writeBody(rw http.ResponseWriter, v interface{}) {
	body, err := w.codec.Marshal(v)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", w.codec.ContentType())
	rw.Write(body)
}

// ReceivedUpdates returns every TaskUpdateRequest POSTed so far, in
// arrival order.
func (w *FakeWorker) ReceivedUpdates() []remotetask.TaskUpdateRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]remotetask.TaskUpdateRequest, len(w.receivedUpdates))
	copy(out, w.receivedUpdates)
	return out
}

// ReceivedDeletes returns the abort flag of every DELETE seen so far.
func (w *FakeWorker) ReceivedDeletes() []bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]bool, len(w.receivedDeletes))
	copy(out, w.receivedDeletes)
	return out
}

// StatusReplyCount returns how many /status replies have been served.
func (w *FakeWorker) StatusReplyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusReplies
}

// FastTimeouts returns timing knobs tuned for quick, deterministic tests
// rather than production polling cadence.
func FastTimeouts() remotetask.Timeouts {
	return remotetask.Timeouts{
		StatusRefreshMaxWait:   20 * time.Millisecond,
		InfoUpdateInterval:     20 * time.Millisecond,
		TaskInfoRefreshMaxWait: 20 * time.Millisecond,
		MaxErrorDuration:       150 * time.Millisecond,
		RetryPolicy: remotetask.RetryPolicy{
			MinBackoff:    5 * time.Millisecond,
			MaxBackoff:    20 * time.Millisecond,
			BackoffFactor: 2.0,
			JitterFactor:  0.1,
		},
	}
}

// NewHandle wires a TaskHandle to this worker's server using FastTimeouts,
// reducing boilerplate in scenario tests.
func (w *FakeWorker) NewHandle(server *httptest.Server) *remotetask.TaskHandle {
	return remotetask.NewTaskHandle(remotetask.HandleConfig{
		TaskId:            w.taskId,
		TaskURI:           server.URL + "/task",
		InitialInstanceId: remotetask.TaskInstanceId("bootstrap"),
		InitialInfo:       remotetask.TaskInfo{},
		Client:            rpc.NewHTTPClient(time.Second, false),
		Codec:             w.codec,
		Clock:             rpc.SystemClock{},
		Timeouts:          FastTimeouts(),
	})
}
