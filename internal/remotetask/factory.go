package remotetask

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/taskctl/remotetask/internal/events"
	"github.com/taskctl/remotetask/internal/logger"
	"github.com/taskctl/remotetask/internal/metrics"
	"github.com/taskctl/remotetask/internal/rpc"
)

// FactoryConfig bundles the shared capabilities every TaskHandle the
// Factory creates will use: RPC client, codec, clock, timeouts. Publisher
// is optional: a nil Publisher simply means no handle fans events out to
// the transient event bus.
type FactoryConfig struct {
	Client    rpc.Client
	Codec     rpc.Codec
	Clock     rpc.Clock
	Timeouts  Timeouts
	Publisher *events.RedisPubSub
}

// eventTypeForState maps a TaskState to the event bus type published on
// transition into it.
func eventTypeForState(state TaskState) events.EventType {
	switch state {
	case TaskStateRunning:
		return events.EventTaskRunning
	case TaskStateFinished:
		return events.EventTaskFinished
	case TaskStateCanceled:
		return events.EventTaskCanceled
	case TaskStateAborted:
		return events.EventTaskAborted
	case TaskStateFailed:
		return events.EventTaskFailed
	default:
		return events.EventTaskCreated
	}
}

// CreateTaskRequest is what a planner supplies to stand up a new
// TaskHandle for a worker-hosted task.
type CreateTaskRequest struct {
	TaskId          TaskId
	TaskURI         string
	Session         map[string]string
	Fragment        []byte
	TotalPartitions int
	OutputBuffers   OutputBuffers
	InitialInfo     TaskInfo
}

// Registry tracks every live TaskHandle by TaskId. It is the Factory's
// bookkeeping half: Factory constructs, Registry remembers.
type Registry struct {
	mu      sync.RWMutex
	handles map[TaskId]*TaskHandle
}

func newRegistry() *Registry {
	return &Registry{handles: make(map[TaskId]*TaskHandle)}
}

func (r *Registry) put(h *TaskHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.TaskId()] = h
	metrics.SetActiveHandles(float64(len(r.handles)))
}

func (r *Registry) remove(id TaskId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
	metrics.SetActiveHandles(float64(len(r.handles)))
}

// Get returns the handle registered for id, if it is still live.
func (r *Registry) Get(id TaskId) (*TaskHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// List returns a snapshot of every live handle, optionally filtered by
// state and/or the worker-reported TaskStatus.NodeId. An empty filter
// value matches everything.
func (r *Registry) List(state TaskState, node string) []*TaskHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TaskHandle, 0, len(r.handles))
	for _, h := range r.handles {
		status := h.TaskStatusSnapshot()
		if state != "" && status.State != state {
			continue
		}
		if node != "" && status.NodeId != node {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Factory owns the shared RPC client/codec/clock, constructs TaskHandles,
// and is the one place a graceful shutdown fans out from.
type Factory struct {
	cfg      FactoryConfig
	registry *Registry

	mu      sync.Mutex
	stopped bool
}

// NewFactory constructs a Factory around shared capabilities. The
// Factory, not the caller, owns cfg.Client's shutdown: Stop closes it
// once every handle has drained.
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{
		cfg:      cfg,
		registry: newRegistry(),
	}
}

// Registry exposes the live-handle bookkeeping for listing/lookup, e.g.
// from the admin HTTP API.
func (f *Factory) Registry() *Registry { return f.registry }

// CreateTask builds and starts a TaskHandle for req, registers it in the
// Registry, and arranges for it to be dropped from the Registry once it
// has drained terminal.
func (f *Factory) CreateTask(req CreateTaskRequest) (*TaskHandle, error) {
	f.mu.Lock()
	stopped := f.stopped
	f.mu.Unlock()
	if stopped {
		return nil, fmt.Errorf("factory is stopped, refusing to create task %s", req.TaskId)
	}

	// A worker's real instanceId is not known until its first reply;
	// the bootstrap value is discarded on first contact and never
	// triggers a mismatch (TaskHandle.applyStatus only starts comparing
	// instanceIds once one has actually been observed).
	bootstrapInstanceId := TaskInstanceId("bootstrap-" + uuid.NewString())

	h := NewTaskHandle(HandleConfig{
		TaskId:            req.TaskId,
		TaskURI:           req.TaskURI,
		InitialInstanceId: bootstrapInstanceId,
		InitialInfo:       req.InitialInfo,
		Session:           req.Session,
		Fragment:          req.Fragment,
		TotalPartitions:   req.TotalPartitions,
		OutputBuffers:     req.OutputBuffers,
		Client:            f.cfg.Client,
		Codec:             f.cfg.Codec,
		Clock:             f.cfg.Clock,
		Timeouts:          f.cfg.Timeouts,
	})

	if f.cfg.Publisher != nil {
		taskIdStr := req.TaskId.String()
		h.AddStateChangeListener(func(status TaskStatus) {
			// Listeners may be invoked from more than one loop goroutine, so
			// this only reports the state reached, not the prior one: a
			// "from" derived from handle-local mutable state would race.
			if err := f.cfg.Publisher.PublishTaskEvent(context.Background(), eventTypeForState(status.State),
				taskIdStr, "", string(status.State), nil); err != nil {
				metrics.RecordEventBusError("publish_task_event")
			}
		})
		h.AddMismatchListener(func(taskId TaskId, expectedInstanceId, observedInstanceId TaskInstanceId) {
			if err := f.cfg.Publisher.PublishMismatchEvent(context.Background(), taskId.String(),
				string(expectedInstanceId), string(observedInstanceId)); err != nil {
				metrics.RecordEventBusError("publish_mismatch_event")
			}
		})
		h.AddInfoListener(func(info TaskInfo) {
			if err := f.cfg.Publisher.PublishInfoEvent(context.Background(), taskIdStr,
				int64(info.TaskStatus.Version), string(info.TaskStatus.State)); err != nil {
				metrics.RecordEventBusError("publish_info_event")
			}
		})
	}

	f.registry.put(h)
	h.Start()

	go func() {
		h.Wait()
		f.registry.remove(req.TaskId)
	}()

	log := logger.WithTask(req.TaskId.String())
	log.Info().
		Str("uri", req.TaskURI).
		Msg("task handle created")

	return h, nil
}

// Stop aborts every live handle, waits for all of them to drain, then
// releases the shared RPC client. Idempotent.
func (f *Factory) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.mu.Unlock()

	handles := f.registry.List("", "")
	for _, h := range handles {
		h.Abort()
	}
	for _, h := range handles {
		h.Wait()
	}
	f.cfg.Client.Close()
}
