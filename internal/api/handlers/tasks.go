package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/taskctl/remotetask/internal/events"
	"github.com/taskctl/remotetask/internal/logger"
	"github.com/taskctl/remotetask/internal/metrics"
	"github.com/taskctl/remotetask/internal/remotetask"
)

// TaskHandler exposes the planner-facing control surface: create a
// TaskHandle, mutate its pending intent, and read back its status/info,
// all by delegating to the Factory/Registry.
type TaskHandler struct {
	factory   *remotetask.Factory
	publisher *events.RedisPubSub
}

// NewTaskHandler creates a new task handler. publisher may be nil, in
// which case per-operation progress events are simply not published.
func NewTaskHandler(factory *remotetask.Factory, publisher *events.RedisPubSub) *TaskHandler {
	return &TaskHandler{factory: factory, publisher: publisher}
}

// CreateTaskRequest is the wire shape for POST /api/v1/tasks.
type CreateTaskRequest struct {
	TaskId          string                   `json:"taskId"`
	TaskURI         string                   `json:"taskUri"`
	Session         map[string]string        `json:"session,omitempty"`
	Fragment        []byte                   `json:"fragment,omitempty"`
	TotalPartitions int                      `json:"totalPartitions,omitempty"`
	OutputBuffers   remotetask.OutputBuffers `json:"outputBuffers,omitempty"`
}

// Create handles POST /api/v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.TaskURI == "" {
		h.respondError(w, http.StatusBadRequest, "taskUri is required")
		return
	}

	taskId, err := remotetask.ParseTaskId(req.TaskId)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := h.factory.CreateTask(remotetask.CreateTaskRequest{
		TaskId:          taskId,
		TaskURI:         req.TaskURI,
		Session:         req.Session,
		Fragment:        req.Fragment,
		TotalPartitions: req.TotalPartitions,
		OutputBuffers:   req.OutputBuffers,
	})
	if err != nil {
		logger.Error().Err(err).Str("task_id", req.TaskId).Msg("failed to create task handle")
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	log := logger.WithTask(taskId.String())
	log.Info().Str("uri", req.TaskURI).Msg("task created via admin API")
	h.respondJSON(w, http.StatusCreated, taskResponse(handle))
}

// Get handles GET /api/v1/tasks/{taskId}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, taskResponse(handle))
}

// AddSplitsRequest is the wire shape for POST /api/v1/tasks/{taskId}/splits.
type AddSplitsRequest struct {
	Splits map[remotetask.PlanNodeId][]SplitPayload `json:"splits"`
}

// SplitPayload is one planner-supplied split assignment.
type SplitPayload struct {
	ConnectorSplit interface{}         `json:"connectorSplit"`
	Lifespan       remotetask.Lifespan `json:"lifespan,omitempty"`
}

// AddSplits handles POST /api/v1/tasks/{taskId}/splits.
func (h *TaskHandler) AddSplits(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req AddSplitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bySource := make(map[remotetask.PlanNodeId][]remotetask.SplitAssignment, len(req.Splits))
	for planNodeId, payloads := range req.Splits {
		assignments := make([]remotetask.SplitAssignment, 0, len(payloads))
		for _, p := range payloads {
			assignments = append(assignments, remotetask.SplitAssignment{
				ConnectorSplit: p.ConnectorSplit,
				Lifespan:       p.Lifespan,
			})
		}
		bySource[planNodeId] = assignments
	}

	handle.AddSplits(bySource)

	if h.publisher != nil {
		total := 0
		for _, assignments := range bySource {
			total += len(assignments)
		}
		if err := h.publisher.PublishSplitsEvent(r.Context(), handle.TaskId().String(), total); err != nil {
			metrics.RecordEventBusError("publish_splits_event")
		}
	}
	h.respondJSON(w, http.StatusAccepted, taskResponse(handle))
}

// NoMoreSplitsRequest is the wire shape for
// POST /api/v1/tasks/{taskId}/no-more-splits.
type NoMoreSplitsRequest struct {
	PlanNodeId remotetask.PlanNodeId `json:"planNodeId"`
	// Lifespan scopes the marker to a single scheduling group; omitted
	// means the whole source has no more splits.
	Lifespan *remotetask.Lifespan `json:"lifespan,omitempty"`
}

// NoMoreSplits handles POST /api/v1/tasks/{taskId}/no-more-splits.
func (h *TaskHandler) NoMoreSplits(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req NoMoreSplitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlanNodeId == "" {
		h.respondError(w, http.StatusBadRequest, "planNodeId is required")
		return
	}

	if req.Lifespan != nil {
		handle.NoMoreSplitsForLifespan(req.PlanNodeId, *req.Lifespan)
	} else {
		handle.NoMoreSplits(req.PlanNodeId)
	}
	h.respondJSON(w, http.StatusAccepted, taskResponse(handle))
}

// SetOutputBuffers handles POST /api/v1/tasks/{taskId}/output-buffers.
func (h *TaskHandler) SetOutputBuffers(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var buffers remotetask.OutputBuffers
	if err := json.NewDecoder(r.Body).Decode(&buffers); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	handle.SetOutputBuffers(buffers)

	if h.publisher != nil {
		if err := h.publisher.PublishBuffersEvent(r.Context(), handle.TaskId().String(), buffers.Version); err != nil {
			metrics.RecordEventBusError("publish_buffers_event")
		}
	}
	h.respondJSON(w, http.StatusAccepted, taskResponse(handle))
}

// Terminate handles DELETE /api/v1/tasks/{taskId}?abort=true|false.
func (h *TaskHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var abort bool
	if err := runtime.BindQueryParameter("form", false, false, "abort", r.URL.Query(), &abort); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid abort query parameter")
		return
	}

	if abort {
		handle.Abort()
	} else {
		handle.Cancel()
	}
	h.respondJSON(w, http.StatusAccepted, taskResponse(handle))
}

// ListFilter binds the state/node query parameters of GET /api/v1/tasks.
type ListFilter struct {
	State *string `json:"state,omitempty"`
	Node  *string `json:"node,omitempty"`
}

// ListResponse is the response envelope for GET /api/v1/tasks.
type ListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// List handles GET /api/v1/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := bindListFilter(r.URL.Query())
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := ""
	if filter.State != nil {
		state = *filter.State
	}
	node := ""
	if filter.Node != nil {
		node = *filter.Node
	}

	handles := h.factory.Registry().List(remotetask.TaskState(state), node)
	resp := ListResponse{Tasks: make([]TaskResponse, 0, len(handles))}
	for _, handle := range handles {
		resp.Tasks = append(resp.Tasks, taskResponse(handle))
	}
	resp.Count = len(resp.Tasks)
	h.respondJSON(w, http.StatusOK, resp)
}

func bindListFilter(query url.Values) (ListFilter, error) {
	var filter ListFilter
	if query.Has("state") {
		var state string
		if err := runtime.BindQueryParameter("form", false, false, "state", query, &state); err != nil {
			return filter, err
		}
		filter.State = &state
	}
	if query.Has("node") {
		var node string
		if err := runtime.BindQueryParameter("form", false, false, "node", query, &node); err != nil {
			return filter, err
		}
		filter.Node = &node
	}
	return filter, nil
}

func (h *TaskHandler) lookup(w http.ResponseWriter, r *http.Request) (*remotetask.TaskHandle, bool) {
	raw := chi.URLParam(r, "taskId")
	taskId, err := remotetask.ParseTaskId(raw)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	handle, ok := h.factory.Registry().Get(taskId)
	if !ok {
		h.respondError(w, http.StatusNotFound, "task not found")
		return nil, false
	}
	return handle, true
}

// TaskResponse is the planner-facing projection of a TaskHandle's status
// and info.
type TaskResponse struct {
	TaskId  string                `json:"taskId"`
	TaskURI string                `json:"taskUri"`
	Status  remotetask.TaskStatus `json:"status"`
	Info    remotetask.TaskInfo   `json:"info"`
}

func taskResponse(handle *remotetask.TaskHandle) TaskResponse {
	return TaskResponse{
		TaskId:  handle.TaskId().String(),
		TaskURI: handle.TaskURI(),
		Status:  handle.TaskStatusSnapshot(),
		Info:    handle.TaskInfoSnapshot(),
	}
}

// ErrorResponse is the uniform error envelope of the admin API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
