package remotetask

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskctl/remotetask/internal/logger"
	"github.com/taskctl/remotetask/internal/metrics"
	"github.com/taskctl/remotetask/internal/rpc"
)

// SplitAssignment is a planner-supplied unit of input work, prior to the
// controller assigning it a sequence id.
type SplitAssignment struct {
	ConnectorSplit interface{}
	Lifespan       Lifespan
}

// Timeouts bundles the per-handle timing knobs, all injected rather than
// hardcoded.
type Timeouts struct {
	StatusRefreshMaxWait   time.Duration
	InfoUpdateInterval     time.Duration
	TaskInfoRefreshMaxWait time.Duration
	MaxErrorDuration       time.Duration
	RetryPolicy            RetryPolicy
}

// HandleConfig is everything the Factory needs to construct a TaskHandle.
type HandleConfig struct {
	TaskId            TaskId
	TaskURI           string // e.g. http://worker-1:8080/v1/task/{nodeId}/{taskId}
	InitialInstanceId TaskInstanceId
	InitialInfo       TaskInfo
	Session           map[string]string
	Fragment          []byte
	TotalPartitions   int
	OutputBuffers     OutputBuffers

	Client   rpc.Client
	Codec    rpc.Codec
	Clock    rpc.Clock
	Timeouts Timeouts
}

// TaskHandle is the per-task facade: it owns intent, exposes operations to
// the planner, orchestrates the three loops, and holds the authoritative
// client-side TaskStatus and TaskInfo.
type TaskHandle struct {
	taskId  TaskId
	taskURI string

	client rpc.Client
	codec  rpc.Codec
	clock  rpc.Clock

	timeouts Timeouts

	// mu protects the handle's shared state: status, info, pending splits
	// per source, noMoreSplits flags, output buffers, the dirty counters,
	// and instanceId bookkeeping.
	mu              sync.Mutex
	taskStatus      TaskStatus
	taskInfo        TaskInfo
	instanceFixed   bool
	sources         map[PlanNodeId]TaskSource
	sequences       sequenceAllocator
	outputBuffers   OutputBuffers
	session         map[string]string
	fragment        []byte
	fragmentNeeded  bool
	totalPartitions int

	pendingUpdateCount int64 // atomic
	sentSeq            map[PlanNodeId]int64

	listeners         *listenerSet
	mismatchListeners *mismatchListenerSet
	infoListeners     *infoListenerSet

	startOnce    sync.Once
	terminalOnce sync.Once
	stopCh       chan struct{}
	terminateCh  chan bool    // true=abort, false=cancel
	dirtyCh      chan struct{}
	wg           sync.WaitGroup

	createdAt time.Time
}

// NewTaskHandle constructs a TaskHandle in PLANNED state. It does not start
// the loops; call Start for that.
func NewTaskHandle(cfg HandleConfig) *TaskHandle {
	status := cfg.InitialInfo.TaskStatus
	if status.State == "" {
		status.State = TaskStatePlanned
	}
	status.InstanceId = cfg.InitialInstanceId
	status.TaskId = cfg.TaskId

	info := cfg.InitialInfo
	info.TaskStatus = status

	h := &TaskHandle{
		taskId:            cfg.TaskId,
		taskURI:           cfg.TaskURI,
		client:            cfg.Client,
		codec:             cfg.Codec,
		clock:             cfg.Clock,
		timeouts:          cfg.Timeouts,
		taskStatus:        status,
		taskInfo:          info,
		sources:           make(map[PlanNodeId]TaskSource),
		sentSeq:           make(map[PlanNodeId]int64),
		outputBuffers:     cfg.OutputBuffers,
		session:           cfg.Session,
		fragment:          cfg.Fragment,
		fragmentNeeded:    len(cfg.Fragment) > 0,
		totalPartitions:   cfg.TotalPartitions,
		listeners:         &listenerSet{},
		mismatchListeners: &mismatchListenerSet{},
		infoListeners:     &infoListenerSet{},
		stopCh:            make(chan struct{}),
		terminateCh:       make(chan bool, 1),
		dirtyCh:           make(chan struct{}, 1),
		createdAt:         cfg.Clock.Now(),
	}
	return h
}

// TaskId returns the identifier this handle was created for.
func (h *TaskHandle) TaskId() TaskId { return h.taskId }

// TaskURI returns the worker endpoint this handle was created against.
func (h *TaskHandle) TaskURI() string { return h.taskURI }

// Start idempotently launches the Status, Info, and Update loops. After
// terminal, it is a no-op.
func (h *TaskHandle) Start() {
	if h.isTerminal() {
		return
	}
	h.startOnce.Do(func() {
		sf := &statusFetcher{handle: h}
		infof := &infoFetcher{handle: h}
		us := &updateSender{handle: h}

		h.wg.Add(3)
		go func() { defer h.wg.Done(); sf.run() }()
		go func() { defer h.wg.Done(); infof.run() }()
		go func() { defer h.wg.Done(); us.run() }()
	})
}

// Wait blocks until all three loops have exited, i.e. the handle has
// drained after entering terminal.
func (h *TaskHandle) Wait() {
	h.wg.Wait()
}

func (h *TaskHandle) isTerminal() bool {
	select {
	case <-h.stopCh:
		return true
	default:
		return false
	}
}

// AddSplits extends pending intent with planner-supplied splits, assigning
// each a strictly increasing sequence id. Fails silently if the handle is
// already terminal.
func (h *TaskHandle) AddSplits(bySource map[PlanNodeId][]SplitAssignment) {
	if h.isTerminal() {
		return
	}
	total := 0
	h.mu.Lock()
	for planNodeId, assignments := range bySource {
		incoming := TaskSource{PlanNodeId: planNodeId}
		for _, a := range assignments {
			seq := h.sequences.allocate()
			incoming.Splits = append(incoming.Splits, ScheduledSplit{
				SequenceId:     seq,
				ConnectorSplit: a.ConnectorSplit,
				Lifespan:       a.Lifespan,
			})
			total++
		}
		merged := mergeSource(h.sources[planNodeId], incoming)
		merged.PlanNodeId = planNodeId
		h.sources[planNodeId] = merged
		metrics.RecordSplitsEnqueued(string(planNodeId), len(assignments))
	}
	h.mu.Unlock()

	if total > 0 {
		h.markDirty()
	}
}

// NoMoreSplitsForLifespan sets the monotonic per-(source, lifespan) marker.
// Callable repeatedly; idempotent.
func (h *TaskHandle) NoMoreSplitsForLifespan(planNodeId PlanNodeId, lifespan Lifespan) {
	if h.isTerminal() {
		return
	}
	h.mu.Lock()
	merged := mergeSource(h.sources[planNodeId], TaskSource{
		PlanNodeId:              planNodeId,
		NoMoreSplitsForLifespan: []Lifespan{lifespan},
	})
	merged.PlanNodeId = planNodeId
	h.sources[planNodeId] = merged
	h.mu.Unlock()
	h.markDirty()
}

// NoMoreSplits sets the monotonic per-source marker. Callable repeatedly;
// idempotent.
func (h *TaskHandle) NoMoreSplits(planNodeId PlanNodeId) {
	if h.isTerminal() {
		return
	}
	h.mu.Lock()
	merged := mergeSource(h.sources[planNodeId], TaskSource{
		PlanNodeId:   planNodeId,
		NoMoreSplits: true,
	})
	merged.PlanNodeId = planNodeId
	h.sources[planNodeId] = merged
	h.mu.Unlock()
	h.markDirty()
}

// SetOutputBuffers only accepts a newer-or-equal buffer descriptor; an
// older one is discarded.
func (h *TaskHandle) SetOutputBuffers(buffers OutputBuffers) {
	if h.isTerminal() {
		return
	}
	h.mu.Lock()
	accept := buffers.isNewerOrEqual(h.outputBuffers)
	if accept {
		h.outputBuffers = buffers
	}
	h.mu.Unlock()

	if accept {
		h.markDirty()
	}
}

// Cancel requests graceful termination: DELETE ?abort=false, expected end
// state CANCELED. Non-blocking.
func (h *TaskHandle) Cancel() {
	h.requestTermination(false)
}

// Abort requests forceful termination: DELETE ?abort=true, expected end
// state ABORTED. Non-blocking.
func (h *TaskHandle) Abort() {
	h.requestTermination(true)
}

func (h *TaskHandle) requestTermination(abort bool) {
	if h.isTerminal() {
		return
	}
	select {
	case h.terminateCh <- abort:
	default:
		// A termination request is already pending. A planner calls at
		// most one of Cancel/Abort per task, so the abort-vs-cancel race
		// here is theoretical.
	}
}

// Fail synthesizes a FAILED TaskStatus locally and enters terminal without
// waiting for the worker.
func (h *TaskHandle) Fail(cause error) {
	h.fail(ErrLocalFailure, cause)
}

// TaskStatusSnapshot returns the last published TaskStatus.
func (h *TaskHandle) TaskStatusSnapshot() TaskStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.taskStatus
}

// TaskInfoSnapshot returns the last published TaskInfo.
func (h *TaskHandle) TaskInfoSnapshot() TaskInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.taskInfo
}

// AddStateChangeListener registers l to fire on every state transition.
func (h *TaskHandle) AddStateChangeListener(l StateChangeListener) {
	h.listeners.add(l)
}

// AddMismatchListener registers l to fire whenever applyStatus rejects a
// reply as an instance/version mismatch, immediately before the handle
// fails with REMOTE_TASK_MISMATCH.
func (h *TaskHandle) AddMismatchListener(l MismatchListener) {
	h.mismatchListeners.add(l)
}

// AddInfoListener registers l to fire after every TaskInfo reply that
// InfoFetcher receives, including a reply whose status the handle rejects.
func (h *TaskHandle) AddInfoListener(l InfoListener) {
	h.infoListeners.add(l)
}

func (h *TaskHandle) markDirty() {
	atomic.AddInt64(&h.pendingUpdateCount, 1)
	select {
	case h.dirtyCh <- struct{}{}:
	default:
	}
}

func (h *TaskHandle) pendingCount() int64 {
	return atomic.LoadInt64(&h.pendingUpdateCount)
}

// buildUpdateRequest snapshots the outgoing request under lock: only
// not-yet-sent splits per source (tracked by sentSeq), the current
// monotonic no-more-splits markers, the latest output buffers, and the
// fragment iff it has never been acknowledged. When
// markSent is true, sentSeq is advanced so those splits are never
// resent, whatever the RPC outcome.
func (h *TaskHandle) buildUpdateRequest(markSent bool) TaskUpdateRequest {
	h.mu.Lock()
	defer h.mu.Unlock()

	req := TaskUpdateRequest{
		Session:         h.session,
		OutputBuffers:   h.outputBuffers,
		TotalPartitions: h.totalPartitions,
	}
	if h.fragmentNeeded {
		req.Fragment = h.fragment
	}

	planNodeIds := make([]PlanNodeId, 0, len(h.sources))
	for id := range h.sources {
		planNodeIds = append(planNodeIds, id)
	}
	sort.Slice(planNodeIds, func(i, j int) bool { return planNodeIds[i] < planNodeIds[j] })

	for _, planNodeId := range planNodeIds {
		src := h.sources[planNodeId]
		lastSent := h.sentSeq[planNodeId]

		var unsent []ScheduledSplit
		maxSeq := lastSent
		for _, split := range src.Splits {
			if split.SequenceId > lastSent {
				unsent = append(unsent, split)
				if split.SequenceId > maxSeq {
					maxSeq = split.SequenceId
				}
			}
		}

		// A marker the worker has already acknowledged (mirrored back on
		// TaskInfo.NoMoreSplits) is not sent again.
		noMore := src.NoMoreSplits && !h.taskInfo.NoMoreSplits[string(planNodeId)]

		req.Sources = append(req.Sources, TaskSource{
			PlanNodeId:              planNodeId,
			Splits:                  unsent,
			NoMoreSplitsForLifespan: append([]Lifespan{}, src.NoMoreSplitsForLifespan...),
			NoMoreSplits:            noMore,
		})

		if markSent {
			h.sentSeq[planNodeId] = maxSeq
		}
	}

	return req
}

// applyStatus is the single update-application rule shared by the three
// loops. It returns true iff the status was accepted
// and published; false if the handle was already terminal or this status
// triggered a mismatch failure.
func (h *TaskHandle) applyStatus(newStatus TaskStatus) bool {
	h.mu.Lock()
	if h.taskStatus.State.IsDone() {
		h.mu.Unlock()
		return false
	}

	known := h.taskStatus
	mismatch := false
	if newStatus.InstanceId != known.InstanceId {
		if h.instanceFixed {
			mismatch = true
		} else {
			h.instanceFixed = true
		}
	} else if newStatus.Version < known.Version {
		mismatch = true
	}

	if mismatch {
		h.mu.Unlock()
		metrics.RecordMismatch()
		h.mismatchListeners.notify(h.taskId, known.InstanceId, newStatus.InstanceId)
		h.fail(ErrRemoteTaskMismatch, fmt.Errorf(
			"instance/version mismatch: known instance=%q version=%d, observed instance=%q version=%d",
			known.InstanceId, known.Version, newStatus.InstanceId, newStatus.Version))
		return false
	}

	from := known.State
	h.taskStatus = newStatus
	h.taskInfo.TaskStatus = newStatus
	done := newStatus.State.IsDone()
	h.mu.Unlock()

	if from != newStatus.State {
		metrics.RecordStateTransition(string(from), string(newStatus.State))
		h.listeners.notify(newStatus)
	}
	if done {
		h.enterTerminal(newStatus)
	}
	return true
}

// updateInfo applies a TaskInfo reply: the embedded TaskStatus passes
// through applyStatus; the full TaskInfo is stored only if that status was
// accepted.
func (h *TaskHandle) updateInfo(info TaskInfo) {
	if !h.applyStatus(info.TaskStatus) {
		return
	}
	h.mu.Lock()
	h.taskInfo = info
	if info.NeedsPlan == false {
		h.fragmentNeeded = false
	}
	h.mu.Unlock()
}

// applyFinalInfo stores the worker-reported final TaskInfo captured by
// InfoFetcher's post-terminal fetch. It never reopens the state machine
// and never lets a stale or foreign reply rewind the published status.
func (h *TaskHandle) applyFinalInfo(info TaskInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.taskStatus.State.IsDone() {
		return
	}
	if info.TaskStatus.InstanceId != h.taskStatus.InstanceId {
		return
	}
	if !info.TaskStatus.State.IsDone() || info.TaskStatus.Version < h.taskStatus.Version {
		// The worker's reply predates the locally established terminal
		// state; take its stats but keep the published status.
		info.TaskStatus = h.taskStatus
	}
	h.taskInfo = info
}

// fail funnels every error path into terminal FAILED. Idempotent: only the
// first call establishes terminal state; subsequent calls append to
// failures[] but never change the published state.
func (h *TaskHandle) fail(code ErrorCode, cause error) {
	h.mu.Lock()
	failure := TaskFailure{Code: code, Message: causeMessage(cause)}

	if h.taskStatus.State.IsDone() {
		h.taskStatus.Failures = append(h.taskStatus.Failures, failure)
		h.taskInfo.TaskStatus = h.taskStatus
		h.mu.Unlock()
		return
	}

	failed := h.taskStatus
	from := failed.State
	failed.State = TaskStateFailed
	failed.Version++
	failed.Failures = append(append([]TaskFailure{}, failed.Failures...), failure)
	h.taskStatus = failed
	h.taskInfo.TaskStatus = failed
	h.mu.Unlock()

	log := logger.WithTask(h.taskId.String())
	log.Error().
		Str("code", string(code)).
		Err(cause).
		Msg("task handle entering FAILED")

	metrics.RecordStateTransition(string(from), string(TaskStateFailed))
	h.listeners.notify(failed)
	h.enterTerminal(failed)
}

// enterTerminal closes stopCh exactly once, unblocking every loop's select
// and marking the handle read-only.
func (h *TaskHandle) enterTerminal(status TaskStatus) {
	h.terminalOnce.Do(func() {
		close(h.stopCh)
		metrics.RecordTerminal(string(status.State), h.clock.Since(h.createdAt).Seconds())
	})
}

func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
