package remotetask_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskctl/remotetask/internal/remotetask"
	"github.com/taskctl/remotetask/internal/remotetasktest"
	"github.com/taskctl/remotetask/internal/rpc"
)

func waitForTerminal(t *testing.T, h *remotetask.TaskHandle, within time.Duration) remotetask.TaskStatus {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		status := h.TaskStatusSnapshot()
		if status.State.IsDone() {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("handle did not reach terminal within %s (last state %s)", within, h.TaskStatusSnapshot().State)
	return remotetask.TaskStatus{}
}

// Happy path: splits, markers, then a graceful cancel.
func TestScenarioA_HappyPath(t *testing.T) {
	taskId := remotetask.TaskId{QueryId: "q", StageId: 1, PartitionId: 2, Attempt: 0}
	worker := remotetasktest.NewFakeWorker(&rpc.JSONCodec{}, taskId)
	server := worker.Server()
	defer server.Close()

	h := worker.NewHandle(server)
	h.Start()

	h.AddSplits(map[remotetask.PlanNodeId][]remotetask.SplitAssignment{
		"N1": {{ConnectorSplit: "split_a"}},
	})
	h.NoMoreSplitsForLifespan("N1", remotetask.Lifespan{GroupId: 3})
	h.NoMoreSplits("N1")
	h.Cancel()

	status := waitForTerminal(t, h, 2*time.Second)
	h.Wait()

	assert.Equal(t, remotetask.TaskStateCanceled, status.State)
	assert.Empty(t, status.Failures)

	deletes := worker.ReceivedDeletes()
	require.NotEmpty(t, deletes)
	assert.False(t, deletes[len(deletes)-1], "cancel() must send abort=false")

	var sawSplit, sawLifespanMarker, sawSourceMarker bool
	for _, req := range worker.ReceivedUpdates() {
		for _, src := range req.Sources {
			if src.PlanNodeId != "N1" {
				continue
			}
			if len(src.Splits) > 0 {
				sawSplit = true
			}
			if len(src.NoMoreSplitsForLifespan) > 0 {
				sawLifespanMarker = true
			}
			if src.NoMoreSplits {
				sawSourceMarker = true
			}
		}
	}
	assert.True(t, sawSplit, "worker must receive split_a")
	assert.True(t, sawLifespanMarker, "worker must receive the per-lifespan no-more-splits marker")
	assert.True(t, sawSourceMarker, "worker must receive the per-source no-more-splits marker")
}

// The worker flips its instanceId mid-flight; the handle must fail with
// REMOTE_TASK_MISMATCH.
func TestScenarioB_InstanceMismatch(t *testing.T) {
	taskId := remotetask.TaskId{QueryId: "q", StageId: 1, PartitionId: 0, Attempt: 0}
	worker := remotetasktest.NewFakeWorker(&rpc.JSONCodec{}, taskId)
	worker.FlipInstanceAt(10, 0)
	server := worker.Server()
	defer server.Close()

	h := worker.NewHandle(server)
	h.Start()

	status := waitForTerminal(t, h, 5*time.Second)
	h.Wait()

	assert.Equal(t, remotetask.TaskStateFailed, status.State)
	require.Len(t, status.Failures, 1)
	assert.Equal(t, remotetask.ErrRemoteTaskMismatch, status.Failures[0].Code)
	assert.True(t, h.TaskInfoSnapshot().TaskStatus.State.IsDone())
}

// Mismatch with a high initial version: guards against a naive "version
// only increased" check.
func TestScenarioC_MismatchWithHighInitialVersion(t *testing.T) {
	taskId := remotetask.TaskId{QueryId: "q", StageId: 1, PartitionId: 0, Attempt: 0}
	worker := remotetasktest.NewFakeWorker(&rpc.JSONCodec{}, taskId)
	worker.StartAtVersion(1_000_000)
	worker.FlipInstanceAt(10, 0)
	server := worker.Server()
	defer server.Close()

	h := worker.NewHandle(server)
	h.Start()

	status := waitForTerminal(t, h, 5*time.Second)
	h.Wait()

	assert.Equal(t, remotetask.TaskStateFailed, status.State)
	require.Len(t, status.Failures, 1)
	assert.Equal(t, remotetask.ErrRemoteTaskMismatch, status.Failures[0].Code)
}

// The worker becomes permanently unreachable, which must age into
// REMOTE_TASK_ERROR.
func TestScenarioD_RejectedExecution(t *testing.T) {
	taskId := remotetask.TaskId{QueryId: "q", StageId: 1, PartitionId: 0, Attempt: 0}
	worker := remotetasktest.NewFakeWorker(&rpc.JSONCodec{}, taskId)
	worker.RejectAfter(3)
	server := worker.Server()
	defer server.Close()

	h := worker.NewHandle(server)
	h.Start()

	status := waitForTerminal(t, h, 5*time.Second)
	h.Wait()

	assert.Equal(t, remotetask.TaskStateFailed, status.State)
	require.NotEmpty(t, status.Failures)
	assert.Equal(t, remotetask.ErrRemoteTaskError, status.Failures[len(status.Failures)-1].Code)
	assert.True(t, h.TaskStatusSnapshot().State.IsDone())
}

// Terminal stickiness under late replies: the worker keeps replying after
// the handle has already failed locally; the
// handle's update-application rule (exercised directly, in-package, by
// TestApplyStatus_IgnoredOnceTerminal) must refuse every one of them. This
// end-to-end variant confirms the same guarantee holds through the real
// StatusFetcher/InfoFetcher loops, not just the rule in isolation.
func TestScenarioF_TerminalStickinessUnderLateReply(t *testing.T) {
	taskId := remotetask.TaskId{QueryId: "q", StageId: 1, PartitionId: 0, Attempt: 0}
	worker := remotetasktest.NewFakeWorker(&rpc.JSONCodec{}, taskId)
	server := worker.Server()
	defer server.Close()

	h := worker.NewHandle(server)
	h.Start()
	h.Fail(assert.AnError)

	status := waitForTerminal(t, h, 2*time.Second)
	h.Wait()

	assert.Equal(t, remotetask.TaskStateFailed, status.State)
	// The fake worker keeps reporting PLANNED/RUNNING on every poll;
	// none of those late replies may ever be published once FAILED.
	final := h.TaskStatusSnapshot()
	assert.Equal(t, remotetask.TaskStateFailed, final.State)
	assert.Equal(t, status.Version, final.Version)
}

// With no planner activity after the creation update, the system stays
// quiescent: status long-polls keep running but no further POSTs go out.
func TestScenarioE_IdleConvergence(t *testing.T) {
	taskId := remotetask.TaskId{QueryId: "q", StageId: 1, PartitionId: 0, Attempt: 0}
	worker := remotetasktest.NewFakeWorker(&rpc.JSONCodec{}, taskId)
	server := worker.Server()
	defer server.Close()

	h := worker.NewHandle(server)
	h.Start()

	// Let the creation update and the first few polls land.
	time.Sleep(100 * time.Millisecond)
	updatesBefore := len(worker.ReceivedUpdates())
	pollsBefore := worker.StatusReplyCount()

	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, updatesBefore, len(worker.ReceivedUpdates()),
		"an idle handle must not issue further POSTs")
	assert.Greater(t, worker.StatusReplyCount(), pollsBefore,
		"status long-polling continues while idle")

	h.Cancel()
	waitForTerminal(t, h, 2*time.Second)
	h.Wait()
}

// Closing the shared RPC client mid-execution is a rejected-execution
// failure: the handle must end FAILED with REMOTE_TASK_ERROR at once,
// without waiting out the transient-error window.
func TestRPCClientClosed_FailsWithRemoteTaskError(t *testing.T) {
	taskId := remotetask.TaskId{QueryId: "q", StageId: 1, PartitionId: 0, Attempt: 0}
	worker := remotetasktest.NewFakeWorker(&rpc.JSONCodec{}, taskId)
	server := worker.Server()
	defer server.Close()

	client := rpc.NewHTTPClient(time.Second, false)
	h := remotetask.NewTaskHandle(remotetask.HandleConfig{
		TaskId:            taskId,
		TaskURI:           server.URL + "/task",
		InitialInstanceId: remotetask.TaskInstanceId("bootstrap"),
		Client:            client,
		Codec:             &rpc.JSONCodec{},
		Clock:             rpc.SystemClock{},
		Timeouts:          remotetasktest.FastTimeouts(),
	})
	h.Start()

	time.Sleep(50 * time.Millisecond)
	client.Close()

	status := waitForTerminal(t, h, 2*time.Second)
	h.Wait()

	assert.Equal(t, remotetask.TaskStateFailed, status.State)
	require.NotEmpty(t, status.Failures)
	assert.Equal(t, remotetask.ErrRemoteTaskError, status.Failures[0].Code)
}
