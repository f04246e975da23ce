package remotetask_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskctl/remotetask/internal/remotetask"
	"github.com/taskctl/remotetask/internal/remotetasktest"
	"github.com/taskctl/remotetask/internal/rpc"
)

// Each ScheduledSplit.SequenceId appears in at most one POST body, even
// across several AddSplits bursts and the backoff/retry machinery.
func TestProperty_SplitExactlyOnceOnWire(t *testing.T) {
	taskId := remotetask.TaskId{QueryId: "q", StageId: 1, PartitionId: 0, Attempt: 0}
	worker := remotetasktest.NewFakeWorker(&rpc.JSONCodec{}, taskId)
	server := worker.Server()
	defer server.Close()

	h := worker.NewHandle(server)
	h.Start()

	h.AddSplits(map[remotetask.PlanNodeId][]remotetask.SplitAssignment{
		"N1": {{ConnectorSplit: "a"}, {ConnectorSplit: "b"}},
	})
	time.Sleep(30 * time.Millisecond)
	h.AddSplits(map[remotetask.PlanNodeId][]remotetask.SplitAssignment{
		"N1": {{ConnectorSplit: "c"}},
		"N2": {{ConnectorSplit: "d"}, {ConnectorSplit: "e"}},
	})
	h.NoMoreSplits("N1")
	h.NoMoreSplits("N2")
	h.Cancel()

	waitForTerminal(t, h, 2*time.Second)
	h.Wait()

	seen := make(map[int64]int)
	for _, req := range worker.ReceivedUpdates() {
		for _, src := range req.Sources {
			for _, split := range src.Splits {
				seen[split.SequenceId]++
			}
		}
	}
	for seq, count := range seen {
		assert.Equal(t, 1, count, "sequenceId %d must appear in exactly one POST body", seq)
	}
	assert.Len(t, seen, 5, "all five enqueued splits must eventually reach the worker")
}

// For any sequence of published statuses with equal instanceId, versions
// are non-decreasing.
func TestProperty_VersionMonotonicity(t *testing.T) {
	taskId := remotetask.TaskId{QueryId: "q", StageId: 1, PartitionId: 0, Attempt: 0}
	worker := remotetasktest.NewFakeWorker(&rpc.JSONCodec{}, taskId)
	server := worker.Server()
	defer server.Close()

	h := worker.NewHandle(server)

	var mu sync.Mutex
	var versions []uint64
	h.AddStateChangeListener(func(status remotetask.TaskStatus) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, status.Version)
	})

	h.Start()
	h.AddSplits(map[remotetask.PlanNodeId][]remotetask.SplitAssignment{"N1": {{ConnectorSplit: "a"}}})
	h.Cancel()
	waitForTerminal(t, h, 2*time.Second)
	h.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.GreaterOrEqual(t, versions[i], versions[i-1], "version must never decrease across published statuses")
	}
}
