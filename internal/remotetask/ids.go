package remotetask

import (
	"fmt"
	"strconv"
	"strings"
)

// TaskId identifies a single (stage, worker) task instance as the tuple
// (query, stage, partition, attempt). It is a value type throughout --
// comparisons use ==, never pointer identity.
type TaskId struct {
	QueryId     string `json:"queryId" msgpack:"queryId"`
	StageId     int    `json:"stageId" msgpack:"stageId"`
	PartitionId int    `json:"partitionId" msgpack:"partitionId"`
	Attempt     int    `json:"attempt" msgpack:"attempt"`
}

// String renders the wire-format task id, e.g.
// "20240101_000000_00001_abcde.1.2.0" (query.stage.partition.attempt).
func (id TaskId) String() string {
	return fmt.Sprintf("%s.%d.%d.%d", id.QueryId, id.StageId, id.PartitionId, id.Attempt)
}

// Less orders two TaskIds within the same (query, stage) by partition then
// attempt.
func (id TaskId) Less(other TaskId) bool {
	if id.PartitionId != other.PartitionId {
		return id.PartitionId < other.PartitionId
	}
	return id.Attempt < other.Attempt
}

// ParseTaskId parses the wire-format task id produced by TaskId.String,
// "queryId.stageId.partitionId.attempt". Used by the admin API to decode
// the {taskId} path parameter.
func ParseTaskId(s string) (TaskId, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return TaskId{}, fmt.Errorf("invalid task id %q: expected queryId.stageId.partitionId.attempt", s)
	}
	stageId, err := strconv.Atoi(parts[1])
	if err != nil {
		return TaskId{}, fmt.Errorf("invalid task id %q: stageId: %w", s, err)
	}
	partitionId, err := strconv.Atoi(parts[2])
	if err != nil {
		return TaskId{}, fmt.Errorf("invalid task id %q: partitionId: %w", s, err)
	}
	attempt, err := strconv.Atoi(parts[3])
	if err != nil {
		return TaskId{}, fmt.Errorf("invalid task id %q: attempt: %w", s, err)
	}
	return TaskId{QueryId: parts[0], StageId: stageId, PartitionId: partitionId, Attempt: attempt}, nil
}

// TaskInstanceId is the worker-assigned per-task fencing token.
// A change in this value across two observations for the same TaskId means
// the worker lost the task (e.g. a restart).
type TaskInstanceId string

// Lifespan is the scheduling-group identifier for splits that must be
// processed together.
type Lifespan struct {
	GroupId int `json:"groupId" msgpack:"groupId"`
	// TaskWide marks the default lifespan shared by splits with no
	// explicit scheduling group.
	TaskWide bool `json:"taskWide" msgpack:"taskWide"`
}

func (l Lifespan) String() string {
	if l.TaskWide {
		return "TaskWide"
	}
	return fmt.Sprintf("Group%d", l.GroupId)
}

// TaskWideLifespan is the lifespan used for splits that carry no explicit
// scheduling group.
var TaskWideLifespan = Lifespan{TaskWide: true}
