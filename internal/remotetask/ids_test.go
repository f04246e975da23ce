package remotetask

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskId_String(t *testing.T) {
	id := TaskId{QueryId: "q", StageId: 1, PartitionId: 2, Attempt: 0}
	assert.Equal(t, "q.1.2.0", id.String())
}

func TestTaskId_Less(t *testing.T) {
	a := TaskId{QueryId: "q", StageId: 1, PartitionId: 1, Attempt: 0}
	b := TaskId{QueryId: "q", StageId: 1, PartitionId: 2, Attempt: 0}
	c := TaskId{QueryId: "q", StageId: 1, PartitionId: 1, Attempt: 1}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Less(c))
	assert.False(t, a.Less(a))
}

func TestLifespan_String(t *testing.T) {
	assert.Equal(t, "TaskWide", TaskWideLifespan.String())
	assert.Equal(t, "Group3", Lifespan{GroupId: 3}.String())
}
