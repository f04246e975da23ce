package remotetask

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeSource_UnionsSplitsAndLifespans(t *testing.T) {
	a := TaskSource{
		PlanNodeId:              "N1",
		Splits:                  []ScheduledSplit{{SequenceId: 1}, {SequenceId: 2}},
		NoMoreSplitsForLifespan: []Lifespan{{GroupId: 1}},
	}
	b := TaskSource{
		PlanNodeId:              "N1",
		Splits:                  []ScheduledSplit{{SequenceId: 2}, {SequenceId: 3}},
		NoMoreSplitsForLifespan: []Lifespan{{GroupId: 1}, {GroupId: 2}},
		NoMoreSplits:            true,
	}

	merged := mergeSource(a, b)

	assert.Len(t, merged.Splits, 3, "duplicate sequenceId 2 must not be duplicated")
	assert.ElementsMatch(t, []Lifespan{{GroupId: 1}, {GroupId: 2}}, merged.NoMoreSplitsForLifespan)
	assert.True(t, merged.NoMoreSplits, "NoMoreSplits is monotonic: once true, stays true")
}

func TestMergeSource_NoMoreSplitsNeverRewinds(t *testing.T) {
	a := TaskSource{NoMoreSplits: true}
	b := TaskSource{NoMoreSplits: false}
	assert.True(t, mergeSource(a, b).NoMoreSplits)
	assert.True(t, mergeSource(b, a).NoMoreSplits)
}

func TestSequenceAllocator_StrictlyIncreasing(t *testing.T) {
	var alloc sequenceAllocator
	seen := make(map[int64]bool)
	var last int64 = -1
	for i := 0; i < 100; i++ {
		id := alloc.allocate()
		assert.Greater(t, id, last)
		assert.False(t, seen[id], "sequence id must be unique")
		seen[id] = true
		last = id
	}
}

func TestUnionLifespans_Deduplicates(t *testing.T) {
	out := unionLifespans([]Lifespan{{GroupId: 1}}, []Lifespan{{GroupId: 1}, {GroupId: 2}})
	assert.ElementsMatch(t, []Lifespan{{GroupId: 1}, {GroupId: 2}}, out)
}
