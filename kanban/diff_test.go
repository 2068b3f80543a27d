package kanban

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_CreatedDeletedUpdatedStageChanged(t *testing.T) {
	before := Snapshot{
		"A": {ID: "A", Title: "Alpha", Stage: StageTodo, Labels: []string{"x"}},
		"B": {ID: "B", Title: "Bravo", Stage: StageInProgress},
		"C": {ID: "C", Title: "Charlie", Stage: StageTodo},
	}
	after := Snapshot{
		"A": {ID: "A", Title: "Alpha", Stage: StageInProgress, Labels: []string{"x"}}, // stage changed
		"B": {ID: "B", Title: "Bravo!", Stage: StageInProgress},                       // content updated
		"D": {ID: "D", Title: "Delta", Stage: StageTodo},                             // created
		// C deleted
	}

	events := Diff(before, after)

	require.Len(t, events, 4)
	assert.Equal(t, EventDeleted, events[0].Kind)
	assert.Equal(t, "C", events[0].ID)

	assert.Equal(t, EventCreated, events[1].Kind)
	assert.Equal(t, "D", events[1].WorkItem.ID)

	assert.Equal(t, EventStageChanged, events[2].Kind)
	assert.Equal(t, "A", events[2].ID)
	assert.Equal(t, StageTodo, events[2].FromStage)
	assert.Equal(t, StageInProgress, events[2].ToStage)

	assert.Equal(t, EventUpdated, events[3].Kind)
	assert.Equal(t, "B", events[3].ID)
}

func TestDiff_StageChangeSuppressesContentUpdate(t *testing.T) {
	before := Snapshot{"A": {ID: "A", Title: "Alpha", Stage: StageTodo}}
	after := Snapshot{"A": {ID: "A", Title: "Alpha!", Stage: StageBlocked}}

	events := Diff(before, after)

	require.Len(t, events, 1)
	assert.Equal(t, EventStageChanged, events[0].Kind)
}

func TestDiff_LabelSetOrderInsensitive(t *testing.T) {
	before := Snapshot{"A": {ID: "A", Title: "Alpha", Stage: StageTodo, Labels: []string{"x", "y"}}}
	after := Snapshot{"A": {ID: "A", Title: "Alpha", Stage: StageTodo, Labels: []string{"y", "x"}}}

	assert.Empty(t, Diff(before, after))
}

// TestDiff_Deterministic is a property test: Diff(a, b) is deterministic
// and unaffected by map construction/iteration order.
func TestDiff_Deterministic(t *testing.T) {
	ids := []string{"A", "B", "C", "D", "E", "F", "G"}

	build := func(seed int64) (Snapshot, Snapshot) {
		r := rand.New(rand.NewSource(seed))
		before := Snapshot{}
		after := Snapshot{}
		perm := r.Perm(len(ids))
		for _, i := range perm {
			id := ids[i]
			before[id] = WorkItem{ID: id, Title: id, Stage: StageTodo}
			stage := StageTodo
			if i%2 == 0 {
				stage = StageInProgress
			}
			after[id] = WorkItem{ID: id, Title: id, Stage: stage}
		}
		return before, after
	}

	var want []Event
	for seed := int64(0); seed < 5; seed++ {
		before, after := build(seed)
		got := Diff(before, after)
		if want == nil {
			want = got
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("diff not deterministic across iteration orders (-want +got):\n%s", diff)
		}
	}
}
