package plane

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/kanban"
)

func TestCompositeID_RoundTrips(t *testing.T) {
	id := compositeID("proj-1", "issue-9")
	projectID, issueID, ok := splitCompositeID(id)
	assert.True(t, ok)
	assert.Equal(t, "proj-1", projectID)
	assert.Equal(t, "issue-9", issueID)
}

func TestSplitCompositeID_RejectsMalformedID(t *testing.T) {
	_, _, ok := splitCompositeID("not-composite")
	assert.False(t, ok)
}

func TestFirstStateNameFor_PicksLexicographicallyFirstCandidate(t *testing.T) {
	a := &Adapter{stageMap: adapter.StageMap{
		"Backlog-B": kanban.StageTodo,
		"Backlog-A": kanban.StageTodo,
	}}
	name, ok := a.firstStateNameFor(kanban.StageTodo)
	assert.True(t, ok)
	assert.Equal(t, "Backlog-A", name)
}

func TestAssignedTo(t *testing.T) {
	issue := planeIssue{Assignees: []string{"user-1", "user-2"}}
	assert.True(t, assignedTo(issue, "user-2"))
	assert.False(t, assignedTo(issue, "user-3"))
	assert.False(t, assignedTo(issue, ""))
}
