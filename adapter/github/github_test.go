package github

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/kanban"
)

func testStageMap() adapter.StageMap {
	return adapter.StageMap{
		"status:backlog":     kanban.StageTodo,
		"status:in-progress": kanban.StageInProgress,
		"status:in-review":   kanban.StageInReview,
		"status:blocked":     kanban.StageBlocked,
	}
}

func TestStageOf_ResolvesFirstRecognizedLabel(t *testing.T) {
	a := New(adapter.GitHubConfig{Repo: "acme/widgets", StageMap: testStageMap()})

	stage, ok := a.stageOf([]ghLabel{{Name: "good-first-issue"}, {Name: "status:in-progress"}})
	assert.True(t, ok)
	assert.Equal(t, kanban.StageInProgress, stage)
}

func TestStageOf_NoRecognizedLabelExcludesItem(t *testing.T) {
	a := New(adapter.GitHubConfig{Repo: "acme/widgets", StageMap: testStageMap()})

	_, ok := a.stageOf([]ghLabel{{Name: "good-first-issue"}})
	assert.False(t, ok)
}

func TestToWorkItem_MapsFieldsAndExcludesUnmappedIssues(t *testing.T) {
	a := New(adapter.GitHubConfig{Repo: "acme/widgets", StageMap: testStageMap()})

	tracked := ghIssue{
		Number: 42,
		Title:  "Fix the thing",
		URL:    "https://github.com/acme/widgets/issues/42",
		Labels: []ghLabel{{Name: "status:in-progress"}},
		Assignees: []ghActor{
			{Login: "octocat", ID: "u1", Name: "The Octocat"},
		},
	}
	item, ok := a.toWorkItem(tracked)
	assert.True(t, ok)
	assert.Equal(t, "42", item.ID)
	assert.Equal(t, kanban.StageInProgress, item.Stage)
	assert.Equal(t, []string{"status:in-progress"}, item.Labels)
	assert.Equal(t, "octocat", item.Assignees[0].Username)

	untracked := ghIssue{Number: 7, Labels: []ghLabel{{Name: "wontfix"}}}
	_, ok = a.toWorkItem(untracked)
	assert.False(t, ok)
}

func TestFirstLabelFor_PicksLexicographicallyFirstCandidate(t *testing.T) {
	a := New(adapter.GitHubConfig{
		Repo: "acme/widgets",
		StageMap: adapter.StageMap{
			"status:todo-b": kanban.StageTodo,
			"status:todo-a": kanban.StageTodo,
		},
	})
	label, ok := a.firstLabelFor(kanban.StageTodo)
	assert.True(t, ok)
	assert.Equal(t, "status:todo-a", label)
}

func TestFirstLabelFor_NoLabelConfigured(t *testing.T) {
	a := New(adapter.GitHubConfig{
		Repo:     "acme/widgets",
		StageMap: adapter.StageMap{"status:todo": kanban.StageTodo},
	})
	_, ok := a.firstLabelFor(kanban.StageBlocked)
	assert.False(t, ok)
}

func TestParseLinkedWorkItems_FindsClosesAndRelatesReferences(t *testing.T) {
	body := "This closes #12 and also Fixes #34.\nRelates to #56 for background."
	links := parseLinkedWorkItems(body)

	var closes, relates []string
	for _, l := range links {
		switch l.Relation {
		case "closes":
			closes = append(closes, l.ID)
		case "relates-to":
			relates = append(relates, l.ID)
		}
	}
	assert.ElementsMatch(t, []string{"12", "34"}, closes)
	assert.ElementsMatch(t, []string{"56"}, relates)
}

func TestParseTime_EmptyStringIsZeroNotError(t *testing.T) {
	ts, err := parseTime("")
	assert.NoError(t, err)
	assert.True(t, ts.IsZero())
}
