package reopen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/kanban"
)

type fakeAdapter struct {
	me       kanban.Actor
	byStage  map[kanban.Stage][]string
	comments map[string][]kanban.Comment
	setStage map[string]kanban.Stage
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		byStage:  make(map[kanban.Stage][]string),
		comments: make(map[string][]kanban.Comment),
		setStage: make(map[string]kanban.Stage),
	}
}

func (f *fakeAdapter) Name() string                                         { return "fake" }
func (f *fakeAdapter) Whoami(ctx context.Context) (kanban.Actor, error)     { return f.me, nil }
func (f *fakeAdapter) FetchSnapshot(ctx context.Context) (kanban.Snapshot, error) { return nil, nil }
func (f *fakeAdapter) ListIDsByStage(ctx context.Context, stage kanban.Stage) ([]string, error) {
	return f.byStage[stage], nil
}
func (f *fakeAdapter) ListBacklogIDsInOrder(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeAdapter) GetWorkItem(ctx context.Context, id string) (kanban.WorkItemDetails, error) {
	return kanban.WorkItemDetails{}, nil
}
func (f *fakeAdapter) ListComments(ctx context.Context, id string, q kanban.CommentQuery) ([]kanban.Comment, error) {
	return f.comments[id], nil
}
func (f *fakeAdapter) ListAttachments(ctx context.Context, id string) ([]kanban.Attachment, error) {
	return nil, nil
}
func (f *fakeAdapter) ListLinkedWorkItems(ctx context.Context, id string) ([]kanban.LinkedWorkItem, error) {
	return nil, nil
}
func (f *fakeAdapter) SetStage(ctx context.Context, id string, stage kanban.Stage) error {
	f.setStage[id] = stage
	return nil
}
func (f *fakeAdapter) AddComment(ctx context.Context, id string, body string) error { return nil }
func (f *fakeAdapter) CreateInBacklogAndAssignToSelf(ctx context.Context, title, body string) (adapter.CreateResult, error) {
	return adapter.CreateResult{}, nil
}

func TestRun_RelayedAuthorTriggersReopen(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.byStage[kanban.StageInReview] = []string{"T1"}
	now := time.Now()
	a.comments["T1"] = []kanban.Comment{
		{
			ID:        "c2",
			Author:    kanban.Actor{Username: "bot"},
			Body:      "[planka-comment:123]\nAuthor: Simon van Laak\nLooks good, reopening for a follow-up.",
			CreatedAt: now,
		},
		{ID: "c1", Author: kanban.Actor{Username: "bot"}, Body: "Moved to in-review.", CreatedAt: now.Add(-time.Hour)},
	}

	cursors, triggers, err := Run(context.Background(), Params{Adapter: a, Cursors: Cursors{}})
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "T1", triggers[0].TicketID)
	assert.Equal(t, "c2", triggers[0].TriggerCommentID)
	assert.Equal(t, kanban.StageTodo, a.setStage["T1"])
	assert.Equal(t, "c2", cursors.SeenIDs["T1"])
}

func TestRun_WorkerOwnCommentDoesNotTrigger(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.byStage[kanban.StageBlocked] = []string{"T1"}
	a.comments["T1"] = []kanban.Comment{
		{ID: "c1", Author: kanban.Actor{Username: "bot"}, Body: "Still blocked."},
	}

	_, triggers, err := Run(context.Background(), Params{Adapter: a, Cursors: Cursors{}})
	require.NoError(t, err)
	assert.Empty(t, triggers)
	assert.Empty(t, a.setStage)
}

func TestRun_CursorMonotonicity(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.byStage[kanban.StageBlocked] = []string{"T1"}
	a.comments["T1"] = []kanban.Comment{
		{ID: "c3", Author: kanban.Actor{Username: "human"}, Body: "unblocking now"},
		{ID: "c2", Author: kanban.Actor{Username: "bot"}, Body: "still working"},
		{ID: "c1", Author: kanban.Actor{Username: "bot"}, Body: "started"},
	}

	cursors, _, err := Run(context.Background(), Params{Adapter: a, Cursors: Cursors{SeenIDs: map[string]string{"T1": "c1"}}})
	require.NoError(t, err)
	assert.Equal(t, "c3", cursors.SeenIDs["T1"])
}

func TestRun_DryRunSkipsMutationAndCursor(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.byStage[kanban.StageBlocked] = []string{"T1"}
	a.comments["T1"] = []kanban.Comment{
		{ID: "c1", Author: kanban.Actor{Username: "human"}, Body: "please look again"},
	}

	cursors, triggers, err := Run(context.Background(), Params{Adapter: a, Cursors: Cursors{}, DryRun: true})
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Empty(t, a.setStage)
	assert.Empty(t, cursors.SeenIDs)
}

func TestRun_DoesNotMutateInputCursors(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	in := Cursors{SeenIDs: map[string]string{"T1": "c1"}}

	_, _, err := Run(context.Background(), Params{Adapter: a, Cursors: in})
	require.NoError(t, err)
	assert.Equal(t, "c1", in.SeenIDs["T1"])
}
