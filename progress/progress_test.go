package progress

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
	inProgress []string
	comments   map[string][]string
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) Whoami(ctx context.Context) (kanban.Actor, error) { return kanban.Actor{}, nil }
func (f *fakeAdapter) FetchSnapshot(ctx context.Context) (kanban.Snapshot, error) { return nil, nil }
func (f *fakeAdapter) ListIDsByStage(ctx context.Context, stage kanban.Stage) ([]string, error) {
	if stage == kanban.StageInProgress {
		return f.inProgress, nil
	}
	return nil, nil
}
func (f *fakeAdapter) ListBacklogIDsInOrder(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeAdapter) GetWorkItem(ctx context.Context, id string) (kanban.WorkItemDetails, error) {
	return kanban.WorkItemDetails{}, nil
}
func (f *fakeAdapter) ListComments(ctx context.Context, id string, q kanban.CommentQuery) ([]kanban.Comment, error) {
	return nil, nil
}
func (f *fakeAdapter) ListAttachments(ctx context.Context, id string) ([]kanban.Attachment, error) {
	return nil, nil
}
func (f *fakeAdapter) ListLinkedWorkItems(ctx context.Context, id string) ([]kanban.LinkedWorkItem, error) {
	return nil, nil
}
func (f *fakeAdapter) SetStage(ctx context.Context, id string, stage kanban.Stage) error { return nil }
func (f *fakeAdapter) AddComment(ctx context.Context, id string, body string) error {
	if f.comments == nil {
		f.comments = make(map[string][]string)
	}
	f.comments[id] = append(f.comments[id], body)
	return nil
}
func (f *fakeAdapter) CreateInBacklogAndAssignToSelf(ctx context.Context, title, body string) (adapter.CreateResult, error) {
	return adapter.CreateResult{}, nil
}

func TestRun_ThrottlesSuccessiveCalls(t *testing.T) {
	a := &fakeAdapter{inProgress: []string{"A"}}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state := State{}

	state, posted, err := Run(context.Background(), Params{Adapter: a, Now: base, State: state})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, posted)

	state, posted, err = Run(context.Background(), Params{Adapter: a, Now: base.Add(4*time.Minute + 59*time.Second), State: state})
	require.NoError(t, err)
	assert.Empty(t, posted)

	secondPost := base.Add(5 * time.Minute)
	state, posted, err = Run(context.Background(), Params{Adapter: a, Now: secondPost, State: state})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, posted)
	assert.True(t, state["A"].Equal(secondPost))

	require.Len(t, a.comments["A"], 2)
	assert.Contains(t, a.comments["A"][0], "Progress update (auto):")
}

func TestRun_PrunesEntriesNoLongerInProgress(t *testing.T) {
	a := &fakeAdapter{inProgress: []string{}}
	state := State{"A": time.Now()}

	next, posted, err := Run(context.Background(), Params{Adapter: a, Now: time.Now(), State: state})
	require.NoError(t, err)
	assert.Empty(t, posted)
	_, ok := next["A"]
	assert.False(t, ok)
}

func TestRun_DoesNotMutateInputState(t *testing.T) {
	a := &fakeAdapter{inProgress: []string{"A"}}
	ts := time.Now()
	in := State{"A": ts}

	_, _, err := Run(context.Background(), Params{Adapter: a, Now: ts.Add(time.Minute), State: in})
	require.NoError(t, err)
	assert.True(t, in["A"].Equal(ts))
}
