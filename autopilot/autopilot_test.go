package autopilot

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
	me          kanban.Actor
	items       map[string]kanban.WorkItemDetails
	inProgress  []string
	backlog     []string
	setStages   map[string]kanban.Stage
	comments    map[string][]string // appended bodies
	reconciled  bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		items:     make(map[string]kanban.WorkItemDetails),
		setStages: make(map[string]kanban.Stage),
		comments:  make(map[string][]string),
	}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Whoami(ctx context.Context) (kanban.Actor, error) { return f.me, nil }

func (f *fakeAdapter) FetchSnapshot(ctx context.Context) (kanban.Snapshot, error) { return nil, nil }

func (f *fakeAdapter) ListIDsByStage(ctx context.Context, stage kanban.Stage) ([]string, error) {
	if stage == kanban.StageInProgress {
		return f.inProgress, nil
	}
	return nil, nil
}

func (f *fakeAdapter) ListBacklogIDsInOrder(ctx context.Context) ([]string, error) {
	return f.backlog, nil
}

func (f *fakeAdapter) GetWorkItem(ctx context.Context, id string) (kanban.WorkItemDetails, error) {
	return f.items[id], nil
}

func (f *fakeAdapter) ListComments(ctx context.Context, id string, q kanban.CommentQuery) ([]kanban.Comment, error) {
	var out []kanban.Comment
	for i := len(f.items[id].Comments) - 1; i >= 0; i-- {
		out = append(out, f.items[id].Comments[i])
	}
	return out, nil
}

func (f *fakeAdapter) ListAttachments(ctx context.Context, id string) ([]kanban.Attachment, error) {
	return nil, nil
}

func (f *fakeAdapter) ListLinkedWorkItems(ctx context.Context, id string) ([]kanban.LinkedWorkItem, error) {
	return nil, nil
}

func (f *fakeAdapter) SetStage(ctx context.Context, id string, stage kanban.Stage) error {
	f.setStages[id] = stage
	return nil
}

func (f *fakeAdapter) AddComment(ctx context.Context, id string, body string) error {
	f.comments[id] = append(f.comments[id], body)
	return nil
}

func (f *fakeAdapter) CreateInBacklogAndAssignToSelf(ctx context.Context, title, body string) (adapter.CreateResult, error) {
	return adapter.CreateResult{}, nil
}

func (f *fakeAdapter) ReconcileAssignments(ctx context.Context) error {
	f.reconciled = true
	return nil
}

func withItem(a *fakeAdapter, id string, assignees []kanban.Actor, updatedAt time.Time, comments ...kanban.Comment) {
	a.items[id] = kanban.WorkItemDetails{
		WorkItem: kanban.WorkItem{ID: id, Assignees: assignees, UpdatedAt: updatedAt},
		Comments: comments,
	}
}

func TestTick_IdlePick(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.backlog = []string{"B", "C"}
	withItem(a, "B", []kanban.Actor{{Username: "bot"}}, time.Now())

	out, err := Tick(context.Background(), Params{Adapter: a, Now: time.Now(), LockPath: t.TempDir() + "/lock.json"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStarted, out.Kind)
	assert.Equal(t, "B", out.ID)
	assert.Equal(t, ReasonStartNextAssignedBacklog, out.ReasonCode)
	assert.True(t, a.reconciled)
}

func TestTick_SelfAssignmentFilter(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.inProgress = []string{"A"}
	withItem(a, "A", []kanban.Actor{{Username: "someone-else"}}, time.Now())
	a.backlog = []string{"B", "C"}
	withItem(a, "B", []kanban.Actor{{Username: "bot"}}, time.Now())

	out, err := Tick(context.Background(), Params{Adapter: a, Now: time.Now(), LockPath: t.TempDir() + "/lock.json"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStarted, out.Kind)
	assert.Equal(t, "B", out.ID)
	assert.Empty(t, a.setStages)
}

func TestTick_HealExtras(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.inProgress = []string{"A", "B", "C"}
	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-1 * time.Hour)
	withItem(a, "A", []kanban.Actor{{Username: "bot"}}, older)
	withItem(a, "B", []kanban.Actor{{Username: "bot"}}, newer)
	withItem(a, "C", []kanban.Actor{{Username: "someone-else"}}, time.Now())

	out, err := Tick(context.Background(), Params{Adapter: a, Now: time.Now(), LockPath: t.TempDir() + "/lock.json"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, out.Kind)
	assert.Equal(t, "A", out.ID)
	assert.Equal(t, []string{"A"}, out.InProgressIDs)
	assert.Equal(t, kanban.StageTodo, a.setStages["B"])
	require.Len(t, a.comments["B"], 1)
	assert.Contains(t, a.comments["B"][0], "Moved back to Backlog automatically")
	_, healedC := a.setStages["C"]
	assert.False(t, healedC)
}

func TestTick_CompletionSignal(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.inProgress = []string{"A"}
	withItem(a, "A", []kanban.Actor{{Username: "bot"}}, time.Now(),
		kanban.Comment{ID: "c1", Body: "Completed: shipped and verified"})

	out, err := Tick(context.Background(), Params{Adapter: a, Now: time.Now(), LockPath: t.TempDir() + "/lock.json"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, "A", out.ID)
	assert.Equal(t, ReasonCompletionSignalStrong, out.ReasonCode)
	assert.Equal(t, "completed:", out.Evidence.MatchedSignal)
	assert.True(t, PassesProofGate(out))
}

func TestTick_BlockedByStaleSignal(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.inProgress = []string{"A"}
	updatedAt := time.Now().Add(-20 * time.Minute)
	withItem(a, "A", []kanban.Actor{{Username: "bot"}}, updatedAt,
		kanban.Comment{ID: "c1", Body: "Still waiting on API credential, blocked here."})

	out, err := Tick(context.Background(), Params{Adapter: a, Now: time.Now(), LockPath: t.TempDir() + "/lock.json"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, out.Kind)
	assert.Equal(t, "A", out.ID)
	assert.Equal(t, 20, out.MinutesStale)
	assert.Equal(t, ReasonStaleWithBlockerSignal, out.ReasonCode)
	assert.Equal(t, "waiting on", out.Evidence.MatchedSignal)
}

func TestTick_NoWork(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}

	out, err := Tick(context.Background(), Params{Adapter: a, Now: time.Now(), LockPath: t.TempDir() + "/lock.json"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoWork, out.Kind)
	assert.Equal(t, ReasonNoBacklogAssigned, out.ReasonCode)
}

func TestTick_NextNotAssignedToMe(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.backlog = []string{"B"}
	withItem(a, "B", []kanban.Actor{{Username: "someone-else"}}, time.Now())

	out, err := Tick(context.Background(), Params{Adapter: a, Now: time.Now(), LockPath: t.TempDir() + "/lock.json"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoWork, out.Kind)
	assert.Equal(t, ReasonNextNotAssignedToMe, out.ReasonCode)
}

func TestTick_WeakCompletionSignalDoesNotPassProofGate(t *testing.T) {
	a := newFakeAdapter()
	a.me = kanban.Actor{Username: "bot"}
	a.inProgress = []string{"A"}
	withItem(a, "A", []kanban.Actor{{Username: "bot"}}, time.Now(),
		kanban.Comment{ID: "c1", Body: "think this is basically done"})

	out, err := Tick(context.Background(), Params{Adapter: a, Now: time.Now(), LockPath: t.TempDir() + "/lock.json"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, out.Kind)
	assert.False(t, PassesProofGate(out))
}
