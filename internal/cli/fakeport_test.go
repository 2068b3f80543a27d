package cli

import (
	"context"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/internal/workerrunner"
	"github.com/clawban/kanban-workflow/kanban"
)

// fakePort is a minimal in-memory adapter.Port for CLI-layer unit tests.
// It never touches a real platform; callers seed it directly.
type fakePort struct {
	me kanban.Actor

	byStage     map[kanban.Stage][]string
	backlog     []string
	details     map[string]kanban.WorkItemDetails
	attachments map[string][]kanban.Attachment

	comments []struct {
		id   string
		body string
	}
	stageChanges []struct {
		id    string
		stage kanban.Stage
	}
	created kanban.WorkItem

	whoamiErr   error
	setStageErr error
}

func (f *fakePort) Name() string { return "fake" }

func (f *fakePort) Whoami(ctx context.Context) (kanban.Actor, error) {
	if f.whoamiErr != nil {
		return kanban.Actor{}, f.whoamiErr
	}
	return f.me, nil
}

func (f *fakePort) FetchSnapshot(ctx context.Context) (kanban.Snapshot, error) {
	return kanban.Snapshot{}, nil
}

func (f *fakePort) ListIDsByStage(ctx context.Context, stage kanban.Stage) ([]string, error) {
	return f.byStage[stage], nil
}

func (f *fakePort) ListBacklogIDsInOrder(ctx context.Context) ([]string, error) {
	return f.backlog, nil
}

func (f *fakePort) GetWorkItem(ctx context.Context, id string) (kanban.WorkItemDetails, error) {
	d, ok := f.details[id]
	if !ok {
		return kanban.WorkItemDetails{}, errNotFound(id)
	}
	return d, nil
}

func (f *fakePort) ListComments(ctx context.Context, id string, q kanban.CommentQuery) ([]kanban.Comment, error) {
	return f.details[id].Comments, nil
}

func (f *fakePort) ListAttachments(ctx context.Context, id string) ([]kanban.Attachment, error) {
	return f.attachments[id], nil
}

func (f *fakePort) ListLinkedWorkItems(ctx context.Context, id string) ([]kanban.LinkedWorkItem, error) {
	return f.details[id].Links, nil
}

func (f *fakePort) SetStage(ctx context.Context, id string, stage kanban.Stage) error {
	if f.setStageErr != nil {
		return f.setStageErr
	}
	f.stageChanges = append(f.stageChanges, struct {
		id    string
		stage kanban.Stage
	}{id, stage})
	return nil
}

func (f *fakePort) AddComment(ctx context.Context, id string, body string) error {
	f.comments = append(f.comments, struct {
		id   string
		body string
	}{id, body})
	return nil
}

func (f *fakePort) CreateInBacklogAndAssignToSelf(ctx context.Context, title, body string) (adapter.CreateResult, error) {
	f.created = kanban.WorkItem{ID: "new-1", Title: title, Body: body, Stage: kanban.StageTodo}
	return adapter.CreateResult{ID: "new-1", URL: "https://example.test/new-1"}, nil
}

type notFoundErr struct{ id string }

func (e notFoundErr) Error() string { return "not found: " + e.id }

func errNotFound(id string) error { return notFoundErr{id: id} }

// fakeRunner is a workerrunner.Runner stub that returns canned output.
type fakeRunner struct {
	output string
	err    error
	calls  int
}

func (r *fakeRunner) Run(ctx context.Context, instruction string, workDir string) (workerrunner.Result, error) {
	r.calls++
	if r.err != nil {
		return workerrunner.Result{}, r.err
	}
	return workerrunner.Result{Output: r.output}, nil
}
