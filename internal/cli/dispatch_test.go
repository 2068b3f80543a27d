package cli

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/clawban/kanban-workflow/autopilot"
	"github.com/clawban/kanban-workflow/contract"
	"github.com/clawban/kanban-workflow/kanban"
	"github.com/clawban/kanban-workflow/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildTicketContextCombinesDetailsAndAttachments(t *testing.T) {
	f := &fakePort{
		details: map[string]kanban.WorkItemDetails{
			"t-1": {
				WorkItem: kanban.WorkItem{ID: "t-1", Title: "Fix the thing", Body: "do it", URL: "https://x/t-1"},
				Comments: []kanban.Comment{{ID: "c-1", Body: "hi"}},
				Links:    []kanban.LinkedWorkItem{{ID: "t-2", Relation: "relates-to"}},
			},
		},
		attachments: map[string][]kanban.Attachment{
			"t-1": {{ID: "a-1", Filename: "log.txt"}},
		},
	}

	tc, err := buildTicketContext(context.Background(), f, "t-1")
	if err != nil {
		t.Fatalf("buildTicketContext: %v", err)
	}
	if tc.Title != "Fix the thing" || tc.Body != "do it" {
		t.Errorf("tc = %+v, missing details fields", tc)
	}
	if len(tc.Comments) != 1 || len(tc.Links) != 1 {
		t.Errorf("tc = %+v, want one comment and one link from GetWorkItem", tc)
	}
	if len(tc.Attachments) != 1 || tc.Attachments[0].Filename != "log.txt" {
		t.Errorf("tc.Attachments = %+v, want the separately-fetched attachment", tc.Attachments)
	}
}

func TestApplyWorkerCommandContinue(t *testing.T) {
	f := &fakePort{}
	applied, err := applyWorkerCommand(context.Background(), f, "t-1", contract.Command{Verb: contract.VerbContinue, Text: "made progress"})
	if err != nil {
		t.Fatalf("applyWorkerCommand: %v", err)
	}
	if applied != "update" {
		t.Errorf("applied = %q, want update", applied)
	}
	if len(f.stageChanges) != 0 {
		t.Errorf("continue must not change stage, got %+v", f.stageChanges)
	}
	if len(f.comments) != 1 || f.comments[0].body != "made progress" {
		t.Errorf("comments = %+v, want one progress note", f.comments)
	}
}

func TestApplyWorkerCommandBlocked(t *testing.T) {
	f := &fakePort{}
	applied, err := applyWorkerCommand(context.Background(), f, "t-1", contract.Command{Verb: contract.VerbBlocked, Text: "waiting on creds"})
	if err != nil {
		t.Fatalf("applyWorkerCommand: %v", err)
	}
	if applied != "ask" {
		t.Errorf("applied = %q, want ask", applied)
	}
	if len(f.stageChanges) != 1 || f.stageChanges[0].stage != kanban.StageBlocked {
		t.Errorf("stageChanges = %+v, want a transition to blocked", f.stageChanges)
	}
}

func TestApplyWorkerCommandCompleted(t *testing.T) {
	f := &fakePort{}
	applied, err := applyWorkerCommand(context.Background(), f, "t-1", contract.Command{Verb: contract.VerbCompleted, Text: "shipped"})
	if err != nil {
		t.Fatalf("applyWorkerCommand: %v", err)
	}
	if applied != "complete" {
		t.Errorf("applied = %q, want complete", applied)
	}
	if len(f.stageChanges) != 1 || f.stageChanges[0].stage != kanban.StageInReview {
		t.Errorf("stageChanges = %+v, want a transition to in-review", f.stageChanges)
	}
	if len(f.comments) != 1 || f.comments[0].body != "Completed: shipped" {
		t.Errorf("comments = %+v, want a Completed: prefixed note", f.comments)
	}
}

func TestDispatchTickRunsWorkerForStartedOutcome(t *testing.T) {
	sessionMapPath := t.TempDir() + "/session-map.json"

	f := &fakePort{
		details: map[string]kanban.WorkItemDetails{
			"t-1": {WorkItem: kanban.WorkItem{ID: "t-1", Title: "Do the thing"}},
		},
	}
	runner := &fakeRunner{output: "EVIDENCE:\nran the tests\n\nkanban-workflow continue --text \"in progress\""}

	env := TickEnvelope{Tick: autopilot.Outcome{Kind: autopilot.OutcomeStarted, ID: "t-1"}}

	dispatched, err := dispatchTick(context.Background(), f, runner, discardLogger(), env, sessionMapPath)
	if err != nil {
		t.Fatalf("dispatchTick: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("runner.calls = %d, want 1", runner.calls)
	}
	if len(dispatched) != 1 || dispatched[0].Verb != "continue" || dispatched[0].Applied != "update" {
		t.Errorf("dispatched = %+v", dispatched)
	}

	sm, err := loadSessionMap(sessionMapPath)
	if err != nil {
		t.Fatalf("loadSessionMap: %v", err)
	}
	entry, ok := sm.Entries["t-1"]
	if !ok || entry.LastState != session.StateInProgress {
		t.Errorf("session map entry = %+v, want in_progress", entry)
	}
}

func TestDispatchTickNoWorkProducesNoDispatch(t *testing.T) {
	sessionMapPath := t.TempDir() + "/session-map.json"

	f := &fakePort{}
	runner := &fakeRunner{}
	env := TickEnvelope{Tick: autopilot.Outcome{Kind: autopilot.OutcomeNoWork}}

	dispatched, err := dispatchTick(context.Background(), f, runner, discardLogger(), env, sessionMapPath)
	if err != nil {
		t.Fatalf("dispatchTick: %v", err)
	}
	if len(dispatched) != 0 {
		t.Errorf("dispatched = %+v, want none", dispatched)
	}
	if runner.calls != 0 {
		t.Errorf("runner.calls = %d, want 0", runner.calls)
	}
}
