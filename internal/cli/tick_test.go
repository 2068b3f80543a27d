package cli

import (
	"context"
	"testing"

	"github.com/clawban/kanban-workflow/autopilot"
	"github.com/clawban/kanban-workflow/kanban"
)

func TestApplyOutcomeStarted(t *testing.T) {
	f := &fakePort{}
	action, err := applyOutcome(context.Background(), f, autopilot.Outcome{Kind: autopilot.OutcomeStarted, ID: "t-1"})
	if err != nil {
		t.Fatalf("applyOutcome: %v", err)
	}
	if action != "start" {
		t.Errorf("action = %q, want start", action)
	}
	if len(f.stageChanges) != 1 || f.stageChanges[0].stage != kanban.StageInProgress {
		t.Errorf("stageChanges = %+v, want one transition to in-progress", f.stageChanges)
	}
}

func TestApplyOutcomeBlocked(t *testing.T) {
	f := &fakePort{}
	action, err := applyOutcome(context.Background(), f, autopilot.Outcome{Kind: autopilot.OutcomeBlocked, ID: "t-1"})
	if err != nil {
		t.Fatalf("applyOutcome: %v", err)
	}
	if action != "ask" {
		t.Errorf("action = %q, want ask", action)
	}
	if len(f.stageChanges) != 1 || f.stageChanges[0].stage != kanban.StageBlocked {
		t.Errorf("stageChanges = %+v, want one transition to blocked", f.stageChanges)
	}
}

func TestApplyOutcomeCompletedHoldsOnWeakSignal(t *testing.T) {
	f := &fakePort{}
	// Evidence carries no matched signal, so PassesProofGate must refuse.
	action, err := applyOutcome(context.Background(), f, autopilot.Outcome{Kind: autopilot.OutcomeCompleted, ID: "t-1"})
	if err != nil {
		t.Fatalf("applyOutcome: %v", err)
	}
	if action != "hold" {
		t.Errorf("action = %q, want hold", action)
	}
	if len(f.stageChanges) != 0 {
		t.Errorf("expected no stage mutation on hold, got %+v", f.stageChanges)
	}
}

func TestApplyOutcomeCompletedStrongSignalTransitions(t *testing.T) {
	f := &fakePort{}
	outcome := autopilot.Outcome{
		Kind:       autopilot.OutcomeCompleted,
		ID:         "t-1",
		ReasonCode: autopilot.ReasonCompletionSignalStrong,
		Evidence:   autopilot.Evidence{MatchedSignal: "completed:"},
	}
	action, err := applyOutcome(context.Background(), f, outcome)
	if err != nil {
		t.Fatalf("applyOutcome: %v", err)
	}
	if action != "complete" {
		t.Errorf("action = %q, want complete", action)
	}
	if len(f.stageChanges) != 1 || f.stageChanges[0].stage != kanban.StageInReview {
		t.Errorf("stageChanges = %+v, want one transition to in-review", f.stageChanges)
	}
}

func TestHaltOptionsFor(t *testing.T) {
	cases := []struct {
		name    string
		outcome autopilot.Outcome
		action  string
		want    []string
	}{
		{"started", autopilot.Outcome{Kind: autopilot.OutcomeStarted}, "start", []string{"update", "ask", "complete"}},
		{"blocked", autopilot.Outcome{Kind: autopilot.OutcomeBlocked}, "ask", []string{"show"}},
		{"completed-held", autopilot.Outcome{Kind: autopilot.OutcomeCompleted}, "hold", []string{"complete", "ask"}},
		{"completed-applied", autopilot.Outcome{Kind: autopilot.OutcomeCompleted}, "complete", []string{"show"}},
		{"no-work", autopilot.Outcome{Kind: autopilot.OutcomeNoWork}, "none", []string{"create"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := haltOptionsFor(c.outcome, c.action)
			if len(got) != len(c.want) {
				t.Fatalf("haltOptionsFor() = %v, want %v", got, c.want)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Fatalf("haltOptionsFor() = %v, want %v", got, c.want)
				}
			}
		})
	}
}
