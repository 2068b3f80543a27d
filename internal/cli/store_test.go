package cli

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/clawban/kanban-workflow/session"
)

func TestLoadSessionMapMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	m, err := loadSessionMap(path)
	if err != nil {
		t.Fatalf("loadSessionMap: %v", err)
	}
	if m.Entries == nil {
		t.Fatal("expected a non-nil Entries map")
	}
	if len(m.Entries) != 0 {
		t.Errorf("expected an empty map, got %v", m.Entries)
	}
}

func TestSaveThenLoadSessionMapRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session-map.json")

	now := time.Now().UTC().Truncate(time.Second)
	want := session.Map{
		Version: session.CurrentVersion,
		Active:  &session.Active{TicketID: "t-1", SessionID: "sess-1"},
		Entries: map[string]session.Entry{
			"t-1": {TicketID: "t-1", SessionID: "sess-1", LastState: session.StateInProgress, LastSeenAt: now},
		},
	}

	if err := saveSessionMap(path, want); err != nil {
		t.Fatalf("saveSessionMap: %v", err)
	}

	got, err := loadSessionMap(path)
	if err != nil {
		t.Fatalf("loadSessionMap: %v", err)
	}

	if got.Active == nil || got.Active.TicketID != "t-1" {
		t.Fatalf("got.Active = %+v, want ticket t-1", got.Active)
	}
	entry, ok := got.Entries["t-1"]
	if !ok {
		t.Fatal("expected entry t-1 to round-trip")
	}
	if entry.SessionID != "sess-1" || entry.LastState != session.StateInProgress {
		t.Errorf("entry = %+v, want sessionID sess-1 / state in_progress", entry)
	}
}
