// Package session tracks the worker's per-ticket dispatch state across
// ticks: which ticket is currently active, what session id it was given,
// and what instruction text to hand the worker next.
package session

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/clawban/kanban-workflow/autopilot"
	"github.com/clawban/kanban-workflow/contract"
	"github.com/clawban/kanban-workflow/kanban"
)

// CurrentVersion is the session map's on-disk schema version.
const CurrentVersion = 1

// State is one ticket's lifecycle record.
type State string

const (
	StateInProgress State = "in_progress"
	StateBlocked    State = "blocked"
	StateCompleted  State = "completed"
)

// Entry is a single ticket's session bookkeeping.
type Entry struct {
	TicketID   string     `json:"ticketId"`
	SessionID  string     `json:"sessionId"`
	Label      string     `json:"label"`
	LastState  State      `json:"lastState"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
}

func (e Entry) closed() bool { return e.ClosedAt != nil }

// Active identifies the one ticket currently being worked, if any.
type Active struct {
	TicketID  string `json:"ticketId"`
	SessionID string `json:"sessionId"`
}

// Map is the on-disk document: the version, the active pointer, and every
// ticket's entry keyed by ticket id.
type Map struct {
	Version int              `json:"version"`
	Active  *Active          `json:"active,omitempty"`
	Entries map[string]Entry `json:"entries"`
}

// Clone returns a deep-enough copy for BuildDispatcherPlan's
// do-not-mutate-the-input contract.
func (m Map) Clone() Map {
	out := Map{Version: m.Version, Entries: make(map[string]Entry, len(m.Entries))}
	if m.Active != nil {
		a := *m.Active
		out.Active = &a
	}
	for k, v := range m.Entries {
		if v.ClosedAt != nil {
			c := *v.ClosedAt
			v.ClosedAt = &c
		}
		out.Entries[k] = v
	}
	return out
}

// ActionKind is the kind of follow-up action the dispatcher emits.
type ActionKind string

const (
	ActionWork     ActionKind = "work"
	ActionFinalize ActionKind = "finalize"
)

// Action is one instruction the CLI orchestrator must carry out.
type Action struct {
	Kind        ActionKind
	TicketID    string
	SessionID   string
	Instruction string // populated only for ActionWork
}

var nonSessionChar = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

const maxSessionIDLen = 80

// sanitize restricts s to [a-zA-Z0-9_-] and caps its length, used for both
// the ticket-id and title-slug components of a session id.
func sanitize(s string) string {
	s = nonSessionChar.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSessionIDLen {
		s = s[:maxSessionIDLen]
	}
	return s
}

// BuildSessionID derives the stable session id for a ticket. It is pure:
// same inputs, same output, every time.
func BuildSessionID(ticketID, title string) string {
	id := "kanban-workflow-worker-" + sanitize(ticketID)
	if title == "" {
		return id
	}
	slug := sanitize(strings.ToLower(title))
	if slug == "" {
		return id
	}
	return id + "-" + slug
}

// Label renders the human-readable session label.
func Label(ticketID, title string) string {
	if title == "" {
		return ticketID
	}
	return fmt.Sprintf("%s %s", ticketID, title)
}

// TicketContext is what the work instruction embeds verbatim as JSON.
type TicketContext struct {
	ID          string                   `json:"id"`
	Title       string                   `json:"title"`
	Body        string                   `json:"body"`
	URL         string                   `json:"url"`
	Comments    []kanban.Comment         `json:"comments"`
	Attachments []kanban.Attachment      `json:"attachments"`
	Links       []kanban.LinkedWorkItem  `json:"links"`
}

// BuildDispatcherPlan computes the next session map and the actions the
// caller must perform, from the previous map and one tick's outcome. The
// input map is never mutated; BuildDispatcherPlan returns a new one.
func BuildDispatcherPlan(previous Map, now time.Time, outcome autopilot.Outcome, ctx TicketContext) (Map, []Action, string) {
	next := previous.Clone()
	if next.Entries == nil {
		next.Entries = make(map[string]Entry)
	}
	next.Version = CurrentVersion

	var actions []Action
	var activeTicketID string

	switch outcome.Kind {
	case autopilot.OutcomeInProgress, autopilot.OutcomeStarted:
		entry, sid := ensureOpenEntry(next, outcome.ID, ctx.Title, now)
		entry.LastState = StateInProgress
		entry.LastSeenAt = now
		next.Entries[outcome.ID] = entry
		next.Active = &Active{TicketID: outcome.ID, SessionID: sid}
		activeTicketID = outcome.ID
		actions = append(actions, Action{
			Kind:        ActionWork,
			TicketID:    outcome.ID,
			SessionID:   sid,
			Instruction: BuildWorkInstruction(sid, Label(outcome.ID, ctx.Title), ctx),
		})

	case autopilot.OutcomeBlocked, autopilot.OutcomeCompleted:
		state := StateBlocked
		if outcome.Kind == autopilot.OutcomeCompleted {
			state = StateCompleted
		}
		entry := next.Entries[outcome.ID]
		entry.TicketID = outcome.ID
		entry.LastState = state
		entry.LastSeenAt = now
		closedAt := now
		entry.ClosedAt = &closedAt
		next.Entries[outcome.ID] = entry

		if next.Active != nil && next.Active.TicketID == outcome.ID {
			next.Active = nil
		}
		actions = append(actions, Action{Kind: ActionFinalize, TicketID: outcome.ID, SessionID: entry.SessionID})

	case autopilot.OutcomeNoWork:
		next.Active = nil
	}

	return next, actions, activeTicketID
}

// ensureOpenEntry returns the (possibly freshly created) open entry for
// ticketID, preserving its existing session id if one is already recorded
// and not closed.
func ensureOpenEntry(m Map, ticketID, title string, now time.Time) (Entry, string) {
	entry, ok := m.Entries[ticketID]
	if ok && !entry.closed() {
		return entry, entry.SessionID
	}

	sid := BuildSessionID(ticketID, title)
	return Entry{
		TicketID:  ticketID,
		SessionID: sid,
		Label:     Label(ticketID, title),
	}, sid
}

// ApplyWorkerCommandToSessionMap folds a parsed worker terminal command
// into the session map: "continue" reopens the ticket's entry, "blocked"
// and "completed" finalize it.
func ApplyWorkerCommandToSessionMap(previous Map, ticketID string, cmd contract.Command, now time.Time) Map {
	next := previous.Clone()
	if next.Entries == nil {
		next.Entries = make(map[string]Entry)
	}

	entry := next.Entries[ticketID]
	entry.TicketID = ticketID
	entry.LastSeenAt = now

	switch cmd.Verb {
	case contract.VerbContinue:
		entry.LastState = StateInProgress
		entry.ClosedAt = nil
		if entry.SessionID == "" {
			entry.SessionID = BuildSessionID(ticketID, "")
		}
		next.Active = &Active{TicketID: ticketID, SessionID: entry.SessionID}
	case contract.VerbBlocked:
		entry.LastState = StateBlocked
		closedAt := now
		entry.ClosedAt = &closedAt
		if next.Active != nil && next.Active.TicketID == ticketID {
			next.Active = nil
		}
	case contract.VerbCompleted:
		entry.LastState = StateCompleted
		closedAt := now
		entry.ClosedAt = &closedAt
		if next.Active != nil && next.Active.TicketID == ticketID {
			next.Active = nil
		}
	}

	next.Entries[ticketID] = entry
	return next
}

const executionContractText = `Execution contract: you must end your response with exactly one terminal command on its own final line, preceded by a non-empty EVIDENCE: section describing what you actually did. The three allowed terminal commands are:

  kanban-workflow continue --text "<what you did and what's next>"
  kanban-workflow blocked --text "<what's blocking you>"
  kanban-workflow completed --result "<summary of the finished work>"`

// BuildWorkInstruction renders the deterministic work-instruction text
// handed to the worker for one dispatch.
func BuildWorkInstruction(sessionID, label string, tc TicketContext) string {
	ticketJSON, _ := json.MarshalIndent(tc, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "DO WORK NOW on ticket %s.\n\n", tc.ID)
	fmt.Fprintf(&b, "Session: %s (%s)\n\n", sessionID, label)
	b.WriteString(executionContractText)
	b.WriteString("\n\n")
	b.WriteString(string(ticketJSON))
	b.WriteString("\n")
	return b.String()
}
