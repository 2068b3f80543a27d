package kanban

import "sort"

// EventKind discriminates the Event tagged union.
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventDeleted      EventKind = "deleted"
	EventStageChanged EventKind = "stage_changed"
	EventUpdated      EventKind = "updated"
)

// Event is a single delta produced by Diff. Only the fields relevant to
// Kind are populated; callers should switch on Kind before reading them.
type Event struct {
	Kind EventKind

	ID       string   // Deleted, StageChanged, Updated
	WorkItem WorkItem // Created

	FromStage Stage // StageChanged
	ToStage   Stage // StageChanged
}

// Diff computes the events that turn snapshot "before" into snapshot
// "after". It is a pure function: deterministic regardless of map
// iteration order, and does not mutate either snapshot.
//
// Output order is fixed: all deletions (id-sorted), then all creations
// (id-sorted), then all changes over the common-id intersection
// (id-sorted). A stage change and a content update on the same id produce
// only the stage-change event.
func Diff(before, after Snapshot) []Event {
	events := make([]Event, 0, len(before)+len(after))

	for _, id := range sortedKeys(before) {
		if _, ok := after[id]; !ok {
			events = append(events, Event{Kind: EventDeleted, ID: id})
		}
	}

	for _, id := range sortedKeys(after) {
		if _, ok := before[id]; !ok {
			events = append(events, Event{Kind: EventCreated, WorkItem: after[id]})
		}
	}

	for _, id := range sortedKeys(after) {
		prev, ok := before[id]
		if !ok {
			continue
		}
		next := after[id]

		if prev.Stage != next.Stage {
			events = append(events, Event{
				Kind:      EventStageChanged,
				ID:        id,
				FromStage: prev.Stage,
				ToStage:   next.Stage,
			})
			continue
		}

		if contentChanged(prev, next) {
			events = append(events, Event{Kind: EventUpdated, ID: id})
		}
	}

	return events
}

// contentChanged reports a title or label-set change. Title comparison is
// exact; label-set comparison is order-insensitive.
func contentChanged(prev, next WorkItem) bool {
	if prev.Title != next.Title {
		return true
	}
	return !equalStrings(prev.labelSet(), next.labelSet())
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys(s Snapshot) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
