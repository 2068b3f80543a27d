package kanban

import (
	"strings"

	"golang.org/x/text/cases"
)

// foldCaser performs Unicode-aware case folding for identity comparisons,
// the same family of case transform the teacher uses for display text
// (golang.org/x/text/cases), applied here to comparison instead of rendering.
var foldCaser = cases.Fold()

// Actor is a bag of optional identity fields. Any subset may be populated;
// the core never requires all three.
type Actor struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Keys returns the case-folded, trimmed, non-empty identity keys for this
// actor, suitable for set-membership comparisons (self-assignment filtering,
// auto-reopen human-vs-worker detection).
func (a Actor) Keys() []string {
	keys := make([]string, 0, 3)
	for _, v := range []string{a.ID, a.Username, a.Name} {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		keys = append(keys, foldKey(v))
	}
	return keys
}

// Matches reports whether any of a's populated identity fields
// case-insensitively equals any of other's populated identity fields.
func (a Actor) Matches(other Actor) bool {
	mine := a.Keys()
	if len(mine) == 0 {
		return false
	}
	theirs := make(map[string]struct{}, len(mine))
	for _, k := range mine {
		theirs[k] = struct{}{}
	}
	for _, k := range other.Keys() {
		if _, ok := theirs[k]; ok {
			return true
		}
	}
	return false
}

// foldKey case-folds a string the same way for every identity comparison in
// the core, so adapters never need to reimplement it.
func foldKey(s string) string {
	return foldCaser.String(strings.TrimSpace(s))
}
