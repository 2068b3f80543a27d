package adapter

import (
	"sort"
	"strconv"
	"strings"
)

// priorityWords maps a platform priority label to the numeric rank used by
// tier 2 of the backlog ordering policy. Numeric priorities pass through
// unchanged (see RankOf).
var priorityWords = map[string]int{
	"urgent":   5,
	"critical": 5,
	"blocker":  5,
	"highest":  5,
	"high":     4,
	"medium":   3,
	"med":      3,
	"normal":   3,
	"low":      2,
	"lowest":   1,
	"none":     0,
	"no-priority": 0,
}

// RankOf converts a free-form platform priority value into the shared 0-5
// rank. Numeric-looking input passes through verbatim (clamped to >= 0).
// Unrecognized input ranks as 0 (same as "no priority"), since tier 2 of
// the ordering policy only applies when priorities differ among backlog
// items in the first place.
func RankOf(priority string) int {
	p := strings.ToLower(strings.TrimSpace(priority))
	if rank, ok := priorityWords[p]; ok {
		return rank
	}
	if n, err := strconv.Atoi(p); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	return 0
}

// BacklogItem is the minimal shape OrderBacklog needs per item: enough to
// apply all four tiers of the ordering policy without an adapter having to
// reimplement the comparator.
type BacklogItem struct {
	ID            string
	SortOrder     *float64 // explicit numeric ordering field, tier 1
	Priority      *int     // pre-ranked priority (0-5), tier 2
	UpdatedAt     int64    // unix seconds, tier 3
	UpdatedAscending bool  // whether tier 3 sorts oldest-first for this adapter
}

// OrderBacklog sorts items in place per the shared four-tier policy:
//  1. explicit numeric ordering field when discoverable (ascending)
//  2. platform priority, descending rank, only applied when priorities
//     differ among the items (a uniform priority is the same as no signal)
//  3. updatedAt, ascending or descending depending on the adapter's own
//     UpdatedAscending flag (each item must set it consistently)
//  4. lexicographic id tie-break
func OrderBacklog(items []BacklogItem) {
	prioritiesDiffer := false
	var first *int
	for i := range items {
		if items[i].Priority == nil {
			continue
		}
		if first == nil {
			first = items[i].Priority
			continue
		}
		if *first != *items[i].Priority {
			prioritiesDiffer = true
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]

		if a.SortOrder != nil && b.SortOrder != nil && *a.SortOrder != *b.SortOrder {
			return *a.SortOrder < *b.SortOrder
		}
		if a.SortOrder != nil && b.SortOrder == nil {
			return true
		}
		if a.SortOrder == nil && b.SortOrder != nil {
			return false
		}

		if prioritiesDiffer && a.Priority != nil && b.Priority != nil && *a.Priority != *b.Priority {
			return *a.Priority > *b.Priority
		}

		if a.UpdatedAt != b.UpdatedAt {
			if a.UpdatedAscending {
				return a.UpdatedAt < b.UpdatedAt
			}
			return a.UpdatedAt > b.UpdatedAt
		}

		return a.ID < b.ID
	})
}

// ConcatenateProjectOrders appends each project's already-ordered id list
// in the configured project order. It never interleaves: a multi-project
// adapter must order within each project first, then call this.
func ConcatenateProjectOrders(perProject [][]string) []string {
	var out []string
	for _, ids := range perProject {
		out = append(out, ids...)
	}
	return out
}
