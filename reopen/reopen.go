// Package reopen implements the auto-reopen watcher: it scans blocked and
// in-review tickets for a newest human comment and, when found, moves the
// ticket back to todo so the worker picks it up again.
package reopen

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
)

// CurrentVersion is the cursor map's on-disk schema version.
const CurrentVersion = 1

// WatchedStages is the fixed set of stages the watcher scans.
var WatchedStages = []kanban.Stage{kanban.StageBlocked, kanban.StageInReview}

// Cursors is the on-disk document: the newest comment id seen per ticket.
type Cursors struct {
	Version int               `json:"version"`
	SeenIDs map[string]string `json:"seenIds"`
}

// Clone returns a copy so callers can follow the same
// do-not-mutate-the-input discipline as the rest of the core.
func (c Cursors) Clone() Cursors {
	out := Cursors{Version: c.Version, SeenIDs: make(map[string]string, len(c.SeenIDs))}
	for k, v := range c.SeenIDs {
		out.SeenIDs[k] = v
	}
	return out
}

// Trigger is one ticket the watcher decided to reopen.
type Trigger struct {
	TicketID        string
	TriggerCommentID string
}

// Params configures a Run call.
type Params struct {
	Adapter          adapter.Port
	Cursors          Cursors
	CommentScanLimit int
	DryRun           bool
}

// DefaultCommentScanLimit mirrors the tick engine's default.
const DefaultCommentScanLimit = 20

var relayedAuthor = regexp.MustCompile(`(?m)^Author:\s*(.+)\s*$`)

// Run scans every watched stage's tickets, reopens (stage -> todo) the ones
// with a newest human comment, and returns the updated cursors plus the
// list of triggers. In dry-run mode the stage mutation and the cursor
// update are both skipped.
func Run(ctx context.Context, p Params) (Cursors, []Trigger, error) {
	if p.CommentScanLimit <= 0 {
		p.CommentScanLimit = DefaultCommentScanLimit
	}

	next := p.Cursors.Clone()
	next.Version = CurrentVersion

	var triggers []Trigger

	me, err := p.Adapter.Whoami(ctx)
	if err != nil {
		return Cursors{}, nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "resolving identity", err)
	}
	identityKeys := keySet(me.Keys())

	for _, stage := range WatchedStages {
		ids, err := p.Adapter.ListIDsByStage(ctx, stage)
		if err != nil {
			return Cursors{}, nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "listing watched stage", err)
		}

		for _, id := range ids {
			comments, err := p.Adapter.ListComments(ctx, id, kanban.CommentQuery{Limit: p.CommentScanLimit, NewestFirst: true})
			if err != nil {
				return Cursors{}, nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "listing comments", err)
			}
			if len(comments) == 0 {
				continue
			}

			cursor := next.SeenIDs[id]
			newestID := comments[0].ID
			trigger := findHumanTrigger(comments, cursor, identityKeys)

			if trigger != nil {
				triggers = append(triggers, Trigger{TicketID: id, TriggerCommentID: trigger.ID})
				if !p.DryRun {
					if err := p.Adapter.SetStage(ctx, id, kanban.StageTodo); err != nil {
						return Cursors{}, nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "reopening ticket", err)
					}
				}
			}

			if !p.DryRun {
				next.SeenIDs[id] = newestID
			}
		}
	}

	return next, triggers, nil
}

// findHumanTrigger walks comments newest-first and returns the newest one
// that is human-authored relative to the worker identity, stopping at the
// previously recorded cursor.
func findHumanTrigger(comments []kanban.Comment, cursor string, identityKeys map[string]struct{}) *kanban.Comment {
	for i := range comments {
		c := comments[i]
		if c.ID == cursor {
			break
		}
		if isHuman(c, identityKeys) {
			return &c
		}
	}
	return nil
}

func isHuman(c kanban.Comment, identityKeys map[string]struct{}) bool {
	effective := effectiveAuthorKeys(c)
	for _, k := range effective {
		if _, ok := identityKeys[k]; ok {
			return false
		}
	}
	return true
}

// effectiveAuthorKeys returns the identity keys to test: the comment's own
// author, unless the body begins with a relayed-author metadata block, in
// which case the parsed name replaces it.
func effectiveAuthorKeys(c kanban.Comment) []string {
	if m := relayedAuthor.FindStringSubmatch(firstLines(c.Body, 3)); m != nil {
		name := strings.TrimSpace(m[1])
		if name != "" {
			return kanban.Actor{Name: name}.Keys()
		}
	}
	return c.Author.Keys()
}

func firstLines(body string, n int) string {
	lines := strings.SplitN(body, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func keySet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

// MarshalCursors and UnmarshalCursors exist so the CLI can persist the
// cursor file using the same atomic-write discipline as the configuration
// loader, without this package taking a direct dependency on the disk.
func MarshalCursors(c Cursors) ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

func UnmarshalCursors(data []byte) (Cursors, error) {
	var c Cursors
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursors{}, clawerr.Wrap(clawerr.KindTransientIO, "parsing auto-reopen cursor file", err)
	}
	return c, nil
}
