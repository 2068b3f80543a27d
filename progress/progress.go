// Package progress implements the periodic progress poster: it comments
// "still working" updates on in-progress tickets no more often than a
// configured interval, so a human watching the board sees the worker is
// alive without every tick spamming a comment.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
)

// DefaultInterval is used when the caller does not specify one.
const DefaultInterval = 5 * time.Minute

// State maps ticket id to the timestamp of its last auto-posted comment.
type State map[string]time.Time

// Clone returns a copy so callers can follow the same
// do-not-mutate-the-input discipline as the rest of the core.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// MessageFunc returns the "currently" and "next" lines for a ticket's
// progress comment. Callers without richer context can default to a
// generic pair.
type MessageFunc func(ctx context.Context, id string) (current, next string, err error)

// Params configures a Run call.
type Params struct {
	Adapter     adapter.Port
	Now         time.Time
	State       State
	Interval    time.Duration
	GetMessage  MessageFunc
}

func defaultMessage(ctx context.Context, id string) (string, string, error) {
	return "working on " + id, "continuing until blocked or done", nil
}

// Run lists in-progress tickets, prunes stale state entries, and posts an
// auto-comment on any ticket whose last post is missing or at least the
// interval old. It returns the updated state and the ids it posted to.
func Run(ctx context.Context, p Params) (State, []string, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	getMessage := p.GetMessage
	if getMessage == nil {
		getMessage = defaultMessage
	}

	inProgress, err := p.Adapter.ListIDsByStage(ctx, kanban.StageInProgress)
	if err != nil {
		return nil, nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "listing in-progress items", err)
	}
	stillInProgress := make(map[string]struct{}, len(inProgress))
	for _, id := range inProgress {
		stillInProgress[id] = struct{}{}
	}

	next := p.State.Clone()
	for id := range next {
		if _, ok := stillInProgress[id]; !ok {
			delete(next, id)
		}
	}

	var posted []string
	for _, id := range inProgress {
		last, hasLast := next[id]
		if hasLast && p.Now.Sub(last) < interval {
			continue
		}

		current, upcoming, err := getMessage(ctx, id)
		if err != nil {
			return nil, nil, clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("building progress message for %s", id), err)
		}

		body := fmt.Sprintf("Progress update (auto):\n\n- Currently: %s\n- Next: %s", current, upcoming)
		if err := p.Adapter.AddComment(ctx, id, body); err != nil {
			return nil, nil, clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("posting progress comment on %s", id), err)
		}

		next[id] = p.Now
		posted = append(posted, id)
	}

	return next, posted, nil
}
