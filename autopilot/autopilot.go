// Package autopilot implements the tick decision engine: the single-call,
// single-outcome state machine that looks at the board once and decides
// what the worker should do next, without performing any stage mutation
// itself beyond the documented heal path.
package autopilot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
	"github.com/clawban/kanban-workflow/lock"
)

// OutcomeKind is the closed set of tick results. Every tick produces
// exactly one.
type OutcomeKind string

const (
	OutcomeInProgress OutcomeKind = "in_progress"
	OutcomeBlocked    OutcomeKind = "blocked"
	OutcomeCompleted  OutcomeKind = "completed"
	OutcomeStarted    OutcomeKind = "started"
	OutcomeNoWork     OutcomeKind = "no_work"
)

// Reason codes, named exactly as the decision engine's contract requires so
// CLI presentation and tests can match on them literally.
const (
	ReasonNoBacklogAssigned        = "no_backlog_assigned"
	ReasonNextNotAssignedToMe      = "next_not_assigned_to_me"
	ReasonStartNextAssignedBacklog = "start_next_assigned_backlog"
	ReasonCompletionSignalStrong   = "completion_signal_strong"
	ReasonStaleWithBlockerSignal   = "stale_with_blocker_signal"
	ReasonCompletionProofGateFailed = "completion_proof_gate_failed"
)

// DefaultCommentScanLimit is how many newest comments are scanned for
// completion/blocker markers when the caller does not override it.
const DefaultCommentScanLimit = 20

// DefaultStaleThreshold is how long a blocker signal must have gone
// unresolved before it counts, when the caller does not override it.
const DefaultStaleThreshold = 15 * time.Minute

// Evidence carries whatever literal signal justified the outcome, for CLI
// display and for tests asserting on scenario text.
type Evidence struct {
	MatchedSignal string `json:"matchedSignal,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Outcome is the tick's single result.
type Outcome struct {
	Kind          OutcomeKind
	ID            string
	InProgressIDs []string
	MinutesStale  int
	Reason        string
	ReasonCode    string
	Evidence      Evidence
}

// Params configures a Tick call. Clock and the scan/threshold tunables are
// injected for testability; LockPath/LockTTL select the file-backed mutex.
type Params struct {
	Adapter               adapter.Port
	Now                   time.Time
	LockPath              string
	LockTTL               time.Duration
	CommentScanLimit      int
	StaleThreshold        time.Duration
}

var completionMarkers = []string{
	"completed:", "done and verified", "shipped and verified", "ready for review and verified",
}

var blockerMarkers = []string{
	"waiting on", "blocked on", "blocked here", "need approval", "need credential",
}

// Tick runs one decision cycle: acquire the lock, resolve identity, inspect
// in-progress work (healing extras down to one), scan it for completion or
// blocker signals, and if nothing is mine, pick the next assigned backlog
// item. Exactly one Outcome is returned; the lock is always released.
func Tick(ctx context.Context, p Params) (Outcome, error) {
	if p.CommentScanLimit <= 0 {
		p.CommentScanLimit = DefaultCommentScanLimit
	}
	if p.StaleThreshold <= 0 {
		p.StaleThreshold = DefaultStaleThreshold
	}

	lk, err := lock.TryAcquire(p.LockPath, lock.Holder(), p.Now, p.LockTTL)
	if err != nil {
		return Outcome{}, clawerr.Wrap(clawerr.KindLock, "acquiring autopilot lock", err)
	}
	defer lk.Release()

	if reconciler, ok := p.Adapter.(adapter.Reconciler); ok {
		_ = reconciler.ReconcileAssignments(ctx)
	}

	me, err := p.Adapter.Whoami(ctx)
	if err != nil {
		return Outcome{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "resolving identity", err)
	}

	inProgress, err := p.Adapter.ListIDsByStage(ctx, kanban.StageInProgress)
	if err != nil {
		return Outcome{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "listing in-progress items", err)
	}

	mine, err := filterMine(ctx, p.Adapter, inProgress, me)
	if err != nil {
		return Outcome{}, err
	}

	if len(mine) > 1 {
		outcome, err := healExtras(ctx, p.Adapter, mine)
		if err != nil {
			return Outcome{}, err
		}
		return outcome, nil
	}

	if len(mine) == 1 {
		return inspectSingleInProgress(ctx, p, mine[0])
	}

	return selectFromBacklog(ctx, p.Adapter, me)
}

type assigneeItem struct {
	id        string
	updatedAt time.Time
}

func filterMine(ctx context.Context, a adapter.Port, ids []string, me kanban.Actor) ([]assigneeItem, error) {
	var mine []assigneeItem
	for _, id := range ids {
		details, err := a.GetWorkItem(ctx, id)
		if err != nil {
			return nil, clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("fetching item %s", id), err)
		}
		if isMine(me, details.Assignees) {
			mine = append(mine, assigneeItem{id: id, updatedAt: details.UpdatedAt})
		}
	}
	return mine, nil
}

func isMine(me kanban.Actor, assignees []kanban.Actor) bool {
	for _, a := range assignees {
		if me.Matches(a) {
			return true
		}
	}
	return false
}

// healExtras keeps the oldest-updated "mine" item as primary and moves the
// rest back to todo with an explanatory comment, reducing "mine" in-progress
// count to exactly one.
func healExtras(ctx context.Context, a adapter.Port, mine []assigneeItem) (Outcome, error) {
	sorted := make([]assigneeItem, len(mine))
	copy(sorted, mine)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].updatedAt.Equal(sorted[j].updatedAt) {
			return sorted[i].id < sorted[j].id
		}
		return sorted[i].updatedAt.Before(sorted[j].updatedAt)
	})

	primary := sorted[0]
	for _, extra := range sorted[1:] {
		if err := a.SetStage(ctx, extra.id, kanban.StageTodo); err != nil {
			return Outcome{}, clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("healing %s back to todo", extra.id), err)
		}
		if err := a.AddComment(ctx, extra.id, "Moved back to Backlog automatically: more than one in-progress item was assigned to this worker."); err != nil {
			return Outcome{}, clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("commenting on healed item %s", extra.id), err)
		}
	}

	return Outcome{
		Kind:          OutcomeInProgress,
		ID:            primary.id,
		InProgressIDs: []string{primary.id},
	}, nil
}

func inspectSingleInProgress(ctx context.Context, p Params, item assigneeItem) (Outcome, error) {
	minutesStale := int(p.Now.Sub(item.updatedAt).Minutes())

	comments, err := p.Adapter.ListComments(ctx, item.id, kanban.CommentQuery{
		Limit:       p.CommentScanLimit,
		NewestFirst: true,
	})
	if err != nil {
		return Outcome{}, clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("listing comments on %s", item.id), err)
	}

	for _, c := range comments {
		lower := strings.ToLower(c.Body)
		if signal, ok := matchAny(lower, completionMarkers); ok {
			return Outcome{
				Kind:       OutcomeCompleted,
				ID:         item.id,
				ReasonCode: ReasonCompletionSignalStrong,
				Evidence:   Evidence{MatchedSignal: signal},
			}, nil
		}
	}

	if minutesStale >= int(p.StaleThreshold.Minutes()) {
		for _, c := range comments {
			lower := strings.ToLower(c.Body)
			if signal, ok := matchAny(lower, blockerMarkers); ok {
				return Outcome{
					Kind:         OutcomeBlocked,
					ID:           item.id,
					MinutesStale: minutesStale,
					Reason:       "worker reported a blocker and the item has been stale",
					ReasonCode:   ReasonStaleWithBlockerSignal,
					Evidence:     Evidence{MatchedSignal: signal},
				}, nil
			}
		}
	}

	return Outcome{
		Kind:          OutcomeInProgress,
		ID:            item.id,
		InProgressIDs: []string{item.id},
	}, nil
}

func matchAny(haystack string, markers []string) (string, bool) {
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return m, true
		}
	}
	return "", false
}

func selectFromBacklog(ctx context.Context, a adapter.Port, me kanban.Actor) (Outcome, error) {
	backlog, err := a.ListBacklogIDsInOrder(ctx)
	if err != nil {
		return Outcome{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "listing backlog", err)
	}
	if len(backlog) == 0 {
		return Outcome{Kind: OutcomeNoWork, ReasonCode: ReasonNoBacklogAssigned}, nil
	}

	next := backlog[0]
	details, err := a.GetWorkItem(ctx, next)
	if err != nil {
		return Outcome{}, clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("fetching backlog head %s", next), err)
	}

	if !isMine(me, details.Assignees) {
		return Outcome{Kind: OutcomeNoWork, ReasonCode: ReasonNextNotAssignedToMe}, nil
	}

	return Outcome{
		Kind:       OutcomeStarted,
		ID:         next,
		ReasonCode: ReasonStartNextAssignedBacklog,
		Evidence:   Evidence{UpdatedAt: details.UpdatedAt},
	}, nil
}

// PassesProofGate reports whether a completed outcome carries strong-enough
// evidence for the caller to perform the in-review transition. A caller
// must treat any other reason code as a hold.
func PassesProofGate(o Outcome) bool {
	return o.Kind == OutcomeCompleted && o.ReasonCode == ReasonCompletionSignalStrong
}

// PeekNextBacklog resolves identity and previews the next backlog pick
// without acquiring the lock or mutating anything. CLI callers use it to
// report what would be dispatched next after applying a blocked/completed
// outcome, without running a second full Tick.
func PeekNextBacklog(ctx context.Context, a adapter.Port) (Outcome, error) {
	me, err := a.Whoami(ctx)
	if err != nil {
		return Outcome{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "resolving identity", err)
	}
	return selectFromBacklog(ctx, a, me)
}
