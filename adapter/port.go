// Package adapter defines the platform adapter port: the single interface
// every concrete backend (GitHub, Linear, Plane, Planka) implements, plus
// the configuration tagged union and the shared ordering/HTML-stripping
// helpers that keep the concrete adapters small.
package adapter

import (
	"context"

	"github.com/clawban/kanban-workflow/kanban"
)

// Port is the polymorphic contract the decision engine consumes. The
// engine never sees platform specifics beyond this interface.
type Port interface {
	// Name is the adapter's stable identifier, e.g. "github", "plane".
	Name() string

	// Whoami returns the current authenticated identity. Implementations
	// may additionally probe read access (e.g. listing projects) and
	// fail if that probe fails.
	Whoami(ctx context.Context) (kanban.Actor, error)

	// FetchSnapshot returns the full current view of tracked work items.
	FetchSnapshot(ctx context.Context) (kanban.Snapshot, error)

	// ListIDsByStage returns ids in that stage in an adapter-defined but
	// deterministic order.
	ListIDsByStage(ctx context.Context, stage kanban.Stage) ([]string, error)

	// ListBacklogIDsInOrder returns ids in StageTodo in the order the
	// engine should consume them; see OrderBacklog in ordering.go for the
	// shared ranking policy concrete adapters should apply.
	ListBacklogIDsInOrder(ctx context.Context) ([]string, error)

	// GetWorkItem returns the resolved details for one item, including
	// body/description, preferring a detail endpoint over a list-truncated
	// preview.
	GetWorkItem(ctx context.Context, id string) (kanban.WorkItemDetails, error)

	// ListComments returns up to q.Limit comments for id.
	ListComments(ctx context.Context, id string, q kanban.CommentQuery) ([]kanban.Comment, error)

	// ListAttachments returns the attachments on id.
	ListAttachments(ctx context.Context, id string) ([]kanban.Attachment, error)

	// ListLinkedWorkItems returns cross-references from id to other tickets.
	ListLinkedWorkItems(ctx context.Context, id string) ([]kanban.LinkedWorkItem, error)

	// SetStage transitions id to stage. Idempotent: setting the current
	// stage is a no-op success.
	SetStage(ctx context.Context, id string, stage kanban.Stage) error

	// AddComment posts body on id. A body that trims to empty is ignored.
	AddComment(ctx context.Context, id string, body string) error

	// CreateInBacklogAndAssignToSelf creates a new item in StageTodo and,
	// best-effort, assigns it to Whoami's identity.
	CreateInBacklogAndAssignToSelf(ctx context.Context, title, body string) (CreateResult, error)
}

// Reconciler is an optional capability: for any ticket in a mapped stage
// with no assignee but a known creator, attempt to assign the creator.
// Failures are swallowed by the caller; this is never fatal.
type Reconciler interface {
	ReconcileAssignments(ctx context.Context) error
}

// CreateResult is returned by CreateInBacklogAndAssignToSelf.
type CreateResult struct {
	ID  string
	URL string
}
