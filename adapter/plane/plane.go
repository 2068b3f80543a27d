// Package plane implements the adapter.Port contract against the Plane.so
// REST API, grounded on the poller-layer Client/Config split used for
// Plane in the retrieved example pack, generalized from "poll the pilot
// label" to the full adapter surface and extended with the per-project
// state/label id caches the poller also keeps.
package plane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
)

const defaultAPIKeyEnv = "PLANE_API_KEY"
const baseURL = "https://api.plane.so"

// Client is a thin REST client for the Plane API.
type Client struct {
	httpClient *http.Client
	apiKey     string
}

func newClient(apiKey string) *Client {
	return &Client{httpClient: &http.Client{Timeout: 20 * time.Second}, apiKey: apiKey}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return clawerr.Wrap(clawerr.KindAdapterProtocol, "building Plane request", err)
	}
	return c.do(req, out)
}

func (c *Client) send(ctx context.Context, method, path string, body any, out any) error {
	var reader *strings.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return clawerr.Wrap(clawerr.KindAdapterProtocol, "encoding Plane request body", err)
		}
		reader = strings.NewReader(string(payload))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return clawerr.Wrap(clawerr.KindAdapterProtocol, "building Plane request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return clawerr.Wrap(clawerr.KindTransientIO, "calling the Plane API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body strings.Builder
		_, _ = body.ReadFrom(resp.Body)
		return clawerr.New(clawerr.KindAdapterProtocol,
			fmt.Sprintf("Plane API %s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(body.String())))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing Plane API response", err)
	}
	return nil
}

type planeState struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Group string `json:"group"`
}

type planeIssue struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description_html"`
	State       string   `json:"state"` // state id
	Priority    string   `json:"priority"`
	SortOrder   float64  `json:"sort_order"`
	UpdatedAt   string   `json:"updated_at"`
	Assignees   []string `json:"assignees"` // user ids
	CreatedBy   string   `json:"created_by"`
	Labels      []string `json:"labels"` // label ids
}

type paginated[T any] struct {
	Results []T  `json:"results"`
	Next    *int `json:"next_cursor,omitempty"`
}

// projectCache holds the per-project state/label lookups the adapter
// resolves once and reuses, mirroring the poller's startup label/state
// caching instead of re-resolving names on every issue.
type projectCache struct {
	mu         sync.Mutex
	states     map[string]map[string]planeState // projectID -> stateID -> state
	labelNames map[string]map[string]string     // projectID -> labelID -> name
}

func newProjectCache() *projectCache {
	return &projectCache{states: map[string]map[string]planeState{}, labelNames: map[string]map[string]string{}}
}

// Adapter implements adapter.Port against a Plane workspace's projects.
type Adapter struct {
	client     *Client
	workspace  string
	projectIDs []string
	stageMap   adapter.StageMap
	filterMine bool
	cache      *projectCache
}

// New builds a Plane adapter from its configuration section.
func New(cfg adapter.PlaneConfig) *Adapter {
	apiKeyEnv := cfg.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = defaultAPIKeyEnv
	}
	return &Adapter{
		client:     newClient(os.Getenv(apiKeyEnv)),
		workspace:  cfg.WorkspaceSlug,
		projectIDs: cfg.ProjectIDs,
		stageMap:   cfg.StageMap,
		filterMine: cfg.FilterMineAtAdapter,
		cache:      newProjectCache(),
	}
}

func (a *Adapter) Name() string { return "plane" }

type planeUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

func (a *Adapter) Whoami(ctx context.Context) (kanban.Actor, error) {
	var me planeUser
	if err := a.client.get(ctx, "/api/v1/users/me/", &me); err != nil {
		return kanban.Actor{}, err
	}
	return kanban.Actor{ID: me.ID, Username: me.Email, Name: me.DisplayName}, nil
}

func (a *Adapter) statesFor(ctx context.Context, projectID string) (map[string]planeState, error) {
	a.cache.mu.Lock()
	if cached, ok := a.cache.states[projectID]; ok {
		a.cache.mu.Unlock()
		return cached, nil
	}
	a.cache.mu.Unlock()

	var resp paginated[planeState]
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/states/", a.workspace, projectID)
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	byID := make(map[string]planeState, len(resp.Results))
	for _, s := range resp.Results {
		byID[s.ID] = s
	}

	a.cache.mu.Lock()
	a.cache.states[projectID] = byID
	a.cache.mu.Unlock()
	return byID, nil
}

func (a *Adapter) labelsFor(ctx context.Context, projectID string) (map[string]string, error) {
	a.cache.mu.Lock()
	if cached, ok := a.cache.labelNames[projectID]; ok {
		a.cache.mu.Unlock()
		return cached, nil
	}
	a.cache.mu.Unlock()

	var resp paginated[struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}]
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/labels/", a.workspace, projectID)
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	byID := make(map[string]string, len(resp.Results))
	for _, l := range resp.Results {
		byID[l.ID] = l.Name
	}

	a.cache.mu.Lock()
	a.cache.labelNames[projectID] = byID
	a.cache.mu.Unlock()
	return byID, nil
}

func (a *Adapter) listProjectIssues(ctx context.Context, projectID string) ([]planeIssue, error) {
	var resp paginated[planeIssue]
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/", a.workspace, projectID)
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// compositeID embeds the project id so work item ids stay globally unique
// across a multi-project workspace.
func compositeID(projectID, issueID string) string { return projectID + ":" + issueID }

func splitCompositeID(id string) (projectID, issueID string, ok bool) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (a *Adapter) toWorkItem(ctx context.Context, projectID string, issue planeIssue) (kanban.WorkItem, bool, error) {
	states, err := a.statesFor(ctx, projectID)
	if err != nil {
		return kanban.WorkItem{}, false, err
	}
	state, ok := states[issue.State]
	if !ok {
		return kanban.WorkItem{}, false, nil
	}
	stage, ok := a.stageMap.CanonicalOf(state.Name)
	if !ok {
		return kanban.WorkItem{}, false, nil
	}

	labelNames, err := a.labelsFor(ctx, projectID)
	if err != nil {
		return kanban.WorkItem{}, false, err
	}
	labels := make([]string, 0, len(issue.Labels))
	for _, id := range issue.Labels {
		if name, ok := labelNames[id]; ok {
			labels = append(labels, name)
		}
	}

	assignees := make([]kanban.Actor, 0, len(issue.Assignees))
	for _, userID := range issue.Assignees {
		assignees = append(assignees, kanban.Actor{ID: userID})
	}

	updatedAt, _ := time.Parse(time.RFC3339, issue.UpdatedAt)

	return kanban.WorkItem{
		ID:        compositeID(projectID, issue.ID),
		Title:     issue.Name,
		Stage:     stage,
		Labels:    labels,
		Assignees: assignees,
		UpdatedAt: updatedAt,
		Body:      adapter.StripHTML(issue.Description),
	}, true, nil
}

func (a *Adapter) FetchSnapshot(ctx context.Context) (kanban.Snapshot, error) {
	snap := kanban.Snapshot{}
	for _, projectID := range a.projectIDs {
		issues, err := a.listProjectIssues(ctx, projectID)
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			item, ok, err := a.toWorkItem(ctx, projectID, issue)
			if err != nil {
				return nil, err
			}
			if ok {
				snap[item.ID] = item
			}
		}
	}
	return snap, nil
}

func (a *Adapter) ListIDsByStage(ctx context.Context, stage kanban.Stage) ([]string, error) {
	snap, err := a.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.ByStage(stage), nil
}

// ListBacklogIDsInOrder orders within each project using the shared policy
// (Plane's numeric priority plus sort_order/updatedAt), then concatenates
// per-project order without interleaving, per the configured ProjectIDs
// order. When FilterMineAtAdapter is set, only issues assigned to Whoami
// are returned, resolving the spec's backlog-ownership open question at
// the adapter layer instead of inside the decision engine.
func (a *Adapter) ListBacklogIDsInOrder(ctx context.Context) ([]string, error) {
	var me kanban.Actor
	if a.filterMine {
		var err error
		me, err = a.Whoami(ctx)
		if err != nil {
			return nil, err
		}
	}

	var perProject [][]string
	for _, projectID := range a.projectIDs {
		issues, err := a.listProjectIssues(ctx, projectID)
		if err != nil {
			return nil, err
		}

		var items []adapter.BacklogItem
		for _, issue := range issues {
			states, err := a.statesFor(ctx, projectID)
			if err != nil {
				return nil, err
			}
			state, ok := states[issue.State]
			if !ok {
				continue
			}
			stage, ok := a.stageMap.CanonicalOf(state.Name)
			if !ok || stage != kanban.StageTodo {
				continue
			}

			if a.filterMine && !assignedTo(issue, me.ID) {
				continue
			}

			sortOrder := issue.SortOrder
			priority := adapter.RankOf(issue.Priority)
			updatedAt, _ := time.Parse(time.RFC3339, issue.UpdatedAt)
			items = append(items, adapter.BacklogItem{
				ID:        compositeID(projectID, issue.ID),
				SortOrder: &sortOrder,
				Priority:  &priority,
				UpdatedAt: updatedAt.Unix(),
			})
		}

		adapter.OrderBacklog(items)
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ID
		}
		perProject = append(perProject, ids)
	}

	return adapter.ConcatenateProjectOrders(perProject), nil
}

func assignedTo(issue planeIssue, userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range issue.Assignees {
		if id == userID {
			return true
		}
	}
	return false
}

type planeComment struct {
	ID        string `json:"id"`
	Comment   string `json:"comment_html"`
	CreatedAt string `json:"created_at"`
	ActorID   string `json:"actor"`
}

func (a *Adapter) GetWorkItem(ctx context.Context, id string) (kanban.WorkItemDetails, error) {
	projectID, issueID, ok := splitCompositeID(id)
	if !ok {
		return kanban.WorkItemDetails{}, clawerr.New(clawerr.KindAdapterProtocol, fmt.Sprintf("malformed plane work item id %q", id))
	}

	var issue planeIssue
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/%s/", a.workspace, projectID, issueID)
	if err := a.client.get(ctx, path, &issue); err != nil {
		return kanban.WorkItemDetails{}, err
	}

	item, _, err := a.toWorkItem(ctx, projectID, issue)
	if err != nil {
		return kanban.WorkItemDetails{}, err
	}
	item.ID = id

	comments, err := a.listComments(ctx, projectID, issueID)
	if err != nil {
		return kanban.WorkItemDetails{}, err
	}

	return kanban.WorkItemDetails{WorkItem: item, Comments: comments}, nil
}

func (a *Adapter) listComments(ctx context.Context, projectID, issueID string) ([]kanban.Comment, error) {
	var resp paginated[planeComment]
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/%s/comments/", a.workspace, projectID, issueID)
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	comments := make([]kanban.Comment, 0, len(resp.Results))
	for _, c := range resp.Results {
		createdAt, _ := time.Parse(time.RFC3339, c.CreatedAt)
		comments = append(comments, kanban.Comment{
			ID:        c.ID,
			Author:    kanban.Actor{ID: c.ActorID},
			Body:      adapter.StripHTML(c.Comment),
			CreatedAt: createdAt,
		})
	}
	return comments, nil
}

func (a *Adapter) ListComments(ctx context.Context, id string, q kanban.CommentQuery) ([]kanban.Comment, error) {
	projectID, issueID, ok := splitCompositeID(id)
	if !ok {
		return nil, clawerr.New(clawerr.KindAdapterProtocol, fmt.Sprintf("malformed plane work item id %q", id))
	}
	comments, err := a.listComments(ctx, projectID, issueID)
	if err != nil {
		return nil, err
	}
	if q.NewestFirst {
		sort.SliceStable(comments, func(i, j int) bool { return comments[i].CreatedAt.After(comments[j].CreatedAt) })
	}
	if q.Limit > 0 && len(comments) > q.Limit {
		comments = comments[:q.Limit]
	}
	return comments, nil
}

func (a *Adapter) ListAttachments(ctx context.Context, id string) ([]kanban.Attachment, error) {
	projectID, issueID, ok := splitCompositeID(id)
	if !ok {
		return nil, clawerr.New(clawerr.KindAdapterProtocol, fmt.Sprintf("malformed plane work item id %q", id))
	}

	var resp paginated[struct {
		ID         string `json:"id"`
		Attributes struct {
			Name string `json:"name"`
		} `json:"attributes"`
		Asset string `json:"asset"`
	}]
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/%s/attachments/", a.workspace, projectID, issueID)
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	out := make([]kanban.Attachment, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, kanban.Attachment{ID: r.ID, Filename: r.Attributes.Name, URL: r.Asset})
	}
	return out, nil
}

func (a *Adapter) ListLinkedWorkItems(ctx context.Context, id string) ([]kanban.LinkedWorkItem, error) {
	projectID, issueID, ok := splitCompositeID(id)
	if !ok {
		return nil, clawerr.New(clawerr.KindAdapterProtocol, fmt.Sprintf("malformed plane work item id %q", id))
	}

	var resp paginated[struct {
		RelationType string `json:"relation_type"`
		Issue        string `json:"issue"`
	}]
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/%s/issue-relation/", a.workspace, projectID, issueID)
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	out := make([]kanban.LinkedWorkItem, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, kanban.LinkedWorkItem{ID: compositeID(projectID, r.Issue), Relation: r.RelationType})
	}
	return out, nil
}

func (a *Adapter) firstStateNameFor(stage kanban.Stage) (string, bool) {
	var candidates []string
	for name, s := range a.stageMap {
		if s == stage {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return candidates[0], true
}

func (a *Adapter) stateIDByName(ctx context.Context, projectID, name string) (string, error) {
	states, err := a.statesFor(ctx, projectID)
	if err != nil {
		return "", err
	}
	for id, s := range states {
		if strings.EqualFold(s.Name, name) {
			return id, nil
		}
	}
	return "", clawerr.New(clawerr.KindConfig, fmt.Sprintf("no Plane state named %q in project %s", name, projectID))
}

func (a *Adapter) SetStage(ctx context.Context, id string, stage kanban.Stage) error {
	projectID, issueID, ok := splitCompositeID(id)
	if !ok {
		return clawerr.New(clawerr.KindAdapterProtocol, fmt.Sprintf("malformed plane work item id %q", id))
	}

	stateName, ok := a.firstStateNameFor(stage)
	if !ok {
		return clawerr.New(clawerr.KindConfig, fmt.Sprintf("no state configured for stage %q", stage))
	}
	stateID, err := a.stateIDByName(ctx, projectID, stateName)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/%s/", a.workspace, projectID, issueID)
	return a.client.send(ctx, http.MethodPatch, path, map[string]any{"state": stateID}, nil)
}

func (a *Adapter) AddComment(ctx context.Context, id string, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	projectID, issueID, ok := splitCompositeID(id)
	if !ok {
		return clawerr.New(clawerr.KindAdapterProtocol, fmt.Sprintf("malformed plane work item id %q", id))
	}
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/%s/comments/", a.workspace, projectID, issueID)
	return a.client.send(ctx, http.MethodPost, path, map[string]any{"comment_html": body}, nil)
}

func (a *Adapter) CreateInBacklogAndAssignToSelf(ctx context.Context, title, body string) (adapter.CreateResult, error) {
	if len(a.projectIDs) == 0 {
		return adapter.CreateResult{}, clawerr.New(clawerr.KindConfig, "no projectIds configured")
	}
	projectID := a.projectIDs[0]

	stateName, ok := a.firstStateNameFor(kanban.StageTodo)
	if !ok {
		return adapter.CreateResult{}, clawerr.New(clawerr.KindConfig, "no state configured for stage todo")
	}
	stateID, err := a.stateIDByName(ctx, projectID, stateName)
	if err != nil {
		return adapter.CreateResult{}, err
	}

	me, err := a.Whoami(ctx)
	if err != nil {
		return adapter.CreateResult{}, err
	}

	var created planeIssue
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/", a.workspace, projectID)
	payload := map[string]any{
		"name":             title,
		"description_html": body,
		"state":            stateID,
		"assignees":        []string{me.ID},
	}
	if err := a.client.send(ctx, http.MethodPost, path, payload, &created); err != nil {
		return adapter.CreateResult{}, err
	}

	id := compositeID(projectID, created.ID)
	url := fmt.Sprintf("https://app.plane.so/%s/projects/%s/issues/%s", a.workspace, projectID, created.ID)
	return adapter.CreateResult{ID: id, URL: url}, nil
}

// ReconcileAssignments assigns every tracked, unassigned issue to its
// recorded creator, the same best-effort policy every adapter implements.
func (a *Adapter) ReconcileAssignments(ctx context.Context) error {
	for _, projectID := range a.projectIDs {
		issues, err := a.listProjectIssues(ctx, projectID)
		if err != nil {
			return err
		}
		states, err := a.statesFor(ctx, projectID)
		if err != nil {
			return err
		}
		for _, issue := range issues {
			if len(issue.Assignees) > 0 || issue.CreatedBy == "" {
				continue
			}
			if state, ok := states[issue.State]; !ok {
				continue
			} else if _, mapped := a.stageMap.CanonicalOf(state.Name); !mapped {
				continue
			}
			path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/%s/", a.workspace, projectID, issue.ID)
			_ = a.client.send(ctx, http.MethodPatch, path, map[string]any{"assignees": []string{issue.CreatedBy}}, nil)
		}
	}
	return nil
}
