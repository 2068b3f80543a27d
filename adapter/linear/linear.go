// Package linear implements the adapter.Port contract against the Linear
// GraphQL API, with a Client/Config separation modeled on the
// poller-layer shape used for Linear in the retrieved example pack
// (Poller -> *Client, *WorkspaceConfig), generalized here from "poll for
// new issues" to the full adapter surface the decision engine needs.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
)

const defaultAPIKeyEnv = "LINEAR_API_KEY"
const graphQLEndpoint = "https://api.linear.app/graphql"

// Client is a thin GraphQL client for the Linear API, wrapped in a circuit
// breaker so a flaky Linear outage trips open rather than stalling every
// tick behind a chain of timeouts.
type Client struct {
	httpClient *http.Client
	apiKey     string
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

func newClient(apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		apiKey:     apiKey,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "linear-graphql",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, query string, variables map[string]any) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
		if err != nil {
			return nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "encoding Linear GraphQL request", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, graphQLEndpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "building Linear GraphQL request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, clawerr.Wrap(clawerr.KindTransientIO, "calling the Linear API", err)
		}
		defer resp.Body.Close()

		body := new(bytes.Buffer)
		if _, err := body.ReadFrom(resp.Body); err != nil {
			return nil, clawerr.Wrap(clawerr.KindTransientIO, "reading the Linear API response", err)
		}

		if resp.StatusCode >= 400 {
			return nil, clawerr.New(clawerr.KindAdapterProtocol,
				fmt.Sprintf("Linear API returned %d: %s", resp.StatusCode, strings.TrimSpace(body.String())))
		}

		var envelope struct {
			Errors []graphQLError `json:"errors"`
		}
		if err := json.Unmarshal(body.Bytes(), &envelope); err == nil && len(envelope.Errors) > 0 {
			return nil, clawerr.New(clawerr.KindAdapterProtocol, "Linear API returned errors: "+envelope.Errors[0].Message)
		}

		return body.Bytes(), nil
	})
}

// Adapter implements adapter.Port against a single Linear team.
type Adapter struct {
	client   *Client
	teamKey  string
	stageMap adapter.StageMap
}

// New builds a Linear adapter from its configuration section.
func New(cfg adapter.LinearConfig) *Adapter {
	apiKeyEnv := cfg.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = defaultAPIKeyEnv
	}
	return &Adapter{
		client:   newClient(os.Getenv(apiKeyEnv)),
		teamKey:  cfg.TeamKey,
		stageMap: cfg.StageMap,
	}
}

func (a *Adapter) Name() string { return "linear" }

type linearUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a *Adapter) Whoami(ctx context.Context) (kanban.Actor, error) {
	const q = `query { viewer { id name email } }`
	raw, err := a.client.do(ctx, q, nil)
	if err != nil {
		return kanban.Actor{}, err
	}

	var resp struct {
		Data struct {
			Viewer linearUser `json:"viewer"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return kanban.Actor{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing Linear viewer response", err)
	}
	v := resp.Data.Viewer
	return kanban.Actor{ID: v.ID, Username: v.Email, Name: v.Name}, nil
}

type linearLabel struct {
	Name string `json:"name"`
}

type linearState struct {
	Name string `json:"name"`
}

type linearIssue struct {
	ID         string      `json:"id"`
	Identifier string      `json:"identifier"`
	Title      string      `json:"title"`
	URL        string      `json:"url"`
	Priority   float64     `json:"priority"`
	SortOrder  float64     `json:"sortOrder"`
	UpdatedAt  string      `json:"updatedAt"`
	Body       string      `json:"description"`
	State      linearState `json:"state"`
	Assignee   *linearUser `json:"assignee"`
	Creator    *linearUser `json:"creator"`
	Labels     struct {
		Nodes []linearLabel `json:"nodes"`
	} `json:"labels"`
}

const issuesQuery = `
query ($teamKey: String!, $after: String) {
  issues(filter: { team: { key: { eq: $teamKey } } }, first: 100, after: $after) {
    nodes {
      id
      identifier
      title
      url
      priority
      sortOrder
      updatedAt
      description
      state { name }
      assignee { id name email }
      creator { id name email }
      labels { nodes { name } }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

func (a *Adapter) listIssues(ctx context.Context) ([]linearIssue, error) {
	var all []linearIssue
	var after any

	for {
		raw, err := a.client.do(ctx, issuesQuery, map[string]any{"teamKey": a.teamKey, "after": after})
		if err != nil {
			return nil, err
		}

		var resp struct {
			Data struct {
				Issues struct {
					Nodes    []linearIssue `json:"nodes"`
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
				} `json:"issues"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing Linear issues response", err)
		}

		all = append(all, resp.Data.Issues.Nodes...)
		if !resp.Data.Issues.PageInfo.HasNextPage {
			break
		}
		after = resp.Data.Issues.PageInfo.EndCursor
	}

	return all, nil
}

func (a *Adapter) toWorkItem(issue linearIssue) (kanban.WorkItem, bool) {
	stage, ok := a.stageMap.CanonicalOf(issue.State.Name)
	if !ok {
		return kanban.WorkItem{}, false
	}

	labels := make([]string, 0, len(issue.Labels.Nodes))
	for _, l := range issue.Labels.Nodes {
		labels = append(labels, l.Name)
	}

	var assignees []kanban.Actor
	if issue.Assignee != nil {
		assignees = append(assignees, kanban.Actor{ID: issue.Assignee.ID, Username: issue.Assignee.Email, Name: issue.Assignee.Name})
	}

	updatedAt, _ := time.Parse(time.RFC3339, issue.UpdatedAt)

	return kanban.WorkItem{
		ID:        issue.ID,
		Title:     issue.Title,
		Stage:     stage,
		URL:       issue.URL,
		Labels:    labels,
		Assignees: assignees,
		UpdatedAt: updatedAt,
		Body:      issue.Body,
	}, true
}

func (a *Adapter) FetchSnapshot(ctx context.Context) (kanban.Snapshot, error) {
	issues, err := a.listIssues(ctx)
	if err != nil {
		return nil, err
	}
	snap := make(kanban.Snapshot, len(issues))
	for _, issue := range issues {
		if item, ok := a.toWorkItem(issue); ok {
			snap[item.ID] = item
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

// ListBacklogIDsInOrder orders by Linear's own sortOrder field, tier 1 of
// the shared ordering policy; the updatedAt and id tiers of OrderBacklog
// only break ties between equal sortOrder values.
func (a *Adapter) ListBacklogIDsInOrder(ctx context.Context) ([]string, error) {
	issues, err := a.listIssues(ctx)
	if err != nil {
		return nil, err
	}

	var items []adapter.BacklogItem
	for _, issue := range issues {
		stage, ok := a.stageMap.CanonicalOf(issue.State.Name)
		if !ok || stage != kanban.StageTodo {
			continue
		}
		sortOrder := issue.SortOrder
		updatedAt, _ := time.Parse(time.RFC3339, issue.UpdatedAt)
		items = append(items, adapter.BacklogItem{
			ID:        issue.ID,
			SortOrder: &sortOrder,
			UpdatedAt: updatedAt.Unix(),
		})
	}

	adapter.OrderBacklog(items)

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids, nil
}

type linearComment struct {
	ID        string      `json:"id"`
	Body      string      `json:"body"`
	CreatedAt string      `json:"createdAt"`
	User      *linearUser `json:"user"`
}

func (a *Adapter) GetWorkItem(ctx context.Context, id string) (kanban.WorkItemDetails, error) {
	const q = `
query ($id: String!) {
  issue(id: $id) {
    id identifier title url priority sortOrder updatedAt description
    state { name }
    assignee { id name email }
    creator { id name email }
    labels { nodes { name } }
    comments(first: 100) { nodes { id body createdAt user { id name email } } }
    relations(first: 50) { nodes { type relatedIssue { identifier } } }
  }
}`
	raw, err := a.client.do(ctx, q, map[string]any{"id": id})
	if err != nil {
		return kanban.WorkItemDetails{}, err
	}

	var resp struct {
		Data struct {
			Issue struct {
				linearIssue
				Comments struct {
					Nodes []linearComment `json:"nodes"`
				} `json:"comments"`
				Relations struct {
					Nodes []struct {
						Type         string `json:"type"`
						RelatedIssue struct {
							Identifier string `json:"identifier"`
						} `json:"relatedIssue"`
					} `json:"nodes"`
				} `json:"relations"`
			} `json:"issue"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return kanban.WorkItemDetails{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing Linear issue response", err)
	}

	item, _ := a.toWorkItem(resp.Data.Issue.linearIssue)
	item.ID = id

	comments := make([]kanban.Comment, 0, len(resp.Data.Issue.Comments.Nodes))
	for _, c := range resp.Data.Issue.Comments.Nodes {
		createdAt, _ := time.Parse(time.RFC3339, c.CreatedAt)
		author := kanban.Actor{}
		if c.User != nil {
			author = kanban.Actor{ID: c.User.ID, Username: c.User.Email, Name: c.User.Name}
		}
		comments = append(comments, kanban.Comment{ID: c.ID, Author: author, Body: c.Body, CreatedAt: createdAt})
	}

	links := make([]kanban.LinkedWorkItem, 0, len(resp.Data.Issue.Relations.Nodes))
	for _, rel := range resp.Data.Issue.Relations.Nodes {
		links = append(links, kanban.LinkedWorkItem{ID: rel.RelatedIssue.Identifier, Relation: relationName(rel.Type)})
	}

	return kanban.WorkItemDetails{WorkItem: item, Comments: comments, Links: links}, nil
}

func relationName(linearType string) string {
	switch linearType {
	case "blocks":
		return "blocks"
	case "blockedBy", "blocked_by":
		return "blocked-by"
	default:
		return "relates-to"
	}
}

func (a *Adapter) ListComments(ctx context.Context, id string, q kanban.CommentQuery) ([]kanban.Comment, error) {
	details, err := a.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	comments := details.Comments
	if q.NewestFirst {
		sort.SliceStable(comments, func(i, j int) bool { return comments[i].CreatedAt.After(comments[j].CreatedAt) })
	}
	if q.Limit > 0 && len(comments) > q.Limit {
		comments = comments[:q.Limit]
	}
	return comments, nil
}

func (a *Adapter) ListAttachments(ctx context.Context, id string) ([]kanban.Attachment, error) {
	const q = `query ($id: String!) { issue(id: $id) { attachments(first: 50) { nodes { id title url } } } }`
	raw, err := a.client.do(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Issue struct {
				Attachments struct {
					Nodes []struct {
						ID    string `json:"id"`
						Title string `json:"title"`
						URL   string `json:"url"`
					} `json:"nodes"`
				} `json:"attachments"`
			} `json:"issue"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing Linear attachments response", err)
	}

	out := make([]kanban.Attachment, 0, len(resp.Data.Issue.Attachments.Nodes))
	for _, n := range resp.Data.Issue.Attachments.Nodes {
		out = append(out, kanban.Attachment{ID: n.ID, Filename: n.Title, URL: n.URL})
	}
	return out, nil
}

func (a *Adapter) ListLinkedWorkItems(ctx context.Context, id string) ([]kanban.LinkedWorkItem, error) {
	details, err := a.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return details.Links, nil
}

func (a *Adapter) stateIDFor(ctx context.Context, stateName string) (string, error) {
	const q = `
query ($teamKey: String!) {
  team(filter: { key: { eq: $teamKey } }) { states(first: 50) { nodes { id name } } }
}`
	raw, err := a.client.do(ctx, q, map[string]any{"teamKey": a.teamKey})
	if err != nil {
		return "", err
	}

	var resp struct {
		Data struct {
			Team struct {
				States struct {
					Nodes []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"nodes"`
				} `json:"states"`
			} `json:"team"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing Linear team states response", err)
	}

	for _, s := range resp.Data.Team.States.Nodes {
		if strings.EqualFold(s.Name, stateName) {
			return s.ID, nil
		}
	}
	return "", clawerr.New(clawerr.KindConfig, fmt.Sprintf("no Linear workflow state named %q on team %s", stateName, a.teamKey))
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

func (a *Adapter) SetStage(ctx context.Context, id string, stage kanban.Stage) error {
	stateName, ok := a.firstStateNameFor(stage)
	if !ok {
		return clawerr.New(clawerr.KindConfig, fmt.Sprintf("no workflow state configured for stage %q", stage))
	}
	stateID, err := a.stateIDFor(ctx, stateName)
	if err != nil {
		return err
	}

	const mutation = `
mutation ($id: String!, $stateId: String!) {
  issueUpdate(id: $id, input: { stateId: $stateId }) { success }
}`
	_, err = a.client.do(ctx, mutation, map[string]any{"id": id, "stateId": stateID})
	return err
}

func (a *Adapter) AddComment(ctx context.Context, id string, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	const mutation = `
mutation ($issueId: String!, $body: String!) {
  commentCreate(input: { issueId: $issueId, body: $body }) { success }
}`
	_, err := a.client.do(ctx, mutation, map[string]any{"issueId": id, "body": body})
	return err
}

func (a *Adapter) CreateInBacklogAndAssignToSelf(ctx context.Context, title, body string) (adapter.CreateResult, error) {
	stateName, ok := a.firstStateNameFor(kanban.StageTodo)
	if !ok {
		return adapter.CreateResult{}, clawerr.New(clawerr.KindConfig, "no workflow state configured for stage todo")
	}
	stateID, err := a.stateIDFor(ctx, stateName)
	if err != nil {
		return adapter.CreateResult{}, err
	}

	me, err := a.Whoami(ctx)
	if err != nil {
		return adapter.CreateResult{}, err
	}

	const mutation = `
mutation ($teamKey: String!, $title: String!, $description: String!, $stateId: String!, $assigneeId: String!) {
  issueCreate(input: { title: $title, description: $description, stateId: $stateId, assigneeId: $assigneeId, teamId: $teamKey }) {
    success
    issue { id identifier url }
  }
}`
	raw, err := a.client.do(ctx, mutation, map[string]any{
		"teamKey":      a.teamKey,
		"title":        title,
		"description":  body,
		"stateId":      stateID,
		"assigneeId":   me.ID,
	})
	if err != nil {
		return adapter.CreateResult{}, err
	}

	var resp struct {
		Data struct {
			IssueCreate struct {
				Issue struct {
					ID  string `json:"id"`
					URL string `json:"url"`
				} `json:"issue"`
			} `json:"issueCreate"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return adapter.CreateResult{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing Linear issueCreate response", err)
	}

	return adapter.CreateResult{ID: resp.Data.IssueCreate.Issue.ID, URL: resp.Data.IssueCreate.Issue.URL}, nil
}

// ReconcileAssignments assigns every tracked, unassigned issue to its
// recorded creator, the same best-effort policy every adapter implements.
func (a *Adapter) ReconcileAssignments(ctx context.Context) error {
	issues, err := a.listIssues(ctx)
	if err != nil {
		return err
	}
	for _, issue := range issues {
		if issue.Assignee != nil || issue.Creator == nil {
			continue
		}
		if _, ok := a.stageMap.CanonicalOf(issue.State.Name); !ok {
			continue
		}
		const mutation = `mutation ($id: String!, $assigneeId: String!) { issueUpdate(id: $id, input: { assigneeId: $assigneeId }) { success } }`
		_, _ = a.client.do(ctx, mutation, map[string]any{"id": issue.ID, "assigneeId": issue.Creator.ID})
	}
	return nil
}
