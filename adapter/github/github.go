// Package github implements the adapter.Port contract against GitHub
// Issues via the `gh` CLI, the same "shell out to the platform's own
// first-party CLI" strategy the core's RunCLI helper was built for.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
)

// Adapter implements adapter.Port against a single "owner/repo".
type Adapter struct {
	repo     string
	stageMap adapter.StageMap
}

// New builds a GitHub adapter from its configuration section.
func New(cfg adapter.GitHubConfig) *Adapter {
	return &Adapter{repo: cfg.Repo, stageMap: cfg.StageMap}
}

func (a *Adapter) Name() string { return "github" }

type ghUser struct {
	Login string `json:"login"`
	ID    int64  `json:"databaseId"`
	Name  string `json:"name"`
}

func (a *Adapter) Whoami(ctx context.Context) (kanban.Actor, error) {
	out, err := adapter.RunCLI(ctx, "gh", "api", "user")
	if err != nil {
		return kanban.Actor{}, err
	}
	var u ghUser
	if err := json.Unmarshal(out, &u); err != nil {
		return kanban.Actor{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing gh api user response", err)
	}
	return kanban.Actor{ID: strconv.FormatInt(u.ID, 10), Username: u.Login, Name: u.Name}, nil
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghActor struct {
	Login string `json:"login"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

type ghIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Body      string    `json:"body"`
	UpdatedAt string    `json:"updatedAt"`
	Labels    []ghLabel `json:"labels"`
	Assignees []ghActor `json:"assignees"`
}

const issueFields = "number,title,url,body,updatedAt,labels,assignees"

func (a *Adapter) listIssues(ctx context.Context) ([]ghIssue, error) {
	out, err := adapter.RunCLI(ctx, "gh", "issue", "list",
		"--repo", a.repo, "--state", "open", "--limit", "500",
		"--json", issueFields)
	if err != nil {
		return nil, err
	}
	var issues []ghIssue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing gh issue list response", err)
	}
	return issues, nil
}

func (a *Adapter) toWorkItem(issue ghIssue) (kanban.WorkItem, bool) {
	stage, ok := a.stageOf(issue.Labels)
	if !ok {
		return kanban.WorkItem{}, false
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}

	assignees := make([]kanban.Actor, 0, len(issue.Assignees))
	for _, u := range issue.Assignees {
		assignees = append(assignees, kanban.Actor{ID: u.ID, Username: u.Login, Name: u.Name})
	}

	updatedAt, _ := parseTime(issue.UpdatedAt)

	return kanban.WorkItem{
		ID:        strconv.Itoa(issue.Number),
		Title:     issue.Title,
		Stage:     stage,
		URL:       issue.URL,
		Labels:    labels,
		Assignees: assignees,
		UpdatedAt: updatedAt,
		Body:      issue.Body,
	}, true
}

// stageOf resolves the issue's canonical stage from the first of its
// labels that the configured stage map recognizes.
func (a *Adapter) stageOf(labels []ghLabel) (kanban.Stage, bool) {
	for _, l := range labels {
		if stage, ok := a.stageMap.CanonicalOf(l.Name); ok {
			return stage, true
		}
	}
	return kanban.Stage(""), false
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

func (a *Adapter) ListBacklogIDsInOrder(ctx context.Context) ([]string, error) {
	issues, err := a.listIssues(ctx)
	if err != nil {
		return nil, err
	}

	var backlogItems []adapter.BacklogItem
	for _, issue := range issues {
		stage, ok := a.stageOf(issue.Labels)
		if !ok || stage != kanban.StageTodo {
			continue
		}
		updatedAt, _ := parseTime(issue.UpdatedAt)
		backlogItems = append(backlogItems, adapter.BacklogItem{
			ID:               strconv.Itoa(issue.Number),
			UpdatedAt:        updatedAt.Unix(),
			UpdatedAscending: true,
		})
	}

	adapter.OrderBacklog(backlogItems)

	ids := make([]string, len(backlogItems))
	for i, it := range backlogItems {
		ids[i] = it.ID
	}
	return ids, nil
}

type ghComment struct {
	ID        string  `json:"id"`
	Body      string  `json:"body"`
	CreatedAt string  `json:"createdAt"`
	Author    ghActor `json:"author"`
}

type ghIssueDetail struct {
	ghIssue
	Comments []ghComment `json:"comments"`
}

func (a *Adapter) GetWorkItem(ctx context.Context, id string) (kanban.WorkItemDetails, error) {
	out, err := adapter.RunCLI(ctx, "gh", "issue", "view", id,
		"--repo", a.repo,
		"--json", issueFields+",comments")
	if err != nil {
		return kanban.WorkItemDetails{}, err
	}

	var detail ghIssueDetail
	if err := json.Unmarshal(out, &detail); err != nil {
		return kanban.WorkItemDetails{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing gh issue view response", err)
	}

	item, _ := a.toWorkItem(detail.ghIssue)
	item.ID = id

	comments := make([]kanban.Comment, 0, len(detail.Comments))
	for _, c := range detail.Comments {
		createdAt, _ := parseTime(c.CreatedAt)
		comments = append(comments, kanban.Comment{
			ID:        c.ID,
			Author:    kanban.Actor{ID: c.Author.ID, Username: c.Author.Login, Name: c.Author.Name},
			Body:      c.Body,
			CreatedAt: createdAt,
		})
	}

	return kanban.WorkItemDetails{
		WorkItem: item,
		Comments: comments,
		Links:    parseLinkedWorkItems(detail.Body),
	}, nil
}

var closesRef = regexp.MustCompile(`(?i)\b(closes|fixes|resolves)\s+#(\d+)\b`)
var relatesRef = regexp.MustCompile(`(?i)\brelates?\s+to\s+#(\d+)\b`)

func parseLinkedWorkItems(body string) []kanban.LinkedWorkItem {
	var links []kanban.LinkedWorkItem
	for _, m := range closesRef.FindAllStringSubmatch(body, -1) {
		links = append(links, kanban.LinkedWorkItem{ID: m[2], Relation: "closes"})
	}
	for _, m := range relatesRef.FindAllStringSubmatch(body, -1) {
		links = append(links, kanban.LinkedWorkItem{ID: m[1], Relation: "relates-to"})
	}
	return links
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
	// GitHub issues attach files inline as markdown image/file links rather
	// than as a structured API resource; the gh CLI exposes no attachment
	// listing, so this adapter reports none rather than guessing at Markdown.
	return nil, nil
}

func (a *Adapter) ListLinkedWorkItems(ctx context.Context, id string) ([]kanban.LinkedWorkItem, error) {
	details, err := a.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return details.Links, nil
}

func (a *Adapter) SetStage(ctx context.Context, id string, stage kanban.Stage) error {
	addLabel, ok := a.firstLabelFor(stage)
	if !ok {
		return clawerr.New(clawerr.KindConfig, fmt.Sprintf("no label configured for stage %q", stage))
	}

	args := []string{"issue", "edit", id, "--repo", a.repo, "--add-label", addLabel}
	for _, l := range a.stageLabelsExcept(stage) {
		args = append(args, "--remove-label", l)
	}

	_, err := adapter.RunCLI(ctx, "gh", args...)
	return err
}

func (a *Adapter) firstLabelFor(stage kanban.Stage) (string, bool) {
	var candidates []string
	for label, s := range a.stageMap {
		if s == stage {
			candidates = append(candidates, label)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return candidates[0], true
}

func (a *Adapter) stageLabelsExcept(stage kanban.Stage) []string {
	var out []string
	for label, s := range a.stageMap {
		if s != stage {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

func (a *Adapter) AddComment(ctx context.Context, id string, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	_, err := adapter.RunCLI(ctx, "gh", "issue", "comment", id, "--repo", a.repo, "--body", body)
	return err
}

func (a *Adapter) CreateInBacklogAndAssignToSelf(ctx context.Context, title, body string) (adapter.CreateResult, error) {
	label, ok := a.firstLabelFor(kanban.StageTodo)
	if !ok {
		return adapter.CreateResult{}, clawerr.New(clawerr.KindConfig, "no label configured for stage todo")
	}

	out, err := adapter.RunCLI(ctx, "gh", "issue", "create",
		"--repo", a.repo, "--title", title, "--body", body,
		"--label", label, "--assignee", "@me")
	if err != nil {
		return adapter.CreateResult{}, err
	}

	url := strings.TrimSpace(string(out))
	id := url
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		id = url[idx+1:]
	}
	return adapter.CreateResult{ID: id, URL: url}, nil
}

// ReconcileAssignments is best-effort: for every tracked issue with no
// assignee, assign it to its author. GitHub has no distinct "creator"
// field outside the author, so this is the adapter's whole reconciliation.
func (a *Adapter) ReconcileAssignments(ctx context.Context) error {
	issues, err := a.listIssues(ctx)
	if err != nil {
		return err
	}
	for _, issue := range issues {
		if len(issue.Assignees) > 0 {
			continue
		}
		if _, ok := a.stageOf(issue.Labels); !ok {
			continue
		}
		_, _ = adapter.RunCLI(ctx, "gh", "issue", "edit", strconv.Itoa(issue.Number),
			"--repo", a.repo, "--add-assignee", "@author")
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
