// Package planka implements the adapter.Port contract against a
// self-hosted Planka instance's REST API (boards, lists, cards). Planka's
// own comment-bridging behavior — importing a third-party comment under a
// shared bot account with a leading "Author: <name>" metadata line — is
// exactly the relayed-author shape the auto-reopen watcher already parses
// generically, so this adapter does no special-casing: it returns comment
// bodies untouched and lets that heuristic do its job.
package planka

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
)

const defaultUserEnv = "PLANKA_USER"
const defaultPassEnv = "PLANKA_PASS"

// Client is a thin REST client for a Planka instance, handling the
// access-token exchange the API requires before any other request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	email      string
	password   string

	mu    sync.Mutex
	token string
}

func newClient(baseURL, email, password string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		password:   password,
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	form := url.Values{"emailOrUsername": {c.email}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/access-tokens",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "building Planka auth request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", clawerr.Wrap(clawerr.KindTransientIO, "authenticating with Planka", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", clawerr.New(clawerr.KindConfig, fmt.Sprintf("Planka authentication failed with status %d", resp.StatusCode)).
			WithHint("check the Planka user/pass environment variables")
	}

	var body struct {
		Item struct {
			Token string `json:"token"`
		} `json:"item"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing Planka auth response", err)
	}

	c.token = body.Item.Token
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader *strings.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return clawerr.Wrap(clawerr.KindAdapterProtocol, "encoding Planka request body", err)
		}
		reader = strings.NewReader(string(payload))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return clawerr.Wrap(clawerr.KindAdapterProtocol, "building Planka request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return clawerr.Wrap(clawerr.KindTransientIO, "calling the Planka API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody strings.Builder
		_, _ = errBody.ReadFrom(resp.Body)
		return clawerr.New(clawerr.KindAdapterProtocol,
			fmt.Sprintf("Planka API %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(errBody.String())))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return clawerr.Wrap(clawerr.KindAdapterProtocol, "parsing Planka API response", err)
	}
	return nil
}

type plankaList struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type plankaLabel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type plankaCard struct {
	ID          string `json:"id"`
	ListID      string `json:"listId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Position    float64 `json:"position"`
	UpdatedAt   string `json:"updatedAt"`
}

type plankaCardMembership struct {
	CardID string `json:"cardId"`
	UserID string `json:"userId"`
}

type plankaCardLabel struct {
	CardID  string `json:"cardId"`
	LabelID string `json:"labelId"`
}

type plankaUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

type boardIncluded struct {
	Lists          []plankaList          `json:"lists"`
	Labels         []plankaLabel         `json:"labels"`
	Cards          []plankaCard          `json:"cards"`
	CardMemberships []plankaCardMembership `json:"cardMemberships"`
	CardLabels     []plankaCardLabel     `json:"cardLabels"`
	Users          []plankaUser          `json:"users"`
}

type boardResponse struct {
	Item     struct{ ID string `json:"id"` } `json:"item"`
	Included boardIncluded `json:"included"`
}

// Adapter implements adapter.Port against one Planka board.
type Adapter struct {
	client   *Client
	boardID  string
	stageMap adapter.StageMap
}

// New builds a Planka adapter from its configuration section.
func New(cfg adapter.PlankaConfig) *Adapter {
	userEnv, passEnv := cfg.UserEnv, cfg.PassEnv
	if userEnv == "" {
		userEnv = defaultUserEnv
	}
	if passEnv == "" {
		passEnv = defaultPassEnv
	}
	return &Adapter{
		client:   newClient(cfg.BaseURL, os.Getenv(userEnv), os.Getenv(passEnv)),
		boardID:  cfg.BoardID,
		stageMap: cfg.StageMap,
	}
}

func (a *Adapter) Name() string { return "planka" }

func (a *Adapter) Whoami(ctx context.Context) (kanban.Actor, error) {
	var resp struct {
		Item plankaUser `json:"item"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/api/users/me", nil, &resp); err != nil {
		return kanban.Actor{}, err
	}
	u := resp.Item
	return kanban.Actor{ID: u.ID, Username: u.Username, Name: u.Name}, nil
}

func (a *Adapter) fetchBoard(ctx context.Context) (boardResponse, error) {
	var resp boardResponse
	path := fmt.Sprintf("/api/boards/%s", a.boardID)
	if err := a.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return boardResponse{}, err
	}
	return resp, nil
}

func listNameByID(board boardResponse) map[string]string {
	out := make(map[string]string, len(board.Included.Lists))
	for _, l := range board.Included.Lists {
		out[l.ID] = l.Name
	}
	return out
}

func assigneesByCard(board boardResponse) map[string][]kanban.Actor {
	usersByID := make(map[string]plankaUser, len(board.Included.Users))
	for _, u := range board.Included.Users {
		usersByID[u.ID] = u
	}
	out := make(map[string][]kanban.Actor)
	for _, m := range board.Included.CardMemberships {
		if u, ok := usersByID[m.UserID]; ok {
			out[m.CardID] = append(out[m.CardID], kanban.Actor{ID: u.ID, Username: u.Username, Name: u.Name})
		}
	}
	return out
}

func labelsByCard(board boardResponse) map[string][]string {
	namesByID := make(map[string]string, len(board.Included.Labels))
	for _, l := range board.Included.Labels {
		namesByID[l.ID] = l.Name
	}
	out := make(map[string][]string)
	for _, cl := range board.Included.CardLabels {
		if name, ok := namesByID[cl.LabelID]; ok {
			out[cl.CardID] = append(out[cl.CardID], name)
		}
	}
	return out
}

func (a *Adapter) toWorkItem(board boardResponse, card plankaCard, lists map[string]string, assignees map[string][]kanban.Actor, labels map[string][]string) (kanban.WorkItem, bool) {
	listName, ok := lists[card.ListID]
	if !ok {
		return kanban.WorkItem{}, false
	}
	stage, ok := a.stageMap.CanonicalOf(listName)
	if !ok {
		return kanban.WorkItem{}, false
	}

	updatedAt, _ := time.Parse(time.RFC3339, card.UpdatedAt)

	return kanban.WorkItem{
		ID:        card.ID,
		Title:     card.Name,
		Stage:     stage,
		URL:       fmt.Sprintf("%s/cards/%s", a.client.baseURL, card.ID),
		Labels:    labels[card.ID],
		Assignees: assignees[card.ID],
		UpdatedAt: updatedAt,
		Body:      card.Description,
	}, true
}

func (a *Adapter) FetchSnapshot(ctx context.Context) (kanban.Snapshot, error) {
	board, err := a.fetchBoard(ctx)
	if err != nil {
		return nil, err
	}
	lists := listNameByID(board)
	assignees := assigneesByCard(board)
	labels := labelsByCard(board)

	snap := make(kanban.Snapshot, len(board.Included.Cards))
	for _, card := range board.Included.Cards {
		if item, ok := a.toWorkItem(board, card, lists, assignees, labels); ok {
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

// ListBacklogIDsInOrder orders strictly by Planka's own card position
// field (tier 1 of the shared ordering policy), which Planka maintains as
// the literal drag-and-drop order within a list.
func (a *Adapter) ListBacklogIDsInOrder(ctx context.Context) ([]string, error) {
	board, err := a.fetchBoard(ctx)
	if err != nil {
		return nil, err
	}
	lists := listNameByID(board)

	var items []adapter.BacklogItem
	for _, card := range board.Included.Cards {
		listName, ok := lists[card.ListID]
		if !ok {
			continue
		}
		stage, ok := a.stageMap.CanonicalOf(listName)
		if !ok || stage != kanban.StageTodo {
			continue
		}
		position := card.Position
		updatedAt, _ := time.Parse(time.RFC3339, card.UpdatedAt)
		items = append(items, adapter.BacklogItem{ID: card.ID, SortOrder: &position, UpdatedAt: updatedAt.Unix()})
	}

	adapter.OrderBacklog(items)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids, nil
}

type plankaCommentAction struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	UserID    string `json:"userId"`
	Data      struct {
		Text string `json:"text"`
	} `json:"data"`
}

func (a *Adapter) GetWorkItem(ctx context.Context, id string) (kanban.WorkItemDetails, error) {
	var resp struct {
		Item plankaCard `json:"item"`
	}
	path := fmt.Sprintf("/api/cards/%s", id)
	if err := a.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return kanban.WorkItemDetails{}, err
	}

	board, err := a.fetchBoard(ctx)
	if err != nil {
		return kanban.WorkItemDetails{}, err
	}
	lists := listNameByID(board)
	assignees := assigneesByCard(board)
	labels := labelsByCard(board)

	item, _ := a.toWorkItem(board, resp.Item, lists, assignees, labels)
	item.ID = id

	comments, err := a.listComments(ctx, id, board)
	if err != nil {
		return kanban.WorkItemDetails{}, err
	}

	return kanban.WorkItemDetails{WorkItem: item, Comments: comments}, nil
}

func (a *Adapter) listComments(ctx context.Context, cardID string, board boardResponse) ([]kanban.Comment, error) {
	usersByID := make(map[string]plankaUser, len(board.Included.Users))
	for _, u := range board.Included.Users {
		usersByID[u.ID] = u
	}

	var resp struct {
		Items []plankaCommentAction `json:"items"`
	}
	path := fmt.Sprintf("/api/cards/%s/comment-actions", cardID)
	if err := a.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	comments := make([]kanban.Comment, 0, len(resp.Items))
	for _, c := range resp.Items {
		createdAt, _ := time.Parse(time.RFC3339, c.CreatedAt)
		author := kanban.Actor{}
		if u, ok := usersByID[c.UserID]; ok {
			author = kanban.Actor{ID: u.ID, Username: u.Username, Name: u.Name}
		}
		comments = append(comments, kanban.Comment{ID: c.ID, Author: author, Body: c.Data.Text, CreatedAt: createdAt})
	}
	return comments, nil
}

func (a *Adapter) ListComments(ctx context.Context, id string, q kanban.CommentQuery) ([]kanban.Comment, error) {
	board, err := a.fetchBoard(ctx)
	if err != nil {
		return nil, err
	}
	comments, err := a.listComments(ctx, id, board)
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
	var resp struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"items"`
	}
	path := fmt.Sprintf("/api/cards/%s/attachments", id)
	if err := a.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]kanban.Attachment, 0, len(resp.Items))
	for _, it := range resp.Items {
		out = append(out, kanban.Attachment{ID: it.ID, Filename: it.Name, URL: it.URL})
	}
	return out, nil
}

// ListLinkedWorkItems is not modeled: Planka has no native cross-card
// relation concept like GitHub's "closes #n" or Linear's relations, only
// free-text card description links, which this adapter does not parse.
func (a *Adapter) ListLinkedWorkItems(ctx context.Context, id string) ([]kanban.LinkedWorkItem, error) {
	return nil, nil
}

func (a *Adapter) firstListNameFor(stage kanban.Stage) (string, bool) {
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

func (a *Adapter) listIDByName(board boardResponse, name string) (string, bool) {
	for _, l := range board.Included.Lists {
		if strings.EqualFold(l.Name, name) {
			return l.ID, true
		}
	}
	return "", false
}

func (a *Adapter) SetStage(ctx context.Context, id string, stage kanban.Stage) error {
	listName, ok := a.firstListNameFor(stage)
	if !ok {
		return clawerr.New(clawerr.KindConfig, fmt.Sprintf("no list configured for stage %q", stage))
	}

	board, err := a.fetchBoard(ctx)
	if err != nil {
		return err
	}
	listID, ok := a.listIDByName(board, listName)
	if !ok {
		return clawerr.New(clawerr.KindConfig, fmt.Sprintf("list %q not found on board %s", listName, a.boardID))
	}

	path := fmt.Sprintf("/api/cards/%s", id)
	return a.client.do(ctx, http.MethodPatch, path, map[string]any{"listId": listID}, nil)
}

func (a *Adapter) AddComment(ctx context.Context, id string, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	path := fmt.Sprintf("/api/cards/%s/comment-actions", id)
	return a.client.do(ctx, http.MethodPost, path, map[string]any{"text": body}, nil)
}

func (a *Adapter) CreateInBacklogAndAssignToSelf(ctx context.Context, title, body string) (adapter.CreateResult, error) {
	listName, ok := a.firstListNameFor(kanban.StageTodo)
	if !ok {
		return adapter.CreateResult{}, clawerr.New(clawerr.KindConfig, "no list configured for stage todo")
	}

	board, err := a.fetchBoard(ctx)
	if err != nil {
		return adapter.CreateResult{}, err
	}
	listID, ok := a.listIDByName(board, listName)
	if !ok {
		return adapter.CreateResult{}, clawerr.New(clawerr.KindConfig, fmt.Sprintf("list %q not found on board %s", listName, a.boardID))
	}

	var created struct {
		Item plankaCard `json:"item"`
	}
	path := fmt.Sprintf("/api/lists/%s/cards", listID)
	if err := a.client.do(ctx, http.MethodPost, path, map[string]any{"name": title, "description": body}, &created); err != nil {
		return adapter.CreateResult{}, err
	}

	me, err := a.Whoami(ctx)
	if err != nil {
		return adapter.CreateResult{}, err
	}
	membershipPath := fmt.Sprintf("/api/cards/%s/memberships", created.Item.ID)
	_ = a.client.do(ctx, http.MethodPost, membershipPath, map[string]any{"userId": me.ID}, nil)

	return adapter.CreateResult{
		ID:  created.Item.ID,
		URL: fmt.Sprintf("%s/cards/%s", a.client.baseURL, created.Item.ID),
	}, nil
}

// ReconcileAssignments assigns every tracked, unassigned card to the
// member who created it, mirroring the policy every adapter implements.
// Planka's card resource does not expose a creator id directly in the
// board snapshot used elsewhere in this adapter, so this walks each
// card's own action log to find its "createCard" actor.
func (a *Adapter) ReconcileAssignments(ctx context.Context) error {
	board, err := a.fetchBoard(ctx)
	if err != nil {
		return err
	}
	lists := listNameByID(board)
	assignees := assigneesByCard(board)

	for _, card := range board.Included.Cards {
		if len(assignees[card.ID]) > 0 {
			continue
		}
		listName, ok := lists[card.ListID]
		if !ok {
			continue
		}
		if _, mapped := a.stageMap.CanonicalOf(listName); !mapped {
			continue
		}

		creatorID, ok := a.creatorOf(ctx, card.ID)
		if !ok {
			continue
		}
		membershipPath := fmt.Sprintf("/api/cards/%s/memberships", card.ID)
		_ = a.client.do(ctx, http.MethodPost, membershipPath, map[string]any{"userId": creatorID}, nil)
	}
	return nil
}

func (a *Adapter) creatorOf(ctx context.Context, cardID string) (string, bool) {
	var resp struct {
		Items []struct {
			Type   string `json:"type"`
			UserID string `json:"userId"`
		} `json:"items"`
	}
	path := fmt.Sprintf("/api/cards/%s/actions", cardID)
	if err := a.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", false
	}
	for _, action := range resp.Items {
		if action.Type == "createCard" {
			return action.UserID, true
		}
	}
	return "", false
}
