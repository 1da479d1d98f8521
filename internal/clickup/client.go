// Package clickup is a minimal client for the ClickUp v2 task API.
package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"auditflow/internal/domain"
)

const defaultBaseURL = "https://api.clickup.com/api/v2"

// Hierarchy cache entries expire after this TTL.
const cacheTTL = 5 * time.Minute

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("clickup: api key not configured")

// Task is the subset of the task resource the service uses.
type Task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status,omitempty"`
	URL      string `json:"url,omitempty"`
	List     *List  `json:"list,omitempty"`
	ParentID string `json:"parent,omitempty"`
}

// User identifies the token owner.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// TaskFilters narrows a ListTasks call.
type TaskFilters struct {
	Page          int
	OrderBy       string
	Reverse       bool
	Archived      bool
	Subtasks      bool
	IncludeClosed bool
	Statuses      []string
}

// TaskRequest describes a task to create.
type TaskRequest struct {
	Name        string
	Description string
	Priority    string
	Urgency     string
	Tags        []string
	ParentID    string
}

// Workspace, Space and List mirror the hierarchy resources.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Space struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// Client calls the ClickUp API with a personal token. Hierarchy
// lookups are cached; task operations are not.
type Client struct {
	apiKey  string
	listID  string
	baseURL string
	client  *http.Client

	Now func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a client. listID is the default list for CreateTask.
func New(apiKey, listID string) *Client {
	return &Client{
		apiKey:  apiKey,
		listID:  listID,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		Now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// SetBaseURL points the client at a different API root, for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// Configured reports whether the client can make calls.
func (c *Client) Configured() bool { return c.apiKey != "" && c.listID != "" }

// ClearCache drops all cached hierarchy lookups.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *Client) cached(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || c.Now().After(entry.expires) {
		delete(c.cache, key)
		return nil, false
	}
	return entry.value, true
}

func (c *Client) store(key string, value any) {
	c.mu.Lock()
	c.cache[key] = cacheEntry{value: value, expires: c.Now().Add(cacheTTL)}
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		resBody, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("clickup: %s %s: status %d: %s", method, path, res.StatusCode, strings.TrimSpace(string(resBody)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// DueDate converts an urgency class into a millisecond epoch deadline.
func (c *Client) DueDate(urgency string) int64 {
	var delta time.Duration
	switch urgency {
	case "immediate":
		delta = time.Hour
	case "within_hours":
		delta = 4 * time.Hour
	case "within_days":
		delta = 48 * time.Hour
	default:
		delta = 168 * time.Hour
	}
	return c.Now().Add(delta).UnixMilli()
}

// CheckConnection verifies the token by fetching its owner.
func (c *Client) CheckConnection(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/user", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// CreateTask creates a task in the configured list. A non-empty
// ParentID makes it a subtask.
func (c *Client) CreateTask(ctx context.Context, req TaskRequest) (*Task, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	return c.createTaskIn(ctx, c.listID, req)
}

// CreateSubtask creates a task under parentID, in the parent's list.
func (c *Client) CreateSubtask(ctx context.Context, parentID string, req TaskRequest) (*Task, error) {
	parent, err := c.GetTask(ctx, parentID)
	if err != nil {
		return nil, err
	}
	listID := c.listID
	if parent.List != nil && parent.List.ID != "" {
		listID = parent.List.ID
	}
	req.ParentID = parentID
	return c.createTaskIn(ctx, listID, req)
}

func (c *Client) createTaskIn(ctx context.Context, listID string, req TaskRequest) (*Task, error) {
	payload := map[string]any{
		"name":        req.Name,
		"description": req.Description,
		"priority":    domain.TaskPriority(req.Priority),
		"due_date":    c.DueDate(req.Urgency),
	}
	if len(req.Tags) > 0 {
		payload["tags"] = req.Tags
	}
	if req.ParentID != "" {
		payload["parent"] = req.ParentID
	}
	var task Task
	if err := c.do(ctx, http.MethodPost, "/list/"+listID+"/task", payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/task/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTaskStatus sets the status of a task.
func (c *Client) UpdateTaskStatus(ctx context.Context, id, status string) error {
	return c.do(ctx, http.MethodPut, "/task/"+id, map[string]any{"status": status}, nil)
}

// AddComment posts a comment on a task without notifying watchers.
func (c *Client) AddComment(ctx context.Context, id, text string) error {
	payload := map[string]any{
		"comment_text": text,
		"notify_all":   false,
	}
	return c.do(ctx, http.MethodPost, "/task/"+id+"/comment", payload, nil)
}

// ListTasks fetches one page of tasks from a list. An empty listID
// falls back to the configured default list.
func (c *Client) ListTasks(ctx context.Context, listID string, f TaskFilters) ([]Task, error) {
	if listID == "" {
		listID = c.listID
	}
	if listID == "" {
		return nil, ErrNotConfigured
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(f.Page))
	q.Set("archived", strconv.FormatBool(f.Archived))
	q.Set("subtasks", strconv.FormatBool(f.Subtasks))
	q.Set("include_closed", strconv.FormatBool(f.IncludeClosed))
	if f.OrderBy != "" {
		q.Set("order_by", f.OrderBy)
	}
	if f.Reverse {
		q.Set("reverse", "true")
	}
	for _, status := range f.Statuses {
		q.Add("statuses[]", status)
	}
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/list/"+listID+"/task?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// Workspaces lists the authorized workspaces, cached.
func (c *Client) Workspaces(ctx context.Context) ([]Workspace, error) {
	if v, ok := c.cached("workspaces"); ok {
		return v.([]Workspace), nil
	}
	var out struct {
		Teams []Workspace `json:"teams"`
	}
	if err := c.do(ctx, http.MethodGet, "/team", nil, &out); err != nil {
		return nil, err
	}
	c.store("workspaces", out.Teams)
	return out.Teams, nil
}

// Spaces lists the spaces of a workspace, cached per workspace.
func (c *Client) Spaces(ctx context.Context, workspaceID string) ([]Space, error) {
	key := "spaces:" + workspaceID
	if v, ok := c.cached(key); ok {
		return v.([]Space), nil
	}
	var out struct {
		Spaces []Space `json:"spaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/team/"+workspaceID+"/space", nil, &out); err != nil {
		return nil, err
	}
	c.store(key, out.Spaces)
	return out.Spaces, nil
}

// Lists lists the lists of a space, cached per space.
func (c *Client) Lists(ctx context.Context, spaceID string) ([]List, error) {
	key := "lists:" + spaceID
	if v, ok := c.cached(key); ok {
		return v.([]List), nil
	}
	var out struct {
		Lists []List `json:"lists"`
	}
	if err := c.do(ctx, http.MethodGet, "/space/"+spaceID+"/list", nil, &out); err != nil {
		return nil, err
	}
	c.store(key, out.Lists)
	return out.Lists, nil
}
