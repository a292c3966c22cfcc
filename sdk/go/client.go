package giglinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gigline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Principal is an account with its chosen role.
type Principal struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Task represents the API task model.
type Task struct {
	ID                   string         `json:"id"`
	OwnerID              string         `json:"owner_id"`
	Title                string         `json:"title"`
	Description          string         `json:"description,omitempty"`
	Deadline             string         `json:"deadline"`
	Budget               int64          `json:"budget"`
	Status               string         `json:"status"`
	AssignedFreelancerID *string        `json:"assigned_freelancer_id,omitempty"`
	Deliverable          map[string]any `json:"deliverable,omitempty"`
	Version              int64          `json:"version"`
	CreatedAt            string         `json:"created_at"`
	UpdatedAt            string         `json:"updated_at"`
}

// Application is a freelancer's bid on a task.
type Application struct {
	ID             string `json:"id"`
	TaskID         string `json:"task_id"`
	FreelancerID   string `json:"freelancer_id"`
	Message        string `json:"message,omitempty"`
	ProposedBudget *int64 `json:"proposed_budget,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Event is a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task listings with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedApplications wraps application listings with cursors.
type PaginatedApplications struct {
	Items      []Application `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Register chooses a role for the authenticated account.
func (c *Client) Register(ctx context.Context, role, displayName string) (Principal, error) {
	body := map[string]any{
		"role":         role,
		"display_name": displayName,
	}
	var resp Principal
	err := c.do(ctx, http.MethodPost, "v0/me/register", body, &resp)
	return resp, err
}

// Me returns the resolved principal.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// CreateTask posts a new draft task.
func (c *Client) CreateTask(ctx context.Context, title, description, deadline string, budget int64) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"deadline":    deadline,
		"budget":      budget,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// TasksPage returns a paginated task listing.
func (c *Client) TasksPage(ctx context.Context, status string, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := withQuery("v0/tasks", map[string]string{
		"status": status,
		"limit":  positiveInt(limit),
		"cursor": cursor,
	})
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EditTask updates fields on a draft or open task. Nil fields are left
// unchanged.
func (c *Client) EditTask(ctx context.Context, id string, title, description, deadline *string, budget *int64) (Task, error) {
	body := map[string]any{}
	if title != nil {
		body["title"] = *title
	}
	if description != nil {
		body["description"] = *description
	}
	if deadline != nil {
		body["deadline"] = *deadline
	}
	if budget != nil {
		body["budget"] = *budget
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// PublishTask opens a draft task for applications.
func (c *Client) PublishTask(ctx context.Context, id string) (Task, error) {
	return c.taskTransition(ctx, id, "publish")
}

// CancelTask cancels a task.
func (c *Client) CancelTask(ctx context.Context, id string) (Task, error) {
	return c.taskTransition(ctx, id, "cancel")
}

// StartWork moves an assigned task into in_progress.
func (c *Client) StartWork(ctx context.Context, id string) (Task, error) {
	return c.taskTransition(ctx, id, "start")
}

// CompleteTask approves the submission.
func (c *Client) CompleteTask(ctx context.Context, id string) (Task, error) {
	return c.taskTransition(ctx, id, "complete")
}

// SubmitWork attaches a deliverable and moves the task to submitted.
func (c *Client) SubmitWork(ctx context.Context, id string, deliverable map[string]any) (Task, error) {
	body := map[string]any{"deliverable": deliverable}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(id)+"/submit", body, &resp)
	return resp, err
}

// RequestRevision sends a submission back to in_progress.
func (c *Client) RequestRevision(ctx context.Context, id, note string) (Task, error) {
	body := map[string]any{"note": note}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(id)+"/revision", body, &resp)
	return resp, err
}

// Apply submits an application against an open task.
func (c *Client) Apply(ctx context.Context, taskID, message string, proposedBudget *int64) (Application, error) {
	body := map[string]any{"message": message}
	if proposedBudget != nil {
		body["proposed_budget"] = *proposedBudget
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(taskID)+"/applications", body, &resp)
	return resp, err
}

// TaskApplications lists applications for a task.
func (c *Client) TaskApplications(ctx context.Context, taskID, status string) (PaginatedApplications, error) {
	endpoint := withQuery("v0/tasks/"+url.PathEscape(taskID)+"/applications", map[string]string{
		"status": status,
	})
	var resp PaginatedApplications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WithdrawApplication withdraws a pending application.
func (c *Client) WithdrawApplication(ctx context.Context, id string) (Application, error) {
	return c.applicationTransition(ctx, id, "withdraw")
}

// AcceptApplication accepts an application and assigns its task.
func (c *Client) AcceptApplication(ctx context.Context, id string) (Application, error) {
	return c.applicationTransition(ctx, id, "accept")
}

// RejectApplication rejects a pending application.
func (c *Client) RejectApplication(ctx context.Context, id string) (Application, error) {
	return c.applicationTransition(ctx, id, "reject")
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := withQuery("v0/events", map[string]string{
		"limit":  positiveInt(limit),
		"cursor": cursor,
	})
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) taskTransition(ctx context.Context, id, slug string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(id)+"/"+slug, nil, &resp)
	return resp, err
}

func (c *Client) applicationTransition(ctx context.Context, id, slug string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, "v0/applications/"+url.PathEscape(id)+"/"+slug, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withQuery(endpoint string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func positiveInt(v int) string {
	if v <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}
