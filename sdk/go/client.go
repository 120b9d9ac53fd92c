package loandesksdk

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

// Client is a minimal loandesk HTTP API client.
type Client struct {
	BaseURL     string
	WorkspaceID string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, workspaceID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		WorkspaceID: workspaceID,
		Timeout:     10 * time.Second,
	}
}

// Assignment is one loan type assigned to a client.
type Assignment struct {
	ID           string  `json:"id"`
	ClientID     string  `json:"client_id"`
	LoanTypeID   string  `json:"loan_type_id"`
	LoanTypeName string  `json:"loan_type_name,omitempty"`
	CustomOrder  int     `json:"custom_order"`
	IsActive     bool    `json:"is_active"`
	CustomName   *string `json:"custom_name,omitempty"`
	AssignedAt   string  `json:"assigned_at"`
}

// AssignResult is the outcome of assigning a loan type.
type AssignResult struct {
	Assignment  Assignment `json:"assignment"`
	TasksCloned int        `json:"tasks_cloned"`
	Message     string     `json:"message"`
}

// Task is one task instance (partial).
type Task struct {
	ID           string  `json:"id"`
	AssignmentID string  `json:"assignment_id"`
	TemplateID   *string `json:"template_id,omitempty"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	Priority     string  `json:"priority"`
	DisplayOrder int     `json:"display_order"`
	DueDate      string  `json:"due_date"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	IsOverdue    bool    `json:"is_overdue"`
}

// AssignmentStats is the per-assignment progress rollup.
type AssignmentStats struct {
	AssignmentID       string `json:"assignment_id"`
	TaskCount          int    `json:"task_count"`
	CompletedTasks     int    `json:"completed_tasks"`
	ProgressPercentage int    `json:"progress_percentage"`
}

// ClientTaskStats is the per-client task rollup.
type ClientTaskStats struct {
	ClientID       string `json:"client_id"`
	Total          int    `json:"total"`
	Pending        int    `json:"pending"`
	InProgress     int    `json:"in_progress"`
	ReadyForReview int    `json:"ready_for_review"`
	Completed      int    `json:"completed"`
	Skipped        int    `json:"skipped"`
	Overdue        int    `json:"overdue"`
	HighPriority   int    `json:"high_priority"`
	Urgent         int    `json:"urgent"`
}

// Event is one audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AssignLoanType assigns a loan type to a client and clones its templates.
func (c *Client) AssignLoanType(ctx context.Context, clientID, loanTypeID, customName string) (AssignResult, error) {
	body := map[string]any{"loan_type_id": loanTypeID}
	if customName != "" {
		body["custom_name"] = customName
	}
	var resp AssignResult
	endpoint := fmt.Sprintf("v1/clients/%s/assignments", url.PathEscape(clientID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListAssignments returns a client's assignments in custom order.
func (c *Client) ListAssignments(ctx context.Context, clientID string) ([]Assignment, error) {
	var resp []Assignment
	endpoint := fmt.Sprintf("v1/clients/%s/assignments", url.PathEscape(clientID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RemoveAssignment deletes an assignment and its tasks, returning the number
// of tasks removed.
func (c *Client) RemoveAssignment(ctx context.Context, assignmentID string) (int, error) {
	var resp struct {
		TasksDeleted int `json:"tasks_deleted"`
	}
	endpoint := fmt.Sprintf("v1/assignments/%s", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp.TasksDeleted, err
}

// ListTasks returns an assignment's tasks in display order.
func (c *Client) ListTasks(ctx context.Context, assignmentID string) ([]Task, error) {
	var resp []Task
	endpoint := fmt.Sprintf("v1/assignments/%s/tasks", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task to a new status.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v1/tasks/%s/status", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AddTaskNote appends a note to a task's log.
func (c *Client) AddTaskNote(ctx context.Context, taskID, text string) error {
	endpoint := fmt.Sprintf("v1/tasks/%s/notes", url.PathEscape(taskID))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"text": text}, nil)
}

// AssignmentStats returns the progress rollup for an assignment.
func (c *Client) AssignmentStats(ctx context.Context, assignmentID string) (AssignmentStats, error) {
	var resp AssignmentStats
	endpoint := fmt.Sprintf("v1/assignments/%s/stats", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ClientStats returns the per-client task rollup.
func (c *Client) ClientStats(ctx context.Context, clientID string) (ClientTaskStats, error) {
	var resp ClientTaskStats
	endpoint := fmt.Sprintf("v1/clients/%s/stats", url.PathEscape(clientID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.WorkspaceID != "" {
		req.Header.Set("X-Workspace-Id", c.WorkspaceID)
	}
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
