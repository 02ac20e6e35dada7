package timelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Timeline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Project represents the API project metadata.
type Project struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Status         string  `json:"status"`
	StartDate      string  `json:"startDate"`
	EndDate        *string `json:"endDate"`
	EstimatedHours float64 `json:"estimatedHours"`
	ActualHours    float64 `json:"actualHours"`
	Priority       string  `json:"priority"`
	Color          string  `json:"color,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	StartDate    string   `json:"startDate"`
	EndDate      string   `json:"endDate"`
	Status       string   `json:"status"`
	Progress     float64  `json:"progress"`
	Dependencies []string `json:"dependencies"`
	Type         string   `json:"type"`
}

// ProjectEntry is a project as listed by the API.
type ProjectEntry struct {
	Project           Project            `json:"project"`
	Tasks             []Task             `json:"tasks"`
	MonthlyAllocation map[string]float64 `json:"monthlyAllocation,omitempty"`
	ReadOnly          bool               `json:"readOnly"`
	Imported          bool               `json:"imported"`
}

type ImportResult struct {
	Project struct {
		Project Project `json:"project"`
		Tasks   []Task  `json:"tasks"`
	} `json:"project"`
	Outcome  string `json:"outcome"`
	Revision string `json:"revision"`
	EventID  int64  `json:"event_id"`
}

type RemoveResult struct {
	ID       string `json:"id"`
	Restored bool   `json:"restored"`
}

// Report is the per-project analytics bundle (partial).
type Report struct {
	ProjectID string `json:"projectId"`
	AsOf      string `json:"asOf"`
	Health    struct {
		Status           string `json:"status"`
		ScheduleVariance int    `json:"scheduleVariance"`
		BudgetVariance   int    `json:"budgetVariance"`
	} `json:"health"`
	Forecast struct {
		ProjectedDate   *string `json:"projectedDate"`
		DaysAheadBehind int     `json:"daysAheadBehind"`
		Confidence      string  `json:"confidence"`
		Message         string  `json:"message"`
	} `json:"forecast"`
	Overdue bool `json:"overdue"`
}

// Event represents a journal entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Filter narrows project listings; empty fields match everything.
type Filter struct {
	Status   string
	Priority string
	Search   string
}

func (f Filter) values() url.Values {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Priority != "" {
		q.Set("priority", f.Priority)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	return q
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListProjects lists visible projects.
func (c *Client) ListProjects(ctx context.Context, f Filter) ([]ProjectEntry, error) {
	var resp struct {
		Items []ProjectEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("projects", f.values()), nil, &resp)
	return resp.Items, err
}

// GetProject fetches one project.
func (c *Client) GetProject(ctx context.Context, id string) (ProjectEntry, error) {
	var resp ProjectEntry
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Import submits a YAML or JSON document. merge replaces an existing project.
func (c *Client) Import(ctx context.Context, document string, merge bool) (ImportResult, error) {
	body := map[string]any{"document": document, "mode": "insert"}
	if merge {
		body["mode"] = "merge"
	}
	var resp ImportResult
	err := c.do(ctx, http.MethodPost, "projects/import", body, &resp)
	return resp, err
}

// Remove deletes an imported project.
func (c *Client) Remove(ctx context.Context, id string) (RemoveResult, error) {
	var resp RemoveResult
	err := c.do(ctx, http.MethodDelete, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Report fetches analytics for a project. A zero now uses the server clock.
func (c *Client) Report(ctx context.Context, id string, now time.Time) (Report, error) {
	q := url.Values{}
	if !now.IsZero() {
		q.Set("now", now.UTC().Format(time.RFC3339))
	}
	var resp Report
	err := c.do(ctx, http.MethodGet, withQuery("projects/"+url.PathEscape(id)+"/report", q), nil, &resp)
	return resp, err
}

// Events lists journal events, newest first.
func (c *Client) Events(ctx context.Context, projectID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
