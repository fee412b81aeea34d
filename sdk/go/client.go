package awsctlsdk

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

// Client is a minimal task execution HTTP API client.
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
		Timeout: 30 * time.Second,
	}
}

// Credential is the API credential model. Secret fields never appear in
// responses.
type Credential struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Region    string `json:"region"`
	IsDefault bool   `json:"is_default"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// Task is the API task model.
type Task struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Service   string          `json:"service"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params,omitempty"`
	Frequency string          `json:"frequency"`
	IsActive  bool            `json:"is_active"`
}

// Execution is one attempt to run a task.
type Execution struct {
	ID           string  `json:"id"`
	TaskID       string  `json:"task_id"`
	Status       string  `json:"status"`
	StartedAt    string  `json:"started_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	ErrorKind    *string `json:"error_kind,omitempty"`
}

// Result is the stored provider response for a successful execution.
type Result struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Data        json.RawMessage `json:"data"`
	RequestID   *string         `json:"request_id,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

// SweepOutcome is the per-task report of a cadence sweep.
type SweepOutcome struct {
	TaskID      string `json:"task_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// PaginatedExecutions wraps execution listings with a cursor.
type PaginatedExecutions struct {
	Items      []Execution `json:"items"`
	NextCursor string      `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCredential stores a credential. Secret values travel only in this
// request.
func (c *Client) CreateCredential(ctx context.Context, name, accessKeyID, secretAccessKey, region string, isDefault bool) (Credential, error) {
	body := map[string]any{
		"name":              name,
		"access_key_id":     accessKeyID,
		"secret_access_key": secretAccessKey,
		"is_default":        isDefault,
	}
	if region != "" {
		body["region"] = region
	}
	var resp Credential
	err := c.do(ctx, http.MethodPost, "credentials", body, &resp)
	return resp, err
}

// ListCredentials returns the caller's credentials.
func (c *Client) ListCredentials(ctx context.Context) ([]Credential, error) {
	var resp []Credential
	err := c.do(ctx, http.MethodGet, "credentials", nil, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, name, service, operation, frequency string, params map[string]any) (Task, error) {
	body := map[string]any{
		"name":      name,
		"service":   service,
		"operation": operation,
	}
	if frequency != "" {
		body["frequency"] = frequency
	}
	if len(params) > 0 {
		body["params"] = params
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// ListTasks returns the caller's tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp)
	return resp, err
}

// RunTask runs a task synchronously and returns the completed execution. A
// failed provider call is reported on the execution record, not as an error.
func (c *Client) RunTask(ctx context.Context, taskID string, credentialID string) (Execution, error) {
	body := map[string]any{}
	if credentialID != "" {
		body["credential_id"] = credentialID
	}
	var resp Execution
	endpoint := fmt.Sprintf("tasks/%s/executions", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Executions returns a page of a task's executions, most recent first.
func (c *Client) Executions(ctx context.Context, taskID string, limit int, cursor string) (PaginatedExecutions, error) {
	endpoint := fmt.Sprintf("tasks/%s/executions", url.PathEscape(taskID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedExecutions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetExecution fetches an execution by id.
func (c *Client) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	var resp Execution
	err := c.do(ctx, http.MethodGet, "executions/"+url.PathEscape(executionID), nil, &resp)
	return resp, err
}

// GetResult fetches the stored result of a successful execution.
func (c *Client) GetResult(ctx context.Context, executionID string) (Result, error) {
	var resp Result
	endpoint := fmt.Sprintf("executions/%s/result", url.PathEscape(executionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CancelExecution cancels a pending execution.
func (c *Client) CancelExecution(ctx context.Context, executionID string) (Execution, error) {
	var resp Execution
	endpoint := fmt.Sprintf("executions/%s/cancel", url.PathEscape(executionID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RunSweep runs every active task on the given cadence now.
func (c *Client) RunSweep(ctx context.Context, frequency string) ([]SweepOutcome, error) {
	var resp struct {
		Outcomes []SweepOutcome `json:"outcomes"`
	}
	err := c.do(ctx, http.MethodPost, "sweeps/"+url.PathEscape(frequency), nil, &resp)
	return resp.Outcomes, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
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
