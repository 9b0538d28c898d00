package agentstep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Steps may call a language model, so it is generous.
const DefaultHTTPTimeout = 2 * time.Minute

const apiPrefix = "/ap/v1/agent"

// ErrMaxStepsReached is returned by RunUntilDone when the step budget is
// exhausted before the task produced its final output.
var ErrMaxStepsReached = errors.New("agentstep: max steps reached before task finished")

// Client wraps the HTTP interactions with the AgentStep REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// TaskRequest represents the payload required to create a new task.
type TaskRequest struct {
	UserObjective     string         `json:"user_objective"`
	UserConfiguration map[string]any `json:"user_configuration,omitempty"`
}

// Task is the persisted view of a task session.
type Task struct {
	TaskID        string         `json:"task_id"`
	Objective     string         `json:"objective"`
	WorkspaceRoot string         `json:"workspace_root"`
	AgentName     string         `json:"agent_name,omitempty"`
	Plan          Plan           `json:"plan"`
	Status        string         `json:"status"`
	Steps         int            `json:"steps"`
	LastError     string         `json:"last_error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

// Plan lists the tasks the agent intends to work through.
type Plan struct {
	Tasks []PlannedTask `json:"task_list"`
}

// PlannedTask is a single entry of a plan.
type PlannedTask struct {
	Objective string `json:"objective"`
	Type      string `json:"type"`
	Priority  int    `json:"priority"`
}

// StepRequest carries the optional input and confirmation for a step.
// An empty confirmation approves the pending ability.
type StepRequest struct {
	Input        any    `json:"input,omitempty"`
	Confirmation string `json:"confirmation,omitempty"`
}

// Step is the record of one step invocation.
type Step struct {
	StepID       string         `json:"step_id"`
	TaskID       string         `json:"task_id"`
	Sequence     int            `json:"sequence"`
	Confirmation string         `json:"confirmation,omitempty"`
	Output       map[string]any `json:"output"`
	IsLast       bool           `json:"is_last"`
	CreatedAt    int64          `json:"created_at"`
}

// ListOptions filters ListTasks.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []string
}

// TaskList is a page of tasks.
type TaskList struct {
	Tasks      []Task `json:"tasks"`
	Pagination struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Count  int `json:"count"`
	} `json:"pagination"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentstep api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentstep api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentStep API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// CreateTask bootstraps a new task session.
func (c *Client) CreateTask(ctx context.Context, req TaskRequest) (Task, error) {
	var task Task
	if err := c.send(ctx, http.MethodPost, apiPrefix+"/tasks", nil, req, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	if err := c.send(ctx, http.MethodGet, taskPath(taskID), nil, nil, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// ListTasks returns a page of tasks, most recently updated first.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (TaskList, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	var list TaskList
	if err := c.send(ctx, http.MethodGet, apiPrefix+"/tasks", query, nil, &list); err != nil {
		return TaskList{}, err
	}
	return list, nil
}

// ExecuteStep advances the task by one step.
func (c *Client) ExecuteStep(ctx context.Context, taskID string, req StepRequest) (Step, error) {
	var step Step
	if err := c.send(ctx, http.MethodPost, taskPath(taskID)+"/steps", nil, req, &step); err != nil {
		return Step{}, err
	}
	return step, nil
}

// ListSteps returns the step history of a task.
func (c *Client) ListSteps(ctx context.Context, taskID string) ([]Step, error) {
	var resp struct {
		Steps []Step `json:"steps"`
	}
	if err := c.send(ctx, http.MethodGet, taskPath(taskID)+"/steps", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Steps, nil
}

// RunTask asks the server to drive the task in the background.
func (c *Client) RunTask(ctx context.Context, taskID string) error {
	return c.send(ctx, http.MethodPost, taskPath(taskID)+"/run", nil, struct{}{}, nil)
}

// RunUntilDone executes steps with automatic approval until the task returns
// its final output or maxSteps steps have been taken.
func (c *Client) RunUntilDone(ctx context.Context, taskID string, maxSteps int) (Step, error) {
	if maxSteps <= 0 {
		return Step{}, errors.New("agentstep: maxSteps must be positive")
	}
	var last Step
	for i := 0; i < maxSteps; i++ {
		step, err := c.ExecuteStep(ctx, taskID, StepRequest{})
		if err != nil {
			return last, err
		}
		last = step
		if step.IsLast {
			return step, nil
		}
	}
	return last, ErrMaxStepsReached
}

func taskPath(taskID string) string {
	return apiPrefix + "/tasks/" + url.PathEscape(taskID)
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
