// Package remote is the typed client for the content REST API.
package remote

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
	"sync"
	"time"

	"contentdesk/core/internal/store"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 10 * time.Second

// CreateProjectRequest is the payload for creating a project. The server
// assigns id, status and commentCount.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	CreatedBy   string `json:"createdBy"`
}

type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type CreateCommentRequest struct {
	ThreadID   string `json:"threadId,omitempty"`
	Content    string `json:"content"`
	Author     string `json:"author"`
	AuthorRole string `json:"authorRole"`
}

type CreateThreadRequest struct {
	ID        string             `json:"id,omitempty"`
	Title     string             `json:"title"`
	Status    store.ThreadStatus `json:"status"`
	CreatedBy string             `json:"createdBy"`
	Comments  []store.Comment    `json:"comments,omitempty"`
}

// Observer receives the outcome of every request. status is the numeric HTTP
// status, or "transport" when no response arrived.
type Observer func(method, status string, duration time.Duration)

type Option func(*Client)

// WithTimeout sets the per-request deadline. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit paces outbound requests to rps per second. Zero or negative
// leaves requests unpaced.
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// Client talks to the project, comment and thread REST surface. The base URL
// may be changed while requests are in flight.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	observer   Observer
}

// New creates a new API client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

// ListProjects fetches every project.
func (c *Client) ListProjects(ctx context.Context) ([]store.Project, error) {
	var projects []store.Project
	if err := c.get(ctx, "/websites", &projects); err != nil {
		return nil, fmt.Errorf("remote.ListProjects: %w", err)
	}
	if projects == nil {
		projects = []store.Project{}
	}
	return projects, nil
}

// GetProject fetches a single project by ID.
func (c *Client) GetProject(ctx context.Context, id string) (store.Project, error) {
	var project store.Project
	if err := c.get(ctx, projectPath(id), &project); err != nil {
		return store.Project{}, fmt.Errorf("remote.GetProject: %w", err)
	}
	return project, nil
}

// CreateProject creates a new project.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (store.Project, error) {
	var created store.Project
	if err := c.doRequest(ctx, http.MethodPost, "/websites", req, &created); err != nil {
		return store.Project{}, fmt.Errorf("remote.CreateProject: %w", err)
	}
	return created, nil
}

// UpdateProject sends a partial project and returns the server's copy.
func (c *Client) UpdateProject(ctx context.Context, id string, patch store.ProjectPatch) (store.Project, error) {
	var updated store.Project
	if err := c.doRequest(ctx, http.MethodPut, projectPath(id), patch, &updated); err != nil {
		return store.Project{}, fmt.Errorf("remote.UpdateProject: %w", err)
	}
	return updated, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult
	if err := c.doRequest(ctx, http.MethodDelete, projectPath(id), nil, &result); err != nil {
		return DeleteResult{}, fmt.Errorf("remote.DeleteProject: %w", err)
	}
	return result, nil
}

func (c *Client) ListComments(ctx context.Context, projectID string) ([]store.Comment, error) {
	var comments []store.Comment
	if err := c.get(ctx, projectPath(projectID)+"/comments", &comments); err != nil {
		return nil, fmt.Errorf("remote.ListComments: %w", err)
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	return comments, nil
}

func (c *Client) CreateComment(ctx context.Context, projectID string, req CreateCommentRequest) (store.Comment, error) {
	var created store.Comment
	if err := c.doRequest(ctx, http.MethodPost, projectPath(projectID)+"/comments", req, &created); err != nil {
		return store.Comment{}, fmt.Errorf("remote.CreateComment: %w", err)
	}
	return created, nil
}

func (c *Client) ListThreads(ctx context.Context, projectID string) ([]store.Thread, error) {
	var threads []store.Thread
	if err := c.get(ctx, projectPath(projectID)+"/threads", &threads); err != nil {
		return nil, fmt.Errorf("remote.ListThreads: %w", err)
	}
	if threads == nil {
		threads = []store.Thread{}
	}
	return threads, nil
}

func (c *Client) CreateThread(ctx context.Context, projectID string, req CreateThreadRequest) (store.Thread, error) {
	var created store.Thread
	if err := c.doRequest(ctx, http.MethodPost, projectPath(projectID)+"/threads", req, &created); err != nil {
		return store.Thread{}, fmt.Errorf("remote.CreateThread: %w", err)
	}
	return created, nil
}

// UpdateThread replaces a thread with the given copy.
func (c *Client) UpdateThread(ctx context.Context, thread store.Thread) (store.Thread, error) {
	var updated store.Thread
	if err := c.doRequest(ctx, http.MethodPut, "/threads/"+url.PathEscape(thread.ID), thread, &updated); err != nil {
		return store.Thread{}, fmt.Errorf("remote.UpdateThread: %w", err)
	}
	return updated, nil
}

func projectPath(id string) string {
	return "/websites/" + url.PathEscape(id)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Message: "marshal body", Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Message: "rate limit wait", Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL()+path, reqBody)
	if err != nil {
		return &Error{Message: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, "transport", started)
		return &Error{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close
	c.observe(method, strconv.Itoa(resp.StatusCode), started)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		remoteErr := &Error{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
		if readErr != nil {
			remoteErr.Message = fmt.Sprintf("failed to read body: %v", readErr)
			return remoteErr
		}
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "":
			remoteErr.Message = apiErr.Error
		case apiErr.Message != "":
			remoteErr.Message = apiErr.Message
		default:
			remoteErr.Message = strings.TrimSpace(string(respBody))
		}
		if remoteErr.Message == "" {
			remoteErr.Message = remoteErr.StatusText
		}
		return remoteErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode), Message: "decode response", Err: err}
		}
	}
	return nil
}

func (c *Client) observe(method, status string, started time.Time) {
	if c.observer != nil {
		c.observer(method, status, time.Since(started))
	}
}
