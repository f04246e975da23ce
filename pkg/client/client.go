package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/taskctl/remotetask/internal/api/handlers"
)

// Client is a thin Go SDK over the coordinator's admin HTTP API.
// Unlike a generated client, every method here is a
// direct net/http call plus JSON decode -- there is no code-generation
// step in this module.
type Client struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a new Client rooted at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Client{baseURL: baseURL, opts: o}
}

// CreateTask creates a TaskHandle for req.
func (c *Client) CreateTask(ctx context.Context, req handlers.CreateTaskRequest) (*handlers.TaskResponse, error) {
	var resp handlers.TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTask fetches the current status/info snapshot for taskId.
func (c *Client) GetTask(ctx context.Context, taskId string) (*handlers.TaskResponse, error) {
	var resp handlers.TaskResponse
	path := "/api/v1/tasks/" + url.PathEscape(taskId)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTasks lists every handle known to the Registry, optionally filtered
// by state and/or the worker-reported node id ("node").
func (c *Client) ListTasks(ctx context.Context, state, node string) (*handlers.ListResponse, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if node != "" {
		q.Set("node", node)
	}
	path := "/api/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp handlers.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddSplits enqueues splits on the given sources of taskId.
func (c *Client) AddSplits(ctx context.Context, taskId string, req handlers.AddSplitsRequest) (*handlers.TaskResponse, error) {
	var resp handlers.TaskResponse
	path := "/api/v1/tasks/" + url.PathEscape(taskId) + "/splits"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NoMoreSplits marks a source (or source+lifespan) as having no more splits.
func (c *Client) NoMoreSplits(ctx context.Context, taskId string, req handlers.NoMoreSplitsRequest) (*handlers.TaskResponse, error) {
	var resp handlers.TaskResponse
	path := "/api/v1/tasks/" + url.PathEscape(taskId) + "/no-more-splits"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetOutputBuffers updates a task's output buffer descriptor.
func (c *Client) SetOutputBuffers(ctx context.Context, taskId string, buffers interface{}) (*handlers.TaskResponse, error) {
	var resp handlers.TaskResponse
	path := "/api/v1/tasks/" + url.PathEscape(taskId) + "/output-buffers"
	if err := c.do(ctx, http.MethodPost, path, buffers, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelTask requests graceful termination (DELETE ?abort=false).
func (c *Client) CancelTask(ctx context.Context, taskId string) (*handlers.TaskResponse, error) {
	return c.terminate(ctx, taskId, false)
}

// AbortTask requests forceful termination (DELETE ?abort=true).
func (c *Client) AbortTask(ctx context.Context, taskId string) (*handlers.TaskResponse, error) {
	return c.terminate(ctx, taskId, true)
}

func (c *Client) terminate(ctx context.Context, taskId string, abort bool) (*handlers.TaskResponse, error) {
	var resp handlers.TaskResponse
	path := fmt.Sprintf("/api/v1/tasks/%s?abort=%t", url.PathEscape(taskId), abort)
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckHealth reports the coordinator's health.
func (c *Client) CheckHealth(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/admin/health", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ConnectWebSocket opens the live event stream at GET /ws.
func (c *Client) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// Events returns the channel of live events. Call ConnectWebSocket first.
func (c *Client) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the live event stream, if open.
func (c *Client) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.opts.applyHeaders(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr handlers.ErrorResponse
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
