package api

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

// Client talks to the daemon's HTTP API on behalf of the CLI.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient builds a client for the daemon listening at addr. The address
// may be a bare host:port or a full http URL.
func NewClient(addr, token string) *Client {
	base := strings.TrimSpace(addr)
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateJob submits a new job.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// ListJobs returns jobs, optionally filtered to the given stages.
func (c *Client) ListJobs(ctx context.Context, stages ...string) ([]Job, error) {
	path := "/api/jobs"
	if len(stages) > 0 {
		values := url.Values{}
		for _, s := range stages {
			values.Add("stage", s)
		}
		path += "?" + values.Encode()
	}
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob fetches a single job.
func (c *Client) GetJob(ctx context.Context, id int64) (Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%d", id), nil, &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// CancelJob requests cooperative cancellation of a job.
func (c *Client) CancelJob(ctx context.Context, id int64) (Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/cancel", id), nil, &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// RetryJob moves a failed job back to the stage that failed.
func (c *Client) RetryJob(ctx context.Context, id int64) (Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/retry", id), nil, &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// ReopenJob rewinds a failed job to an earlier stage for regeneration.
func (c *Client) ReopenJob(ctx context.Context, id int64, stage string) (Job, error) {
	var resp JobResponse
	req := ReopenRequest{Stage: stage}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/reopen", id), req, &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// RemoveJob deletes a terminal job.
func (c *Client) RemoveJob(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/jobs/%d", id), nil, nil)
}

// ClearCompleted removes all completed jobs.
func (c *Client) ClearCompleted(ctx context.Context) (int64, error) {
	var resp ClearResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/clear-completed", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return DaemonStatus{}, err
	}
	return resp, nil
}

// Health retrieves store and executor readiness.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return HealthResponse{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w (is the daemon running?)", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
