// Package client is a small HTTP client for the DevPilot API, intended
// for external tools and scripts.
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
	"time"

	"github.com/purlieu-studios/DevPilot-sub002/pkg/models"
)

// Client talks to a running devpilot server.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New returns a Client for the given base URL (e.g. "http://127.0.0.1:8099").
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health checks /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// ListRuns returns run summaries, newest first. awaiting limits the
// list to runs blocked on approval.
func (c *Client) ListRuns(ctx context.Context, limit int, awaiting bool) ([]models.RunSummary, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if awaiting {
		q.Set("awaiting", "1")
	}
	path := "/api/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var runs []models.RunSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns the full detail of one run.
func (c *Client) GetRun(ctx context.Context, runID string) (*models.RunDetail, error) {
	var detail models.RunDetail
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(runID), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Approve grants approval on a run blocked at the risk gate.
func (c *Client) Approve(ctx context.Context, runID string) (*models.ApproveResponse, error) {
	var resp models.ApproveResponse
	if err := c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/approve", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitRun executes a pipeline run on the server and returns its detail.
func (c *Client) SubmitRun(ctx context.Context, request string) (*models.RunDetail, error) {
	var detail models.RunDetail
	if err := c.do(ctx, http.MethodPost, "/api/runs", models.RunRequest{Request: request}, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}
