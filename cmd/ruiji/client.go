package main

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

	"github.com/hyperjump/ruiji/internal/cli"
	"github.com/hyperjump/ruiji/internal/models"
)

// apiClient talks to a running ruiji server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// rebuildResult is the shape of POST /api/v1/rebuild.
type rebuildResult struct {
	TaskID     string `json:"task_id"`
	Generation uint64 `json:"generation"`
	Scope      string `json:"scope"`
	Status     string `json:"status"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) nearest(ctx context.Context, q models.NearestQuery) (*models.NearestResponse, error) {
	var resp models.NearestResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/nearest", q, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) related(ctx context.Context, docID string, q models.NearestQuery) (*models.NearestResponse, error) {
	v := url.Values{}
	if q.MaxResults > 0 {
		v.Set("limit", strconv.Itoa(q.MaxResults))
	}
	if q.MinSimilarity != nil {
		v.Set("min_similarity", strconv.FormatFloat(*q.MinSimilarity, 'f', -1, 64))
	}
	if q.Aggregation != "" {
		v.Set("aggregation", string(q.Aggregation))
	}
	path := "/api/v1/documents/" + url.PathEscape(docID) + "/related"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var resp models.NearestResponse
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) rebuild(ctx context.Context, ids []string, force bool) (*rebuildResult, error) {
	body := map[string]interface{}{"ids": ids, "force": force}
	var resp rebuildResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/rebuild", body, http.StatusAccepted, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) cancelRebuild(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/rebuild", nil, http.StatusOK, nil)
}

func (c *apiClient) status(ctx context.Context) (*cli.StatusReport, error) {
	var st cli.StatusReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, http.StatusOK, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
