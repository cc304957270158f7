package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// apiClient talks to a running sentinel over its REST API.
type apiClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// sourcePayload mirrors the registration body accepted by POST /api/v1/sources.
type sourcePayload struct {
	ID              string         `json:"source_id"`
	Type            string         `json:"source_type"`
	Name            string         `json:"name,omitempty"`
	Frequency       string         `json:"frequency,omitempty"`
	Enabled         *bool          `json:"enabled,omitempty"`
	FreshnessWeight float64        `json:"data_freshness_weight,omitempty"`
	QueryParameters map[string]any `json:"query_parameters,omitempty"`
	AlertThresholds map[string]any `json:"alert_thresholds,omitempty"`
}

func (c *apiClient) Status() (models.Status, error) {
	var st models.Status
	err := c.do(http.MethodGet, "/api/v1/status", nil, &st)
	return st, err
}

func (c *apiClient) ListSources() ([]models.Source, error) {
	var sources []models.Source
	err := c.do(http.MethodGet, "/api/v1/sources", nil, &sources)
	return sources, err
}

func (c *apiClient) GetSource(id string) (models.Source, error) {
	var src models.Source
	err := c.do(http.MethodGet, "/api/v1/sources/"+url.PathEscape(id), nil, &src)
	return src, err
}

func (c *apiClient) RegisterSource(p sourcePayload) (models.Source, error) {
	var src models.Source
	err := c.do(http.MethodPost, "/api/v1/sources", p, &src)
	return src, err
}

// SourceAction posts to /api/v1/sources/{id}/{action} (enable, disable, trigger).
func (c *apiClient) SourceAction(id, action string) (models.Source, error) {
	var src models.Source
	err := c.do(http.MethodPost, "/api/v1/sources/"+url.PathEscape(id)+"/"+action, nil, &src)
	return src, err
}

func (c *apiClient) RecentResults(id string, limit int) ([]models.ProbeResult, error) {
	var results []models.ProbeResult
	err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/sources/%s/results?limit=%d", url.PathEscape(id), limit), nil, &results)
	return results, err
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
