package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client talks to the data service over HTTP. Search and aggregation hit
// /{index}/_search; reference lookups hit /_meta/fields and /_meta/values.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ SearchService = (*Client)(nil)
var _ ReferenceService = (*Client)(nil)

// NewClient creates a Client from the environment:
//
//	ES_BASE_URL (required), ES_API_KEY (optional)
func NewClient() *Client {
	return &Client{
		baseURL:    strings.TrimRight(os.Getenv("ES_BASE_URL"), "/"),
		apiKey:     os.Getenv("ES_API_KEY"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Validate reports whether the client is configured.
func (c *Client) Validate() error {
	if c.baseURL == "" {
		return fmt.Errorf("es: ES_BASE_URL not set")
	}
	return nil
}

// Search executes query against index with offset pagination.
func (c *Client) Search(ctx context.Context, index string, query map[string]any, size, from int) (map[string]any, error) {
	body := map[string]any{"query": query, "size": size, "from": from}
	return c.post(ctx, "/"+url.PathEscape(index)+"/_search", body)
}

// Aggregate executes query plus an aggregation spec against index.
func (c *Client) Aggregate(ctx context.Context, index string, query, aggs map[string]any) (map[string]any, error) {
	body := map[string]any{"query": query, "aggs": aggs, "size": 0}
	return c.post(ctx, "/"+url.PathEscape(index)+"/_search", body)
}

// FieldMetadata returns the field descriptors for index.
func (c *Client) FieldMetadata(ctx context.Context, index string) (map[string]any, error) {
	return c.get(ctx, "/_meta/fields?index="+url.QueryEscape(index))
}

// ReferenceValues returns the known values for field.
func (c *Client) ReferenceValues(ctx context.Context, field string) ([]string, error) {
	resp, err := c.get(ctx, "/_meta/values?field="+url.QueryEscape(field))
	if err != nil {
		return nil, err
	}
	raw, _ := resp["values"].([]any)
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			values = append(values, s)
		}
	}
	return values, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("es: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("es: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("es: create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("es: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("es: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("es: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("es: unmarshal response: %w", err)
	}
	return out, nil
}
