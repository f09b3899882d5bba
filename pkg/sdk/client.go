// Package sdk is the Go client for the flag evaluation service.
//
// Quick start:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL:  "https://flags.yourcompany.com",
//	    TenantID: "your-tenant-uuid",
//	})
//
//	result, err := client.Evaluate(ctx, "dark-mode", sdk.Context{"userId": "u-42"})
//	if result.Enabled(false) {
//	    // feature path
//	}
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the service endpoint, e.g. "http://localhost:8080".
	BaseURL string

	// TenantID scopes every request; sent as the x-tenant-id header.
	TenantID string

	// Timeout bounds each evaluation request (default 5s).
	Timeout time.Duration

	// HTTPClient overrides the default client, e.g. for custom transports.
	HTTPClient *http.Client
}

// Client talks to the evaluation API.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{config: cfg, http: httpClient}
}

// Evaluate resolves one flag for the given context. A missing flag is not an
// error: the result carries a nil value and reason FLAG_NOT_FOUND.
func (c *Client) Evaluate(ctx context.Context, key string, ec Context) (*Result, error) {
	var result Result
	url := fmt.Sprintf("%s/api/v1/evaluate/%s", c.config.BaseURL, key)
	if err := c.post(ctx, url, ec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BatchEvaluate resolves several flags against one context in a single round
// trip. Per-key failures appear in the Errors map; healthy keys still return.
func (c *Client) BatchEvaluate(ctx context.Context, keys []string, ec Context) (*BatchResult, error) {
	payload := struct {
		Keys    []string `json:"keys"`
		Context Context  `json:"context"`
	}{Keys: keys, Context: ec}

	var result BatchResult
	if err := c.post(ctx, c.config.BaseURL+"/api/v1/evaluate/batch", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IsEnabled is the convenience form of Evaluate: a single bool with a
// fallback used on transport errors or missing flags.
func (c *Client) IsEnabled(ctx context.Context, key string, ec Context, fallback bool) bool {
	result, err := c.Evaluate(ctx, key, ec)
	if err != nil {
		return fallback
	}
	return result.Enabled(fallback)
}

func (c *Client) post(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sdk: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-tenant-id", c.config.TenantID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sdk: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusServiceUnavailable:
		// 503 still carries a usable degraded result body.
	case http.StatusTooManyRequests:
		return fmt.Errorf("sdk: rate limited (retry after %s)", resp.Header.Get("X-RateLimit-Reset"))
	default:
		return fmt.Errorf("sdk: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sdk: decode response: %w", err)
	}
	return nil
}
