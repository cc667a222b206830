// Package recordstore is a thin JSON client for the ERP/e-signature
// record-store collaborator. Records are opaque maps keyed by whatever
// identifiers the backing mock or live system uses.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound marks a lookup whose key matched nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDownstreamUnavailable marks transport failures and 5xx replies.
	ErrDownstreamUnavailable = errors.New("record store unavailable")
)

type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimSpace(strings.TrimRight(baseURL, "/")),
		token:   strings.TrimSpace(token),
	}
}

// Get fetches a record by path and query parameters.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Post submits payload and returns the JSON reply.
func (c *Client) Post(ctx context.Context, path string, payload any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload any) (map[string]any, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("record store client is not initialized")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("record store base url is required")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("record store path is required")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownstreamUnavailable, err)
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownstreamUnavailable, readErr)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: http %d", ErrDownstreamUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("record store http %d", resp.StatusCode)
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("record store reply is not valid json: %w", err)
	}
	return out, nil
}
