// Package atlasclient is a Go client for the plat-atlas REST API.
package atlasclient

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

	"github.com/joeblew999/plat-atlas/internal/api"
	"github.com/joeblew999/plat-atlas/internal/service"
)

// Client talks to one atlas server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("atlas: status %d: %s", e.Status, e.Body)
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (api.HealthBody, error) {
	var out api.HealthBody
	return out, c.do(ctx, http.MethodGet, "/health", nil, &out)
}

// Info calls GET /api/v1/info.
func (c *Client) Info(ctx context.Context) (api.InfoBody, error) {
	var out api.InfoBody
	return out, c.do(ctx, http.MethodGet, "/api/v1/info", nil, &out)
}

// CreateSession opens a session from a map view query (layers, compare,
// site_scope, locale).
func (c *Client) CreateSession(ctx context.Context, query url.Values) (service.SessionView, error) {
	var out service.SessionView
	path := "/api/v1/sessions"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return out, c.do(ctx, http.MethodPost, path, nil, &out)
}

// Session returns a session snapshot.
func (c *Client) Session(ctx context.Context, id string) (service.SessionView, error) {
	var out service.SessionView
	return out, c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &out)
}

// ToggleLayer switches a layer on or off.
func (c *Client) ToggleLayer(ctx context.Context, id, layerID string) (api.ToggleBody, error) {
	var out api.ToggleBody
	path := fmt.Sprintf("/api/v1/sessions/%s/layers/%s/toggle", url.PathEscape(id), url.PathEscape(layerID))
	return out, c.do(ctx, http.MethodPost, path, nil, &out)
}

// ToggleCompareLayer assigns a layer to a compare slot.
func (c *Client) ToggleCompareLayer(ctx context.Context, id, layerID string) (service.SessionView, error) {
	var out service.SessionView
	path := fmt.Sprintf("/api/v1/sessions/%s/compare/toggle/%s", url.PathEscape(id), url.PathEscape(layerID))
	return out, c.do(ctx, http.MethodPost, path, nil, &out)
}

// URL returns the session's persisted query, flushing pending writes first.
func (c *Client) URL(ctx context.Context, id string) (api.URLBody, error) {
	var out api.URLBody
	return out, c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id)+"/url?flush=true", nil, &out)
}

// CloseSession closes a session.
func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), nil, nil)
}

// Fetcher returns a catalog fetcher reading this server's catalog routes,
// so one atlas server can serve another's catalog.
func (c *Client) Fetcher() *service.HTTPFetcher {
	f := service.NewHTTPFetcher(c.BaseURL + "/api/v1")
	f.Client = c.HTTP
	return f
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if dst == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
