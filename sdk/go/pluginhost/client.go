// Package pluginhost is a Go client for the plugin host management API.
package pluginhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"PluginHost/pkg/plugin"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Start and stop calls wait for plugin hooks, so it is longer than a plain
// read would need.
const DefaultHTTPTimeout = 45 * time.Second

// Client wraps the HTTP interactions with the management API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("pluginhost api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("pluginhost api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the management API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with start and stop commands.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Plugins lists registered plugins. An empty pipeline lists all of them.
func (c *Client) Plugins(ctx context.Context, pipeline string) ([]plugin.PluginState, error) {
	endpoint := "/api/v1/plugins"
	if pipeline != "" {
		endpoint += "?pipeline=" + url.QueryEscape(pipeline)
	}
	var out []plugin.PluginState
	if err := c.call(ctx, http.MethodGet, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Plugin returns the state of a single plugin.
func (c *Client) Plugin(ctx context.Context, category, name string) (plugin.PluginState, error) {
	var out plugin.PluginState
	err := c.call(ctx, http.MethodGet, pluginPath(category, name, ""), &out)
	return out, err
}

// StartPlugin runs the OnStart hook of a plugin and returns its new state.
func (c *Client) StartPlugin(ctx context.Context, category, name string) (plugin.PluginState, error) {
	var out plugin.PluginState
	err := c.call(ctx, http.MethodPost, pluginPath(category, name, "start"), &out)
	return out, err
}

// StopPlugin runs the OnStop hook of a plugin and returns its new state.
func (c *Client) StopPlugin(ctx context.Context, category, name string) (plugin.PluginState, error) {
	var out plugin.PluginState
	err := c.call(ctx, http.MethodPost, pluginPath(category, name, "stop"), &out)
	return out, err
}

// Plans returns the last boot priority plan of each pipeline, keyed by
// pipeline name and then by priority.
func (c *Client) Plans(ctx context.Context) (map[string]map[string][]string, error) {
	var out map[string]map[string][]string
	if err := c.call(ctx, http.MethodGet, "/api/v1/plan", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MusicSources lists plugins registered as music sources.
func (c *Client) MusicSources(ctx context.Context) ([]plugin.MusicSource, error) {
	var out []plugin.MusicSource
	if err := c.call(ctx, http.MethodGet, "/api/v1/music-sources", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func pluginPath(category, name, action string) string {
	p := "/api/v1/plugins/" + url.PathEscape(category) + "/" + url.PathEscape(name)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) call(ctx context.Context, method, endpoint string, out any) error {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	rel.RawPath = ""
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if method == http.MethodPost {
		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
