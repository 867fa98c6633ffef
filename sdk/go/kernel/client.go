// Package kernel is a thin Go client for driving a running kernel's
// control plane from tooling: typed request/response structs over
// net/http and a single *APIError type for anything the server rejects.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultHTTPTimeout bounds every request issued by a Client created
// without its own http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps HTTP interactions with one kernel's /control endpoint.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// APIError reports a non-2xx control-plane response or a command-level
// failure inside an otherwise-200 envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("kernel control error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("kernel control error (%d): %s", e.StatusCode, e.Message)
}

// NewClient builds a Client for the kernel listening at rawURL. A nil
// httpClient gets one with DefaultHTTPTimeout.
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

// PluginStatus is the shape of one entry in a list_plugins response.
type PluginStatus struct {
	PluginID     string   `json:"PluginID"`
	Name         string   `json:"Name"`
	Version      string   `json:"Version"`
	Description  string   `json:"Description"`
	Author       string   `json:"Author"`
	Tags         []string `json:"Tags"`
	Dependencies []string `json:"Dependencies"`
	Status       string   `json:"status"`
}

// ListPlugins returns every plugin currently loaded by the kernel.
func (c *Client) ListPlugins(ctx context.Context) ([]PluginStatus, error) {
	var out []PluginStatus
	if err := c.call(ctx, "list_plugins", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReloadPlugin asks the kernel to unload and reload a plugin in place.
func (c *Client) ReloadPlugin(ctx context.Context, pluginID string) error {
	return c.call(ctx, "reload_plugin", map[string]string{"plugin_id": pluginID}, nil)
}

// InvokeExport calls a named export on a loaded plugin and returns its
// raw result bytes.
func (c *Client) InvokeExport(ctx context.Context, pluginID, export string, payload json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	params := map[string]any{"plugin_id": pluginID, "export": export, "payload": payload}
	if err := c.call(ctx, "invoke_export", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe registers subscriberID as interested in topic's traffic on
// the control plane's event stream.
func (c *Client) Subscribe(ctx context.Context, subscriberID, topic string) error {
	return c.call(ctx, "subscribe", map[string]string{"subscriber_id": subscriberID, "topic": topic}, nil)
}

// Unsubscribe reverses a prior Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, subscriberID, topic string) error {
	return c.call(ctx, "unsubscribe", map[string]string{"subscriber_id": subscriberID, "topic": topic}, nil)
}

// SaveLayout persists a dashboard layout by name.
func (c *Client) SaveLayout(ctx context.Context, layout Layout) error {
	return c.call(ctx, "save_layout", layout, nil)
}

// ListLayouts returns the names of every saved dashboard layout.
func (c *Client) ListLayouts(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.call(ctx, "list_layouts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyLayout fetches a previously saved layout by name.
func (c *Client) ApplyLayout(ctx context.Context, name string) (Layout, error) {
	var out Layout
	if err := c.call(ctx, "apply_layout", map[string]string{"name": name}, &out); err != nil {
		return Layout{}, err
	}
	return out, nil
}

// LogEntry mirrors one message_log row returned by get_logs.
type LogEntry struct {
	MessageID string          `json:"MessageID"`
	From      string          `json:"From"`
	To        string          `json:"To"`
	Topic     string          `json:"Topic"`
	Payload   json.RawMessage `json:"Payload"`
	Status    string          `json:"Status"`
	CreatedAt uint64          `json:"CreatedAt"`
}

// GetLogs fetches up to limit recent message_log entries involving
// pluginID, most recent first.
func (c *Client) GetLogs(ctx context.Context, pluginID string, limit int) ([]LogEntry, error) {
	var out []LogEntry
	params := map[string]any{"plugin_id": pluginID, "limit": limit}
	if err := c.call(ctx, "get_logs", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Widget is one inline panel in a dashboard Layout.
type Widget struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	PluginID string         `json:"plugin_id,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// Layout is a named arrangement of widgets.
type Layout struct {
	Name    string   `json:"name"`
	Widgets []Widget `json:"widgets"`
}

// CreateWidget appends widget to layoutName, creating the layout if it
// does not exist yet.
func (c *Client) CreateWidget(ctx context.Context, layoutName string, widget Widget) (Layout, error) {
	var out Layout
	params := map[string]any{"layout": layoutName, "widget": widget}
	if err := c.call(ctx, "create_widget", params, &out); err != nil {
		return Layout{}, err
	}
	return out, nil
}

// RemoveWidget deletes a widget by id from layoutName.
func (c *Client) RemoveWidget(ctx context.Context, layoutName, widgetID string) (Layout, error) {
	var out Layout
	params := map[string]any{"layout": layoutName, "widget_id": widgetID}
	if err := c.call(ctx, "remove_widget", params, &out); err != nil {
		return Layout{}, err
	}
	return out, nil
}

type controlRequest struct {
	Command string `json:"command"`
	Params  any    `json:"params,omitempty"`
}

type controlResponse struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, command string, params any, out any) error {
	body, err := json.Marshal(controlRequest{Command: command, Params: params})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	endpoint := c.baseURL.ResolveReference(&url.URL{Path: "/control"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var envelope controlResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}
	if !envelope.Ok {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
