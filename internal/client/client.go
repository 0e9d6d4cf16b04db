// Package client provides a REST client for the agentd server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/agentd/internal/models"
)

// DefaultServerURL is used when neither an endpoint nor AGENTD_SERVER_URL is set.
const DefaultServerURL = "http://localhost:8080"

// Client talks to the agentd HTTP API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// New creates a new client.
// If endpoint is empty, uses AGENTD_SERVER_URL env var or defaults to localhost:8080.
// Timeout can be configured via AGENTD_CLIENT_TIMEOUT env var (default 30s).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("AGENTD_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = DefaultServerURL
	}

	timeout := 30 * time.Second
	if t := os.Getenv("AGENTD_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the base URL of the server.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// do sends a JSON request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &errBody) == nil && errBody.Error.Message != "" {
			msg = errBody.Error.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TYPES (matching the server's JSON contract)
// =============================================================================

// StatusCounts holds the number of records per pipeline status.
type StatusCounts struct {
	Queued          int `json:"queued_pipelines"`
	Running         int `json:"running_pipelines"`
	WaitingForInput int `json:"waiting_for_input_pipelines"`
	Completed       int `json:"completed_pipelines"`
	Failed          int `json:"failed_pipelines"`
}

// OperationStats is the timing summary of one server operation.
type OperationStats struct {
	Count             int64   `json:"count"`
	Errors            int64   `json:"errors"`
	AvgTimeMs         float64 `json:"avg_time_ms"`
	MaxTimeMs         int64   `json:"max_time_ms"`
	TotalInputTokens  *int64  `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64  `json:"total_output_tokens,omitempty"`
}

// Health is the server's health report.
type Health struct {
	Status         string     `json:"status"`
	LastCleanup    *time.Time `json:"last_cleanup"`
	CleanupCount   int64      `json:"cleanup_count"`
	ActiveSessions int        `json:"active_sessions"`
	InFlight       int        `json:"in_flight"`
	Capacity       int        `json:"capacity"`
	Timestamp      time.Time  `json:"timestamp"`
	Uptime         float64    `json:"uptime"`
	Metrics        *struct {
		Operations map[string]OperationStats `json:"operations"`
		Counters   map[string]int64          `json:"counters"`
	} `json:"metrics,omitempty"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Run submits a topic and returns the new request id.
func (c *Client) Run(ctx context.Context, topic string) (string, error) {
	var resp struct {
		RequestID string `json:"request_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/run", map[string]string{"topic": topic}, &resp); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

// Status fetches the status view of a request.
func (c *Client) Status(ctx context.Context, id string) (*models.StatusView, error) {
	var view models.StatusView
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Answer submits the answer to a request waiting for input.
func (c *Client) Answer(ctx context.Context, id, answer string) error {
	return c.do(ctx, http.MethodPost, "/answer/"+url.PathEscape(id), map[string]string{"answer": answer}, nil)
}

// Cancel asks the server to stop a request.
func (c *Client) Cancel(ctx context.Context, id, reason string) error {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	return c.do(ctx, http.MethodPost, "/cancel/"+url.PathEscape(id), body, nil)
}

// Stats returns the number of records per pipeline status.
func (c *Client) Stats(ctx context.Context) (*StatusCounts, error) {
	var resp struct {
		Data StatusCounts `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api-status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Watch streams status views of a request over a WebSocket until the
// request is terminal. The onView callback is invoked for each view. Return
// an error from onView to abort.
func (c *Client) Watch(ctx context.Context, id string, onView func(*models.StatusView) error) error {
	// Convert HTTP endpoint to WebSocket endpoint
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/watch/" + url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Message: "Session not found."}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	var last *models.StatusView
	for {
		var view models.StatusView
		if err := conn.ReadJSON(&view); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last != nil && last.PipelineStatus.Terminal() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway) {
				return &APIError{StatusCode: http.StatusNotFound, Message: "Session evicted."}
			}
			return fmt.Errorf("read message: %w", err)
		}
		last = &view
		if err := onView(&view); err != nil {
			return err
		}
	}
}
