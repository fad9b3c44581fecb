// Package runway implements the image-to-video driver for the Runway REST API.
package runway

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

	"github.com/gifmotion/gifmotion/internal/ailink/driver"
)

const (
	DefaultBaseURL    = "https://api.dev.runwayml.com"
	DefaultAPIVersion = "2024-11-06"
	DefaultModel      = "gen3a_turbo"

	// MaxResponseBytes caps one response body read from the API.
	MaxResponseBytes = 4 << 20

	versionHeader = "X-Runway-Version"
	driverName    = "runway"
)

// Client talks to the Runway API over plain HTTP.
type Client struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	HTTPClient *http.Client
	// Timeout bounds each individual request, not the whole generation.
	Timeout time.Duration
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = DefaultBaseURL
	}

	return &Client{
		BaseURL:    base,
		APIKey:     strings.TrimSpace(apiKey),
		APIVersion: DefaultAPIVersion,
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return driverName
}

// SubmitImageToVideo creates a task via POST /v1/image_to_video.
func (c *Client) SubmitImageToVideo(ctx context.Context, req *driver.VideoRequest) (*driver.Task, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	payload, err := buildImageToVideoRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	respBody, err := c.do(ctx, "submit", http.MethodPost, c.endpoint("/v1/image_to_video"), body, "")
	if err != nil {
		return nil, err
	}
	return decodeTask(respBody)
}

// GetTask fetches a task via GET /v1/tasks/{id}.
func (c *Client) GetTask(ctx context.Context, id string) (*driver.Task, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("task id is required")
	}

	respBody, err := c.do(ctx, "status", http.MethodGet, c.endpoint("/v1/tasks/"+url.PathEscape(id)), nil, id)
	if err != nil {
		return nil, err
	}
	return decodeTask(respBody)
}

func (c *Client) ready() error {
	if c == nil {
		return fmt.Errorf("runway client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api key is required")
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte, taskID string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set(versionHeader, c.apiVersion())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		driver.Trace(driver.TraceEntry{
			Driver:      driverName,
			Endpoint:    endpoint,
			Method:      method,
			TaskID:      taskID,
			RequestBody: body,
			Error:       err.Error(),
			DurationMs:  duration.Milliseconds(),
		})
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(respBody) > MaxResponseBytes {
		return nil, fmt.Errorf("%w: response body exceeds %d bytes", driver.ErrMalformedResponse, MaxResponseBytes)
	}

	driver.Trace(driver.TraceEntry{
		Driver:      driverName,
		Endpoint:    endpoint,
		Method:      method,
		TaskID:      taskID,
		RequestBody: body,
		StatusCode:  resp.StatusCode,
		Response:    traceableBody(respBody),
		DurationMs:  duration.Milliseconds(),
	})

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &driver.ProviderError{
			Provider:    driverName,
			Operation:   op,
			StatusCode:  resp.StatusCode,
			Message:     strings.TrimSpace(string(respBody)),
			RawResponse: respBody,
		}
	}
	return respBody, nil
}

func (c *Client) apiVersion() string {
	if v := strings.TrimSpace(c.APIVersion); v != "" {
		return v
	}
	return DefaultAPIVersion
}

func decodeTask(body []byte) (*driver.Task, error) {
	var parsed taskResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", driver.ErrMalformedResponse, err)
	}
	return toDriverTask(&parsed, body), nil
}

// traceableBody keeps JSON bodies as-is and quotes anything else so the
// trace line stays valid JSON.
func traceableBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return body
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
