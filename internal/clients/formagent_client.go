/**
 * Form Agent Client - Remote FormDriver
 *
 * Drives the destination web form through a browser-automation sidecar
 * that exposes locate/write/read over JSON. The sidecar owns the browser
 * session; this client only forwards element operations.
 *
 * Endpoints:
 * - POST /v1/locate  {selector}       -> {handle}
 * - POST /v1/write   {handle, value}  -> {}
 * - POST /v1/read    {handle}         -> {value}
 * - GET  /health
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/pnrfill-worker/internal/executor"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
)

// FormAgentClient implements executor.FormDriver over HTTP.
type FormAgentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ executor.FormDriver = (*FormAgentClient)(nil)

// agentResponse is the envelope every agent endpoint answers with.
type agentResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type locateRequest struct {
	Selector string `json:"selector"`
}

type locateData struct {
	Handle string `json:"handle"`
}

type writeRequest struct {
	Handle string `json:"handle"`
	Value  string `json:"value"`
}

type readRequest struct {
	Handle string `json:"handle"`
}

type readData struct {
	Value string `json:"value"`
}

// NewFormAgentClient creates a new form agent client
func NewFormAgentClient(baseURL string) *FormAgentClient {
	return &FormAgentClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("FormAgentClient"),
	}
}

// Locate resolves selector to an element handle. A 404 from the agent maps
// to executor.ErrElementNotFound.
func (c *FormAgentClient) Locate(ctx context.Context, selector string) (executor.Handle, error) {
	var data locateData
	status, err := c.post(ctx, "/v1/locate", locateRequest{Selector: selector}, &data)
	if status == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", executor.ErrElementNotFound, selector)
	}
	if err != nil {
		return "", err
	}
	if data.Handle == "" {
		return "", fmt.Errorf("form agent returned empty handle for %s", selector)
	}
	return executor.Handle(data.Handle), nil
}

// Write sets the element's value.
func (c *FormAgentClient) Write(ctx context.Context, h executor.Handle, value string) error {
	_, err := c.post(ctx, "/v1/write", writeRequest{Handle: string(h), Value: value}, nil)
	return err
}

// ReadBack returns the element's current value.
func (c *FormAgentClient) ReadBack(ctx context.Context, h executor.Handle) (string, error) {
	var data readData
	if _, err := c.post(ctx, "/v1/read", readRequest{Handle: string(h)}, &data); err != nil {
		return "", err
	}
	return data.Value, nil
}

// HealthCheck verifies the form agent is available
func (c *FormAgentClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// post sends payload and decodes the envelope's data into out. The status
// code is returned even when err is set.
func (c *FormAgentClient) post(ctx context.Context, path string, payload, out interface{}) (int, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "pnrfill-worker")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request to form agent failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("form agent returned error status %d: %s", resp.StatusCode, string(body))
	}

	var envelope agentResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	if !envelope.Success {
		return resp.StatusCode, fmt.Errorf("form agent operation failed: %s", envelope.Message)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response data: %w", err)
		}
	}

	c.logger.Debug("Form agent call complete", "path", path, "status", resp.StatusCode)
	return resp.StatusCode, nil
}
