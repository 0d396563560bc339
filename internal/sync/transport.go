package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mkwei/actionsync/internal/models"
)

// defaultTimeout bounds a single push attempt; the retry loop sits above it.
const defaultTimeout = 30 * time.Second

// HTTPTransport pushes sync requests to an authority server over HTTP.
type HTTPTransport struct {
	base   string
	client *http.Client
}

// NewHTTPTransport creates a transport for the given server base URL
// (for example "http://localhost:8090").
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// WithClient overrides the HTTP client, for tests and custom timeouts.
func (t *HTTPTransport) WithClient(c *http.Client) *HTTPTransport {
	t.client = c
	return t
}

// Push posts the request to /api/sync. Transport-level failures return an
// error (retryable); a delivered non-success response returns a
// PushResponse with Success=false (not retryable).
func (t *HTTPTransport) Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/api/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("push to %s: %w", t.base, err)
	}
	defer httpResp.Body.Close()

	var resp models.PushResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			// Error body was not the JSON error shape; surface the status.
			return &models.PushResponse{
				Success: false,
				Error:   fmt.Sprintf("authority returned status %d", httpResp.StatusCode),
			}, nil
		}
		return nil, fmt.Errorf("decode sync response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK && resp.Error == "" {
		resp.Success = false
		resp.Error = fmt.Sprintf("authority returned status %d", httpResp.StatusCode)
	}

	return &resp, nil
}
