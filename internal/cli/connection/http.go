package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/workingdb/workingdb-go/internal/infra/buildinfo"
)

// HTTPClient talks to the admin API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the admin API at server.
func NewHTTPClient(server string, timeout time.Duration) *HTTPClient {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request and decodes the envelope data into target.
func (c *HTTPClient) Get(ctx context.Context, path string, target any) error {
	return c.do(ctx, http.MethodGet, path, target)
}

// Post performs a POST request without a body and decodes the envelope
// data into target.
func (c *HTTPClient) Post(ctx context.Context, path string, target any) error {
	return c.do(ctx, http.MethodPost, path, target)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "workingdb-cli/"+buildinfo.Version)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	return ParseResponse(resp, target)
}

// APIError is an error envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ParseResponse decodes the response envelope, storing its data in
// target. Error envelopes are returned as *APIError.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	var env struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Code, apiErr.Message = env.Code, env.Message
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("parse response: %w", decodeErr)
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}
