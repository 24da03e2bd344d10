// Package gateway provides the call contract to the ClawLens control-plane
// gateway. The collector consumes the gateway as an opaque RPC surface:
// invoke(method, params) -> document.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Invoker is the contract every gateway implementation satisfies.
// Responses are untyped documents; callers must not assume any field is
// present.
type Invoker interface {
	Invoke(ctx context.Context, method string, params map[string]any) (map[string]any, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, method string, params map[string]any) (map[string]any, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	return f(ctx, method, params)
}

// Configuration constants for the HTTP gateway client.
const (
	// DefaultTimeout is the default timeout for gateway requests.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps response bodies; the gateway is local but a
	// runaway sessions_list should not exhaust memory.
	maxResponseSize = 10 * 1024 * 1024 // 10MB
)

// HTTPClient invokes gateway methods over a single HTTP RPC endpoint:
// POST {baseURL}/rpc with body {"method": ..., "params": {...}}.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPOption configures the HTTP gateway client.
type HTTPOption func(*HTTPClient)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithHTTPTimeout sets the per-request timeout.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// NewHTTPClient creates a gateway client for the given base URL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Invoke posts one gateway call and decodes the response document.
func (c *HTTPClient) Invoke(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway call %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway call %s: status %d", method, resp.StatusCode)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode gateway response for %s: %w", method, err)
	}
	return doc, nil
}
