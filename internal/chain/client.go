// Package chain talks to a Casper node over JSON-RPC: global-state queries,
// dictionary reads, deploy construction and signing, and speculative
// execution.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"LendingLedger/internal/observability"
)

var (
	ErrQueryFailed           = errors.New("chain query failed")
	ErrSpeculativeCallFailed = errors.New("speculative call failed")
	ErrKeyLoad               = errors.New("signing key load failed")
)

// DefaultTimeout bounds a single RPC round trip when the caller's context
// carries no deadline.
const DefaultTimeout = 15 * time.Second

// Caller issues one JSON-RPC call and decodes the result into result.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is a JSON-RPC client for one node endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Uint64
	metrics    *observability.Metrics
}

// Config holds client configuration.
type Config struct {
	URL     string
	Timeout time.Duration
	Metrics *observability.Metrics
}

// NewClient creates a client for cfg.URL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rpc url required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: cfg.Metrics,
	}, nil
}

// Call posts method with params and unmarshals the result into result,
// which may be nil. A JSON-RPC error object is returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params, result any) (err error) {
	start := time.Now()
	defer func() {
		if c.metrics == nil {
			return
		}
		status := "ok"
		var rpcErr *RPCError
		switch {
		case errors.As(err, &rpcErr):
			status = "rpc_error"
		case err != nil:
			status = "transport_error"
		}
		c.metrics.RPCRequests.WithLabelValues(method, status).Inc()
		c.metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
