package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// Errors
var (
	ErrNoAddress     = errors.New("service address not set")
	ErrUnknownMethod = errors.New("unknown_method")
)

// Request is a JSON-RPC request body.
type Request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Response is a JSON-RPC response body.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// RPCError is returned for HTTP status codes >= 400.
type RPCError struct {
	StatusCode int
	Method     string
	Message    string
	Body       []byte
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("service rpc error %d (%s): %s", e.StatusCode, e.Method, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *RPCError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Call invokes method on the current address and returns the result field.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.CallAt(ctx, c.Addr(), method, params)
}

// CallAt invokes method on addr without retargeting the client.
func (c *Client) CallAt(ctx context.Context, addr, method string, params any) (json.RawMessage, error) {
	if addr == "" {
		return nil, ErrNoAddress
	}

	req := Request{
		ID:     c.nextID.Add(1),
		Method: method,
		Params: params,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	body, err := c.doWithRetry(ctx, c.endpoint(addr), method, payload)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %d does not match request id %d", resp.ID, req.ID)
	}
	return resp.Result, nil
}

func (c *Client) endpoint(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/") + c.rpcPath
}

// doRequest performs one POST of payload to url.
func (c *Client) doRequest(ctx context.Context, url, method string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &RPCError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, url, method string, payload []byte) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug("retrying rpc call",
				"attempt", attempt,
				"backoff", jitter,
				"method", method,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, url, method, payload)
		if err == nil {
			return body, nil
		}

		lastErr = err

		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) || !rpcErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
