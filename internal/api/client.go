package api

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRPCPath is where gpttools-service serves JSON-RPC.
const DefaultRPCPath = "/rpc"

// Client calls the gpttools-service JSON-RPC endpoint.
type Client struct {
	mu      sync.RWMutex
	addr    string
	rpcPath string

	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	nextID atomic.Uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates an RPC client for the service at addr (host:port).
func NewClient(addr string, opts ...ClientOption) *Client {
	c := &Client{
		addr:    addr,
		rpcPath: DefaultRPCPath,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   0,
		retryBackoff: 200 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRPCPath sets the endpoint path (default "/rpc").
func WithRPCPath(path string) ClientOption {
	return func(c *Client) {
		if path != "" {
			c.rpcPath = path
		}
	}
}

// SetAddr retargets the client.
func (c *Client) SetAddr(addr string) {
	c.mu.Lock()
	c.addr = addr
	c.mu.Unlock()
}

// Addr returns the current target address.
func (c *Client) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}
