package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty.Client with bounded timeouts and typed error mapping.
// Retries are intentionally disabled: expired-token recovery is handled once
// at the session layer, and every other failure is surfaced to the caller.
type Client struct {
	resty   *resty.Client
	timeout time.Duration
	debug   bool
	logger  *slog.Logger
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	Timeout   time.Duration
	UserAgent string
	Debug     bool
	Logger    *slog.Logger
}

// DefaultClientConfig returns sensible defaults for HTTP client
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:   30 * time.Second,
		UserAgent: "mlbv/1.0",
	}
}

// NewClient creates a new HTTP client with the given configuration
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "mlbv/1.0"
	}

	restyClient := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent).
		SetHeader("Accept", "application/json")

	client := &Client{
		resty:   restyClient,
		timeout: config.Timeout,
		debug:   config.Debug,
		logger:  config.Logger,
	}

	if config.Debug && config.Logger != nil {
		restyClient.OnBeforeRequest(func(c *resty.Client, r *resty.Request) error {
			client.logRequest(r)
			return nil
		})
		restyClient.OnAfterResponse(func(c *resty.Client, r *resty.Response) error {
			client.logResponse(r)
			return nil
		})
	}

	return client
}

// Get performs a GET request with context support. Transport failures are
// returned as *NetworkError; HTTP error statuses are returned to the caller
// alongside the response so endpoint-specific handling can inspect the body.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)

	for key, value := range headers {
		req.SetHeader(key, value)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, wrapTransportError("GET", url, err)
	}

	return resp, nil
}

// Post performs a POST request with context support
func (c *Client) Post(ctx context.Context, url string, body interface{}, headers map[string]string) (*resty.Response, error) {
	req := c.resty.R().
		SetContext(ctx).
		SetBody(body)

	for key, value := range headers {
		req.SetHeader(key, value)
	}

	resp, err := req.Post(url)
	if err != nil {
		return nil, wrapTransportError("POST", url, err)
	}

	return resp, nil
}

// PostForm performs an application/x-www-form-urlencoded POST
func (c *Client) PostForm(ctx context.Context, url string, form map[string]string, headers map[string]string) (*resty.Response, error) {
	req := c.resty.R().
		SetContext(ctx).
		SetFormData(form)

	for key, value := range headers {
		req.SetHeader(key, value)
	}

	resp, err := req.Post(url)
	if err != nil {
		return nil, wrapTransportError("POST", url, err)
	}

	return resp, nil
}

// SetHeader sets a default header for all requests
func (c *Client) SetHeader(key, value string) {
	c.resty.SetHeader(key, value)
}

// GetTimeout returns the configured timeout
func (c *Client) GetTimeout() time.Duration {
	return c.timeout
}

// GetRestyClient returns the underlying resty client
func (c *Client) GetRestyClient() *resty.Client {
	return c.resty
}

// NetworkError is a transport-level failure: connection refused, DNS failure,
// or a deadline hitting before the server answered. Timeout distinguishes the
// latter; both are treated as "retry later" at the CLI boundary.
type NetworkError struct {
	Op      string
	URL     string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: request timed out: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: connection failed: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err wraps a transport failure.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsTimeout reports whether err wraps a transport timeout.
func IsTimeout(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Timeout
}

func wrapTransportError(op, reqURL string, err error) error {
	timeout := false

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		timeout = true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		timeout = true
	}

	return &NetworkError{Op: op, URL: reqURL, Timeout: timeout, Err: err}
}

// logRequest logs HTTP request details. Bodies are not logged: auth requests
// carry credentials and token material.
func (c *Client) logRequest(r *resty.Request) {
	if c.logger == nil {
		return
	}

	c.logger.Debug("HTTP Request",
		"method", r.Method,
		"url", r.URL,
	)
}

// logResponse logs HTTP response details
func (c *Client) logResponse(r *resty.Response) {
	if c.logger == nil {
		return
	}

	c.logger.Debug("HTTP Response",
		"status", r.StatusCode(),
		"url", r.Request.URL,
		"time", r.Time(),
	)
}
