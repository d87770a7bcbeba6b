package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	httpDefaultTimeout = 15 * time.Second

	// Max bytes read from a response body (hard limit).
	httpMaxBodyBytes = 1 << 20 // 1 MiB
)

// HTTPExecutor is an Executor backed by net/http. Relative endpoints are
// resolved against BaseURL.
type HTTPExecutor struct {
	client  *http.Client
	baseURL string
}

// HTTPOption configures HTTPExecutor behavior.
type HTTPOption func(*HTTPExecutor)

// WithHTTPClient replaces the underlying client (e.g. for custom TLS).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPExecutor) {
		if c != nil {
			e.client = c
		}
	}
}

// NewHTTPExecutor constructs an executor with a bounded default timeout.
func NewHTTPExecutor(baseURL string, opts ...HTTPOption) *HTTPExecutor {
	e := &HTTPExecutor{
		client:  &http.Client{Timeout: httpDefaultTimeout},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Do executes one request. Non-2xx statuses are returned as a Response;
// the error path is reserved for failures where no response exists.
func (e *HTTPExecutor) Do(ctx context.Context, req Request) (*Response, error) {
	if e == nil || e.client == nil {
		return nil, errors.New("transport: nil executor")
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		return nil, errors.New("transport: missing method")
	}

	url := req.Endpoint
	if !strings.Contains(url, "://") {
		url = e.baseURL + "/" + strings.TrimLeft(url, "/")
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	hr, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, v := range req.Headers {
		hr.Header.Set(k, v)
	}

	resp, err := e.client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", method, req.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, httpMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}
