// client.go: Bridge implementation over HTTP
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package httpbridge

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

	"github.com/agilira/go-errors"

	"github.com/agilira/themis"
)

// ClientOptions controls timeouts, retries and headers of a Client.
type ClientOptions struct {
	// Timeout bounds each HTTP request. Default 10s.
	Timeout time.Duration

	// RetryAttempts is the number of extra attempts after a transport
	// failure. HTTP error responses are never retried.
	RetryAttempts int

	// RetryDelay between attempts. Default 100ms.
	RetryDelay time.Duration

	// Headers are added to every request, e.g. for authentication.
	Headers map[string]string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// DefaultClientOptions returns the defaults used for zero fields.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:       10 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    100 * time.Millisecond,
	}
}

// Client talks to a Server. It implements themis.Bridge and themis.Prober.
type Client struct {
	base    *url.URL
	opts    ClientOptions
	httpCli *http.Client
}

var (
	_ themis.Bridge = (*Client)(nil)
	_ themis.Prober = (*Client)(nil)
)

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ClientOptions) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, themis.ErrCodeInvalidConfig, "invalid bridge URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New(themis.ErrCodeInvalidConfig, fmt.Sprintf("unsupported bridge URL scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, errors.New(themis.ErrCodeInvalidConfig, "bridge URL has no host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	defaults := DefaultClientOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaults.RetryDelay
	}

	httpCli := opts.HTTPClient
	if httpCli == nil {
		httpCli = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{base: u, opts: opts, httpCli: httpCli}, nil
}

// Probe checks the health endpoint.
func (c *Client) Probe(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return errors.Wrap(err, themis.ErrCodeBridgeUnavailable, "bridge health check failed")
	}
	if status != http.StatusOK {
		return errors.New(themis.ErrCodeBridgeUnavailable, fmt.Sprintf("bridge unhealthy: HTTP %d %s", status, errorMessage(body)))
	}
	return nil
}

// Get reads key. A 404 maps to ErrCodeKeyNotFound; any other non-2xx
// response maps to ErrCodeBridgeRejected.
func (c *Client) Get(ctx context.Context, key string) (any, error) {
	status, body, err := c.do(ctx, http.MethodGet, fieldPath(key), nil)
	if err != nil {
		return nil, errors.Wrap(err, themis.ErrCodeIOError, "bridge request failed").WithContext("key", key)
	}
	if err := responseError(status, body, key); err != nil {
		return nil, err
	}

	var out fieldValue
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, themis.ErrCodeSerializationError, "invalid bridge response").WithContext("key", key)
	}
	return out.Value, nil
}

// Set writes key. The SetResult of the remote bridge is returned as is.
func (c *Client) Set(ctx context.Context, key string, value any) (themis.SetResult, error) {
	payload, err := json.Marshal(fieldValue{Value: value})
	if err != nil {
		return themis.SetResult{}, errors.Wrap(err, themis.ErrCodeSerializationError, "cannot encode value").WithContext("key", key)
	}

	status, body, err := c.do(ctx, http.MethodPut, fieldPath(key), payload)
	if err != nil {
		return themis.SetResult{}, errors.Wrap(err, themis.ErrCodeIOError, "bridge request failed").WithContext("key", key)
	}
	if err := responseError(status, body, key); err != nil {
		return themis.SetResult{}, err
	}

	var result themis.SetResult
	if err := json.Unmarshal(body, &result); err != nil {
		return themis.SetResult{}, errors.Wrap(err, themis.ErrCodeSerializationError, "invalid bridge response").WithContext("key", key)
	}
	return result, nil
}

func fieldPath(key string) string {
	return "/v1/fields/" + url.PathEscape(key)
}

// do sends one request, retrying transport failures.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(c.opts.RetryDelay):
			}
		}

		status, body, err := c.once(ctx, method, path, payload)
		if err == nil {
			return status, body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
	}
	return 0, nil, lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func responseError(status int, body []byte, key string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return errors.New(themis.ErrCodeKeyNotFound, errorMessage(body)).WithContext("key", key)
	default:
		return errors.New(themis.ErrCodeBridgeRejected, fmt.Sprintf("HTTP %d: %s", status, errorMessage(body))).
			WithContext("key", key)
	}
}

func errorMessage(body []byte) string {
	var e errorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
