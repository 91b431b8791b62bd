// Package client is the HTTP implementation of the plugin API used by the
// console.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/metrics"
	"github.com/JakeFAU/extendspider-console/internal/policy/ratelimit"
	"github.com/JakeFAU/extendspider-console/internal/spider"
)

// APIKeyHeader carries the optional API key.
const APIKeyHeader = "X-API-Key"

const maxBodyBytes = 1 << 20

// Config configures the client.
type Config struct {
	// BaseURL is the API root, e.g. http://nas.local:3001/api/v1.
	BaseURL string
	APIKey  string
	// Timeout bounds each request. Zero means no client-side limit.
	Timeout    time.Duration
	HTTPClient *http.Client
	// RateLimiter paces calls to the backend host. Nil means unpaced.
	RateLimiter *ratelimit.Limiter
	Logger      *zap.Logger
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return e.Message
}

// Client issues JSON requests relative to a base URL.
type Client struct {
	base    *url.URL
	apiKey  string
	timeout time.Duration
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", base.Scheme)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:    base,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    httpClient,
		limiter: cfg.RateLimiter,
		logger:  logger.Named("client"),
	}, nil
}

// Get fetches path and returns the raw response body.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post sends body as JSON to path and returns the raw response body.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Put sends body as JSON to path, replacing the resource.
func (c *Client) Put(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	op := metrics.OpLabel(path)
	start := time.Now()
	var raw json.RawMessage
	err := c.pace(ctx)
	if err == nil {
		raw, err = c.roundTrip(ctx, method, path, body)
	}
	outcome := metrics.OutcomeOK
	switch {
	case err != nil:
		outcome = metrics.OutcomeTransport
		c.logger.Warn("backend call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		err = &spider.TransportError{Op: op, Err: err}
	case method == http.MethodPost && !gjson.GetBytes(raw, "success").Bool():
		outcome = metrics.OutcomeRejected
	}
	metrics.ObserveRemoteCall(op, outcome, time.Since(start))
	return raw, err
}

func (c *Client) pace(ctx context.Context) error {
	host := c.base.Hostname()
	waited, err := c.limiter.Wait(ctx, host)
	if waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	target, err := c.base.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("build url for %s: %w", path, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return json.RawMessage(data), nil
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(data []byte) string {
	if gjson.ValidBytes(data) {
		for _, key := range []string{"message", "error", "detail"} {
			if msg := gjson.GetBytes(data, key).String(); msg != "" {
				return msg
			}
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}
