package httpx

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

	"golang.org/x/time/rate"

	"github.com/onnwee/cachemanager/internal/cache"
	"github.com/onnwee/cachemanager/internal/metrics"
)

const maxErrorBody = 4 << 10

// StatusError is returned for a final response outside the 2xx range.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client talks JSON to a single base URL. GET responses can be memoized in
// a cache.Cache; everything else goes straight to the network.
type Client struct {
	base    *url.URL
	http    *http.Client
	policy  RetryPolicy
	limiter *rate.Limiter
	token   string

	cache   cache.Cache
	ttl     time.Duration
	version string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRateLimit throttles outbound attempts. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithCache memoizes GetJSON results with the given TTL and version tag.
func WithCache(cc cache.Cache, ttl time.Duration, version string) Option {
	return func(c *Client) {
		c.cache = cc
		c.ttl = ttl
		c.version = version
	}
}

// NewClient builds a Client for baseURL.
func NewClient(baseURL string, policy RetryPolicy, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 15 * time.Second},
		policy: policy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolve(path string, params map[string]string) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// GetJSON fetches path with params and decodes the JSON body into a
// generic value. With a cache configured, a live cached value for
// (namespace, path, params) is returned without touching the network.
func (c *Client) GetJSON(ctx context.Context, namespace, path string, params map[string]string) (any, error) {
	cacheParams := cacheParamsOf(params)
	if c.cache != nil && c.cache.Has(namespace, path, cacheParams) {
		if v, ok := c.cache.Get(namespace, path, cacheParams); ok {
			metrics.HTTPClientCacheResults.WithLabelValues(namespace, "cached").Inc()
			return v, nil
		}
	}

	var out any
	if err := c.Send(ctx, http.MethodGet, c.resolve(path, params), nil, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(namespace, path, out, &cache.SetConfig{TTL: c.ttl, Version: c.version}, cacheParams)
		metrics.HTTPClientCacheResults.WithLabelValues(namespace, "fetched").Inc()
	}
	return out, nil
}

// Invalidate drops the memoized result of GetJSON(namespace, path, params).
func (c *Client) Invalidate(namespace, path string, params map[string]string) {
	if c.cache != nil {
		c.cache.Delete(namespace, path, cacheParamsOf(params))
	}
}

// cacheParamsOf maps empty params to "no params" so a bare path and an
// empty query share a slot.
func cacheParamsOf(params map[string]string) any {
	if len(params) == 0 {
		return nil
	}
	return params
}

// Do sends method to path (relative to the base URL) with an optional JSON
// body and decodes a JSON response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, params map[string]string, body, out any) error {
	return c.Send(ctx, method, c.resolve(path, params), body, out)
}

// Send is Do with an absolute URL.
func (c *Client) Send(ctx context.Context, method, target string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = b
	}

	build := func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	}

	var pre PreAttempt
	if c.limiter != nil {
		pre = func(ctx context.Context, _ int) error { return c.limiter.Wait(ctx) }
	}

	resp, err := c.policy.Do(ctx, c.http, build, pre, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
