// Package fetch retrieves the earthquake feed and normalizes it into
// quake.Event values.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quaketrack/quaketrack/internal/quake"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 16 << 20
	errorSnippetBytes   = 512
)

// Client performs single GET requests against the configured feed URL.
// It holds no state between calls.
type Client struct {
	url          string
	userAgent    string
	maxBodyBytes int64
	minMagnitude float64
	client       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client = &http.Client{Timeout: d}
		}
	}
}

// WithMaxBodyBytes caps how much of the response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithMinMagnitude drops valid events weaker than m. Dropped events never
// fail the fetch.
func WithMinMagnitude(m float64) Option {
	return func(c *Client) { c.minMagnitude = m }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a Client for the given feed URL.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		userAgent:    "quaketrack",
		maxBodyBytes: defaultMaxBodyBytes,
		client:       &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the feed URL.
func (c *Client) URL() string { return c.url }

// Fetch issues one request and returns the normalized events. Every failure
// is an *Error; a partially valid body never yields a partial list.
func (c *Client) Fetch(ctx context.Context) ([]quake.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, networkErr(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json, application/geo+json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, networkErr(fmt.Errorf("GET %s: %w", c.url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetBytes))
		return nil, &Error{
			Kind:   KindStatus,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("GET %s: %s", c.url, strings.TrimSpace(string(body))),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, networkErr(fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, parseErr(fmt.Errorf("body exceeds %d bytes", c.maxBodyBytes))
	}

	events, err := Decode(body)
	if err != nil {
		return nil, err
	}
	return AtLeast(events, c.minMagnitude), nil
}
