// Package genie is a client for the Databricks Genie conversation API.
package genie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/comigor/genieq/internal/config"
	"github.com/comigor/genieq/internal/logger"
	"github.com/comigor/genieq/internal/remote"
)

const apiPrefix = "/api/2.0/genie/spaces"

// Client talks to one Databricks workspace. It implements remote.Client and
// remote.SpaceLister.
type Client struct {
	host         string
	token        string
	spaceID      string
	pollInterval time.Duration
	pollTimeout  time.Duration

	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	defaultSpace string
}

var (
	_ remote.Client      = (*Client)(nil)
	_ remote.SpaceLister = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a client from cfg.
func New(cfg config.GenieConfig, opts ...Option) *Client {
	c := &Client{
		host:         strings.TrimRight(cfg.Host, "/"),
		token:        cfg.Token,
		spaceID:      cfg.SpaceID,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		http:         &http.Client{Timeout: cfg.HTTPTimeout},
		now:          time.Now,
	}
	if !strings.HasPrefix(c.host, "http://") && !strings.HasPrefix(c.host, "https://") && c.host != "" {
		c.host = "https://" + c.host
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = 10 * time.Minute
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = logger.Or(c.logger)
	return c
}

// do sends one request and decodes a 2xx JSON body into out. Non-2xx
// responses become *remote.Error; 429 is KindRateLimited.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return remote.Other(op, err)
		}
	}

	u := c.host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return remote.Other(op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return remote.Other(op, err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return remote.Other(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		retryAfter := remote.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return remote.FromStatus(op, resp.StatusCode, retryAfter, errorMessage(raw))
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return remote.Other(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func errorMessage(raw []byte) string {
	var ae apiError
	if err := json.Unmarshal(raw, &ae); err == nil && ae.Message != "" {
		if ae.ErrorCode != "" {
			return ae.ErrorCode + ": " + ae.Message
		}
		return ae.Message
	}
	return strings.TrimSpace(string(raw))
}

// SpaceID returns the configured space, or the first listed space when none
// is configured. The lookup is cached.
func (c *Client) SpaceID(ctx context.Context) (string, error) {
	if c.spaceID != "" {
		return c.spaceID, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.defaultSpace != "" {
		return c.defaultSpace, nil
	}
	spaces, err := c.ListSpaces(ctx)
	if err != nil {
		return "", err
	}
	if len(spaces) == 0 {
		return "", remote.Other("list_spaces", errors.New("no Genie spaces found, create one first"))
	}
	c.defaultSpace = spaces[0].ID
	c.logger.Info("using default Genie space", "space_id", spaces[0].ID, "title", spaces[0].Title)
	return c.defaultSpace, nil
}

// ListSpaces returns every space the token can see.
func (c *Client) ListSpaces(ctx context.Context) ([]remote.Space, error) {
	var out []remote.Space
	query := url.Values{}
	for {
		var page listSpacesResponse
		if err := c.do(ctx, "list_spaces", http.MethodGet, apiPrefix, query, nil, &page); err != nil {
			return nil, err
		}
		for _, s := range page.Spaces {
			out = append(out, remote.Space{ID: s.SpaceID, Title: s.Title, Description: s.Description})
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		query.Set("page_token", page.NextPageToken)
	}
}
