// Package registry fetches crate version indexes from the registry API.
// The client retries transient failures with exponential backoff, trips a
// per-host circuit breaker on repeated outages, and the cache-integrated
// Source layers TTL freshness and offline fallback on top.
package registry

import (
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

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// VersionRecord is one published release of a package as reported by the
// registry. CreatedAt is the publication instant; publications are
// immutable, so a cached instant never goes stale. Yank status can change
// after publication.
type VersionRecord struct {
	Num       string    `json:"num"`
	CreatedAt time.Time `json:"created_at"`
	Yanked    bool      `json:"yanked"`
}

type crateResponse struct {
	Versions []VersionRecord `json:"versions"`
}

// Client is the crates.io API client.
type Client struct {
	http      *http.Client
	base      *url.URL
	userAgent string
	retries   int
	baseDelay time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRetries sets the number of additional attempts after the first.
func WithRetries(n int) Option {
	return func(cl *Client) { cl.retries = n }
}

// WithBaseDelay sets the initial backoff interval between attempts.
func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) { cl.baseDelay = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client for the given API base URL, e.g.
// "https://crates.io/api/v1/".
func NewClient(apiBase string, opts ...Option) (*Client, error) {
	base, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("registry: invalid API base URL %q: %w", apiBase, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	c := &Client{
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: newTransport(),
		},
		base:      base,
		userAgent: "cargo-cooldown",
		retries:   2,
		baseDelay: 200 * time.Millisecond,
		logger:    slog.New(slog.DiscardHandler),
		breakers:  make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Versions fetches the full version index for a package. The operation is
// idempotent and safe to issue concurrently for distinct names.
func (c *Client) Versions(ctx context.Context, name string) ([]VersionRecord, error) {
	u := c.base.JoinPath("crates", name)

	var resp crateResponse
	if err := c.getJSON(ctx, u.String(), &resp); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.IsNotFound() {
			return nil, &NotFoundError{Name: name}
		}
		return nil, err
	}
	return resp.Versions, nil
}

// getJSON issues a GET and decodes the JSON response, retrying transient
// failures. Connection errors, timeouts, 429 and 5xx are transient; any
// other 4xx fails immediately.
func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	breaker := c.breakerFor(rawURL)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		if !breaker.Ready() {
			return backoff.Permanent(fmt.Errorf("circuit breaker open for %s: %w", hostOf(rawURL), ErrUnavailable))
		}
		attempt++
		err := breaker.Call(func() error {
			return c.doJSON(ctx, rawURL, v)
		}, 0)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		c.logger.Debug("registry request failed",
			"url", rawURL,
			"attempt", attempt,
			"error", err)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retries)), ctx))
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (c *Client) doJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// breakerFor returns or creates the circuit breaker for a URL's host.
// Trips after 5 consecutive failures and resets on an exponential schedule.
func (c *Client) breakerFor(rawURL string) *circuit.Breaker {
	host := hostOf(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if breaker, ok := c.breakers[host]; ok {
		return breaker
	}

	reset := backoff.NewExponentialBackOff()
	reset.InitialInterval = 30 * time.Second
	reset.MaxInterval = 5 * time.Minute
	reset.Multiplier = 2.0
	reset.Reset()

	breaker := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    reset,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	c.breakers[host] = breaker
	return breaker
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
