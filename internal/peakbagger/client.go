// Package peakbagger talks to the Peakbagger.com mobile endpoints: nearby
// peak search, a climber's ascent list, login, and adding or deleting ascents.
package peakbagger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"peaklogger/internal/metrics"
)

const (
	DefaultBaseURL  = "https://peakbagger.com/m"
	defaultCacheTTL = 24 * time.Hour
	maxBodyBytes    = 4 << 20
)

var (
	ErrUnavailable = errors.New("peakbagger unavailable")
	ErrLoginFailed = errors.New("not able to login, double-check your email address and password")
)

// Client is safe for concurrent use. The zero value talks to DefaultBaseURL
// with caching, retries and a circuit breaker enabled.
type Client struct {
	BaseURL      string
	HTTPClient   *http.Client
	Timeout      time.Duration
	CacheTTL     time.Duration
	DisableCache bool
	MaxAttempts  int
	BackoffBase  time.Duration
	// Limiter, when set, paces every outgoing request.
	Limiter *rate.Limiter

	breakerOnce sync.Once
	breaker     *gobreaker.CircuitBreaker[response]

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type response struct {
	status int
	body   []byte
}

type cacheEntry struct {
	peaks     []Peak
	expiresAt time.Time
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("peakbagger status %d: %s", e.status, e.body)
}

func (c *Client) base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := c.base() + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) circuit() *gobreaker.CircuitBreaker[response] {
	c.breakerOnce.Do(func() {
		c.breaker = gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
			Name:        "peakbagger",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	})
	return c.breaker
}

// send performs one request through the limiter and breaker. Transport
// failures and 429/5xx responses count against the breaker and are
// returned as errors; any other status is returned to the caller.
func (c *Client) send(ctx context.Context, name, method, endpoint string, form url.Values) (response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return response{}, err
		}
	}

	start := time.Now()
	resp, err := c.circuit().Execute(func() (response, error) {
		return c.roundTrip(ctx, method, endpoint, form)
	})
	metrics.ObservePeakbagger(name, start, err)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, form url.Values) (response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return response{}, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		snippet := data
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return response{}, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	return response{status: resp.StatusCode, body: data}, nil
}

// getWithRetry issues an idempotent GET, retrying transient failures with
// exponential backoff. Only 200 responses are returned.
func (c *Client) getWithRetry(ctx context.Context, name, endpoint string) ([]byte, error) {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	baseSleep := c.BackoffBase
	if baseSleep <= 0 {
		baseSleep = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.send(ctx, name, http.MethodGet, endpoint, nil)
		if err == nil {
			if resp.status != http.StatusOK {
				return nil, &statusError{status: resp.status}
			}
			return resp.body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) || attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(baseSleep << attempt):
		}
	}
	return nil, lastErr
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.effectiveTimeout()}
}

func (c *Client) effectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 15 * time.Second
}

func (c *Client) effectiveCacheTTL() time.Duration {
	if c.DisableCache {
		return 0
	}
	if c.CacheTTL > 0 {
		return c.CacheTTL
	}
	return defaultCacheTTL
}

func (c *Client) getCached(key string) ([]Peak, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.peaks, true
}

func (c *Client) setCached(key string, peaks []Peak, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		c.cache = make(map[string]cacheEntry)
	}
	c.cache[key] = cacheEntry{peaks: peaks, expiresAt: time.Now().Add(ttl)}
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr interface{ Temporary() bool }
	if errors.As(err, &netErr) && netErr.Temporary() {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
