package request

import (
	"bytes"
	"context"
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

	"walktour/pkg/cache"
	"walktour/pkg/logging"
	"walktour/pkg/tracker"
	"walktour/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("walktour/%s (walking tour audio guide)", version.Version)

// StatusError is a non-2xx response from an upstream API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.Code)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Code, e.Body)
}

// APIStatus exposes the HTTP status for error classification.
func (e *StatusError) APIStatus() int { return e.Code }

// Options tunes the client.
type Options struct {
	Timeout   time.Duration
	Retries   int
	RateLimit float64 // Requests per second per provider, 0 = unlimited
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultOptions mirrors the default request config.
func DefaultOptions() Options {
	return Options{
		Timeout:   120 * time.Second,
		Retries:   3,
		RateLimit: 5,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
	}
}

// Client handles HTTP requests with per-provider queuing, rate limiting, caching and tracking.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	opts       Options

	// Queues per provider (domain)
	queues   map[string]chan job
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

// job represents a queued request.
type job struct {
	req      *http.Request
	body     []byte
	headers  map[string]string
	cacheKey string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client.
func New(c cache.Cacher, t *tracker.Tracker, opts Options) *Client {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(opts.BaseDelay, opts.MaxDelay),
		opts:       opts,
		queues:     make(map[string]chan job),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Get performs a GET request with queuing and caching if key is provided.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil, cacheKey)
}

// GetWithHeaders performs a GET request with custom headers and optional caching.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, u, nil, headers, cacheKey)
}

// Post performs a POST request with queuing.
func (c *Client) Post(ctx context.Context, u string, body []byte, contentType string) ([]byte, error) {
	return c.PostWithHeaders(ctx, u, body, map[string]string{"Content-Type": contentType})
}

// PostWithHeaders performs a POST request with custom headers and queuing.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers, "")
}

// PostWithCache performs a POST request with queuing and caching.
func (c *Client) PostWithCache(ctx context.Context, u string, body []byte, headers map[string]string, cacheKey string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers, cacheKey)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, headers map[string]string, cacheKey string) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	if cacheKey != "" && c.cache != nil {
		if val, hit := c.cache.GetCache(ctx, cacheKey); hit {
			c.tracker.TrackCacheHit(provider)
			slog.Debug("Cache Hit", "provider", provider, "key", cacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(provider)
		slog.Debug("Cache Miss", "provider", provider, "key", cacheKey)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(provider, job{req: req, body: body, headers: headers, cacheKey: cacheKey, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func normalizeProvider(host string) string {
	switch {
	case strings.HasSuffix(host, "googleapis.com"):
		return "gemini"
	case strings.HasSuffix(host, "openai.com"):
		return "openai"
	case strings.Contains(host, "nominatim"):
		return "nominatim"
	case strings.HasSuffix(host, "speech.microsoft.com"):
		return "edge-tts"
	case strings.HasSuffix(host, "wikipedia.org"):
		return "wikipedia"
	}
	if h, _, ok := strings.Cut(host, ":"); ok && h != "" {
		return h
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		lim := rate.NewLimiter(rate.Inf, 1)
		if c.opts.RateLimit > 0 {
			lim = rate.NewLimiter(rate.Limit(c.opts.RateLimit), 1)
		}
		c.limiters[provider] = lim
		go c.worker(provider, q, lim)
	}
	c.mu.Unlock()

	// Blocks when the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job, lim *rate.Limiter) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}
		if err := lim.Wait(ctx); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		body, err := c.executeWithBackoff(provider, j)

		if err == nil {
			c.tracker.TrackAPISuccess(provider)
			c.backoff.RecordSuccess(provider)
			if j.cacheKey != "" && c.cache != nil {
				if err := c.cache.SetCache(context.Background(), j.cacheKey, body); err != nil {
					slog.Error("Failed to cache response", "url", j.req.URL, "error", err)
				}
			}
		} else {
			c.tracker.TrackAPIFailure(provider)
		}

		j.respChan <- jobResult{body: body, err: err}
	}
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(provider string, j job) ([]byte, error) {
	ctx := j.req.Context()
	var lastErr error

	for attempt := 0; attempt < c.opts.Retries; attempt++ {
		if err := c.backoff.Wait(ctx, provider); err != nil {
			return nil, err
		}

		req := j.req.Clone(ctx)
		if j.body != nil {
			req.Body = io.NopCloser(bytes.NewReader(j.body))
			req.ContentLength = int64(len(j.body))
		}

		start := time.Now()
		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.RequestLogger.Warn("request failed", "provider", provider, "url", req.URL.Redacted(), "attempt", attempt+1, "error", err)
			lastErr = err
			c.retryLater(provider, attempt, 0)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		logging.RequestLogger.Info("request",
			"provider", provider,
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"bytes", len(body),
			"duration", time.Since(start))

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			slog.Warn("API Backoff", "status", resp.StatusCode, "provider", provider, "attempt", attempt+1)
			lastErr = &StatusError{Code: resp.StatusCode, Body: snippet(body)}
			c.retryLater(provider, attempt, retryAfter(resp.Header, time.Now()))
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, &StatusError{Code: resp.StatusCode, Body: snippet(body)}
		}
		if readErr != nil {
			return nil, fmt.Errorf("read error: %w", readErr)
		}
		return body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("max retries exceeded")
	}
	return nil, lastErr
}

// retryLater pushes the provider's next allowed request out; the
// following Wait applies the delay.
func (c *Client) retryLater(provider string, attempt int, hint time.Duration) {
	c.backoff.RecordFailure(provider, hint)
	if attempt+1 < c.opts.Retries {
		c.tracker.TrackRetry(provider)
	}
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max]
	}
	return s
}
