package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/perpdex/keeper-gateway/internal/cache"
	"github.com/perpdex/keeper-gateway/internal/logger"
	"github.com/perpdex/keeper-gateway/internal/metrics"
)

// Options configures a Client.
type Options struct {
	Timeout  time.Duration // per-attempt timeout
	Backoff  Backoff
	FreshTTL time.Duration
	StaleTTL time.Duration
}

// Request describes one logical fetch.
type Request struct {
	Method     string // defaults to GET
	URL        string
	Body       []byte
	Headers    map[string]string
	CacheKey   string // empty disables caching
	MaxRetries int    // total attempts = MaxRetries + 1
}

// Client wraps an *http.Client with per-attempt timeouts, bounded
// exponential backoff with jitter, cache population on success, and a
// stale-cache fallback once retries are exhausted. Concurrent GETs for the
// same cache key are coalesced into a single upstream request.
type Client struct {
	httpClient *http.Client
	cache      cache.Cache
	opts       Options
	group      singleflight.Group
	log        *logrus.Entry

	// sleep waits between attempts; overridable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a fetch client. cache may be nil to disable caching
// entirely; log may be nil.
func NewClient(httpClient *http.Client, c cache.Cache, opts Options, log *logrus.Entry) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = logrus.WithField("app", "keeper-gateway")
	}
	return &Client{
		httpClient: httpClient,
		cache:      c,
		opts:       opts,
		log:        log,
		sleep:      sleepContext,
	}
}

// Do executes the request and returns the response body. For GETs with a
// cache key the fresh cache is consulted first and concurrent callers share
// one upstream request.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	endpoint := endpointLabel(req.URL)

	if req.Method != http.MethodGet {
		return c.fetchWithRetry(ctx, req, endpoint)
	}

	if req.CacheKey != "" && c.cache != nil {
		if data, ok := c.cache.Get(ctx, req.CacheKey, c.opts.FreshTTL); ok {
			metrics.RecordCacheHit(endpoint, "fresh")
			return data, nil
		}
	}

	// Coalesced callers ride on the first caller's context
	key := req.CacheKey
	if key == "" {
		key = req.URL
	}
	data, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.fetchWithRetry(ctx, req, endpoint)
	})
	if err != nil {
		return nil, err
	}
	return data.([]byte), nil
}

// JSON executes the request and decodes the JSON response body into T.
func JSON[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	data, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &Error{Kind: KindParse, URL: req.URL, Err: err}
	}
	return out, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, req Request, endpoint string) ([]byte, error) {
	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordFetchRetry(endpoint)
			if err := c.sleep(ctx, c.opts.Backoff.Delay(attempt-1)); err != nil {
				lastErr = &Error{Kind: KindTimeout, URL: req.URL, Err: err}
				break
			}
		}

		metrics.RecordFetchAttempt(endpoint)
		data, err := c.attempt(ctx, req)
		if err == nil {
			if req.CacheKey != "" && c.cache != nil {
				if cacheErr := c.cache.Set(ctx, req.CacheKey, data); cacheErr != nil {
					c.log.WithError(cacheErr).Warnf("Failed to cache response for %s", req.CacheKey)
				}
			}
			return data, nil
		}

		lastErr = err
		if logger.ShouldLogFetchAttempts() {
			c.log.WithError(err).Debugf("Fetch attempt %d/%d failed for %s", attempt+1, maxRetries+1, req.URL)
		}
		if ctx.Err() != nil {
			break
		}
	}

	// Retries exhausted: serve a stale cache entry when one exists
	if req.CacheKey != "" && c.cache != nil {
		if data, ok := c.cache.GetStale(ctx, req.CacheKey, c.opts.StaleTTL); ok {
			metrics.RecordCacheHit(endpoint, "stale")
			c.log.WithError(lastErr).Warnf("Serving stale cache entry %s after exhausted retries", req.CacheKey)
			return data, nil
		}
	}

	metrics.RecordFetchFailure(endpoint, KindOf(lastErr).String())
	return nil, &Error{Kind: KindExhausted, URL: req.URL, Attempts: maxRetries + 1, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, req Request) ([]byte, error) {
	attemptCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTimeout, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTimeout, URL: req.URL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindHTTP, URL: req.URL, Status: resp.StatusCode}
	}

	// GET responses feed JSON decoders and the cache; reject junk here so a
	// garbled body counts as a failed attempt rather than poisoning the cache
	if req.Method == http.MethodGet && !json.Valid(data) {
		return nil, &Error{Kind: KindParse, URL: req.URL, Err: errors.New("response body is not valid JSON")}
	}

	return data, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func endpointLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
