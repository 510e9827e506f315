package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache is a hand-rolled cache with separately primed fresh and stale
// views, so tests drive the fallback logic without manipulating clocks.
type fakeCache struct {
	mu    sync.Mutex
	fresh map[string][]byte
	stale map[string][]byte
	sets  map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		fresh: make(map[string][]byte),
		stale: make(map[string][]byte),
		sets:  make(map[string][]byte),
	}
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[key] = value
	f.fresh[key] = value
	f.stale[key] = value
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string, _ time.Duration) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.fresh[key]
	return v, ok
}

func (f *fakeCache) GetStale(_ context.Context, key string, _ time.Duration) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.stale[key]
	return v, ok
}

func (f *fakeCache) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fresh, key)
	delete(f.stale, key)
	return nil
}

func (f *fakeCache) Clear(context.Context) error { return nil }
func (f *fakeCache) Close() error                { return nil }
func (f *fakeCache) IsConnected() bool           { return true }

func newTestClient(c *fakeCache) *Client {
	client := NewClient(&http.Client{}, c, Options{
		Timeout:  2 * time.Second,
		Backoff:  NewBackoff(time.Millisecond, 2*time.Millisecond),
		FreshTTL: time.Minute,
		StaleTTL: 5 * time.Minute,
	}, nil)
	return client
}

// TestDoRetryCount verifies that an endpoint that always fails is attempted
// exactly MaxRetries+1 times before the fetch gives up.
func TestDoRetryCount(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(newFakeCache())

	_, err := client.Do(context.Background(), Request{
		URL:        server.URL + "/prices",
		MaxRetries: 2,
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load(), "expected MaxRetries+1 attempts")

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindExhausted, fe.Kind)
	assert.Equal(t, 3, fe.Attempts)

	var inner *Error
	require.True(t, errors.As(fe.Err, &inner))
	assert.Equal(t, KindHTTP, inner.Kind)
	assert.Equal(t, http.StatusInternalServerError, inner.Status)
}

// TestDoSuccessPopulatesCache verifies the successful path stores the raw
// body under the cache key.
func TestDoSuccessPopulatesCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prices":{"WLD":1.25}}`))
	}))
	defer server.Close()

	fc := newFakeCache()
	client := newTestClient(fc)

	data, err := client.Do(context.Background(), Request{
		URL:      server.URL + "/prices",
		CacheKey: "prices-480",
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"prices":{"WLD":1.25}}`, string(data))
	assert.Equal(t, data, fc.sets["prices-480"], "response body should be cached")
}

// TestDoFreshCacheShortCircuit verifies a fresh cache hit returns without
// any network call.
func TestDoFreshCacheShortCircuit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	fc := newFakeCache()
	fc.fresh["prices-480"] = []byte(`{"cached":true}`)
	client := newTestClient(fc)

	data, err := client.Do(context.Background(), Request{
		URL:      server.URL + "/prices",
		CacheKey: "prices-480",
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"cached":true}`, string(data))
	assert.Equal(t, int32(0), hits.Load(), "fresh hit must not reach the network")
}

// TestDoStaleFallback verifies that once retries are exhausted a stale
// entry is served instead of the error.
func TestDoStaleFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fc := newFakeCache()
	fc.stale["prices-480"] = []byte(`{"stale":true}`)
	client := newTestClient(fc)

	data, err := client.Do(context.Background(), Request{
		URL:        server.URL + "/prices",
		CacheKey:   "prices-480",
		MaxRetries: 1,
	})

	require.NoError(t, err, "stale fallback should mask the upstream failure")
	assert.JSONEq(t, `{"stale":true}`, string(data))
}

// TestDoExhaustedWithoutStale verifies the error surfaces when both the
// endpoint and the stale cache come up empty.
func TestDoExhaustedWithoutStale(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(newFakeCache())

	_, err := client.Do(context.Background(), Request{
		URL:        server.URL + "/prices",
		CacheKey:   "prices-480",
		MaxRetries: 1,
	})

	require.Error(t, err)
	assert.Equal(t, KindExhausted, KindOf(err))
}

// TestDoParseFailureRetries verifies a 200 response with a garbled body
// counts as a failed attempt and is retried.
func TestDoParseFailureRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`<html>gateway error</html>`))
	}))
	defer server.Close()

	client := newTestClient(newFakeCache())

	_, err := client.Do(context.Background(), Request{
		URL:        server.URL + "/prices",
		MaxRetries: 1,
	})

	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())

	var fe *Error
	require.True(t, errors.As(err, &fe))
	var inner *Error
	require.True(t, errors.As(fe.Err, &inner))
	assert.Equal(t, KindParse, inner.Kind)
}

// TestDoTimeout verifies a hung endpoint is aborted by the per-attempt
// timeout and classified as a timeout failure.
func TestDoTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(&http.Client{}, newFakeCache(), Options{
		Timeout:  30 * time.Millisecond,
		Backoff:  NewBackoff(time.Millisecond, 2*time.Millisecond),
		FreshTTL: time.Minute,
		StaleTTL: 5 * time.Minute,
	}, nil)

	_, err := client.Do(context.Background(), Request{
		URL: server.URL + "/prices",
	})

	require.Error(t, err)
	var fe *Error
	require.True(t, errors.As(err, &fe))
	var inner *Error
	require.True(t, errors.As(fe.Err, &inner))
	assert.Equal(t, KindTimeout, inner.Kind)
}

// TestDoCoalescesConcurrentGets verifies overlapping GETs for one cache key
// share a single upstream request.
func TestDoCoalescesConcurrentGets(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"prices":{"WLD":1.25}}`))
	}))
	defer server.Close()

	client := newTestClient(newFakeCache())

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Do(context.Background(), Request{
				URL:      server.URL + "/prices",
				CacheKey: "prices-480",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"prices":{"WLD":1.25}}`, string(results[i]))
	}
	assert.Equal(t, int32(1), hits.Load(), "concurrent callers should coalesce into one request")
}

// TestDoPostSingleAttempt verifies POSTs send the JSON body once and do not
// consult the cache.
func TestDoPostSingleAttempt(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	fc := newFakeCache()
	fc.stale["report"] = []byte(`{"stale":true}`)
	client := newTestClient(fc)

	_, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    server.URL + "/report/ui/batch_report",
		Body:   []byte(`{"events":[]}`),
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "POST must not retry")
}

// TestJSON verifies typed decoding plus the parse error classification for
// shape mismatches.
func TestJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prices":{"WLD":1.25,"ETH":3001.5}}`))
	}))
	defer server.Close()

	client := newTestClient(newFakeCache())

	type pricesResponse struct {
		Prices map[string]float64 `json:"prices"`
	}

	out, err := JSON[pricesResponse](context.Background(), client, Request{
		URL: server.URL + "/prices",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.25, out.Prices["WLD"])
	assert.Equal(t, 3001.5, out.Prices["ETH"])
}

// TestDoContextCancellation verifies the caller can abort the retry loop.
func TestDoContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(&http.Client{}, newFakeCache(), Options{
		Timeout:  time.Second,
		Backoff:  NewBackoff(10*time.Second, 10*time.Second), // long waits the cancel must cut short
		FreshTTL: time.Minute,
		StaleTTL: 5 * time.Minute,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.Do(ctx, Request{
		URL:        server.URL + "/prices",
		MaxRetries: 5,
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second, "cancellation should cut the backoff sleep short")
}
