package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/perpdex/keeper-gateway/internal/chains"
	"github.com/perpdex/keeper-gateway/internal/fetch"
	"github.com/perpdex/keeper-gateway/internal/logger"
	"github.com/perpdex/keeper-gateway/internal/metrics"
)

// Client is the typed facade over one chain's Oracle Keeper API. Every read
// goes through the retrying fetcher and degrades instead of failing: a
// stale cache hit first (inside the fetcher), then synthetic data on
// dev-mode chains, then an empty result. Only caller-driven cancellation
// surfaces as an error. Write operations are fire-and-forget.
type Client struct {
	deployment *chains.Deployment
	fetcher    *fetch.Client
	maxRetries int
	log        *logrus.Entry

	// instanceID identifies this client in telemetry reports
	instanceID string

	urlIndex      atomic.Int64
	failovers     atomic.Int64
	switchLimiter *rate.Limiter

	mock *mockGenerator
	now  func() time.Time
}

// New creates a keeper client for one chain deployment.
func New(deployment *chains.Deployment, fetcher *fetch.Client, maxRetries int) *Client {
	return &Client{
		deployment:    deployment,
		fetcher:       fetcher,
		maxRetries:    maxRetries,
		log:           logger.WithChain(deployment.Name),
		instanceID:    uuid.NewString(),
		switchLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		mock:          newMockGenerator(deployment),
		now:           time.Now,
	}
}

// Deployment returns the chain deployment this client serves.
func (c *Client) Deployment() *chains.Deployment {
	return c.deployment
}

// InstanceID returns the telemetry identity of this client.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// BaseURL returns the keeper URL currently in use.
func (c *Client) BaseURL() string {
	urls := c.deployment.KeeperURLs
	idx := int(c.urlIndex.Load()) % len(urls)
	if idx < 0 {
		idx += len(urls)
	}
	return urls[idx]
}

// SwitchKeeper advances to the next keeper URL in the ring. Switches are
// throttled to once per five seconds so a burst of failures moves the index
// a single step; with no alternate URL configured it logs and does nothing.
func (c *Client) SwitchKeeper() bool {
	if len(c.deployment.KeeperURLs) < 2 {
		c.log.Error("Keeper endpoint failing and no alternate URL is configured")
		return false
	}
	if !c.switchLimiter.Allow() {
		return false
	}

	c.urlIndex.Add(1)
	c.failovers.Add(1)
	metrics.RecordFailover(c.deployment.Name)
	c.log.Warnf("Switched keeper endpoint to %s", c.BaseURL())
	return true
}

// FetchTickers returns the current min/max oracle price per token.
func (c *Client) FetchTickers(ctx context.Context) ([]TickerQuote, error) {
	return c.tickersFrom(ctx, "/prices", c.cacheKey("prices"), c.mock.Tickers)
}

// FetchDirectPrices returns per-token prices from the direct price feed.
func (c *Client) FetchDirectPrices(ctx context.Context) ([]TickerQuote, error) {
	return c.tickersFrom(ctx, "/direct-prices", c.cacheKey("direct-prices"), c.mock.DirectTickers)
}

// tickersFrom is the shared implementation behind the ticker-shaped
// endpoints; they differ only in path, cache key and mock source.
func (c *Client) tickersFrom(ctx context.Context, path, cacheKey string, mockFn func(time.Time) []TickerQuote) ([]TickerQuote, error) {
	data, err := c.get(ctx, path, nil, cacheKey)
	if err == nil {
		tickers, perr := parseTickers(data, c.deployment, c.now(), c.log)
		if perr == nil {
			return tickers, nil
		}
		err = perr
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.deployment.DevMode {
		c.log.WithError(err).Warnf("Serving synthetic prices for %s after failed live fetch", path)
		return mockFn(c.now()), nil
	}
	c.log.WithError(err).Warnf("Returning empty prices for %s after failed live fetch", path)
	return []TickerQuote{}, nil
}

// Fetch24hPrices returns the rolling 24-hour OHLC summary per token.
func (c *Client) Fetch24hPrices(ctx context.Context) ([]Price24h, error) {
	data, err := c.get(ctx, "/prices/24h", nil, c.cacheKey("prices-24h"))
	if err == nil {
		prices, perr := parsePrices24h(data)
		if perr == nil {
			return prices, nil
		}
		err = perr
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.deployment.DevMode {
		c.log.WithError(err).Warn("Serving synthetic 24h prices after failed live fetch")
		return c.mock.Prices24h(c.now()), nil
	}
	c.log.WithError(err).Warn("Returning empty 24h prices after failed live fetch")
	return []Price24h{}, nil
}

// FetchOracleCandles returns up to limit OHLC bars for one symbol.
func (c *Client) FetchOracleCandles(ctx context.Context, symbol, period string, limit int) ([]Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("candles: symbol is required")
	}
	if period == "" {
		period = "1m"
	}

	query := url.Values{}
	query.Set("tokenSymbol", symbol)
	query.Set("period", period)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	cacheKey := fmt.Sprintf("%s-%s-%s-%d", c.cacheKey("candles"), symbol, period, limit)
	data, err := c.get(ctx, "/prices/candles", query, cacheKey)
	if err == nil {
		candles, perr := parseCandles(data)
		if perr == nil {
			return candles, nil
		}
		err = perr
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.deployment.DevMode {
		c.log.WithError(err).Warnf("Serving synthetic candles for %s after failed live fetch", symbol)
		return c.mock.Candles(symbol, period, limit, c.now()), nil
	}
	c.log.WithError(err).Warnf("Returning empty candles for %s after failed live fetch", symbol)
	return []Candle{}, nil
}

// FetchIncentivesRewards returns the incentives document as-is.
func (c *Client) FetchIncentivesRewards(ctx context.Context) (Incentives, error) {
	data, err := c.get(ctx, "/incentives", nil, c.cacheKey("incentives"))
	if err == nil {
		var incentives Incentives
		perr := json.Unmarshal(data, &incentives)
		if perr == nil {
			return incentives, nil
		}
		err = perr
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c.log.WithError(err).Warn("Returning empty incentives after failed live fetch")
	return Incentives{}, nil
}

// FetchApys returns per-market yield summaries.
func (c *Client) FetchApys(ctx context.Context) ([]MarketApy, error) {
	data, err := c.get(ctx, "/apy", nil, c.cacheKey("apy"))
	if err == nil {
		apys, perr := parseApys(data)
		if perr == nil {
			return apys, nil
		}
		err = perr
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c.log.WithError(err).Warn("Returning empty APYs after failed live fetch")
	return []MarketApy{}, nil
}

// FetchUIVersion asks the keeper for the minimum supported client version.
// A failure yields the zero value, which consumers treat as "no update
// required".
func (c *Client) FetchUIVersion(ctx context.Context, clientVersion string, active bool) (UIVersion, error) {
	query := url.Values{}
	query.Set("client_version", clientVersion)
	query.Set("active", strconv.FormatBool(active))

	version, err := fetch.JSON[UIVersion](ctx, c.fetcher, fetch.Request{
		URL:        c.requestURL("/ui/min_version", query),
		MaxRetries: c.maxRetries,
	})
	if err != nil {
		c.maybeSwitch(err)
		if ctx.Err() != nil {
			return UIVersion{}, ctx.Err()
		}
		c.log.WithError(err).Warn("Version check failed, assuming no update required")
		return UIVersion{}, nil
	}
	return version, nil
}

// PostBatchReport delivers a telemetry batch. Best effort: failures are
// logged and never surfaced.
func (c *Client) PostBatchReport(ctx context.Context, events []ReportEvent) {
	if len(events) == 0 {
		return
	}
	c.postFireAndForget(ctx, "/report/ui/batch_report", map[string]interface{}{
		"instanceId": c.instanceID,
		"sentAt":     c.now().UnixMilli(),
		"events":     events,
	})
}

// PostFeedback delivers a user feedback submission. Best effort: failures
// are logged and never surfaced.
func (c *Client) PostFeedback(ctx context.Context, feedback Feedback) {
	c.postFireAndForget(ctx, "/report/ui/feedback", map[string]interface{}{
		"instanceId": c.instanceID,
		"sentAt":     c.now().UnixMilli(),
		"feedback":   feedback,
	})
}

func (c *Client) postFireAndForget(ctx context.Context, path string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.WithError(err).Errorf("Failed to encode %s payload", path)
		return
	}

	if _, err := c.fetcher.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    c.BaseURL() + path,
		Body:   body,
	}); err != nil {
		c.log.WithError(err).Warnf("Best-effort POST %s failed", path)
	}
}

// Stats returns a snapshot of this client for the status endpoint.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Chain:     c.deployment.Name,
		ChainID:   c.deployment.ChainID,
		ActiveURL: c.BaseURL(),
		URLCount:  len(c.deployment.KeeperURLs),
		Failovers: c.failovers.Load(),
		DevMode:   c.deployment.DevMode,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, cacheKey string) ([]byte, error) {
	data, err := c.fetcher.Do(ctx, fetch.Request{
		URL:        c.requestURL(path, query),
		CacheKey:   cacheKey,
		MaxRetries: c.maxRetries,
	})
	if err != nil {
		c.maybeSwitch(err)
		return nil, err
	}
	return data, nil
}

func (c *Client) requestURL(path string, query url.Values) string {
	u := c.BaseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// maybeSwitch rotates the endpoint after a fully exhausted fetch; single
// failed attempts inside the retry loop do not move the ring.
func (c *Client) maybeSwitch(err error) {
	if fetch.KindOf(err) == fetch.KindExhausted {
		c.SwitchKeeper()
	}
}

// cacheKey scopes a logical endpoint key to this chain; the key is shared
// across the URL ring so a failover can still serve the previous keeper's
// cached data.
func (c *Client) cacheKey(name string) string {
	return fmt.Sprintf("%s-%d", name, c.deployment.ChainID)
}

// Live reports whether a ticker list came from the live endpoint rather
// than a synthetic fallback source.
func Live(tickers []TickerQuote) bool {
	return len(tickers) > 0 && tickers[0].Source == SourceLive
}
