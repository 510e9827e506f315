package keeper

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/keeper-gateway/internal/chains"
)

// Reference prices for well-known symbols; anything else gets a
// hash-derived base so mock output stays deterministic per symbol.
var mockBasePrices = map[string]decimal.Decimal{
	"WLD":  decimal.RequireFromString("1.25"),
	"ETH":  decimal.RequireFromString("3000"),
	"WETH": decimal.RequireFromString("3000"),
	"BTC":  decimal.RequireFromString("60000"),
	"WBTC": decimal.RequireFromString("60000"),
	"USDC": decimal.RequireFromString("1"),
	"USDT": decimal.RequireFromString("1"),
}

// Symbols served when a dev chain has no token registry configured; the
// mock path must never yield an empty result.
var mockDefaultSymbols = []string{"WLD", "ETH", "BTC", "USDC"}

var (
	mockHalfSpread = decimal.RequireFromString("0.001")
	mockDayRange   = decimal.RequireFromString("0.01")
)

// mockGenerator synthesizes bounded, deterministic price data for dev-mode
// chains. Values drift within ±2% of a per-symbol base price, keyed by a
// time bucket, so repeated calls inside the same bucket agree and min/max
// pairs are consistent by construction.
type mockGenerator struct {
	deployment *chains.Deployment
}

func newMockGenerator(d *chains.Deployment) *mockGenerator {
	return &mockGenerator{deployment: d}
}

// Tickers returns synthetic quotes for every registered token, tagged as
// fallback data.
func (g *mockGenerator) Tickers(now time.Time) []TickerQuote {
	return g.tickersWithSource(now, SourceFallback)
}

// DirectTickers mirrors Tickers but tags the quotes as mock direct prices.
func (g *mockGenerator) DirectTickers(now time.Time) []TickerQuote {
	return g.tickersWithSource(now, SourceMock)
}

func (g *mockGenerator) tickersWithSource(now time.Time, source string) []TickerQuote {
	bucket := now.Unix() / 60

	type entry struct {
		symbol         string
		address        string
		oracleDecimals int
	}
	var entries []entry
	for _, token := range g.deployment.Tokens() {
		entries = append(entries, entry{token.Symbol, token.Address, token.OracleDecimals})
	}
	if len(entries) == 0 {
		for _, symbol := range mockDefaultSymbols {
			entries = append(entries, entry{symbol, "", defaultOracleDecimals})
		}
	}

	tickers := make([]TickerQuote, 0, len(entries))
	for _, e := range entries {
		mid := mockPrice(e.symbol, bucket)
		spread := mid.Mul(mockHalfSpread)
		tickers = append(tickers, TickerQuote{
			TokenSymbol:    e.symbol,
			MinPrice:       mid.Sub(spread).Round(8).String(),
			MaxPrice:       mid.Add(spread).Round(8).String(),
			OracleDecimals: e.oracleDecimals,
			TokenAddress:   e.address,
			UpdatedAt:      now.Unix(),
			Source:         source,
		})
	}
	return tickers
}

// Prices24h returns a synthetic rolling-day OHLC summary per token.
func (g *mockGenerator) Prices24h(now time.Time) []Price24h {
	bucket := now.Unix() / 60
	dayAgo := bucket - 24*60

	symbols := g.symbols()
	prices := make([]Price24h, 0, len(symbols))
	for _, symbol := range symbols {
		openPx := mockPrice(symbol, dayAgo)
		closePx := mockPrice(symbol, bucket)
		high := decimal.Max(openPx, closePx).Mul(decimal.NewFromInt(1).Add(mockDayRange))
		low := decimal.Min(openPx, closePx).Mul(decimal.NewFromInt(1).Sub(mockDayRange))
		prices = append(prices, Price24h{
			TokenSymbol: symbol,
			Open:        openPx.Round(8).String(),
			High:        high.Round(8).String(),
			Low:         low.Round(8).String(),
			Close:       closePx.Round(8).String(),
		})
	}
	return prices
}

// Candles returns a chained synthetic OHLC series ending at now: each bar
// opens at the previous close, and high/low always bracket open and close.
func (g *mockGenerator) Candles(symbol, period string, limit int, now time.Time) []Candle {
	periodDur := candlePeriod(period)
	if limit <= 0 {
		limit = 50
	}

	end := now.Truncate(periodDur)
	candles := make([]Candle, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		ts := end.Add(-time.Duration(i) * periodDur)
		bucket := ts.Unix() / int64(periodDur/time.Second)
		openPx := mockPrice(symbol, bucket-1)
		closePx := mockPrice(symbol, bucket)
		high := decimal.Max(openPx, closePx).Mul(decimal.NewFromInt(1).Add(mockHalfSpread))
		low := decimal.Min(openPx, closePx).Mul(decimal.NewFromInt(1).Sub(mockHalfSpread))
		candles = append(candles, Candle{
			Timestamp: ts.Unix(),
			Open:      openPx.InexactFloat64(),
			High:      high.InexactFloat64(),
			Low:       low.InexactFloat64(),
			Close:     closePx.InexactFloat64(),
		})
	}
	return candles
}

func (g *mockGenerator) symbols() []string {
	tokens := g.deployment.Tokens()
	if len(tokens) == 0 {
		return mockDefaultSymbols
	}
	symbols := make([]string, 0, len(tokens))
	for _, token := range tokens {
		symbols = append(symbols, token.Symbol)
	}
	return symbols
}

// mockPrice derives the deterministic price of a symbol within one time
// bucket: the base price wobbled by at most ±2%.
func mockPrice(symbol string, bucket int64) decimal.Decimal {
	base, ok := mockBasePrices[symbol]
	if !ok {
		base = hashedBasePrice(symbol)
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	r := rand.New(rand.NewSource(int64(h.Sum64()) ^ bucket))
	delta := (r.Float64()*2 - 1) * 0.02

	return base.Mul(decimal.NewFromFloat(1 + delta))
}

func hashedBasePrice(symbol string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	cents := int64(100 + h.Sum32()%1000000)
	return decimal.New(cents, -2)
}

func candlePeriod(period string) time.Duration {
	switch period {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
