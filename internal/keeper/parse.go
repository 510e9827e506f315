package keeper

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/perpdex/keeper-gateway/internal/chains"
)

// Oracle price decimals assumed for symbols missing from the token registry
const defaultOracleDecimals = 12

var errUnknownShape = errors.New("unrecognized response shape")

// parseTickers normalizes the two shapes the price endpoints are known to
// return: a {"prices": {SYMBOL: number}} map, or a bare array of ticker
// objects. The map shape wins when a response somehow carries both. Output
// is sorted by symbol so downstream diffs and tests are stable.
func parseTickers(data []byte, d *chains.Deployment, now time.Time, log *logrus.Entry) ([]TickerQuote, error) {
	root := gjson.ParseBytes(data)

	if prices := root.Get("prices"); prices.Exists() && prices.IsObject() {
		return tickersFromPriceMap(prices, d, now), nil
	}
	if root.IsArray() {
		return tickersFromArray(root, d, now, log), nil
	}
	return nil, errUnknownShape
}

func tickersFromPriceMap(prices gjson.Result, d *chains.Deployment, now time.Time) []TickerQuote {
	tickers := make([]TickerQuote, 0, 8)
	prices.ForEach(func(key, value gjson.Result) bool {
		price := rawNumber(value)
		if price == "" {
			return true
		}
		ticker := TickerQuote{
			TokenSymbol:    key.String(),
			MinPrice:       price,
			MaxPrice:       price,
			OracleDecimals: defaultOracleDecimals,
			UpdatedAt:      now.Unix(),
			Source:         SourceLive,
		}
		if token, ok := d.TokenBySymbol(ticker.TokenSymbol); ok {
			ticker.TokenAddress = token.Address
			ticker.OracleDecimals = token.OracleDecimals
		}
		tickers = append(tickers, ticker)
		return true
	})

	sort.Slice(tickers, func(i, j int) bool { return tickers[i].TokenSymbol < tickers[j].TokenSymbol })
	return tickers
}

func tickersFromArray(root gjson.Result, d *chains.Deployment, now time.Time, log *logrus.Entry) []TickerQuote {
	var tickers []TickerQuote
	root.ForEach(func(_, item gjson.Result) bool {
		ticker := TickerQuote{
			TokenSymbol:    item.Get("tokenSymbol").String(),
			MinPrice:       rawNumber(item.Get("minPrice")),
			MaxPrice:       rawNumber(item.Get("maxPrice")),
			OracleDecimals: defaultOracleDecimals,
			TokenAddress:   item.Get("tokenAddress").String(),
			UpdatedAt:      item.Get("updatedAt").Int(),
			Source:         SourceLive,
		}
		if ticker.TokenSymbol == "" || ticker.MinPrice == "" || ticker.MaxPrice == "" {
			return true
		}
		if od := item.Get("oracleDecimals"); od.Exists() {
			ticker.OracleDecimals = int(od.Int())
		} else if token, ok := d.TokenBySymbol(ticker.TokenSymbol); ok {
			ticker.OracleDecimals = token.OracleDecimals
		}
		if ticker.TokenAddress == "" {
			if token, ok := d.TokenBySymbol(ticker.TokenSymbol); ok {
				ticker.TokenAddress = token.Address
			}
		}
		if ticker.UpdatedAt == 0 {
			ticker.UpdatedAt = now.Unix()
		}

		// The source has been seen emitting inverted pairs; normalize here
		// so consumers can rely on min <= max
		if minD, err1 := decimal.NewFromString(ticker.MinPrice); err1 == nil {
			if maxD, err2 := decimal.NewFromString(ticker.MaxPrice); err2 == nil {
				if minD.GreaterThan(maxD) {
					if log != nil {
						log.Debugf("Swapping inverted price pair for %s: min %s > max %s",
							ticker.TokenSymbol, ticker.MinPrice, ticker.MaxPrice)
					}
					ticker.MinPrice, ticker.MaxPrice = ticker.MaxPrice, ticker.MinPrice
				}
			}
		}

		tickers = append(tickers, ticker)
		return true
	})

	sort.Slice(tickers, func(i, j int) bool { return tickers[i].TokenSymbol < tickers[j].TokenSymbol })
	return tickers
}

// parsePrices24h accepts a bare array of per-token OHLC objects or the same
// array under a "prices" wrapper.
func parsePrices24h(data []byte) ([]Price24h, error) {
	root := gjson.ParseBytes(data)
	rows := root
	if !root.IsArray() {
		rows = root.Get("prices")
		if !rows.IsArray() {
			return nil, errUnknownShape
		}
	}

	var prices []Price24h
	rows.ForEach(func(_, item gjson.Result) bool {
		p := Price24h{
			TokenSymbol: item.Get("tokenSymbol").String(),
			Open:        rawNumber(item.Get("open")),
			High:        rawNumber(item.Get("high")),
			Low:         rawNumber(item.Get("low")),
			Close:       rawNumber(item.Get("close")),
		}
		if p.TokenSymbol == "" {
			return true
		}
		prices = append(prices, p)
		return true
	})
	return prices, nil
}

// parseCandles accepts positional candle rows either bare or under a
// "candles" wrapper. Short rows are dropped.
func parseCandles(data []byte) ([]Candle, error) {
	root := gjson.ParseBytes(data)
	rows := root
	if !root.IsArray() {
		rows = root.Get("candles")
		if !rows.IsArray() {
			return nil, errUnknownShape
		}
	}

	var candles []Candle
	rows.ForEach(func(_, row gjson.Result) bool {
		cols := row.Array()
		if len(cols) < 5 {
			return true
		}
		candles = append(candles, Candle{
			Timestamp: cols[0].Int(),
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
		})
		return true
	})
	return candles, nil
}

// parseApys accepts {"markets": [...]} or a bare array of market rows.
func parseApys(data []byte) ([]MarketApy, error) {
	root := gjson.ParseBytes(data)
	rows := root
	if !root.IsArray() {
		rows = root.Get("markets")
		if !rows.IsArray() {
			return nil, errUnknownShape
		}
	}

	var apys []MarketApy
	rows.ForEach(func(_, item gjson.Result) bool {
		apys = append(apys, MarketApy{
			MarketAddress: item.Get("marketAddress").String(),
			BaseApy:       item.Get("baseApy").Float(),
			BonusApy:      item.Get("bonusApy").Float(),
		})
		return true
	})
	return apys, nil
}

// priceSymbols extracts the symbols present in either price response shape;
// used by the health prober to report availability.
func priceSymbols(data []byte) []string {
	root := gjson.ParseBytes(data)
	var symbols []string

	if prices := root.Get("prices"); prices.Exists() && prices.IsObject() {
		prices.ForEach(func(key, _ gjson.Result) bool {
			symbols = append(symbols, key.String())
			return true
		})
	} else if root.IsArray() {
		root.ForEach(func(_, item gjson.Result) bool {
			if s := item.Get("tokenSymbol").String(); s != "" {
				symbols = append(symbols, s)
			}
			return true
		})
	}

	sort.Strings(symbols)
	return symbols
}

// rawNumber returns the exact wire text of a JSON number, or the string
// content when the source quoted the value. Preserving the raw text avoids
// a float round-trip changing "1.25" into something else.
func rawNumber(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		return v.Raw
	case gjson.String:
		return v.Str
	default:
		return ""
	}
}
