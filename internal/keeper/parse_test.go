package keeper

import (
	"testing"
	"time"

	"github.com/perpdex/keeper-gateway/internal/chains"
	"github.com/perpdex/keeper-gateway/internal/config"
)

func parseTestDeployment(t *testing.T) *chains.Deployment {
	t.Helper()
	d, err := chains.NewDeployment("worldchain", config.ChainConfig{
		ChainID:    480,
		KeeperURLs: []string{"https://keeper.example"},
		Tokens: []config.TokenConfig{
			{Symbol: "WLD", Address: "0x2cFc85d8E48F8EAB294be644d9E25C3030863003", Decimals: 18, OracleDecimals: 12},
			{Symbol: "ETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18, OracleDecimals: 12},
		},
	})
	if err != nil {
		t.Fatalf("failed to build deployment: %v", err)
	}
	return d
}

// TestParseTickersPriceMapShape verifies the {"prices":{SYMBOL:number}}
// shape is normalized into min/max quote pairs, with token metadata filled
// from the deployment registry.
func TestParseTickersPriceMapShape(t *testing.T) {
	d := parseTestDeployment(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tickers, err := parseTickers([]byte(`{"prices":{"WLD":1.25,"ETH":3001.5}}`), d, now, nil)
	if err != nil {
		t.Fatalf("parseTickers() failed: %v", err)
	}
	if len(tickers) != 2 {
		t.Fatalf("Expected 2 tickers, got %d", len(tickers))
	}

	// Output is sorted by symbol
	eth, wld := tickers[0], tickers[1]

	if wld.TokenSymbol != "WLD" {
		t.Errorf("Expected WLD, got %s", wld.TokenSymbol)
	}
	if wld.MinPrice != "1.25" || wld.MaxPrice != "1.25" {
		t.Errorf("Expected min=max=1.25, got min=%s max=%s", wld.MinPrice, wld.MaxPrice)
	}
	if wld.TokenAddress != "0x2cFc85d8E48F8EAB294be644d9E25C3030863003" {
		t.Errorf("Token address not filled from registry: %s", wld.TokenAddress)
	}
	if wld.OracleDecimals != 12 {
		t.Errorf("Expected oracle decimals 12, got %d", wld.OracleDecimals)
	}
	if wld.UpdatedAt != now.Unix() {
		t.Errorf("Expected updatedAt %d, got %d", now.Unix(), wld.UpdatedAt)
	}
	if wld.Source != SourceLive {
		t.Errorf("Expected live source, got %q", wld.Source)
	}

	if eth.TokenSymbol != "ETH" || eth.MinPrice != "3001.5" {
		t.Errorf("Unexpected ETH ticker: %+v", eth)
	}

	t.Log(`
		The map shape carries no per-token metadata, so address and oracle
		decimals come from the deployment registry and min equals max. The
		raw number text is preserved verbatim to avoid float round-trips.
	`)
}

// TestParseTickersArrayShape verifies the bare ticker-array shape,
// including quoted prices, metadata defaults and the min/max swap.
func TestParseTickersArrayShape(t *testing.T) {
	d := parseTestDeployment(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name        string
		payload     string
		wantMin     string
		wantMax     string
		wantAddr    string
		wantUpdated int64
		description string
	}{
		{
			name:        "complete ticker object",
			payload:     `[{"tokenSymbol":"WLD","minPrice":"1.24","maxPrice":"1.26","oracleDecimals":12,"tokenAddress":"0xabc","updatedAt":1748000000}]`,
			wantMin:     "1.24",
			wantMax:     "1.26",
			wantAddr:    "0xabc",
			wantUpdated: 1748000000,
			description: "all fields present are taken as-is",
		},
		{
			name:        "numeric prices and missing metadata",
			payload:     `[{"tokenSymbol":"WLD","minPrice":1.24,"maxPrice":1.26}]`,
			wantMin:     "1.24",
			wantMax:     "1.26",
			wantAddr:    "0x2cFc85d8E48F8EAB294be644d9E25C3030863003",
			wantUpdated: now.Unix(),
			description: "missing address and timestamp fall back to registry and now",
		},
		{
			name:        "inverted price pair is swapped",
			payload:     `[{"tokenSymbol":"WLD","minPrice":"1.30","maxPrice":"1.20"}]`,
			wantMin:     "1.20",
			wantMax:     "1.30",
			wantAddr:    "0x2cFc85d8E48F8EAB294be644d9E25C3030863003",
			wantUpdated: now.Unix(),
			description: "the source occasionally inverts pairs; consumers rely on min <= max",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tickers, err := parseTickers([]byte(tc.payload), d, now, nil)
			if err != nil {
				t.Fatalf("parseTickers() failed: %v", err)
			}
			if len(tickers) != 1 {
				t.Fatalf("Expected 1 ticker, got %d", len(tickers))
			}

			got := tickers[0]
			if got.MinPrice != tc.wantMin || got.MaxPrice != tc.wantMax {
				t.Errorf("Prices: got min=%s max=%s, want min=%s max=%s (%s)",
					got.MinPrice, got.MaxPrice, tc.wantMin, tc.wantMax, tc.description)
			}
			if got.TokenAddress != tc.wantAddr {
				t.Errorf("Address: got %s, want %s", got.TokenAddress, tc.wantAddr)
			}
			if got.UpdatedAt != tc.wantUpdated {
				t.Errorf("UpdatedAt: got %d, want %d", got.UpdatedAt, tc.wantUpdated)
			}
		})
	}
}

func TestParseTickersRejectsUnknownShape(t *testing.T) {
	d := parseTestDeployment(t)

	payloads := []string{
		`{"status":"ok"}`,
		`"just a string"`,
		`42`,
	}
	for _, payload := range payloads {
		if _, err := parseTickers([]byte(payload), d, time.Now(), nil); err == nil {
			t.Errorf("parseTickers(%s) accepted an unknown shape", payload)
		}
	}
}

// TestParseCandles verifies positional candle rows in both the wrapped and
// bare layouts, and that short rows are dropped.
func TestParseCandles(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    int
	}{
		{
			name:    "wrapped rows",
			payload: `{"period":"1m","candles":[[1748000000,1.25,1.27,1.24,1.26],[1748000060,1.26,1.28,1.25,1.27]]}`,
			want:    2,
		},
		{
			name:    "bare rows",
			payload: `[[1748000000,1.25,1.27,1.24,1.26]]`,
			want:    1,
		},
		{
			name:    "short row dropped",
			payload: `{"candles":[[1748000000,1.25],[1748000060,1.26,1.28,1.25,1.27]]}`,
			want:    1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			candles, err := parseCandles([]byte(tc.payload))
			if err != nil {
				t.Fatalf("parseCandles() failed: %v", err)
			}
			if len(candles) != tc.want {
				t.Fatalf("Expected %d candles, got %d", tc.want, len(candles))
			}
			row := candles[len(candles)-1]
			if row.Open == 0 || row.High == 0 || row.Low == 0 || row.Close == 0 {
				t.Errorf("Candle columns not mapped: %+v", row)
			}
			if row.High < row.Low {
				t.Errorf("Candle high %f below low %f", row.High, row.Low)
			}
		})
	}

	if _, err := parseCandles([]byte(`{"status":"ok"}`)); err == nil {
		t.Error("parseCandles accepted an unknown shape")
	}
}

func TestParsePrices24h(t *testing.T) {
	wrapped := `{"prices":[{"tokenSymbol":"WLD","open":1.2,"high":1.3,"low":1.1,"close":1.25}]}`
	bare := `[{"tokenSymbol":"WLD","open":"1.2","high":"1.3","low":"1.1","close":"1.25"}]`

	for _, payload := range []string{wrapped, bare} {
		prices, err := parsePrices24h([]byte(payload))
		if err != nil {
			t.Fatalf("parsePrices24h(%s) failed: %v", payload, err)
		}
		if len(prices) != 1 {
			t.Fatalf("Expected 1 row, got %d", len(prices))
		}
		p := prices[0]
		if p.TokenSymbol != "WLD" || p.Open != "1.2" || p.High != "1.3" || p.Low != "1.1" || p.Close != "1.25" {
			t.Errorf("Unexpected 24h row: %+v", p)
		}
	}
}

func TestParseApys(t *testing.T) {
	wrapped := `{"markets":[{"marketAddress":"0xmkt","baseApy":0.12,"bonusApy":0.03}]}`
	apys, err := parseApys([]byte(wrapped))
	if err != nil {
		t.Fatalf("parseApys() failed: %v", err)
	}
	if len(apys) != 1 || apys[0].MarketAddress != "0xmkt" || apys[0].BaseApy != 0.12 {
		t.Errorf("Unexpected APY rows: %+v", apys)
	}
}

// TestPriceSymbols verifies availability extraction from both price shapes;
// the health prober uses this on its fallback probe.
func TestPriceSymbols(t *testing.T) {
	testCases := []struct {
		payload string
		want    []string
	}{
		{`{"prices":{"WLD":1.25,"ETH":3000}}`, []string{"ETH", "WLD"}},
		{`[{"tokenSymbol":"WLD","minPrice":"1"},{"tokenSymbol":"ETH","minPrice":"2"}]`, []string{"ETH", "WLD"}},
		{`{"status":"ok"}`, nil},
	}

	for _, tc := range testCases {
		got := priceSymbols([]byte(tc.payload))
		if len(got) != len(tc.want) {
			t.Errorf("priceSymbols(%s) = %v, want %v", tc.payload, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("priceSymbols(%s) = %v, want %v", tc.payload, got, tc.want)
				break
			}
		}
	}
}
