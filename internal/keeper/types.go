package keeper

import (
	"encoding/json"
)

// Price sources reported in TickerQuote.Source.
const (
	SourceLive     = "live"
	SourceFallback = "fallback"
	SourceMock     = "mock"
)

// TickerQuote is one token's bid/ask oracle price pair. Prices are decimal
// strings exactly as the keeper sent them (or as the mock generator formats
// them); MinPrice <= MaxPrice numerically is enforced by the normalizer.
type TickerQuote struct {
	TokenSymbol    string `json:"tokenSymbol"`
	MinPrice       string `json:"minPrice"`
	MaxPrice       string `json:"maxPrice"`
	OracleDecimals int    `json:"oracleDecimals"`
	TokenAddress   string `json:"tokenAddress,omitempty"`
	UpdatedAt      int64  `json:"updatedAt"`
	Source         string `json:"source,omitempty"`
}

// Price24h is one token's rolling 24-hour OHLC summary.
type Price24h struct {
	TokenSymbol string `json:"tokenSymbol"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
}

// Candle is one OHLC bar. The keeper sends candles as positional rows
// [timestamp, open, high, low, close]; the normalizer converts them.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

// MarketApy is one market's yield summary from the /apy endpoint.
type MarketApy struct {
	MarketAddress string  `json:"marketAddress"`
	BaseApy       float64 `json:"baseApy"`
	BonusApy      float64 `json:"bonusApy"`
}

// Incentives is the raw incentives document; the gateway passes it through
// without interpreting the per-program payloads.
type Incentives map[string]json.RawMessage

// UIVersion is the answer from the /ui/min_version endpoint.
type UIVersion struct {
	MinVersion     string `json:"min_version"`
	LatestVersion  string `json:"latest_version"`
	UpdateRequired bool   `json:"update_required"`
}

// ReportEvent is one telemetry event in a batch report.
type ReportEvent struct {
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Time    int64                  `json:"time"`
}

// Feedback is a user feedback submission.
type Feedback struct {
	Rating  int    `json:"rating"`
	Message string `json:"message"`
	Contact string `json:"contact,omitempty"`
}

// HealthState is the prober-driven keeper health verdict.
type HealthState int

const (
	// StateUnchecked is the initial state before the first probe completes;
	// fetches are still attempted while unchecked.
	StateUnchecked HealthState = iota
	// StateHealthy means the /health endpoint answered.
	StateHealthy
	// StateDegraded means /health failed but the /prices probe answered.
	StateDegraded
	// StateUnhealthy means both probes failed.
	StateUnhealthy
)

func (s HealthState) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Health modes reported in HealthStatus.Mode.
const (
	ModeLive     = "live"
	ModeFallback = "fallback"
	ModeError    = "error"
)

// HealthStatus is one probe's outcome. It is advisory only: fetch paths
// never consult it before attempting a live request.
type HealthStatus struct {
	IsHealthy         bool     `json:"isHealthy"`
	LatencyMillis     int64    `json:"latencyMillis"`
	Mode              string   `json:"mode"`
	PriceAvailability []string `json:"priceAvailability"`
	CheckedAt         int64    `json:"checkedAt,omitempty"`
}

// ClientStats is a point-in-time snapshot of one keeper client, served by
// the gateway status endpoint.
type ClientStats struct {
	Chain       string       `json:"chain"`
	ChainID     int64        `json:"chainId"`
	ActiveURL   string       `json:"activeUrl"`
	URLCount    int          `json:"urlCount"`
	Failovers   int64        `json:"failovers"`
	DevMode     bool         `json:"devMode"`
	HealthState string       `json:"healthState"`
	Health      HealthStatus `json:"health"`
}
