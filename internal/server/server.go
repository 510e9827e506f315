package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/perpdex/keeper-gateway/internal/config"
	"github.com/perpdex/keeper-gateway/internal/keeper"
	"github.com/perpdex/keeper-gateway/internal/metrics"
	"github.com/perpdex/keeper-gateway/internal/poller"
)

// Server is the gateway HTTP/WS surface in front of the keeper clients.
type Server struct {
	*http.Server
	clients  map[string]*keeper.Client
	checkers map[string]*keeper.HealthChecker
	manager  *poller.Manager
	hub      *Hub
}

// New creates the gateway server and wires the WebSocket hub into the
// poller's update stream.
func New(cfg config.ServerConfig, clients map[string]*keeper.Client, checkers map[string]*keeper.HealthChecker, manager *poller.Manager) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      metrics.InstrumentHandler(mux),
			ReadTimeout:  cfg.ReadTimeout(),
			WriteTimeout: cfg.WriteTimeout(),
		},
		clients:  clients,
		checkers: checkers,
		manager:  manager,
		hub:      NewHub(),
	}

	if manager != nil {
		manager.Subscribe(s.hub.BroadcastUpdate)
	}
	go s.hub.Run()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/prices/", s.handlePrices)
	mux.HandleFunc("/api/candles/", s.handleCandles)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws", s.hub.ServeWS)

	return s
}

// Shutdown stops the WebSocket hub before draining HTTP connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.Server.Shutdown(ctx)
}

// handleHealth reports gateway liveness with per-chain keeper verdicts.
// The gateway itself only turns unhealthy when every keeper is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	chains := make(map[string]interface{}, len(s.checkers))
	unhealthy := 0
	for name, checker := range s.checkers {
		if checker.State() == keeper.StateUnhealthy {
			unhealthy++
		}
		chains[name] = map[string]interface{}{
			"state":  checker.State().String(),
			"health": checker.Status(),
		}
	}

	response := map[string]interface{}{
		"status": "ok",
		"app":    "keeper-gateway",
		"chains": chains,
		"time":   time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if len(s.checkers) > 0 && unhealthy == len(s.checkers) {
		response["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

// handleStatus reports keeper client and poller state per chain.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chains := make(map[string]keeper.ClientStats, len(s.clients))
	for name, client := range s.clients {
		stats := client.Stats()
		if checker, ok := s.checkers[name]; ok {
			stats.HealthState = checker.State().String()
			stats.Health = checker.Status()
		}
		chains[name] = stats
	}

	response := map[string]interface{}{
		"app":        "keeper-gateway",
		"chains":     chains,
		"ws_clients": s.hub.ClientCount(),
		"time":       time.Now().UTC(),
	}
	if s.manager != nil {
		response["poller"] = s.manager.GetStatus()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handlePrices serves /api/prices/{chain} and /api/prices/{chain}/{symbol}.
// The fetch layer behind the client answers from its fresh cache when the
// poller has recently warmed it.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/prices/")
	if path == "" {
		http.Error(w, "Invalid path format. Expected: /api/prices/{chain} or /api/prices/{chain}/{symbol}", http.StatusBadRequest)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	chain := parts[0]
	symbol := ""
	if len(parts) == 2 {
		symbol = strings.ToUpper(parts[1])
	}

	client, ok := s.clients[chain]
	if !ok {
		http.Error(w, fmt.Sprintf("Chain %s is not configured", chain), http.StatusNotFound)
		return
	}

	tickers, err := client.FetchTickers(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if symbol != "" {
		for _, ticker := range tickers {
			if ticker.TokenSymbol == symbol {
				json.NewEncoder(w).Encode(ticker)
				return
			}
		}
		http.Error(w, fmt.Sprintf("Symbol %s not available on %s", symbol, chain), http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"app":     "keeper-gateway",
		"chain":   chain,
		"chainId": client.Deployment().ChainID,
		"live":    keeper.Live(tickers),
		"tickers": tickers,
		"time":    time.Now().UTC(),
	})
}

// handleCandles serves /api/candles/{chain}?symbol=WLD&period=1h&limit=100.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	chain := strings.TrimPrefix(r.URL.Path, "/api/candles/")
	if chain == "" || strings.Contains(chain, "/") {
		http.Error(w, "Invalid path format. Expected: /api/candles/{chain}", http.StatusBadRequest)
		return
	}

	client, ok := s.clients[chain]
	if !ok {
		http.Error(w, fmt.Sprintf("Chain %s is not configured", chain), http.StatusNotFound)
		return
	}

	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1m"
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	candles, err := client.FetchOracleCandles(r.Context(), symbol, period, limit)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"app":     "keeper-gateway",
		"chain":   chain,
		"symbol":  symbol,
		"period":  period,
		"candles": candles,
		"time":    time.Now().UTC(),
	})
}
