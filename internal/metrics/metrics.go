package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keeper_gateway",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keeper_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keeper_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keeper_gateway",
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Total number of upstream fetch attempts, including retries.",
		},
		[]string{"endpoint"},
	)

	fetchRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keeper_gateway",
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Total number of fetch retries after a failed attempt.",
		},
		[]string{"endpoint"},
	)

	fetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keeper_gateway",
			Subsystem: "fetch",
			Name:      "failures_total",
			Help:      "Total number of fetches that exhausted all attempts.",
		},
		[]string{"endpoint", "kind"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keeper_gateway",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits, split by freshness mode.",
		},
		[]string{"endpoint", "mode"},
	)

	keeperFailovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keeper_gateway",
			Subsystem: "keeper",
			Name:      "failovers_total",
			Help:      "Total number of keeper endpoint switches.",
		},
		[]string{"chain"},
	)

	keeperHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keeper_gateway",
			Subsystem: "keeper",
			Name:      "healthy",
			Help:      "Whether the keeper for a chain is currently considered healthy.",
		},
		[]string{"chain"},
	)

	pollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keeper_gateway",
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Total number of poll cycles per chain.",
		},
		[]string{"chain", "success"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keeper_gateway",
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Current number of connected WebSocket clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		fetchAttempts,
		fetchRetries,
		fetchFailures,
		cacheHits,
		keeperFailovers,
		keeperHealth,
		pollCycles,
		wsClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// WebSocket upgrades hijack the connection and never report a status, so /ws
// bypasses the wrapper; connected clients are tracked by the ws gauge.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordFetchAttempt counts one upstream request attempt.
func RecordFetchAttempt(endpoint string) {
	fetchAttempts.WithLabelValues(endpoint).Inc()
}

// RecordFetchRetry counts one retry after a failed attempt.
func RecordFetchRetry(endpoint string) {
	fetchRetries.WithLabelValues(endpoint).Inc()
}

// RecordFetchFailure counts a fetch that exhausted all attempts.
func RecordFetchFailure(endpoint, kind string) {
	fetchFailures.WithLabelValues(endpoint, kind).Inc()
}

// RecordCacheHit counts a cache hit; mode is "fresh" or "stale".
func RecordCacheHit(endpoint, mode string) {
	cacheHits.WithLabelValues(endpoint, mode).Inc()
}

// RecordFailover counts a keeper endpoint switch for a chain.
func RecordFailover(chain string) {
	keeperFailovers.WithLabelValues(chain).Inc()
}

// SetKeeperHealth records the current health verdict for a chain.
func SetKeeperHealth(chain string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	keeperHealth.WithLabelValues(chain).Set(value)
}

// RecordPollCycle counts one poll cycle for a chain.
func RecordPollCycle(chain string, success bool) {
	result := "false"
	if success {
		result = "true"
	}
	pollCycles.WithLabelValues(chain, result).Inc()
}

// WSClientConnected increments the connected WebSocket client gauge.
func WSClientConnected() {
	wsClients.Inc()
}

// WSClientDisconnected decrements the connected WebSocket client gauge.
func WSClientDisconnected() {
	wsClients.Dec()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	if len(parts) < 3 {
		return "/api"
	}
	resource := parts[1]
	if len(parts) == 3 {
		return "/api/" + resource + "/:chain"
	}
	return "/api/" + resource + "/:chain/:symbol"
}
