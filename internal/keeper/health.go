package keeper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perpdex/keeper-gateway/internal/logger"
	"github.com/perpdex/keeper-gateway/internal/metrics"
)

// HealthChecker probes one chain's keeper on a fixed interval, independent
// of caller-driven fetches. GET /health is the primary probe; when it fails
// the /prices endpoint serves as a weaker liveness signal. The verdict is
// advisory only: fetch paths never consult it before attempting a request.
type HealthChecker struct {
	client     *Client
	httpClient *http.Client
	interval   time.Duration
	timeout    time.Duration
	log        *logrus.Entry

	mu     sync.RWMutex
	state  HealthState
	status HealthStatus

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan bool
	doneCh   chan bool

	now func() time.Time
}

// NewHealthChecker creates a checker for the given client.
func NewHealthChecker(client *Client, interval, timeout time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		client:     client,
		httpClient: &http.Client{},
		interval:   interval,
		timeout:    timeout,
		log:        logger.WithChain(client.Deployment().Name),
		state:      StateUnchecked,
		status:     HealthStatus{Mode: ModeError, PriceAvailability: []string{}},
		stopCh:     make(chan bool),
		doneCh:     make(chan bool),
		now:        time.Now,
	}
}

// Start launches the probe loop. The first probe runs immediately so the
// unchecked window stays short.
func (h *HealthChecker) Start(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	go h.run(ctx)
}

func (h *HealthChecker) run(ctx context.Context) {
	defer close(h.doneCh)

	h.CheckNow(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.CheckNow(ctx)
		}
	}
}

// Stop terminates the probe loop and waits for it to exit.
func (h *HealthChecker) Stop() {
	if !h.started.Load() {
		return
	}
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.doneCh
}

// CheckNow runs one probe cycle, updates the stored verdict and returns
// whether the keeper is considered healthy. Probe failures are logged,
// never propagated.
func (h *HealthChecker) CheckNow(ctx context.Context) bool {
	base := h.client.BaseURL()
	start := h.now()

	status := HealthStatus{Mode: ModeError, PriceAvailability: []string{}}
	state := StateUnhealthy

	healthBody, err := h.probe(ctx, base+"/health")
	if err == nil {
		status.IsHealthy = true
		status.Mode = ModeLive
		state = StateHealthy
		if symbols := priceSymbols(healthBody); len(symbols) > 0 {
			status.PriceAvailability = symbols
		}
	} else {
		h.log.WithError(err).Debug("Health endpoint probe failed, falling back to prices probe")

		pricesBody, perr := h.probe(ctx, base+"/prices")
		if perr == nil {
			status.IsHealthy = true
			status.Mode = ModeFallback
			state = StateDegraded
			if symbols := priceSymbols(pricesBody); len(symbols) > 0 {
				status.PriceAvailability = symbols
			}
		} else {
			h.log.WithError(perr).Warn("Keeper unreachable by both health and prices probes")
		}
	}

	status.LatencyMillis = h.now().Sub(start).Milliseconds()
	status.CheckedAt = h.now().Unix()

	h.mu.Lock()
	h.state = state
	h.status = status
	h.mu.Unlock()

	metrics.SetKeeperHealth(h.client.Deployment().Name, status.IsHealthy)
	return status.IsHealthy
}

func (h *HealthChecker) probe(ctx context.Context, url string) ([]byte, error) {
	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("probe %s: unexpected status %d", url, resp.StatusCode)
	}
	return body, nil
}

// Status returns the latest probe outcome.
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// State returns the current health state.
func (h *HealthChecker) State() HealthState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Healthy reports the latest verdict; false while still unchecked.
func (h *HealthChecker) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status.IsHealthy
}
