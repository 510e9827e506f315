package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/perpdex/keeper-gateway/internal/keeper"
	"github.com/perpdex/keeper-gateway/internal/logger"
	"github.com/perpdex/keeper-gateway/internal/metrics"
)

// Update is one poll cycle's outcome for a chain. Tickers carry their
// source tag, so Live reports whether the cycle reached the keeper or fell
// back to cached or synthetic data.
type Update struct {
	Chain    string               `json:"chain"`
	ChainID  int64                `json:"chainId"`
	Tickers  []keeper.TickerQuote `json:"tickers"`
	Live     bool                 `json:"live"`
	PolledAt time.Time            `json:"polledAt"`
}

// Subscriber receives every update. Callbacks run on the polling
// goroutine and must not block.
type Subscriber func(Update)

// Status describes one chain's polling loop.
type Status struct {
	Live                bool      `json:"live"`
	LastPoll            time.Time `json:"last_poll"`
	LastLivePoll        time.Time `json:"last_live_poll"`
	PollCount           int64     `json:"poll_count"`
	FailureCount        int64     `json:"failure_count"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	Symbols             []string  `json:"symbols"`
}

type chainState struct {
	client *keeper.Client
	stats  Status
}

// Manager polls every configured chain's keeper in the background, keeping
// the shared cache warm and fanning updates out to subscribers.
type Manager struct {
	interval time.Duration

	mu     sync.RWMutex
	chains map[string]*chainState
	latest map[string]Update
	subs   []Subscriber

	wg sync.WaitGroup
}

// NewManager creates a poll manager with the given cycle interval.
func NewManager(interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Manager{
		interval: interval,
		chains:   make(map[string]*chainState),
		latest:   make(map[string]Update),
	}
}

// AddChain registers a keeper client for polling.
func (m *Manager) AddChain(client *keeper.Client) error {
	name := client.Deployment().Name

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.chains[name]; exists {
		return fmt.Errorf("chain %s already registered", name)
	}

	m.chains[name] = &chainState{client: client}
	return nil
}

// Subscribe adds an update callback. Must be called before Start.
func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Start launches one polling goroutine per registered chain.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, state := range m.chains {
		m.wg.Add(1)
		go func(n string, s *chainState) {
			defer m.wg.Done()
			m.runChain(ctx, n, s)
		}(name, state)
	}
}

// runChain polls a single chain with backoff while the keeper is failing.
func (m *Manager) runChain(ctx context.Context, name string, state *chainState) {
	log := logger.WithChain(name)
	backoff := m.interval
	maxBackoff := 4 * m.interval

	log.Infof("Starting price poll loop, interval %s", m.interval)

	for {
		start := time.Now()
		live := m.poll(ctx, name, state)
		if ctx.Err() != nil {
			log.Info("Stopping price poll loop")
			return
		}

		if elapsed := time.Since(start); elapsed > m.interval {
			log.Warnf("Poll cycle took %s, longer than the %s interval", elapsed, m.interval)
		}

		delay := m.interval
		if live {
			backoff = m.interval
		} else {
			// Failing keepers are polled less often so retries inside the
			// fetch layer do not compound
			delay = backoff
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		select {
		case <-ctx.Done():
			log.Info("Stopping price poll loop")
			return
		case <-time.After(delay):
		}
	}
}

// poll runs one fetch cycle and publishes the outcome.
func (m *Manager) poll(ctx context.Context, name string, state *chainState) bool {
	tickers, err := state.client.FetchTickers(ctx)
	if err != nil {
		// Only caller cancellation surfaces here; degraded reads come back
		// as data with a non-live source tag
		return false
	}

	now := time.Now()
	live := keeper.Live(tickers)
	update := Update{
		Chain:    name,
		ChainID:  state.client.Deployment().ChainID,
		Tickers:  tickers,
		Live:     live,
		PolledAt: now,
	}

	m.mu.Lock()
	state.stats.Live = live
	state.stats.LastPoll = now
	state.stats.PollCount++
	if live {
		state.stats.LastLivePoll = now
		state.stats.ConsecutiveFailures = 0
	} else {
		state.stats.FailureCount++
		state.stats.ConsecutiveFailures++
	}
	state.stats.Symbols = tickerSymbols(tickers)
	m.latest[name] = update
	subs := m.subs
	m.mu.Unlock()

	metrics.RecordPollCycle(name, live)

	for _, fn := range subs {
		fn(update)
	}
	return live
}

// Latest returns the most recent update for a chain.
func (m *Manager) Latest(chain string) (Update, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	update, ok := m.latest[chain]
	return update, ok
}

// GetStatus returns the status of all polling loops.
func (m *Manager) GetStatus() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]Status, len(m.chains))
	for name, state := range m.chains {
		status[name] = state.stats
	}
	return status
}

// Wait blocks until all polling goroutines have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func tickerSymbols(tickers []keeper.TickerQuote) []string {
	symbols := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		symbols = append(symbols, ticker.TokenSymbol)
	}
	sort.Strings(symbols)
	return symbols
}
