package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MemoryCache implements Cache using an in-memory map
type MemoryCache struct {
	entries         map[string]*cacheEntry
	mu              sync.RWMutex
	maxEntryAge     time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan bool
	now             func() time.Time
}

type cacheEntry struct {
	Value     []byte
	WrittenAt time.Time
}

// NewMemoryCache creates a new in-memory cache. Entries older than
// maxEntryAge are evicted by a background cleanup loop; maxEntryAge should
// be at least the largest stale threshold callers will use, since eviction
// makes stale reads miss.
func NewMemoryCache(maxEntryAge time.Duration) *MemoryCache {
	logrus.WithField("app", "keeper-gateway").Info("Using in-memory cache (Redis not configured)")

	m := &MemoryCache{
		entries:         make(map[string]*cacheEntry),
		maxEntryAge:     maxEntryAge,
		cleanupInterval: 60 * time.Second,
		stopCleanup:     make(chan bool),
		now:             time.Now,
	}

	// Start cleanup goroutine
	go m.cleanupExpired()

	return m
}

// Set stores a value with the current write time
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &cacheEntry{
		Value:     value,
		WrittenAt: m.now(),
	}

	return nil
}

// Get returns the value if written within maxAge
func (m *MemoryCache) Get(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool) {
	return m.getWithin(key, maxAge)
}

// GetStale returns the value if written within maxStale
func (m *MemoryCache) GetStale(ctx context.Context, key string, maxStale time.Duration) ([]byte, bool) {
	return m.getWithin(key, maxStale)
}

func (m *MemoryCache) getWithin(key string, maxAge time.Duration) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.entries[key]
	if !exists {
		return nil, false
	}

	// An aged-out entry is a miss but is NOT removed here: a fresh miss must
	// leave the entry in place for later stale reads. The cleanup goroutine
	// removes entries past maxEntryAge.
	if m.now().Sub(entry.WrittenAt) > maxAge {
		return nil, false
	}

	return entry.Value, true
}

// Remove deletes a single entry
func (m *MemoryCache) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Clear deletes all entries
func (m *MemoryCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*cacheEntry)
	return nil
}

// Close stops the cleanup goroutine
func (m *MemoryCache) Close() error {
	close(m.stopCleanup)
	return nil
}

// IsConnected always returns true for memory cache
func (m *MemoryCache) IsConnected() bool {
	return true
}

// cleanupExpired removes expired entries periodically
func (m *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.stopCleanup:
			return
		}
	}
}

// removeExpired removes entries past the maximum entry age
func (m *MemoryCache) removeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removedCount := 0

	for key, entry := range m.entries {
		if now.Sub(entry.WrittenAt) > m.maxEntryAge {
			delete(m.entries, key)
			removedCount++
		}
	}

	if removedCount > 0 {
		logrus.Debugf("Cleaned up %d expired cache entries", removedCount)
	}
}

// GetStats returns cache statistics (for the status endpoint)
func (m *MemoryCache) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"type":            "memory",
		"total_entries":   len(m.entries),
		"max_age_seconds": m.maxEntryAge.Seconds(),
	}
}
