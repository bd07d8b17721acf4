package sendlimit

import (
	"context"
	"sync"
	"time"
)

// windows holds fixed hour/day window counters for one key.
type windows struct {
	hourStart  time.Time
	hourCount  int
	dayStart   time.Time
	dayCount   int
	lastAccess time.Time // Used by cleanup to identify stale entries
}

// MemoryStore implements Store using in-memory counters.
// Suitable for single-process deployments and testing; use RedisStore
// when counters must be shared across instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windows

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets the interval for removing stale counters.
// Set to 0 to disable automatic cleanup.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.cleanupInterval = interval
	}
}

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		entries:         make(map[string]*windows),
		cleanupInterval: 10 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ms)
	}

	if ms.cleanupInterval > 0 {
		go ms.cleanup()
	}

	return ms
}

func (ms *MemoryStore) Incr(ctx context.Context, key Key, now time.Time) (Counts, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	w := ms.roll(key.String(), now)
	w.hourCount++
	w.dayCount++
	return Counts{Hour: w.hourCount, Day: w.dayCount}, nil
}

func (ms *MemoryStore) Peek(ctx context.Context, key Key, now time.Time) (Counts, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	w := ms.roll(key.String(), now)
	return Counts{Hour: w.hourCount, Day: w.dayCount}, nil
}

func (ms *MemoryStore) Reset(ctx context.Context, key Key) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.entries, key.String())
	return nil
}

// Close stops the background cleanup goroutine.
func (ms *MemoryStore) Close() {
	ms.stopOnce.Do(func() {
		close(ms.stopCleanup)
	})
}

// roll returns the entry for the key, resetting any window whose fixed
// bucket has passed. Caller holds the lock.
func (ms *MemoryStore) roll(key string, now time.Time) *windows {
	w, exists := ms.entries[key]
	if !exists {
		w = &windows{
			hourStart: now.Truncate(time.Hour),
			dayStart:  truncateDay(now),
		}
		ms.entries[key] = w
	}

	if hourStart := now.Truncate(time.Hour); hourStart.After(w.hourStart) {
		w.hourStart = hourStart
		w.hourCount = 0
	}
	if dayStart := truncateDay(now); dayStart.After(w.dayStart) {
		w.dayStart = dayStart
		w.dayCount = 0
	}
	w.lastAccess = now
	return w
}

func (ms *MemoryStore) cleanup() {
	ticker := time.NewTicker(ms.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.removeStale()
		case <-ms.stopCleanup:
			return
		}
	}
}

func (ms *MemoryStore) removeStale() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := time.Now().Add(-25 * time.Hour)
	for key, w := range ms.entries {
		if w.lastAccess.Before(cutoff) {
			delete(ms.entries, key)
		}
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
