package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps sliding-window logs in process memory. Suitable for a
// single API instance and for tests.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryBackend creates a backend and starts a janitor that drops idle
// keys every sweep interval.
func NewMemoryBackend(sweep time.Duration) *MemoryBackend {
	b := &MemoryBackend{
		entries: make(map[string][]time.Time),
		stop:    make(chan struct{}),
	}
	if sweep > 0 {
		go b.cleanup(sweep)
	}
	return b
}

func (b *MemoryBackend) Hit(_ context.Context, key string, rule Rule, now time.Time) (bool, int, time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hits := prune(b.entries[key], now.Add(-rule.Window))
	allowed := len(hits) < rule.Limit
	if allowed {
		hits = append(hits, now)
	}
	b.entries[key] = hits
	oldest := now
	if len(hits) > 0 {
		oldest = hits[0]
	}
	return allowed, len(hits), oldest, nil
}

// Reset clears the window for key.
func (b *MemoryBackend) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Close stops the janitor.
func (b *MemoryBackend) Close() {
	b.once.Do(func() { close(b.stop) })
}

// prune drops hits at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (b *MemoryBackend) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for key, hits := range b.entries {
				// Windows are at most a few minutes; an hour of silence is idle.
				if len(hits) == 0 || now.Sub(hits[len(hits)-1]) > time.Hour {
					delete(b.entries, key)
				}
			}
			b.mu.Unlock()
		}
	}
}
