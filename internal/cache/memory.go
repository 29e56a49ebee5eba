package cache

import (
	"sort"
	"sync"
	"time"
)

// MemoryCache is the process-local tier: a capacity-bounded map of entries.
// Presence here is a pure performance cache of the remote tier's truth;
// correctness must hold with it empty.
//
// Reads only return fresh entries but never delete stale ones; removal is the
// job of Cleanup, which runs on the janitor timer and opportunistically after
// writes that push the map over capacity. When Cleanup is still over capacity
// after purging stale entries it evicts in ascending timestamp order. That is
// an approximation of LRU keyed on insertion/refresh time rather than access
// time, and it is kept that way on purpose: reads stay cheap because they
// never reorder anything.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// NewMemoryCache creates a memory tier holding at most maxEntries entries.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

// Get returns the entry for key if it is present and fresh. Stale entries are
// treated as absent and left in place.
func (m *MemoryCache) Get(key string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !e.Fresh(time.Now()) {
		return nil, false
	}
	return e, true
}

// Peek returns the entry for key regardless of freshness. This is the
// fallback path for refresh-ahead reads, which may serve stale data.
func (m *MemoryCache) Peek(key string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	return e, ok
}

// Set stores an entry, replacing any previous one, and triggers an
// opportunistic cleanup when the write pushes the map over capacity.
func (m *MemoryCache) Set(key string, e *Entry) {
	m.mu.Lock()
	m.entries[key] = e
	over := len(m.entries) > m.maxEntries
	m.mu.Unlock()

	if over {
		m.Cleanup()
	}
}

// Delete removes an entry and reports whether it was present.
func (m *MemoryCache) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// the number removed.
func (m *MemoryCache) DeletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k := range m.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Cleanup purges every stale entry, then, if the map is still over capacity,
// evicts entries in ascending timestamp order until it fits. Returns the
// purge and eviction counts. The work is bounded by the number of resident
// entries, which Set keeps near capacity.
func (m *MemoryCache) Cleanup() (purged, evicted int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for k, e := range m.entries {
		if !e.Fresh(now) {
			delete(m.entries, k)
			purged++
		}
	}

	over := len(m.entries) - m.maxEntries
	if over <= 0 {
		return purged, 0
	}

	type aged struct {
		key string
		ts  time.Time
	}
	byAge := make([]aged, 0, len(m.entries))
	for k, e := range m.entries {
		byAge = append(byAge, aged{key: k, ts: e.Timestamp})
	}
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].ts.Before(byAge[j].ts) })

	for i := 0; i < over; i++ {
		delete(m.entries, byAge[i].key)
		evicted++
	}
	return purged, evicted
}

// Len returns the number of resident entries, fresh or not.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// MaxEntries returns the configured capacity.
func (m *MemoryCache) MaxEntries() int {
	return m.maxEntries
}

// StartJanitor runs Cleanup on the given interval until StopJanitor is
// called. Starting twice is a no-op.
func (m *MemoryCache) StartJanitor(interval time.Duration) {
	m.janitorOnce.Do(func() {
		m.janitorStop = make(chan struct{})
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.Cleanup()
				case <-m.janitorStop:
					return
				}
			}
		}()
	})
}

// StopJanitor stops the background cleanup loop if it is running.
func (m *MemoryCache) StopJanitor() {
	if m.janitorStop != nil {
		select {
		case <-m.janitorStop:
		default:
			close(m.janitorStop)
		}
	}
}
