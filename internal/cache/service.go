package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apperrors "tiercache/internal/common/errors"
	"tiercache/internal/common/logging"
)

// Fetcher loads a value from the backing source on behalf of the cache.
type Fetcher func(ctx context.Context) (interface{}, error)

// WarmupEntry names one value to pre-load.
type WarmupEntry struct {
	Namespace string
	Key       string
	Fetch     Fetcher
	Strategy  Strategy
}

// MemoryStats describes the memory tier.
type MemoryStats struct {
	Size    int `json:"size"`
	MaxSize int `json:"maxSize"`
}

// RedisStats describes the remote tier's counters.
type RedisStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hitRate"`
	IsConnected bool    `json:"isConnected"`
}

// Stats is the passive counter snapshot returned by Service.Stats.
type Stats struct {
	Memory MemoryStats `json:"memory"`
	Redis  RedisStats  `json:"redis"`
}

// Health is the aggregate health of both tiers.
type Health struct {
	Status  HealthState   `json:"status"`
	Details HealthDetails `json:"details"`
}

// HealthDetails carries the per-tier breakdown behind an aggregate status.
type HealthDetails struct {
	Remote        HealthReport `json:"remote"`
	MemoryEntries int          `json:"memoryEntries"`
}

// Options configures a Service.
type Options struct {
	// MaxEntries bounds the memory tier. Defaults to 1000.
	MaxEntries int
	// CleanupInterval drives the memory tier's janitor. Zero disables it.
	CleanupInterval time.Duration
	// DefaultTTL applies when a write's strategy names no TTL. Defaults to
	// one hour.
	DefaultTTL time.Duration
	// Registerer receives the Prometheus collectors. Defaults to the global
	// registerer.
	Registerer prometheus.Registerer
	// Logger defaults to the process-global logger.
	Logger logging.Logger
}

// Service is the caching facade composing the memory and remote tiers.
//
// Reads check the memory tier first and fall through to the remote tier on a
// miss; writes populate both tiers; invalidation sweeps both tiers and the
// tag index. Remote faults never escape as errors: reads degrade to misses
// and writes to local-only success. The only errors a caller can see come
// from its own fetchers, via GetOrSet always and Refresh when no fallback
// value exists.
//
// One Service per process shares one memory tier. Across replicas the remote
// tier is the only coordination point; a replica's memory tier may lag a
// write made elsewhere until its own next read re-populates it. GetOrSet and
// Refresh deliberately provide no single-flight protection: concurrent misses
// may each invoke their fetcher.
type Service struct {
	memory     *MemoryCache
	remote     Remote
	metrics    *Metrics
	logger     logging.Logger
	defaultTTL time.Duration
	connected  atomic.Bool
}

// NewService builds the facade. Construct one per process at startup and
// inject it into callers; Close discards only the memory tier, the remote
// tier persists independently.
func NewService(remote Remote, opts Options) *Service {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Hour
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}

	s := &Service{
		memory:     NewMemoryCache(opts.MaxEntries),
		remote:     remote,
		metrics:    NewMetrics(opts.Registerer),
		logger:     opts.Logger.WithFields(logging.String("component", "cache")),
		defaultTTL: opts.DefaultTTL,
	}
	s.connected.Store(true)

	registerMemoryGauge(opts.Registerer, s.memory)

	if opts.CleanupInterval > 0 {
		s.memory.StartJanitor(opts.CleanupInterval)
	}
	return s
}

// registerMemoryGauge registers a gauge tracking memory-tier residency.
func registerMemoryGauge(reg prometheus.Registerer, m *MemoryCache) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tiercache",
		Name:      "memory_entries",
		Help:      "Number of entries resident in the memory tier",
	}, func() float64 { return float64(m.Len()) }))
}

// Close stops background work. The memory tier is discarded with the process;
// the remote tier is shared and left untouched.
func (s *Service) Close() {
	s.memory.StopJanitor()
}

// Get returns the cached payload for namespace/key, or (nil, false) on a
// miss. A fresh memory-tier hit returns immediately; otherwise the remote
// tier is consulted and, on a hit, the memory tier is re-populated with the
// local clock so local freshness stays consistent with local cleanup. Remote
// faults and undecodable payloads degrade to a miss. Never returns an error.
func (s *Service) Get(ctx context.Context, namespace, key string) (json.RawMessage, bool) {
	full := Key(namespace, key)

	if entry, ok := s.memory.Get(full); ok {
		return entry.Data, true
	}

	entry, err := s.remote.Get(ctx, full)
	if err != nil {
		s.noteRemoteFailure("get", err)
		s.metrics.Miss()
		return nil, false
	}
	if entry == nil {
		s.connected.Store(true)
		s.metrics.Miss()
		return nil, false
	}

	s.connected.Store(true)
	s.metrics.Hit()

	// Re-stamp with the local clock rather than inheriting the remote
	// entry's creation instant.
	local := *entry
	local.Timestamp = time.Now()
	s.memory.Set(full, &local)

	return entry.Data, true
}

// Set writes a value to both tiers. The memory tier is populated
// unconditionally, so a subsequent in-process Get succeeds even when the
// remote write fails. Tags are registered in the remote index best-effort.
// Failures are logged, never returned.
func (s *Service) Set(ctx context.Context, namespace, key string, value interface{}, strategy Strategy) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache set skipped: value not serializable",
			logging.String("key", Key(namespace, key)),
			logging.Err(apperrors.SerializationError("failed to encode value", err)))
		return
	}
	s.setRaw(ctx, Key(namespace, key), data, s.normalize(strategy))
}

func (s *Service) setRaw(ctx context.Context, full string, data json.RawMessage, strategy Strategy) {
	entry := NewEntry(data, strategy, time.Now())
	s.memory.Set(full, entry)

	if err := s.remote.Set(ctx, full, entry); err != nil {
		s.noteRemoteFailure("set", err)
	} else {
		s.connected.Store(true)
	}

	for _, tag := range strategy.Tags {
		if err := s.remote.AddTagMember(ctx, tag, full); err != nil {
			s.logger.Warn("cache tag registration failed",
				logging.String("tag", tag),
				logging.String("key", full),
				logging.Err(err))
		}
	}
}

// Delete removes namespace/key from both tiers. Remote failures are
// swallowed.
func (s *Service) Delete(ctx context.Context, namespace, key string) {
	full := Key(namespace, key)
	s.memory.Delete(full)

	if err := s.remote.Del(ctx, full); err != nil {
		s.noteRemoteFailure("delete", err)
	}
}

// InvalidateByTag removes every key registered under tag from both tiers and
// returns the number of keys processed. If the tag index cannot be fetched it
// returns 0: stale-but-present data is preferred over raising.
func (s *Service) InvalidateByTag(ctx context.Context, tag string) int {
	keys, err := s.remote.TagMembers(ctx, tag)
	if err != nil {
		s.noteRemoteFailure("invalidate_by_tag", err)
		return 0
	}

	for _, full := range keys {
		s.memory.Delete(full)
		if err := s.remote.Del(ctx, full); err != nil {
			s.noteRemoteFailure("invalidate_by_tag", err)
		}
	}

	if err := s.remote.DropTag(ctx, tag); err != nil {
		s.noteRemoteFailure("invalidate_by_tag", err)
	}

	s.logger.Info("cache tag invalidated",
		logging.String("tag", tag),
		logging.Int("keys", len(keys)))
	return len(keys)
}

// InvalidateNamespace removes every entry under namespace from both tiers and
// returns the sum of both tiers' removal counts. The sum measures clear
// operations performed across tiers, not distinct logical keys, so a key
// resident in both tiers counts twice.
func (s *Service) InvalidateNamespace(ctx context.Context, namespace string) int {
	count := s.memory.DeletePrefix(namespace + ":")

	remoteCount, err := s.remote.FlushPattern(ctx, namespace+":*")
	if err != nil {
		s.noteRemoteFailure("invalidate_namespace", err)
	} else {
		s.connected.Store(true)
		count += remoteCount
	}

	s.logger.Info("cache namespace invalidated",
		logging.String("namespace", namespace),
		logging.Int("cleared", count))
	return count
}

// GetOrSet implements cache-aside: a hit returns the cached payload without
// invoking fetch; a miss invokes fetch, stores the result, and returns it.
// Fetch errors propagate uncaught.
func (s *Service) GetOrSet(ctx context.Context, namespace, key string, fetch Fetcher, strategy Strategy) (json.RawMessage, error) {
	if data, ok := s.Get(ctx, namespace, key); ok {
		return data, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, apperrors.SerializationError("failed to encode fetched value", err).
			WithContext("key", Key(namespace, key))
	}

	s.setRaw(ctx, Key(namespace, key), data, s.normalize(strategy))
	return data, nil
}

// Refresh implements refresh-ahead: fetch always runs first, ignoring cache
// state. On success the result is stored and returned. On fetch failure any
// existing cached value, even a stale one, is served instead; only when no
// cached value exists does the fetch error propagate.
func (s *Service) Refresh(ctx context.Context, namespace, key string, fetch Fetcher, strategy Strategy) (json.RawMessage, error) {
	full := Key(namespace, key)

	value, fetchErr := fetch(ctx)
	if fetchErr == nil {
		data, err := json.Marshal(value)
		if err == nil {
			s.setRaw(ctx, full, data, s.normalize(strategy))
			return data, nil
		}
		// An unencodable result is as unusable as a failed fetch.
		fetchErr = apperrors.SerializationError("failed to encode fetched value", err).
			WithContext("key", full)
	}

	s.logger.Warn("cache refresh falling back to cached value",
		logging.String("key", full),
		logging.Err(fetchErr))

	if entry, ok := s.memory.Peek(full); ok {
		return entry.Data, nil
	}
	if entry, err := s.remote.Get(ctx, full); err == nil && entry != nil {
		return entry.Data, nil
	}

	return nil, fetchErr
}

// MGet reads a batch of keys through one remote round trip, returning one
// slot per key, position-aligned, nil on miss. Batch reads bypass the memory
// tier on purpose so the whole batch reflects one tier consistently. A remote
// fault degrades the whole batch to misses.
func (s *Service) MGet(ctx context.Context, namespace string, keys []string) []json.RawMessage {
	results := make([]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return results
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = Key(namespace, k)
	}

	entries, err := s.remote.MGet(ctx, full)
	if err != nil {
		s.noteRemoteFailure("mget", err)
		for range keys {
			s.metrics.Miss()
		}
		return results
	}

	s.connected.Store(true)
	for i, entry := range entries {
		if entry != nil {
			results[i] = entry.Data
			s.metrics.Hit()
		} else {
			s.metrics.Miss()
		}
	}
	return results
}

// MSet writes a batch of values: one batched remote write plus per-key
// memory-tier population. Values that fail to encode are skipped and logged;
// remote failure downgrades the batch to local-only success.
func (s *Service) MSet(ctx context.Context, namespace string, values map[string]interface{}, strategy Strategy) {
	strategy = s.normalize(strategy)
	now := time.Now()

	entries := make(map[string]*Entry, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Warn("cache mset skipped value: not serializable",
				logging.String("key", Key(namespace, k)),
				logging.Err(err))
			continue
		}
		entries[Key(namespace, k)] = NewEntry(data, strategy, now)
	}
	if len(entries) == 0 {
		return
	}

	if err := s.remote.MSet(ctx, entries); err != nil {
		s.noteRemoteFailure("mset", err)
	} else {
		s.connected.Store(true)
	}

	for full, entry := range entries {
		s.memory.Set(full, entry)
		for _, tag := range strategy.Tags {
			if err := s.remote.AddTagMember(ctx, tag, full); err != nil {
				s.logger.Warn("cache tag registration failed",
					logging.String("tag", tag),
					logging.String("key", full),
					logging.Err(err))
			}
		}
	}
}

// Warmup pre-loads a set of entries. Each entry's failure is logged and does
// not abort the remaining entries.
func (s *Service) Warmup(ctx context.Context, entries []WarmupEntry) {
	loaded := 0
	for _, we := range entries {
		value, err := we.Fetch(ctx)
		if err != nil {
			s.logger.Warn("cache warmup entry failed",
				logging.String("key", Key(we.Namespace, we.Key)),
				logging.Err(apperrors.FetcherError("warmup fetch failed", err)))
			continue
		}
		s.Set(ctx, we.Namespace, we.Key, value, we.Strategy)
		loaded++
	}
	s.logger.Info("cache warmup complete",
		logging.Int("requested", len(entries)),
		logging.Int("loaded", loaded))
}

// Stats returns the passive counter snapshot for both tiers. No I/O.
func (s *Service) Stats() Stats {
	hits, misses := s.metrics.Snapshot()

	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Memory: MemoryStats{
			Size:    s.memory.Len(),
			MaxSize: s.memory.MaxEntries(),
		},
		Redis: RedisStats{
			Hits:        hits,
			Misses:      misses,
			HitRate:     hitRate,
			IsConnected: s.connected.Load(),
		},
	}
}

// HealthCheck aggregates both tiers: healthy iff the remote tier reports
// healthy; degraded when the remote tier reports degraded latency, or is
// unreachable while the memory tier still holds entries to serve from;
// unhealthy only when the remote tier is down and the memory tier is empty.
func (s *Service) HealthCheck(ctx context.Context) Health {
	report := s.remote.Health(ctx)
	memoryEntries := s.memory.Len()

	status := report.Status
	if report.Status == HealthUnhealthy {
		s.connected.Store(false)
		if memoryEntries > 0 {
			status = HealthDegraded
		}
	} else {
		s.connected.Store(true)
	}

	return Health{
		Status: status,
		Details: HealthDetails{
			Remote:        report,
			MemoryEntries: memoryEntries,
		},
	}
}

// normalize applies the default TTL to strategies that name none.
func (s *Service) normalize(strategy Strategy) Strategy {
	if strategy.TTL <= 0 {
		strategy.TTL = s.defaultTTL
	}
	return strategy
}

// noteRemoteFailure downgrades a remote fault to a log line. Availability
// failures also flip the connected flag that Stats reports.
func (s *Service) noteRemoteFailure(op string, err error) {
	if apperrors.IsType(err, apperrors.ErrTypeRemoteUnavailable) {
		s.connected.Store(false)
	}
	s.logger.Warn("cache remote operation failed",
		logging.String("op", op),
		logging.Err(err))
}
