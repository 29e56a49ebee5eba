// Package cache implements the multi-tier caching engine that sits between
// application code and the backing data layer.
//
// It composes two tiers:
//
// 1. Memory tier (L1) - process-local, capacity-bounded
//   - Freshness-checked reads, no mutation on the read path
//   - Cleanup purges expired entries, then evicts oldest-first to capacity
//   - Janitor timer plus opportunistic cleanup on over-capacity writes
//
// 2. Remote tier (L2) - shared Redis, visible across process replicas
//   - JSON envelopes with Redis-native per-key TTLs
//   - Tag index under tags:{tag} for cross-namespace invalidation
//   - Every call may fail; the facade degrades instead of surfacing faults
//
// Service is the facade composing the tiers. Reads check L1 first and fall
// through to L2; writes populate both tiers; invalidation sweeps both tiers
// and the tag index. Remote faults downgrade to a miss (reads) or local-only
// success (writes) - the only caller-visible errors are fetcher errors, from
// GetOrSet always and from Refresh only when no fallback value exists.
//
// Usage:
//
//	svc := cache.NewService(cache.NewRedisRemote(rdb), cache.Options{
//		MaxEntries:      1000,
//		CleanupInterval: time.Minute,
//	})
//	defer svc.Close()
//
//	// Typed access through the generic wrappers
//	org, err := cache.GetOrSet(ctx, svc, cache.NamespaceOrganizations, "acme",
//		loadOrganization, cache.Strategy{TTL: 30 * time.Minute, Tags: []string{"org"}})
//
//	// Group invalidation
//	svc.InvalidateByTag(ctx, "org")
//	svc.InvalidateNamespace(ctx, cache.NamespaceOrganizations)
package cache
