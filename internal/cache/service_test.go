package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type org struct {
	ID string `json:"id"`
}

func setupTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	svc := NewService(NewRedisRemote(rdb), Options{
		MaxEntries: 100,
		DefaultTTL: time.Hour,
		Registerer: prometheus.NewRegistry(),
	})
	t.Cleanup(svc.Close)

	return svc, mr
}

func TestService_SetGetRoundTrip(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	svc.Set(ctx, "orgs", "acme", org{ID: "acme"}, Strategy{TTL: 30 * time.Minute})

	got, ok := Get[org](ctx, svc, "orgs", "acme")
	require.True(t, ok)
	assert.Equal(t, "acme", got.ID)
}

func TestService_GetMissPaths(t *testing.T) {
	svc, mr := setupTestService(t)
	ctx := context.Background()

	t.Run("absent everywhere", func(t *testing.T) {
		_, ok := svc.Get(ctx, "orgs", "nobody")
		assert.False(t, ok)
	})

	t.Run("expired and absent from remote", func(t *testing.T) {
		svc.Set(ctx, "orgs", "brief", org{ID: "brief"}, Strategy{TTL: time.Minute})

		// Make the memory copy stale and let the remote copy expire.
		full := Key("orgs", "brief")
		stale := NewEntry(json.RawMessage(`{"id":"brief"}`), Strategy{TTL: time.Minute}, time.Now().Add(-2*time.Minute))
		svc.memory.Set(full, stale)
		mr.FastForward(2 * time.Minute)

		_, ok := svc.Get(ctx, "orgs", "brief")
		assert.False(t, ok)
	})

	t.Run("remote unreachable degrades to miss", func(t *testing.T) {
		mr.Close()
		_, ok := svc.Get(ctx, "orgs", "whatever")
		assert.False(t, ok)
	})
}

func TestService_GetRepopulatesMemoryFromRemote(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	svc.Set(ctx, "orgs", "acme", org{ID: "acme"}, Strategy{TTL: 30 * time.Minute})

	// Drop the memory copy so the next read must come from the remote tier.
	full := Key("orgs", "acme")
	svc.memory.Delete(full)
	require.Equal(t, 0, svc.memory.Len())

	before := time.Now()
	_, ok := svc.Get(ctx, "orgs", "acme")
	require.True(t, ok)

	// The remote hit was written through to the memory tier, re-stamped with
	// the local clock.
	entry, ok := svc.memory.Peek(full)
	require.True(t, ok)
	assert.False(t, entry.Timestamp.Before(before))
}

func TestService_SetSurvivesRemoteFailure(t *testing.T) {
	svc, mr := setupTestService(t)
	ctx := context.Background()
	mr.Close()

	svc.Set(ctx, "orgs", "acme", org{ID: "acme"}, Strategy{TTL: 30 * time.Minute})

	// The memory tier still holds the value, so an immediate in-process read
	// succeeds even though the remote write failed.
	got, ok := Get[org](ctx, svc, "orgs", "acme")
	require.True(t, ok)
	assert.Equal(t, "acme", got.ID)

	assert.False(t, svc.Stats().Redis.IsConnected)
}

func TestService_Delete(t *testing.T) {
	svc, mr := setupTestService(t)
	ctx := context.Background()

	svc.Set(ctx, "orgs", "acme", org{ID: "acme"}, Strategy{})
	svc.Delete(ctx, "orgs", "acme")

	_, ok := svc.Get(ctx, "orgs", "acme")
	assert.False(t, ok)

	t.Run("remote failure is swallowed", func(t *testing.T) {
		mr.Close()
		assert.NotPanics(t, func() {
			svc.Delete(ctx, "orgs", "acme")
		})
	})
}

func TestService_InvalidateByTag(t *testing.T) {
	svc, mr := setupTestService(t)
	ctx := context.Background()

	svc.Set(ctx, "orgs", "acme", org{ID: "acme"}, Strategy{TTL: 30 * time.Minute, Tags: []string{"org"}})
	svc.Set(ctx, "users", "1", map[string]int{"id": 1}, Strategy{TTL: 30 * time.Minute, Tags: []string{"org"}})
	svc.Set(ctx, "users", "2", map[string]int{"id": 2}, Strategy{TTL: 30 * time.Minute, Tags: []string{"other"}})

	count := svc.InvalidateByTag(ctx, "org")
	assert.Equal(t, 2, count)

	_, ok := svc.Get(ctx, "orgs", "acme")
	assert.False(t, ok)
	_, ok = svc.Get(ctx, "users", "1")
	assert.False(t, ok)

	// Other tags are untouched.
	_, ok = svc.Get(ctx, "users", "2")
	assert.True(t, ok)

	t.Run("index fetch failure returns zero", func(t *testing.T) {
		mr.Close()
		assert.Equal(t, 0, svc.InvalidateByTag(ctx, "other"))
	})
}

func TestService_InvalidateNamespace(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	svc.Set(ctx, "orgs", "a", org{ID: "a"}, Strategy{})
	svc.Set(ctx, "orgs", "b", org{ID: "b"}, Strategy{})
	svc.Set(ctx, "users", "a", org{ID: "ua"}, Strategy{})

	// Each key is resident in both tiers, so the clear-operation sum counts
	// it twice.
	count := svc.InvalidateNamespace(ctx, "orgs")
	assert.Equal(t, 4, count)
	assert.GreaterOrEqual(t, count, 2)

	_, ok := svc.Get(ctx, "orgs", "a")
	assert.False(t, ok)
	_, ok = svc.Get(ctx, "orgs", "b")
	assert.False(t, ok)
	_, ok = svc.Get(ctx, "users", "a")
	assert.True(t, ok)
}

func TestService_GetOrSet(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh value short-circuits the fetcher", func(t *testing.T) {
		svc, _ := setupTestService(t)
		svc.Set(ctx, "orgs", "acme", org{ID: "acme"}, Strategy{TTL: time.Hour})

		calls := 0
		got, err := GetOrSet(ctx, svc, "orgs", "acme", func(ctx context.Context) (org, error) {
			calls++
			return org{ID: "fetched"}, nil
		}, Strategy{})

		require.NoError(t, err)
		assert.Equal(t, "acme", got.ID)
		assert.Equal(t, 0, calls)
	})

	t.Run("cold cache invokes the fetcher exactly once", func(t *testing.T) {
		svc, _ := setupTestService(t)

		calls := 0
		fetch := func(ctx context.Context) (org, error) {
			calls++
			return org{ID: "fetched"}, nil
		}

		got, err := GetOrSet(ctx, svc, "orgs", "acme", fetch, Strategy{TTL: time.Hour})
		require.NoError(t, err)
		assert.Equal(t, "fetched", got.ID)
		assert.Equal(t, 1, calls)

		// The result was cached; a second call serves it without fetching.
		got, err = GetOrSet(ctx, svc, "orgs", "acme", fetch, Strategy{TTL: time.Hour})
		require.NoError(t, err)
		assert.Equal(t, "fetched", got.ID)
		assert.Equal(t, 1, calls)
	})

	t.Run("fetcher error propagates", func(t *testing.T) {
		svc, _ := setupTestService(t)
		boom := errors.New("upstream down")

		_, err := GetOrSet(ctx, svc, "orgs", "acme", func(ctx context.Context) (org, error) {
			return org{}, boom
		}, Strategy{})

		assert.ErrorIs(t, err, boom)
	})
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("always fetches and overwrites", func(t *testing.T) {
		svc, _ := setupTestService(t)
		svc.Set(ctx, "orgs", "acme", org{ID: "old"}, Strategy{TTL: time.Hour})

		got, err := Refresh(ctx, svc, "orgs", "acme", func(ctx context.Context) (org, error) {
			return org{ID: "new"}, nil
		}, Strategy{TTL: time.Hour})

		require.NoError(t, err)
		assert.Equal(t, "new", got.ID)

		cached, ok := Get[org](ctx, svc, "orgs", "acme")
		require.True(t, ok)
		assert.Equal(t, "new", cached.ID)
	})

	t.Run("fetcher failure serves stale cached value", func(t *testing.T) {
		svc, _ := setupTestService(t)

		// Seed a stale memory-tier entry; its TTL elapsed long ago.
		full := Key("orgs", "acme")
		stale := NewEntry(json.RawMessage(`{"id":"stale"}`), Strategy{TTL: time.Minute}, time.Now().Add(-time.Hour))
		svc.memory.Set(full, stale)

		got, err := Refresh(ctx, svc, "orgs", "acme", func(ctx context.Context) (org, error) {
			return org{}, errors.New("upstream down")
		}, Strategy{})

		require.NoError(t, err)
		assert.Equal(t, "stale", got.ID)
	})

	t.Run("fetcher failure with no cached value propagates", func(t *testing.T) {
		svc, _ := setupTestService(t)
		boom := errors.New("upstream down")

		_, err := Refresh(ctx, svc, "orgs", "missing", func(ctx context.Context) (org, error) {
			return org{}, boom
		}, Strategy{})

		assert.ErrorIs(t, err, boom)
	})
}

func TestService_MSetMGet(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	svc.MSet(ctx, "test", map[string]interface{}{
		"k1": map[string]int{"id": 1},
		"k2": map[string]int{"id": 2},
	}, Strategy{TTL: time.Hour})

	results := svc.MGet(ctx, "test", []string{"k1", "k2", "k3"})
	require.Len(t, results, 3)
	assert.JSONEq(t, `{"id":1}`, string(results[0]))
	assert.JSONEq(t, `{"id":2}`, string(results[1]))
	assert.Nil(t, results[2])
}

func TestService_MGetBypassesMemoryTier(t *testing.T) {
	svc, mr := setupTestService(t)
	ctx := context.Background()

	svc.Set(ctx, "test", "k1", map[string]int{"id": 1}, Strategy{TTL: time.Hour})

	// With the remote tier down the batch read misses even though the memory
	// tier holds k1: batch reads answer from one tier only.
	mr.Close()
	results := svc.MGet(ctx, "test", []string{"k1"})
	require.Len(t, results, 1)
	assert.Nil(t, results[0])
}

func TestService_MSetSurvivesRemoteFailure(t *testing.T) {
	svc, mr := setupTestService(t)
	ctx := context.Background()
	mr.Close()

	svc.MSet(ctx, "test", map[string]interface{}{"k1": map[string]int{"id": 1}}, Strategy{TTL: time.Hour})

	// Per-key population of the memory tier still happened.
	got, ok := Get[map[string]int](ctx, svc, "test", "k1")
	require.True(t, ok)
	assert.Equal(t, 1, got["id"])
}

func TestService_Warmup(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	svc.Warmup(ctx, []WarmupEntry{
		{
			Namespace: "orgs",
			Key:       "acme",
			Fetch:     func(ctx context.Context) (interface{}, error) { return org{ID: "acme"}, nil },
			Strategy:  Strategy{TTL: time.Hour},
		},
		{
			Namespace: "orgs",
			Key:       "broken",
			Fetch:     func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") },
		},
		{
			Namespace: "orgs",
			Key:       "globex",
			Fetch:     func(ctx context.Context) (interface{}, error) { return org{ID: "globex"}, nil },
			Strategy:  Strategy{TTL: time.Hour},
		},
	})

	// The failing entry did not abort the remaining ones.
	_, ok := svc.Get(ctx, "orgs", "acme")
	assert.True(t, ok)
	_, ok = svc.Get(ctx, "orgs", "globex")
	assert.True(t, ok)
	_, ok = svc.Get(ctx, "orgs", "broken")
	assert.False(t, ok)
}

func TestService_Stats(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	svc.Set(ctx, "orgs", "acme", org{ID: "acme"}, Strategy{TTL: time.Hour})

	// One remote hit and one remote miss.
	svc.memory.Delete(Key("orgs", "acme"))
	_, ok := svc.Get(ctx, "orgs", "acme")
	require.True(t, ok)
	_, ok = svc.Get(ctx, "orgs", "absent")
	require.False(t, ok)

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Redis.Hits)
	assert.Equal(t, int64(1), stats.Redis.Misses)
	assert.InDelta(t, 0.5, stats.Redis.HitRate, 0.001)
	assert.True(t, stats.Redis.IsConnected)
	assert.Equal(t, 100, stats.Memory.MaxSize)
	assert.Equal(t, 1, stats.Memory.Size)
}

func TestService_HealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy remote", func(t *testing.T) {
		svc, _ := setupTestService(t)
		health := svc.HealthCheck(ctx)
		assert.Equal(t, HealthHealthy, health.Status)
	})

	t.Run("remote down with memory fallback is degraded", func(t *testing.T) {
		svc, mr := setupTestService(t)
		svc.Set(ctx, "orgs", "acme", org{ID: "acme"}, Strategy{TTL: time.Hour})
		mr.Close()

		health := svc.HealthCheck(ctx)
		assert.Equal(t, HealthDegraded, health.Status)
		assert.Equal(t, HealthUnhealthy, health.Details.Remote.Status)
		assert.Equal(t, 1, health.Details.MemoryEntries)
	})

	t.Run("remote down with empty memory is unhealthy", func(t *testing.T) {
		svc, mr := setupTestService(t)
		mr.Close()

		health := svc.HealthCheck(ctx)
		assert.Equal(t, HealthUnhealthy, health.Status)
		assert.Equal(t, 0, health.Details.MemoryEntries)
	})
}

// Scenario from the platform's compliance screens: write an organization with
// a tag, invalidate the tag, and the organization is gone.
func TestScenario_TagInvalidationRoundTrip(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	svc.Set(ctx, "orgs", "acme", org{ID: "acme"}, Strategy{TTL: 1800 * time.Second, Tags: []string{"org"}})
	svc.InvalidateByTag(ctx, "org")

	_, ok := svc.Get(ctx, "orgs", "acme")
	assert.False(t, ok)
}
