package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tiercache/internal/common/errors"
)

func setupTestRemote(t *testing.T) (*RedisRemote, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewRedisRemote(rdb), mr
}

func TestRedisRemote_SetGet(t *testing.T) {
	remote, mr := setupTestRemote(t)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		entry := NewEntry(json.RawMessage(`{"id":"acme"}`), Strategy{TTL: time.Hour, Tags: []string{"org"}}, time.Now())
		require.NoError(t, remote.Set(ctx, "orgs:acme", entry))

		got, err := remote.Get(ctx, "orgs:acme")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.JSONEq(t, `{"id":"acme"}`, string(got.Data))
		assert.Equal(t, entry.TTLSeconds, got.TTLSeconds)
		assert.Equal(t, []string{"org"}, got.Tags)
	})

	t.Run("miss returns nil nil", func(t *testing.T) {
		got, err := remote.Get(ctx, "orgs:absent")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("redis ttl governs remote presence", func(t *testing.T) {
		entry := NewEntry(json.RawMessage(`1`), Strategy{TTL: time.Minute}, time.Now())
		require.NoError(t, remote.Set(ctx, "orgs:shortlived", entry))

		mr.FastForward(2 * time.Minute)

		got, err := remote.Get(ctx, "orgs:shortlived")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("malformed payload is discarded and classified", func(t *testing.T) {
		require.NoError(t, mr.Set("orgs:corrupt", "not-json{"))

		got, err := remote.Get(ctx, "orgs:corrupt")
		assert.Nil(t, got)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeSerialization))

		// The corrupt value was dropped.
		assert.False(t, mr.Exists("orgs:corrupt"))
	})
}

func TestRedisRemote_MGetMSet(t *testing.T) {
	remote, _ := setupTestRemote(t)
	ctx := context.Background()
	now := time.Now()

	err := remote.MSet(ctx, map[string]*Entry{
		"test:k1": NewEntry(json.RawMessage(`{"id":1}`), Strategy{TTL: time.Hour}, now),
		"test:k2": NewEntry(json.RawMessage(`{"id":2}`), Strategy{TTL: time.Hour}, now),
	})
	require.NoError(t, err)

	entries, err := remote.MGet(ctx, []string{"test:k1", "test:k2", "test:k3"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.JSONEq(t, `{"id":1}`, string(entries[0].Data))
	assert.JSONEq(t, `{"id":2}`, string(entries[1].Data))
	assert.Nil(t, entries[2])
}

func TestRedisRemote_FlushPattern(t *testing.T) {
	remote, _ := setupTestRemote(t)
	ctx := context.Background()
	now := time.Now()

	for _, key := range []string{"orgs:a", "orgs:b", "users:a"} {
		require.NoError(t, remote.Set(ctx, key, NewEntry(json.RawMessage(`1`), Strategy{TTL: time.Hour}, now)))
	}

	count, err := remote.FlushPattern(ctx, "orgs:*")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := remote.Get(ctx, "users:a")
	require.NoError(t, err)
	assert.NotNil(t, got)

	count, err = remote.FlushPattern(ctx, "orgs:*")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRedisRemote_TagIndex(t *testing.T) {
	remote, _ := setupTestRemote(t)
	ctx := context.Background()

	require.NoError(t, remote.AddTagMember(ctx, "org", "orgs:acme"))
	require.NoError(t, remote.AddTagMember(ctx, "org", "users:1"))
	// Duplicate registration is tolerated.
	require.NoError(t, remote.AddTagMember(ctx, "org", "orgs:acme"))

	members, err := remote.TagMembers(ctx, "org")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orgs:acme", "users:1"}, members)

	require.NoError(t, remote.DropTag(ctx, "org"))

	members, err = remote.TagMembers(ctx, "org")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRedisRemote_Health(t *testing.T) {
	remote, mr := setupTestRemote(t)
	ctx := context.Background()

	t.Run("healthy server", func(t *testing.T) {
		report := remote.Health(ctx)
		assert.Equal(t, HealthHealthy, report.Status)
		assert.Empty(t, report.Error)
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr.Close()
		report := remote.Health(ctx)
		assert.Equal(t, HealthUnhealthy, report.Status)
		assert.NotEmpty(t, report.Error)
	})
}

func TestRedisRemote_UnavailableErrors(t *testing.T) {
	remote, mr := setupTestRemote(t)
	ctx := context.Background()
	mr.Close()

	_, err := remote.Get(ctx, "orgs:acme")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRemoteUnavailable))

	err = remote.Set(ctx, "orgs:acme", NewEntry(json.RawMessage(`1`), Strategy{TTL: time.Hour}, time.Now()))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRemoteUnavailable))

	_, err = remote.TagMembers(ctx, "org")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRemoteUnavailable))
}
