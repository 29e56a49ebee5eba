package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "tiercache/internal/common/errors"
)

// HealthState classifies the remote tier's availability.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthReport is the result of probing the remote tier.
type HealthReport struct {
	Status  HealthState   `json:"status"`
	Latency time.Duration `json:"latency,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Remote is the contract the shared cache tier must satisfy. Every call may
// fail; the service layer is responsible for degrading instead of surfacing
// those failures.
type Remote interface {
	// Get returns the entry for key, or (nil, nil) on a miss.
	Get(ctx context.Context, key string) (*Entry, error)
	// Set stores an entry under key with the entry's own TTL.
	Set(ctx context.Context, key string, entry *Entry) error
	// Del removes key.
	Del(ctx context.Context, key string) error
	// MGet returns one slot per requested key, position-aligned, nil on miss.
	MGet(ctx context.Context, keys []string) ([]*Entry, error)
	// MSet stores every entry in one round trip.
	MSet(ctx context.Context, entries map[string]*Entry) error
	// FlushPattern removes every key matching pattern and returns the count.
	FlushPattern(ctx context.Context, pattern string) (int, error)
	// AddTagMember registers key under the tag index. Duplicate registrations
	// are tolerated.
	AddTagMember(ctx context.Context, tag, key string) error
	// TagMembers returns every key registered under tag.
	TagMembers(ctx context.Context, tag string) ([]string, error)
	// DropTag removes the tag index entry itself.
	DropTag(ctx context.Context, tag string) error
	// Health probes the tier.
	Health(ctx context.Context) HealthReport
}

// tagKey is where the tag index lives inside the remote tier.
func tagKey(tag string) string {
	return "tags:" + tag
}

// degradedLatency is the ping round-trip above which the remote tier is
// reported degraded rather than healthy.
const degradedLatency = 100 * time.Millisecond

// RedisRemote implements Remote over a Redis connection. Entries are stored
// as JSON envelopes under their canonical keys with Redis-native TTLs; the
// tag index is a set per tag under tags:{tag}, so duplicate registrations
// collapse by construction.
type RedisRemote struct {
	rdb *redis.Client
}

// NewRedisRemote creates a Redis-backed remote tier.
func NewRedisRemote(rdb *redis.Client) *RedisRemote {
	return &RedisRemote{rdb: rdb}
}

// Get retrieves and decodes an entry. A payload that fails to decode is
// discarded and reported as a serialization error; the caller treats it as a
// miss.
func (r *RedisRemote) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.RemoteUnavailableError("redis get failed", err).WithContext("key", key)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt payload: drop it so the next read is a clean miss.
		r.rdb.Del(ctx, key)
		return nil, apperrors.SerializationError("malformed cached payload", err).WithContext("key", key)
	}
	return &entry, nil
}

// Set stores an entry with its own TTL.
func (r *RedisRemote) Set(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return apperrors.SerializationError("failed to encode entry", err).WithContext("key", key)
	}

	if err := r.rdb.Set(ctx, key, data, entry.TTL()).Err(); err != nil {
		return apperrors.RemoteUnavailableError("redis set failed", err).WithContext("key", key)
	}
	return nil
}

// Del removes a key.
func (r *RedisRemote) Del(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return apperrors.RemoteUnavailableError("redis del failed", err).WithContext("key", key)
	}
	return nil
}

// MGet fetches a batch of keys in one round trip. Slots holding missing or
// undecodable payloads come back nil.
func (r *RedisRemote) MGet(ctx context.Context, keys []string) ([]*Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.RemoteUnavailableError("redis mget failed", err)
	}

	entries := make([]*Entry, len(keys))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries[i] = &entry
	}
	return entries, nil
}

// MSet stores a batch of entries through one pipeline. Redis MSET has no
// per-key TTL, so this pipelines individual SETs instead.
func (r *RedisRemote) MSet(ctx context.Context, entries map[string]*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := r.rdb.Pipeline()
	for key, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return apperrors.SerializationError("failed to encode entry", err).WithContext("key", key)
		}
		pipe.Set(ctx, key, data, entry.TTL())
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.RemoteUnavailableError("redis mset failed", err)
	}
	return nil
}

// FlushPattern scans for every key matching pattern and deletes them,
// returning how many were removed.
func (r *RedisRemote) FlushPattern(ctx context.Context, pattern string) (int, error) {
	iter := r.rdb.Scan(ctx, 0, pattern, 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, apperrors.RemoteUnavailableError("redis scan failed", err).WithContext("pattern", pattern)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, apperrors.RemoteUnavailableError("redis del failed", err).WithContext("pattern", pattern)
	}
	return len(keys), nil
}

// AddTagMember adds a key to the tag's index set.
func (r *RedisRemote) AddTagMember(ctx context.Context, tag, key string) error {
	if err := r.rdb.SAdd(ctx, tagKey(tag), key).Err(); err != nil {
		return apperrors.RemoteUnavailableError("redis sadd failed", err).WithContext("tag", tag)
	}
	return nil
}

// TagMembers lists every key registered under a tag.
func (r *RedisRemote) TagMembers(ctx context.Context, tag string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, tagKey(tag)).Result()
	if err != nil {
		return nil, apperrors.RemoteUnavailableError("redis smembers failed", err).WithContext("tag", tag)
	}
	return members, nil
}

// DropTag removes the tag's index set.
func (r *RedisRemote) DropTag(ctx context.Context, tag string) error {
	if err := r.rdb.Del(ctx, tagKey(tag)).Err(); err != nil {
		return apperrors.RemoteUnavailableError("redis del failed", err).WithContext("tag", tag)
	}
	return nil
}

// Health pings the server and grades the round trip.
func (r *RedisRemote) Health(ctx context.Context) HealthReport {
	start := time.Now()
	err := r.rdb.Ping(ctx).Err()
	latency := time.Since(start)

	if err != nil {
		return HealthReport{Status: HealthUnhealthy, Latency: latency, Error: err.Error()}
	}
	if latency > degradedLatency {
		return HealthReport{Status: HealthDegraded, Latency: latency}
	}
	return HealthReport{Status: HealthHealthy, Latency: latency}
}
