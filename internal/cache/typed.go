package cache

import (
	"context"
	"encoding/json"

	apperrors "tiercache/internal/common/errors"
)

// The facade stores type-erased JSON payloads; these package-level generic
// functions are the statically-typed access path callers are expected to use.

// Get returns the cached value for namespace/key decoded as T. A payload
// that does not decode as T is treated as a miss.
func Get[T any](ctx context.Context, s *Service, namespace, key string) (T, bool) {
	var value T

	data, ok := s.Get(ctx, namespace, key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false
	}
	return value, true
}

// GetOrSet is the typed cache-aside read: a hit decodes and returns the
// cached value without invoking fetch; a miss invokes fetch, caches the
// result, and returns it. Fetch errors propagate uncaught.
func GetOrSet[T any](ctx context.Context, s *Service, namespace, key string, fetch func(ctx context.Context) (T, error), strategy Strategy) (T, error) {
	var value T

	data, err := s.GetOrSet(ctx, namespace, key, func(ctx context.Context) (interface{}, error) {
		return fetch(ctx)
	}, strategy)
	if err != nil {
		return value, err
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return value, apperrors.SerializationError("failed to decode cached value", err).
			WithContext("key", Key(namespace, key))
	}
	return value, nil
}

// Refresh is the typed refresh-ahead read: fetch always runs first; its
// failure falls back to any cached value, and propagates only when no cached
// value exists.
func Refresh[T any](ctx context.Context, s *Service, namespace, key string, fetch func(ctx context.Context) (T, error), strategy Strategy) (T, error) {
	var value T

	data, err := s.Refresh(ctx, namespace, key, func(ctx context.Context) (interface{}, error) {
		return fetch(ctx)
	}, strategy)
	if err != nil {
		return value, err
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return value, apperrors.SerializationError("failed to decode cached value", err).
			WithContext("key", Key(namespace, key))
	}
	return value, nil
}
