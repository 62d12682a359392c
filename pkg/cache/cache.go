// Package cache provides generic, thread-safe cache implementations used by
// the template loader and other components that memoize parsed artifacts.
//
// Two cache types are offered:
//   - Simple: no eviction policy (stores items until explicitly invalidated)
//   - TTL: Time-To-Live eviction based on expiry
//
// All implementations are thread-safe with built-in statistics and optional
// Prometheus metrics via functional options.
package cache

import (
	"github.com/simbuilder/servicebus/errors"
)

// Cache represents a generic cache interface that all implementations satisfy.
// The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was
	// created, false if an existing one was updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Keys returns a slice of all keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close shuts down the cache and releases any background resources.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
