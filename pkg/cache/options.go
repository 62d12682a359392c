package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

// cacheOptions holds internal configuration for cache instances.
// Stats are always collected; Prometheus metrics are optional.
type cacheOptions[V any] struct {
	metricsReg    prometheus.Registerer
	metricsPrefix string
	evictCallback EvictCallback[V]
	statsInterval time.Duration
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registerer is nil or prefix is empty, this option is ignored.
func WithMetrics[V any](reg prometheus.Registerer, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if reg != nil && prefix != "" {
			opts.metricsReg = reg
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked when entries are evicted.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// applyOptions applies functional options to create final cache configuration.
func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		statsInterval: 30 * time.Second,
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
