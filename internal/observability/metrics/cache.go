// Package metrics provides custom Prometheus metrics for the offline cache layers.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics covers tier lookups, strategy outcomes, persistent store
// failures and image caching. All methods are safe on a nil receiver so
// components can run without metrics.
type CacheMetrics struct {
	tierLookups      *prometheus.CounterVec
	strategyOutcomes *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
	imageCache       *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewCacheMetrics creates and registers the cache metrics.
func NewCacheMetrics(registry *prometheus.Registry) (*CacheMetrics, error) {
	m := &CacheMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register cache metrics: %w", err)
	}
	return m, nil
}

func (m *CacheMetrics) initMetrics() {
	m.tierLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storykeep_tier_lookups_total",
			Help: "Cache tier lookups by tier and result.",
		},
		[]string{"tier", "result"}, // result: hit, miss
	)

	m.strategyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storykeep_strategy_outcomes_total",
			Help: "Intercepted requests by request class and how they were answered.",
		},
		[]string{"class", "outcome"}, // outcome: network, cache, offline, error
	)

	m.storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storykeep_store_errors_total",
			Help: "Persistent store failures by operation.",
		},
		[]string{"operation"},
	)

	m.imageCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storykeep_image_cache_total",
			Help: "Image caching attempts by result.",
		},
		[]string{"result"}, // result: stored, failed, skipped
	)
}

// RecordTierLookup counts a tier lookup.
func (m *CacheMetrics) RecordTierLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := LabelMiss
	if hit {
		result = LabelHit
	}
	m.tierLookups.WithLabelValues(tier, result).Inc()
}

// RecordStrategy counts how an intercepted request was answered.
func (m *CacheMetrics) RecordStrategy(class, outcome string) {
	if m == nil {
		return
	}
	m.strategyOutcomes.WithLabelValues(class, outcome).Inc()
}

// RecordStoreError counts a failed persistent store operation.
func (m *CacheMetrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}

// RecordImageCache counts an image caching attempt.
func (m *CacheMetrics) RecordImageCache(result string) {
	if m == nil {
		return
	}
	m.imageCache.WithLabelValues(result).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *CacheMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.tierLookups.Describe(ch)
	m.strategyOutcomes.Describe(ch)
	m.storeErrors.Describe(ch)
	m.imageCache.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *CacheMetrics) Collect(ch chan<- prometheus.Metric) {
	m.tierLookups.Collect(ch)
	m.strategyOutcomes.Collect(ch)
	m.storeErrors.Collect(ch)
	m.imageCache.Collect(ch)
}
