// Package metrics provides Prometheus metrics collection for DittoVault
// components.
//
// All metrics are optional: if the registry is not initialized, constructors
// return no-op implementations with zero overhead, so the node runs the same
// with or without metrics enabled.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	storeMetrics := metrics.NewStoreMetrics()
//	blobMetrics := metrics.NewBlobMetrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dittovault"

var (
	// registry is the global Prometheus registry for all DittoVault metrics.
	// Protected by registryOnce for write-once, read-many access.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry and registers the
// Go runtime and process collectors.
//
// This must be called before creating any metrics instances. It's safe to call
// multiple times; subsequent calls are ignored.
//
// If not called, GetRegistry() returns nil and every constructor returns a
// no-op implementation.
//
// Thread safety:
// sync.Once provides the memory barrier that makes the registry write visible
// to all subsequent reads.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics are
// disabled.
//
// Thread safety:
// Safe to call concurrently. The sync.Once in InitRegistry() provides the
// happens-before relationship that makes the registry value visible.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
//
// Metrics are enabled once InitRegistry() has been called, which
// config.InitializeMetrics does when metrics.enabled is set.
func IsEnabled() bool {
	return GetRegistry() != nil
}
