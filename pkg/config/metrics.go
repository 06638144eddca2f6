package config

import (
	"context"

	"github.com/marmos91/dittovault/pkg/metrics"
	"github.com/marmos91/dittovault/pkg/store/blob"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// StoreMetrics is shared by the node components (never nil, uses noop if disabled)
	StoreMetrics metrics.StoreMetrics

	// BlobMetrics is passed to blob backends (nil if disabled)
	BlobMetrics blob.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns no-op metrics implementations (zero overhead)
//
// Parameters:
//   - cfg: The complete DittoVault configuration
//
// Returns:
//   - MetricsResult containing all metrics components
func InitializeMetrics(cfg *Config) *MetricsResult {
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	return &MetricsResult{
		StoreMetrics: metrics.NewStoreMetrics(),
		BlobMetrics:  metrics.NewBlobMetrics(),
	}
}

// CreateMetricsServer returns the HTTP server for /metrics and /healthz, or
// nil when metrics are disabled.
func CreateMetricsServer(cfg *Config, health func(ctx context.Context) error) *metrics.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewServer(metrics.ServerConfig{
		Port:   cfg.Metrics.Port,
		Health: health,
	})
}
