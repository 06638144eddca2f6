package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittovault/pkg/directory"
	"github.com/marmos91/dittovault/pkg/store/metadata"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by backend implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyIdentityDefaults(&cfg.Identity)
	applySnapshotsDefaults(&cfg.Snapshots)
	applyShardsDefaults(&cfg.Shards)
	applyAssetsDefaults(&cfg.Assets)
	applyGCDefaults(&cfg.GC)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	// SnapshotInterval 0 means checkpoint on shutdown only
}

func applyIdentityDefaults(cfg *IdentityConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dittovault"
	}
	if cfg.Trusted == nil {
		cfg.Trusted = []string{}
	}
}

func applySnapshotsDefaults(cfg *SnapshotsConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}
	if cfg.Path == "" && cfg.Type != "memory" {
		cfg.Path = "/tmp/dittovault/snapshots"
	}
}

// applyShardsDefaults sets shard host and backend defaults.
func applyShardsDefaults(cfg *ShardsConfig) {
	if cfg.CapacityBytes == 0 {
		cfg.CapacityBytes = directory.DefaultCapacityBytes
	}
	if cfg.ProvisionBurst == 0 {
		cfg.ProvisionBurst = 1
	}

	backend := &cfg.Backend
	if backend.Type == "" {
		backend.Type = "filesystem"
	}

	// Initialize maps if nil
	if backend.Filesystem == nil {
		backend.Filesystem = make(map[string]any)
	}
	if backend.S3 == nil {
		backend.S3 = make(map[string]any)
	}
	if backend.Badger == nil {
		backend.Badger = make(map[string]any)
	}

	// Apply defaults for all backend types (for config file generation)
	if _, ok := backend.Filesystem["path"]; !ok {
		backend.Filesystem["path"] = "/tmp/dittovault/shards"
	}
	if _, ok := backend.Badger["db_path"]; !ok {
		backend.Badger["db_path"] = "/tmp/dittovault/blobs"
	}
}

func applyAssetsDefaults(cfg *AssetsConfig) {
	if cfg.CleanupTimeout == 0 {
		cfg.CleanupTimeout = metadata.DefaultCleanupTimeout
	}
}

// applyGCDefaults sets collector defaults. Enabled stays false unless set.
func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MinAge == 0 {
		cfg.MinAge = time.Hour
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
