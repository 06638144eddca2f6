package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/spf13/viper"
)

// Config represents the complete DittoVault configuration.
//
// This structure captures all configurable aspects of a node including:
//   - Logging configuration
//   - Node-wide settings (shutdown, checkpoint cadence)
//   - Node identity and trusted principals
//   - Snapshot storage selection
//   - Shard host limits and blob backend selection (backend-specific)
//   - Asset store cleanup bounds
//   - Orphan collection
//   - Metrics endpoint
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOVAULT_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each blob backend defines its own configuration type. The Backend section
// carries type-specific maps (e.g., shards.backend.s3) and only the map
// matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains node-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Identity names the node principal and the trusted callers
	Identity IdentityConfig `mapstructure:"identity"`

	// Snapshots selects where node state is persisted
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`

	// Shards configures the shard host and its blob backend
	Shards ShardsConfig `mapstructure:"shards"`

	// Assets configures the asset metadata store
	Assets AssetsConfig `mapstructure:"assets"`

	// GC configures orphan chunk collection
	GC GCConfig `mapstructure:"gc"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains node-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// SnapshotInterval is how often state is checkpointed (0 = shutdown only)
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" validate:"gte=0"`
}

// IdentityConfig names the node's principals.
type IdentityConfig struct {
	// Service is the node principal in text form. When empty, an opaque
	// principal is derived from ServiceName.
	Service string `mapstructure:"service"`

	// ServiceName seeds the derived node principal
	ServiceName string `mapstructure:"service_name" validate:"required"`

	// Trusted lists principals allowed through admin-only operations
	Trusted []string `mapstructure:"trusted" validate:"dive,required"`
}

// ServicePrincipal returns the configured or derived node principal.
func (c IdentityConfig) ServicePrincipal() (identity.Principal, error) {
	if c.Service == "" {
		return identity.Opaque([]byte(c.ServiceName)), nil
	}
	p, err := identity.Parse(c.Service)
	if err != nil {
		return "", fmt.Errorf("identity.service: %w", err)
	}
	if p.IsAnonymous() {
		return "", fmt.Errorf("identity.service: anonymous principal cannot be the node identity")
	}
	return p, nil
}

// TrustedPrincipals parses the trusted list.
func (c IdentityConfig) TrustedPrincipals() ([]identity.Principal, error) {
	out := make([]identity.Principal, 0, len(c.Trusted))
	for i, text := range c.Trusted {
		p, err := identity.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("identity.trusted[%d]: %w", i, err)
		}
		if p.IsAnonymous() {
			return nil, fmt.Errorf("identity.trusted[%d]: anonymous principal cannot be trusted", i)
		}
		out = append(out, p)
	}
	return out, nil
}

// SnapshotsConfig selects the snapshot storage.
type SnapshotsConfig struct {
	// Type specifies the snapshot storage implementation
	// Valid values: memory, filesystem, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory filesystem badger"`

	// Path is the snapshot directory (filesystem) or database directory
	// (badger). Unused for memory.
	Path string `mapstructure:"path"`
}

// ShardsConfig configures the shard host.
type ShardsConfig struct {
	// Backend selects the blob backend of every shard
	Backend BackendConfig `mapstructure:"backend"`

	// CapacityBytes is the storage granted to each provisioned shard
	CapacityBytes uint64 `mapstructure:"capacity_bytes" validate:"gt=0"`

	// MaxShards caps the units on this host (0 = unlimited)
	MaxShards int `mapstructure:"max_shards" validate:"gte=0"`

	// ProvisionRate limits shard allocations per second (0 = unlimited)
	ProvisionRate float64 `mapstructure:"provision_rate" validate:"gte=0"`

	// ProvisionBurst is the allocation burst size
	ProvisionBurst uint `mapstructure:"provision_burst"`

	// InstallPayload is an optional path to a shard manifest file. When
	// empty, the built-in manifest is used.
	InstallPayload string `mapstructure:"install_payload"`
}

// BackendConfig specifies blob backend configuration.
//
// The Type field determines which backend implementation is used.
// Only the corresponding type-specific configuration section is used.
type BackendConfig struct {
	// Type specifies which blob backend to use
	// Valid values: memory, filesystem, s3, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory filesystem s3 badger"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// AssetsConfig configures the asset metadata store.
type AssetsConfig struct {
	// CleanupTimeout bounds chunk cleanup after a re-upload or tree delete
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout" validate:"gt=0"`
}

// GCConfig configures orphan chunk collection.
type GCConfig struct {
	// Enabled runs the collector in the background
	Enabled bool `mapstructure:"enabled"`

	// Interval between collections
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`

	// MinAge is how old an unreferenced chunk must be before collection
	MinAge time.Duration `mapstructure:"min_age" validate:"gt=0"`

	// BatchSize is how many chunks are deleted per shard call
	BatchSize int `mapstructure:"batch_size" validate:"gt=0"`

	// DryRun logs what would be deleted without deleting
	DryRun bool `mapstructure:"dry_run"`

	// Reconcile also removes backend blobs missing from a shard index
	Reconcile bool `mapstructure:"reconcile"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Enabled exposes Prometheus metrics
	Enabled bool `mapstructure:"enabled"`

	// Port for the metrics and health HTTP server
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOVAULT_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOVAULT_ prefix and underscores
	// Example: DITTOVAULT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about
	for _, key := range []string{
		"logging.level",
		"logging.format",
		"logging.output",
		"server.shutdown_timeout",
		"server.snapshot_interval",
		"identity.service",
		"identity.service_name",
		"snapshots.type",
		"snapshots.path",
		"shards.backend.type",
		"shards.capacity_bytes",
		"shards.max_shards",
		"gc.enabled",
		"gc.dry_run",
		"metrics.enabled",
		"metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittovault/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing file is acceptable - use defaults
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittovault")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittovault")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
