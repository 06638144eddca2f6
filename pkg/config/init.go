package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InitConfig writes a commented default configuration to the default
// location and returns its path.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns an error if the file exists and force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to path,
// creating parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as a YAML document with a comment
// above every section and option.
func generateYAMLWithComments(cfg *Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("config is nil")
	}

	var b strings.Builder
	w := func(format string, args ...any) {
		_, _ = fmt.Fprintf(&b, format, args...)
	}

	w("# DittoVault Configuration File\n")
	w("#\n")
	w("# Every option can be overridden with an environment variable:\n")
	w("#   DITTOVAULT_<SECTION>_<KEY>, e.g. DITTOVAULT_LOGGING_LEVEL=DEBUG\n\n")

	w("# Logging configuration\n")
	w("logging:\n")
	w("  # Minimum level: DEBUG, INFO, WARN, ERROR\n")
	w("  level: %q\n", cfg.Logging.Level)
	w("  # Output format: text or json\n")
	w("  format: %q\n", cfg.Logging.Format)
	w("  # stdout, stderr or a file path\n")
	w("  output: %q\n\n", cfg.Logging.Output)

	w("# Node-wide settings\n")
	w("server:\n")
	w("  # Maximum time to wait for graceful shutdown\n")
	w("  shutdown_timeout: %s\n", cfg.Server.ShutdownTimeout)
	w("  # Checkpoint period (0 = checkpoint on shutdown only)\n")
	w("  snapshot_interval: %s\n\n", cfg.Server.SnapshotInterval)

	w("# Node identity\n")
	w("identity:\n")
	w("  # Node principal in text form; derived from service_name when empty\n")
	w("  service: %q\n", cfg.Identity.Service)
	w("  service_name: %q\n", cfg.Identity.ServiceName)
	w("  # Principals allowed through admin-only operations\n")
	writeStringList(&b, "  trusted:", cfg.Identity.Trusted)
	w("\n")

	w("# Snapshot storage for node state\n")
	w("snapshots:\n")
	w("  # memory, filesystem or badger\n")
	w("  type: %q\n", cfg.Snapshots.Type)
	w("  path: %q\n\n", cfg.Snapshots.Path)

	w("# Shard host\n")
	w("shards:\n")
	w("  # Storage granted to each provisioned shard\n")
	w("  capacity_bytes: %d\n", cfg.Shards.CapacityBytes)
	w("  # Maximum units on this host (0 = unlimited)\n")
	w("  max_shards: %d\n", cfg.Shards.MaxShards)
	w("  # Allocations per second (0 = unlimited) and burst\n")
	w("  provision_rate: %g\n", cfg.Shards.ProvisionRate)
	w("  provision_burst: %d\n", cfg.Shards.ProvisionBurst)
	w("  # Optional path to a shard manifest; built-in manifest when empty\n")
	w("  install_payload: %q\n", cfg.Shards.InstallPayload)
	w("  # Blob backend of every shard\n")
	w("  backend:\n")
	w("    # memory, filesystem, s3 or badger\n")
	w("    type: %q\n", cfg.Shards.Backend.Type)
	w("    filesystem:\n")
	w("      path: %q\n", cfg.Shards.Backend.Filesystem["path"])
	w("    badger:\n")
	w("      db_path: %q\n", cfg.Shards.Backend.Badger["db_path"])
	w("    # s3:\n")
	w("    #   region: \"us-east-1\"\n")
	w("    #   bucket: \"dittovault\"\n")
	w("    #   key_prefix: \"shards/\"\n")
	w("    #   endpoint: \"http://localhost:9000\"\n")
	w("    #   access_key_id: \"\"\n")
	w("    #   secret_access_key: \"\"\n\n")

	w("# Asset metadata store\n")
	w("assets:\n")
	w("  # Bound on chunk cleanup after a re-upload or tree delete\n")
	w("  cleanup_timeout: %s\n\n", cfg.Assets.CleanupTimeout)

	w("# Orphan chunk collection\n")
	w("gc:\n")
	w("  enabled: %t\n", cfg.GC.Enabled)
	w("  interval: %s\n", cfg.GC.Interval)
	w("  # Unreferenced chunks younger than this are kept\n")
	w("  min_age: %s\n", cfg.GC.MinAge)
	w("  batch_size: %d\n", cfg.GC.BatchSize)
	w("  dry_run: %t\n", cfg.GC.DryRun)
	w("  # Also remove backend blobs missing from a shard index\n")
	w("  reconcile: %t\n\n", cfg.GC.Reconcile)

	w("# Prometheus metrics and health endpoint\n")
	w("metrics:\n")
	w("  enabled: %t\n", cfg.Metrics.Enabled)
	w("  port: %d\n", cfg.Metrics.Port)

	return b.String(), nil
}

func writeStringList(b *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		_, _ = fmt.Fprintf(b, "%s []\n", key)
		return
	}
	_, _ = fmt.Fprintf(b, "%s\n", key)
	for _, v := range values {
		_, _ = fmt.Fprintf(b, "    - %q\n", v)
	}
}
