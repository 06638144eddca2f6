package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LogLevelNormalized(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.SnapshotInterval != 0 {
		t.Errorf("Expected snapshot interval to stay 0, got %v", cfg.Server.SnapshotInterval)
	}
}

func TestApplyDefaults_Snapshots(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Snapshots.Type != "filesystem" {
		t.Errorf("Expected default snapshot type 'filesystem', got %q", cfg.Snapshots.Type)
	}
	if cfg.Snapshots.Path == "" {
		t.Error("Expected default snapshot path")
	}

	mem := &Config{Snapshots: SnapshotsConfig{Type: "memory"}}
	ApplyDefaults(mem)
	if mem.Snapshots.Path != "" {
		t.Errorf("Expected no path for memory snapshots, got %q", mem.Snapshots.Path)
	}
}

func TestApplyDefaults_Shards(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Shards.Backend.Type != "filesystem" {
		t.Errorf("Expected default backend type 'filesystem', got %q", cfg.Shards.Backend.Type)
	}
	if cfg.Shards.CapacityBytes != 2<<30 {
		t.Errorf("Expected default capacity 2GiB, got %d", cfg.Shards.CapacityBytes)
	}
	if cfg.Shards.ProvisionBurst != 1 {
		t.Errorf("Expected default burst 1, got %d", cfg.Shards.ProvisionBurst)
	}

	// Backend maps
	if cfg.Shards.Backend.Filesystem == nil || cfg.Shards.Backend.S3 == nil || cfg.Shards.Backend.Badger == nil {
		t.Fatal("Expected backend maps to be initialized")
	}
	if path := cfg.Shards.Backend.Filesystem["path"]; path != "/tmp/dittovault/shards" {
		t.Errorf("Expected default filesystem path '/tmp/dittovault/shards', got %v", path)
	}
	if path := cfg.Shards.Backend.Badger["db_path"]; path != "/tmp/dittovault/blobs" {
		t.Errorf("Expected default badger path '/tmp/dittovault/blobs', got %v", path)
	}
}

func TestApplyDefaults_GC(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.GC.Enabled {
		t.Error("Expected gc to stay disabled")
	}
	if cfg.GC.Interval != time.Hour {
		t.Errorf("Expected default interval 1h, got %v", cfg.GC.Interval)
	}
	if cfg.GC.MinAge != time.Hour {
		t.Errorf("Expected default min_age 1h, got %v", cfg.GC.MinAge)
	}
	if cfg.GC.BatchSize != 1000 {
		t.Errorf("Expected default batch size 1000, got %d", cfg.GC.BatchSize)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{ShutdownTimeout: 5 * time.Second},
		Shards: ShardsConfig{
			CapacityBytes: 1024,
			Backend: BackendConfig{
				Type:       "memory",
				Filesystem: map[string]any{"path": "/data/shards"},
			},
		},
		Assets:  AssetsConfig{CleanupTimeout: time.Second},
		GC:      GCConfig{BatchSize: 10},
		Metrics: MetricsConfig{Port: 8080},
	}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout 5s to be preserved, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Shards.CapacityBytes != 1024 {
		t.Errorf("Expected capacity 1024 to be preserved, got %d", cfg.Shards.CapacityBytes)
	}
	if cfg.Shards.Backend.Type != "memory" {
		t.Errorf("Expected backend type 'memory' to be preserved, got %q", cfg.Shards.Backend.Type)
	}
	if cfg.Shards.Backend.Filesystem["path"] != "/data/shards" {
		t.Errorf("Expected filesystem path to be preserved, got %v", cfg.Shards.Backend.Filesystem["path"])
	}
	if cfg.Assets.CleanupTimeout != time.Second {
		t.Errorf("Expected cleanup timeout 1s to be preserved, got %v", cfg.Assets.CleanupTimeout)
	}
	if cfg.GC.BatchSize != 10 {
		t.Errorf("Expected batch size 10 to be preserved, got %d", cfg.GC.BatchSize)
	}
	if cfg.Metrics.Port != 8080 {
		t.Errorf("Expected port 8080 to be preserved, got %d", cfg.Metrics.Port)
	}
}
