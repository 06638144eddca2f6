package config

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/dittovault/internal/logger"
	"github.com/marmos91/dittovault/pkg/gc"
	"github.com/marmos91/dittovault/pkg/metrics"
	"github.com/marmos91/dittovault/pkg/server"
	"github.com/marmos91/dittovault/pkg/shard"
	"github.com/marmos91/dittovault/pkg/snapshot"
	"github.com/marmos91/dittovault/pkg/store/blob"
	blobbadger "github.com/marmos91/dittovault/pkg/store/blob/badger"
	blobfs "github.com/marmos91/dittovault/pkg/store/blob/fs"
	blobmemory "github.com/marmos91/dittovault/pkg/store/blob/memory"
	blobs3 "github.com/marmos91/dittovault/pkg/store/blob/s3"
	"github.com/mitchellh/mapstructure"
)

// Backend is a blob backend factory plus the shared resources it holds.
type Backend struct {
	// Factory creates the blob store of one shard
	Factory blob.Factory

	// Type is the configured backend type
	Type string

	closeFn func() error
}

// Close releases shared resources such as a BadgerDB handle.
func (b *Backend) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// CreateBackend creates the blob backend factory based on configuration.
//
// This factory function uses the Type field to determine which backend
// implementation to create, then decodes the type-specific configuration from
// the corresponding map.
//
// Supported types:
//   - "memory": Uses pkg/store/blob/memory (ephemeral)
//   - "filesystem": Uses pkg/store/blob/fs (one directory per shard)
//   - "s3": Uses pkg/store/blob/s3 (one key prefix per shard in a bucket)
//   - "badger": Uses pkg/store/blob/badger (one key prefix per shard in a database)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Backend configuration
//   - blobMetrics: Optional backend metrics (nil = no metrics)
//
// Returns:
//   - *Backend: Factory and shared resources
//   - error: Configuration or initialization error
func CreateBackend(ctx context.Context, cfg *BackendConfig, blobMetrics blob.Metrics) (*Backend, error) {
	switch cfg.Type {
	case "memory":
		return &Backend{Type: cfg.Type, Factory: blobmemory.Factory()}, nil
	case "filesystem":
		return createFilesystemBackend(cfg.Filesystem)
	case "s3":
		return createS3Backend(ctx, cfg.S3, blobMetrics)
	case "badger":
		return createBadgerBackend(cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown blob backend type: %q", cfg.Type)
	}
}

// createFilesystemBackend creates a filesystem-based backend.
func createFilesystemBackend(options map[string]any) (*Backend, error) {
	type FilesystemBackendConfig struct {
		Path string `mapstructure:"path"`
	}

	var backendCfg FilesystemBackendConfig
	if err := mapstructure.Decode(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem backend config: %w", err)
	}

	if backendCfg.Path == "" {
		return nil, fmt.Errorf("filesystem backend: path is required")
	}
	if err := os.MkdirAll(backendCfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("filesystem backend: %w", err)
	}

	return &Backend{Type: "filesystem", Factory: blobfs.Factory(backendCfg.Path)}, nil
}

// createS3Backend creates an S3-based backend.
func createS3Backend(ctx context.Context, options map[string]any, blobMetrics blob.Metrics) (*Backend, error) {
	type S3BackendConfig struct {
		blobs3.ClientConfig `mapstructure:",squash"`

		Bucket    string `mapstructure:"bucket"`
		KeyPrefix string `mapstructure:"key_prefix"`
	}

	var backendCfg S3BackendConfig
	if err := mapstructure.Decode(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 backend config: %w", err)
	}

	if backendCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 backend: bucket is required")
	}
	if backendCfg.Region == "" {
		return nil, fmt.Errorf("S3 backend: region is required")
	}

	client, err := blobs3.NewClientFromConfig(ctx, backendCfg.ClientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	logger.Info("S3 blob backend: bucket=%s prefix=%q endpoint=%q", backendCfg.Bucket, backendCfg.KeyPrefix, backendCfg.Endpoint)
	return &Backend{
		Type:    "s3",
		Factory: blobs3.Factory(client, backendCfg.Bucket, backendCfg.KeyPrefix, blobMetrics),
	}, nil
}

// createBadgerBackend opens one BadgerDB shared by every shard.
func createBadgerBackend(options map[string]any) (*Backend, error) {
	var backendCfg blobbadger.Config
	if err := mapstructure.Decode(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger backend config: %w", err)
	}

	db, err := blobbadger.Open(backendCfg)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Type:    "badger",
		Factory: blobbadger.Factory(db),
		closeFn: db.Close,
	}, nil
}

// CreateSnapshotStorage creates the snapshot storage based on configuration.
//
// Supported types:
//   - "memory": state is lost on exit
//   - "filesystem": one file per snapshot kind under Path
//   - "badger": one key per snapshot kind in a database at Path
func CreateSnapshotStorage(cfg *SnapshotsConfig) (snapshot.Storage, error) {
	switch cfg.Type {
	case "memory":
		logger.Warn("Snapshot storage is in memory: node state will not survive a restart")
		return snapshot.NewMemoryStorage(), nil
	case "filesystem":
		return snapshot.NewFileStorage(cfg.Path)
	case "badger":
		return snapshot.OpenBadgerStorage(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown snapshot storage type: %q", cfg.Type)
	}
}

// LoadInstallPayload returns the shard manifest bytes. An empty path yields
// the built-in manifest. The file is checked with shard.ParseManifest.
func LoadInstallPayload(path string) ([]byte, error) {
	if path == "" {
		return shard.DefaultManifest(), nil
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read install payload: %w", err)
	}
	if _, err := shard.ParseManifest(payload); err != nil {
		return nil, fmt.Errorf("install payload %s: %w", path, err)
	}
	return payload, nil
}

// NodeConfig translates the file configuration into a server.Config.
//
// Parameters:
//   - cfg: The complete DittoVault configuration
//   - backend: Blob backend created by CreateBackend
//   - storage: Snapshot storage created by CreateSnapshotStorage (nil disables persistence)
//   - storeMetrics: Component metrics (nil = no metrics)
func NodeConfig(cfg *Config, backend *Backend, storage snapshot.Storage, storeMetrics metrics.StoreMetrics) (server.Config, error) {
	service, err := cfg.Identity.ServicePrincipal()
	if err != nil {
		return server.Config{}, err
	}
	trusted, err := cfg.Identity.TrustedPrincipals()
	if err != nil {
		return server.Config{}, err
	}
	payload, err := LoadInstallPayload(cfg.Shards.InstallPayload)
	if err != nil {
		return server.Config{}, err
	}

	return server.Config{
		Service:          service,
		Trusted:          trusted,
		Backends:         backend.Factory,
		Snapshots:        storage,
		SnapshotInterval: cfg.Server.SnapshotInterval,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
		MaxShards:        cfg.Shards.MaxShards,
		ProvisionRate:    cfg.Shards.ProvisionRate,
		ProvisionBurst:   cfg.Shards.ProvisionBurst,
		CapacityBytes:    cfg.Shards.CapacityBytes,
		InstallPayload:   payload,
		CleanupTimeout:   cfg.Assets.CleanupTimeout,
		GC: gc.Config{
			Enabled:   cfg.GC.Enabled,
			Interval:  cfg.GC.Interval,
			MinAge:    cfg.GC.MinAge,
			BatchSize: cfg.GC.BatchSize,
			DryRun:    cfg.GC.DryRun,
			Reconcile: cfg.GC.Reconcile,
		},
		Metrics: storeMetrics,
	}, nil
}
