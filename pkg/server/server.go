// Package server assembles a DittoVault node: the shard host, the identity
// directory and the asset store behind one authorization gate, with
// snapshot persistence and orphan collection.
//
// Lifecycle:
//  1. Creation: New() restores state from snapshot storage, or starts empty
//  2. Startup: Serve() starts the collector and the periodic checkpoint loop
//  3. Shutdown: context cancellation stops the loop and writes a final checkpoint
//  4. Release: Close() closes shard backends and snapshot storage
//
// Restore is all-or-nothing: a node never starts on partially restored
// state.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittovault/internal/logger"
	"github.com/marmos91/dittovault/pkg/auth"
	"github.com/marmos91/dittovault/pkg/directory"
	"github.com/marmos91/dittovault/pkg/gc"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/metrics"
	"github.com/marmos91/dittovault/pkg/shard"
	"github.com/marmos91/dittovault/pkg/snapshot"
	"github.com/marmos91/dittovault/pkg/store/blob"
	"github.com/marmos91/dittovault/pkg/store/metadata"
)

// Config wires a node.
type Config struct {
	// Service is the node's own principal. The directory uses it as shard
	// controller and the asset store and collector use it for trusted deletes.
	Service identity.Principal

	// Trusted lists additional principals the gate treats as admins.
	Trusted []identity.Principal

	// Backends creates the blob backend of each installed shard.
	Backends blob.Factory

	// Snapshots persists node state. Nil disables persistence.
	Snapshots snapshot.Storage

	// SnapshotInterval is the period of the checkpoint loop. Zero disables
	// periodic checkpoints; a final checkpoint is still written on shutdown.
	SnapshotInterval time.Duration

	// ShutdownTimeout bounds collector shutdown and the final checkpoint.
	// Default: 30s
	ShutdownTimeout time.Duration

	// Shard host limits.
	MaxShards      int
	ProvisionRate  float64
	ProvisionBurst uint

	// CapacityBytes is granted to each provisioned shard.
	CapacityBytes uint64

	// InstallPayload is the initial shard manifest. Defaults to
	// shard.DefaultManifest().
	InstallPayload []byte

	// CleanupTimeout bounds asset store cleanup fan-outs.
	CleanupTimeout time.Duration

	// GC configures the orphan collector.
	GC gc.Config

	// Metrics is optional.
	Metrics metrics.StoreMetrics
}

func (c *Config) applyDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.CapacityBytes == 0 {
		c.CapacityBytes = directory.DefaultCapacityBytes
	}
	if len(c.InstallPayload) == 0 {
		c.InstallPayload = shard.DefaultManifest()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNoopStoreMetrics()
	}
}

// Vault is a running node.
//
// Thread safety: the components are safe for concurrent use. Checkpoint
// calls are serialized. Serve must only be called once.
type Vault struct {
	cfg Config

	gate      *auth.Gate
	host      *shard.Host
	directory *directory.Directory
	assets    *metadata.Store
	collector *gc.Collector

	checkpointMu sync.Mutex
	serveOnce    sync.Once
	closeOnce    sync.Once
}

// New builds a node. When cfg.Snapshots holds state it is restored;
// otherwise the node starts empty.
//
// Returns an error if any snapshot fails to load or decode, or if the
// snapshots are incomplete or come from different checkpoints. A restore error is fatal: the caller must not
// start with an empty node in its place.
func New(ctx context.Context, cfg Config) (*Vault, error) {
	cfg.applyDefaults()

	if cfg.Service.IsZero() || cfg.Service.IsAnonymous() {
		return nil, fmt.Errorf("server: service principal is required")
	}
	if cfg.Backends == nil {
		return nil, fmt.Errorf("server: shard backend factory is required")
	}

	v := &Vault{
		cfg:  cfg,
		gate: auth.NewGate(cfg.Trusted...),
	}
	// The node's own principal drives shard provisioning and trusted deletes.
	v.gate.Trust(cfg.Service)

	images, err := v.loadImages(ctx)
	if err != nil {
		return nil, err
	}

	if err := v.build(ctx, images); err != nil {
		return nil, err
	}

	collector, err := gc.NewCollector(v.assets, v.host, cfg.GC, gc.Options{
		Service: cfg.Service,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		_ = v.host.Close()
		return nil, err
	}
	v.collector = collector

	return v, nil
}

// images holds the decoded snapshots. All fields are nil on a fresh node.
type images struct {
	shards    *shard.Image
	directory *directory.Image
	assets    *metadata.Image
}

func (v *Vault) loadImages(ctx context.Context) (*images, error) {
	if v.cfg.Snapshots == nil {
		return &images{}, nil
	}

	out := &images{}
	targets := map[snapshot.Kind]any{
		snapshot.KindShards:    &out.shards,
		snapshot.KindDirectory: &out.directory,
		snapshot.KindAssets:    &out.assets,
	}

	var (
		found, missing []snapshot.Kind
		createdAt      = make(map[snapshot.Kind]time.Time, len(snapshot.Kinds))
	)
	for _, kind := range snapshot.Kinds {
		data, err := v.cfg.Snapshots.Load(ctx, kind)
		if errors.Is(err, snapshot.ErrSnapshotNotFound) {
			missing = append(missing, kind)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s snapshot: %w", kind, err)
		}

		header, err := snapshot.Decode(data, kind, targets[kind])
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", kind, err)
		}
		logger.Info("Loaded %s snapshot: created=%s codec=%s size=%d",
			kind, header.CreatedAt.Format(time.RFC3339), header.Codec, header.PayloadSize)
		createdAt[kind] = header.CreatedAt
		found = append(found, kind)
	}

	if len(found) > 0 && len(missing) > 0 {
		return nil, fmt.Errorf("incomplete snapshot set: have %v, missing %v", found, missing)
	}

	if len(found) == 0 {
		logger.Info("No snapshots found, starting empty node")
		return out, nil
	}

	// A checkpoint stamps every kind with the same time. Differing stamps mean
	// a checkpoint stopped partway and the set mixes two generations.
	for _, kind := range found[1:] {
		if !createdAt[kind].Equal(createdAt[found[0]]) {
			return nil, fmt.Errorf("mixed snapshot set: %s created %s, %s created %s",
				found[0], createdAt[found[0]].Format(time.RFC3339Nano),
				kind, createdAt[kind].Format(time.RFC3339Nano))
		}
	}
	return out, nil
}

// build creates the components in dependency order: shards, then the
// directory that provisions them, then the asset store that cleans them up.
func (v *Vault) build(ctx context.Context, imgs *images) (err error) {
	hostCfg := shard.Config{
		Backends:       v.cfg.Backends,
		Gate:           v.gate,
		MaxShards:      v.cfg.MaxShards,
		ProvisionRate:  v.cfg.ProvisionRate,
		ProvisionBurst: v.cfg.ProvisionBurst,
		Metrics:        v.cfg.Metrics,
	}
	dirCfg := directory.Config{
		Service:        v.cfg.Service,
		Gate:           v.gate,
		CapacityBytes:  v.cfg.CapacityBytes,
		InstallPayload: v.cfg.InstallPayload,
		Metrics:        v.cfg.Metrics,
	}
	assetCfg := metadata.Config{
		Service:        v.cfg.Service,
		Gate:           v.gate,
		CleanupTimeout: v.cfg.CleanupTimeout,
		Metrics:        v.cfg.Metrics,
	}

	// ===== Step 1: Shard host =====
	if imgs.shards != nil {
		v.host, err = shard.Restore(ctx, hostCfg, imgs.shards)
	} else {
		v.host, err = shard.NewHost(hostCfg)
	}
	if err != nil {
		return fmt.Errorf("restore shards: %w", err)
	}
	defer func() {
		if err != nil {
			_ = v.host.Close()
		}
	}()

	if imgs.shards != nil {
		if err := v.reconcileDurable(ctx); err != nil {
			return err
		}
	}

	// ===== Step 2: Directory =====
	dirCfg.Provisioner = v.host
	if imgs.directory != nil {
		v.directory, err = directory.Restore(ctx, dirCfg, imgs.directory)
	} else {
		v.directory, err = directory.New(dirCfg)
	}
	if err != nil {
		return fmt.Errorf("restore directory: %w", err)
	}

	// ===== Step 3: Asset store =====
	assetCfg.Shards = v.host
	if imgs.assets != nil {
		v.assets, err = metadata.Restore(ctx, assetCfg, imgs.assets)
	} else {
		v.assets, err = metadata.New(assetCfg)
	}
	if err != nil {
		return fmt.Errorf("restore assets: %w", err)
	}

	logger.Info("Node ready: shards=%d installed=%d used_bytes=%d",
		len(v.host.Units()), len(v.host.Stores()), v.host.UsedBytes())
	return nil
}

// reconcileDurable drops blobs a durable backend kept past the restored
// index, such as chunks uploaded after the last checkpoint.
func (v *Vault) reconcileDurable(ctx context.Context) error {
	for _, store := range v.host.Stores() {
		if !store.Backend().Durable() {
			continue
		}
		if _, err := store.Reconcile(ctx); err != nil {
			return fmt.Errorf("reconcile shard %s: %w", store.Address(), err)
		}
	}
	return nil
}

// Gate returns the node's authorization gate.
func (v *Vault) Gate() *auth.Gate { return v.gate }

// Host returns the shard host.
func (v *Vault) Host() *shard.Host { return v.host }

// Directory returns the identity directory.
func (v *Vault) Directory() *directory.Directory { return v.directory }

// Assets returns the asset metadata store.
func (v *Vault) Assets() *metadata.Store { return v.assets }

// Collector returns the orphan collector.
func (v *Vault) Collector() *gc.Collector { return v.collector }

// Health reports whether the node can serve. Used by the metrics /healthz
// endpoint.
func (v *Vault) Health(ctx context.Context) error {
	if v.host == nil || v.directory == nil || v.assets == nil {
		return fmt.Errorf("node not initialized")
	}
	return ctx.Err()
}

// Checkpoint writes a snapshot of every component. Components are captured
// in reverse restore order: assets before shards, so every chunk a captured
// asset references was uploaded before the shard index is captured. A no-op
// when persistence is disabled.
func (v *Vault) Checkpoint(ctx context.Context) error {
	if v.cfg.Snapshots == nil {
		return nil
	}

	v.checkpointMu.Lock()
	defer v.checkpointMu.Unlock()

	start := time.Now()
	defer func() {
		logger.Debug("Checkpoint finished in %v", time.Since(start))
	}()

	captured := make(map[snapshot.Kind]any, len(snapshot.Kinds))
	for i := len(snapshot.Kinds) - 1; i >= 0; i-- {
		kind := snapshot.Kinds[i]
		var (
			img any
			err error
		)
		switch kind {
		case snapshot.KindShards:
			img, err = v.host.Snapshot(ctx)
		case snapshot.KindDirectory:
			img, err = v.directory.Snapshot(ctx)
		case snapshot.KindAssets:
			img, err = v.assets.Snapshot(ctx)
		default:
			err = fmt.Errorf("unknown snapshot kind %q", kind)
		}
		if err != nil {
			return fmt.Errorf("capture %s: %w", kind, err)
		}
		captured[kind] = img
	}

	now := time.Now()
	for _, kind := range snapshot.Kinds {
		data, err := snapshot.Encode(kind, captured[kind], now)
		if err != nil {
			return err
		}
		if err := v.cfg.Snapshots.Save(ctx, kind, data); err != nil {
			return fmt.Errorf("save %s snapshot: %w", kind, err)
		}
	}

	v.cfg.Metrics.RecordEvent("server", "checkpoint")
	return nil
}

// Serve starts the collector and the checkpoint loop, and blocks until ctx
// is cancelled. On shutdown it stops the collector and writes a final
// checkpoint.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the final checkpoint fails or Serve was already called
func (v *Vault) Serve(ctx context.Context) error {
	err := errors.New("server: Serve already called")
	v.serveOnce.Do(func() {
		err = v.serve(ctx)
	})
	return err
}

func (v *Vault) serve(ctx context.Context) error {
	logger.Info("Starting DittoVault node")
	v.collector.Start()

	var tick <-chan time.Time
	if v.cfg.Snapshots != nil && v.cfg.SnapshotInterval > 0 {
		ticker := time.NewTicker(v.cfg.SnapshotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			if err := v.Checkpoint(ctx); err != nil {
				logger.Error("Periodic checkpoint failed: %v", err)
			}

		case <-ctx.Done():
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
			return v.shutdown()
		}
	}
}

func (v *Vault) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.ShutdownTimeout)
	defer cancel()

	if err := v.collector.Stop(ctx); err != nil {
		logger.Warn("Collector did not stop cleanly: %v", err)
	}

	if err := v.Checkpoint(ctx); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}

	logger.Info("DittoVault node stopped gracefully")
	return nil
}

// Close releases shard backends and snapshot storage. Safe to call more
// than once.
func (v *Vault) Close() error {
	var err error
	v.closeOnce.Do(func() {
		var errs []error
		if v.host != nil {
			errs = append(errs, v.host.Close())
		}
		if v.cfg.Snapshots != nil {
			errs = append(errs, v.cfg.Snapshots.Close())
		}
		err = errors.Join(errs...)
	})
	return err
}
