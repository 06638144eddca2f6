// Package gc reclaims orphaned chunks.
//
// A chunk is orphaned when no asset references it. This happens when:
//   - A cleanup call after a re-upload or tree delete failed or timed out
//   - A client uploaded chunks and never committed an asset for them
//   - A durable backend holds blobs written after the last snapshot
//
// Chunks younger than MinAge are never collected: clients upload chunks
// before the asset that references them is written.
package gc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittovault/internal/logger"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/metrics"
	"github.com/marmos91/dittovault/pkg/store/chunk"
	"github.com/marmos91/dittovault/pkg/store/metadata"
)

const component = "gc"

// References reports every chunk referenced by an asset, per shard.
type References interface {
	ChunkReferences() map[chunk.Address]map[metadata.ChunkKey]struct{}
}

// Shards lists the installed chunk stores.
type Shards interface {
	Stores() []*chunk.Store
}

// Collector performs periodic garbage collection on chunk shards.
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
type Collector struct {
	refs    References
	shards  Shards
	service identity.Principal
	config  Config
	metrics metrics.StoreMetrics
	now     func() time.Time

	runMu     sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether background collection runs (default: false)
	Enabled bool

	// Interval is how often to run garbage collection (default: 1h)
	Interval time.Duration

	// MinAge is the minimum age of an unreferenced chunk before it is
	// collected (default: 1h)
	MinAge time.Duration

	// BatchSize is how many chunk ids are deleted per shard call (default: 1000)
	BatchSize int

	// DryRun logs what would be deleted without deleting (default: false)
	DryRun bool

	// Reconcile also removes backend blobs missing from a shard's index
	Reconcile bool
}

// Options carries the collaborators of a Collector.
type Options struct {
	// Service is the principal used for trusted deletes.
	Service identity.Principal

	// Metrics is optional.
	Metrics metrics.StoreMetrics

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewCollector creates a collector. Call Start to run it in the background.
//
// Parameters:
//   - refs: Source of referenced chunks (the asset store)
//   - shards: Source of chunk stores to scan (the shard host)
//   - config: Garbage collection configuration
//   - opts: Service principal, metrics and clock
func NewCollector(refs References, shards Shards, config Config, opts Options) (*Collector, error) {
	if refs == nil || shards == nil {
		return nil, fmt.Errorf("gc: references and shards are required")
	}
	if opts.Service.IsZero() || opts.Service.IsAnonymous() {
		return nil, fmt.Errorf("gc: service principal is required")
	}

	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.MinAge <= 0 {
		config.MinAge = time.Hour
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopStoreMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Collector{
		refs:    refs,
		shards:  shards,
		service: opts.Service,
		config:  config,
		metrics: opts.Metrics,
		now:     opts.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins background garbage collection. Subsequent calls are no-ops.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	c.startOnce.Do(func() {
		logger.Info("Starting garbage collector: interval=%s min_age=%s batch_size=%d dry_run=%v",
			c.config.Interval, c.config.MinAge, c.config.BatchSize, c.config.DryRun)
		c.started = true
		go c.worker()
	})
}

// Stop stops the worker and waits for it to finish or ctx to expire.
// Safe to call multiple times.
func (c *Collector) Stop(ctx context.Context) error {
	if !c.started {
		return nil
	}

	c.stopOnce.Do(func() {
		logger.Info("Stopping garbage collector...")
		close(c.stopCh)
	})

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped successfully")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one collection and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single run:
//  1. Snapshot the referenced chunk set
//  2. For each shard, list indexed chunks
//  3. Orphaned = indexed - referenced, older than MinAge
//  4. Delete orphans per owner in batches through the trusted path
//  5. Optionally reconcile each backend against its index
func (c *Collector) collect(ctx context.Context) (stats *Stats, err error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats = &Stats{StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		c.metrics.ObserveOperation(component, "Collect", stats.Duration(), err)
		c.metrics.SetObjects(component, "orphans", int(stats.OrphanedCount))
	}()

	// ===== Phase 1: Referenced chunks =====
	referenced := c.refs.ChunkReferences()
	for _, keys := range referenced {
		stats.ReferencedCount += uint64(len(keys))
	}

	cutoff := c.now().Add(-c.config.MinAge)

	for _, store := range c.shards.Stores() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.ShardsScanned++

		// ===== Phase 2-3: Orphans on this shard =====
		refs := referenced[store.Address()]
		orphans := make(map[identity.Principal][]chunk.ID)
		for _, item := range store.Inventory() {
			stats.ExistingCount++
			key := metadata.ChunkKey{Owner: item.Key.Owner, ID: item.Key.ChunkID}
			if _, ok := refs[key]; ok {
				continue
			}
			if item.CreatedAt.After(cutoff) {
				stats.TooYoungCount++
				continue
			}
			orphans[item.Key.Owner] = append(orphans[item.Key.Owner], item.Key.ChunkID)
			stats.OrphanedCount++
		}

		if c.config.DryRun {
			for owner, ids := range orphans {
				logger.Info("GC: DRY RUN - would delete %d chunks: shard=%s owner=%s", len(ids), store.Address(), owner)
			}
			continue
		}

		// ===== Phase 4: Delete =====
		c.deleteOrphans(ctx, store, orphans, stats)

		// ===== Phase 5: Reconcile =====
		if c.config.Reconcile {
			removed, err := store.Reconcile(ctx)
			stats.StrayBlobCount += uint64(removed)
			if err != nil {
				logger.Warn("GC: reconcile failed: shard=%s error=%v", store.Address(), err)
			}
		}
	}

	if !c.config.DryRun && stats.DeletedCount > 0 {
		logger.Info("GC: Completed - %s", stats.Summary())
	}
	return stats, nil
}

func (c *Collector) deleteOrphans(ctx context.Context, store *chunk.Store, orphans map[identity.Principal][]chunk.ID, stats *Stats) {
	owners := make([]identity.Principal, 0, len(orphans))
	for owner := range orphans {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	for _, owner := range owners {
		ids := orphans[owner]
		for i := 0; i < len(ids); i += c.config.BatchSize {
			end := min(i+c.config.BatchSize, len(ids))
			batch := ids[i:end]

			deleted, err := store.DeleteViaTrustedCaller(ctx, c.service, owner, batch)
			stats.DeletedCount += uint64(len(deleted))
			if err != nil {
				stats.FailedCount += uint64(len(batch) - len(deleted))
				logger.Warn("GC: batch delete failed: shard=%s owner=%s error=%v", store.Address(), owner, err)
				continue
			}
			logger.Debug("GC: deleted batch: shard=%s owner=%s count=%d", store.Address(), owner, len(deleted))
		}
	}
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time // When collection started
	EndTime         time.Time // When collection ended
	ShardsScanned   uint64    // Number of chunk stores inspected
	ReferencedCount uint64    // Number of chunks referenced by assets
	ExistingCount   uint64    // Number of chunks indexed by shards
	OrphanedCount   uint64    // Number of unreferenced chunks old enough to collect
	TooYoungCount   uint64    // Number of unreferenced chunks skipped by MinAge
	DeletedCount    uint64    // Number of orphans deleted
	FailedCount     uint64    // Number of orphans that failed to delete
	StrayBlobCount  uint64    // Number of unindexed backend blobs removed
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("shards=%d referenced=%d existing=%d orphaned=%d young=%d deleted=%d failed=%d stray=%d duration=%s",
		s.ShardsScanned, s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.TooYoungCount, s.DeletedCount, s.FailedCount, s.StrayBlobCount, s.Duration())
}
