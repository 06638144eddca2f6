package gc

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittovault/pkg/auth"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/shard"
	"github.com/marmos91/dittovault/pkg/store/blob"
	"github.com/marmos91/dittovault/pkg/store/blob/memory"
	"github.com/marmos91/dittovault/pkg/store/chunk"
	"github.com/marmos91/dittovault/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner   = identity.FromPublicKey([]byte("gc-owner"))
	service = identity.Opaque([]byte("gc-service"))
)

type fixture struct {
	host   *shard.Host
	assets *metadata.Store
	store  *chunk.Store
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gate := auth.NewGate(service)

	host, err := shard.NewHost(shard.Config{Backends: memory.Factory(), Gate: gate})
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Close() })

	addr, err := host.Allocate(ctx, shard.Grant{CapacityBytes: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, host.Install(ctx, addr, shard.DefaultManifest(), owner))
	store, err := host.Resolve(addr)
	require.NoError(t, err)

	assets, err := metadata.New(metadata.Config{Service: service, Gate: gate, Shards: host})
	require.NoError(t, err)

	return &fixture{host: host, assets: assets, store: store, now: time.Now().Add(2 * time.Hour)}
}

func (f *fixture) collector(t *testing.T, cfg Config) *Collector {
	t.Helper()
	c, err := NewCollector(f.assets, f.host, cfg, Options{
		Service: service,
		Now:     func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) put(t *testing.T, data string) chunk.Ref {
	t.Helper()
	ref, err := f.store.Put(context.Background(), owner, chunk.PostChunk{Blob: []byte(data)})
	require.NoError(t, err)
	return ref
}

func (f *fixture) commit(t *testing.T, refs ...chunk.Ref) {
	t.Helper()
	_, err := f.assets.Upsert(context.Background(), owner, metadata.Draft{
		Type:   metadata.File(),
		Name:   "file.bin",
		Size:   uint64(len(refs)),
		Chunks: refs,
	})
	require.NoError(t, err)
}

func ids(items []chunk.InventoryItem) []chunk.ID {
	out := make([]chunk.ID, 0, len(items))
	for _, item := range items {
		out = append(out, item.Key.ChunkID)
	}
	return out
}

func TestNewCollector_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := NewCollector(nil, f.host, Config{}, Options{Service: service})
	assert.Error(t, err)

	_, err = NewCollector(f.assets, f.host, Config{}, Options{Service: identity.Anonymous})
	assert.Error(t, err)

	c, err := NewCollector(f.assets, f.host, Config{}, Options{Service: service})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, c.config.Interval)
	assert.Equal(t, time.Hour, c.config.MinAge)
	assert.Equal(t, 1000, c.config.BatchSize)
}

func TestCollect_DeletesUnreferencedChunks(t *testing.T) {
	f := newFixture(t)
	kept := f.put(t, "kept")
	f.put(t, "orphan-1")
	f.put(t, "orphan-2")
	f.commit(t, kept)

	stats, err := f.collector(t, Config{BatchSize: 1}).RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.ShardsScanned)
	assert.Equal(t, uint64(1), stats.ReferencedCount)
	assert.Equal(t, uint64(3), stats.ExistingCount)
	assert.Equal(t, uint64(2), stats.OrphanedCount)
	assert.Equal(t, uint64(2), stats.DeletedCount)
	assert.Zero(t, stats.FailedCount)
	assert.Equal(t, []chunk.ID{kept.ID}, ids(f.store.Inventory()))
}

func TestCollect_SkipsYoungChunks(t *testing.T) {
	f := newFixture(t)
	f.now = time.Now()
	f.put(t, "in-flight upload")

	stats, err := f.collector(t, Config{MinAge: time.Hour}).RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.TooYoungCount)
	assert.Zero(t, stats.DeletedCount)
	assert.Len(t, f.store.Inventory(), 1)
}

func TestCollect_DryRun(t *testing.T) {
	f := newFixture(t)
	f.put(t, "orphan")

	stats, err := f.collector(t, Config{DryRun: true}).RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.OrphanedCount)
	assert.Zero(t, stats.DeletedCount)
	assert.Len(t, f.store.Inventory(), 1)
}

func TestCollect_Reconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stray := blob.Key{ChunkID: 99, Owner: owner}
	require.NoError(t, f.store.Backend().Put(ctx, stray, []byte("stray")))

	stats, err := f.collector(t, Config{Reconcile: true}).RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.StrayBlobCount)

	exists, err := f.store.Backend().Exists(ctx, stray)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCollect_UntrustedServiceFails(t *testing.T) {
	f := newFixture(t)
	f.put(t, "orphan")

	c, err := NewCollector(f.assets, f.host, Config{}, Options{
		Service: identity.Opaque([]byte("stranger")),
		Now:     func() time.Time { return f.now },
	})
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Len(t, f.store.Inventory(), 1)
}

func TestCollect_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.collector(t, Config{}).RunNow(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.put(t, "orphan")

	c := f.collector(t, Config{Enabled: true, Interval: 10 * time.Millisecond})
	c.Start()
	c.Start()

	assert.Eventually(t, func() bool { return len(f.store.Inventory()) == 0 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestStart_Disabled(t *testing.T) {
	f := newFixture(t)
	c := f.collector(t, Config{})
	c.Start()
	assert.NoError(t, c.Stop(context.Background()))
}

func TestStats_Summary(t *testing.T) {
	s := &Stats{StartTime: time.Unix(0, 0), EndTime: time.Unix(2, 0), DeletedCount: 3}
	assert.Equal(t, 2*time.Second, s.Duration())
	assert.Contains(t, s.Summary(), "deleted=3")
}
