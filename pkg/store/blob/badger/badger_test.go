package badger

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/store/blob"
	blobtesting "github.com/marmos91/dittovault/pkg/store/blob/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	db, err := Open(Config{InMemory: true, BlockCacheSizeMB: 8, IndexCacheSizeMB: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, "shard-test")
}

func TestBadgerStore(t *testing.T) {
	suite := &blobtesting.StoreTestSuite{
		NewStore: func(t *testing.T) blob.Store {
			return openInMemory(t)
		},
	}
	suite.Run(t)
}

func TestBadgerStore_ShardsShareDatabaseButNotKeys(t *testing.T) {
	ctx := context.Background()
	db, err := Open(Config{InMemory: true, BlockCacheSizeMB: 8, IndexCacheSizeMB: 8})
	require.NoError(t, err)
	defer db.Close()

	var n atomic.Int32
	factory := Factory(db)
	open := func() blob.Store {
		s, err := factory(ctx, fmt.Sprintf("shard-%d", n.Add(1)))
		require.NoError(t, err)
		return s
	}

	a, b := open(), open()
	key := blob.Key{ChunkID: 1, Owner: identity.FromPublicKey([]byte("owner"))}
	require.NoError(t, a.Put(ctx, key, []byte("a")))

	exists, err := b.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	keys, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = a.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []blob.Key{key}, keys)
}

func TestBadgerStore_Durability(t *testing.T) {
	assert.False(t, openInMemory(t).Durable())

	db, err := Open(Config{DBPath: t.TempDir(), BlockCacheSizeMB: 8, IndexCacheSizeMB: 8})
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, New(db, "shard").Durable())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
