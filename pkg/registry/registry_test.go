package registry

import (
	"testing"

	"github.com/marmos91/dittovault/pkg/auth"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/store/blob/memory"
	"github.com/marmos91/dittovault/pkg/store/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChunkStore(t *testing.T, addr chunk.Address) *chunk.Store {
	t.Helper()
	s, err := chunk.New(chunk.Config{
		Address: addr,
		Owner:   identity.FromPublicKey([]byte("owner")),
		Backend: memory.New(),
		Gate:    auth.NewGate(),
	})
	require.NoError(t, err)
	return s
}

func TestRegistry_Lifecycle(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("shard-1")
	assert.ErrorIs(t, err, ErrUnitNotFound)

	require.NoError(t, reg.Allocate(Unit{Address: "shard-1", CapacityBytes: 1024}))
	assert.Error(t, reg.Allocate(Unit{Address: "shard-1"}), "duplicate address")
	assert.Error(t, reg.Allocate(Unit{}), "empty address")

	_, err = reg.Get("shard-1")
	assert.ErrorIs(t, err, ErrNotInstalled)
	assert.Equal(t, 1, reg.CountUnits())
	assert.Equal(t, 0, reg.CountInstalled())

	store := newChunkStore(t, "shard-1")
	require.NoError(t, reg.Install("shard-1", store))
	assert.ErrorIs(t, reg.Install("shard-1", store), ErrAlreadyInstalled)
	assert.ErrorIs(t, reg.Install("shard-2", store), ErrUnitNotFound)

	got, err := reg.Get("shard-1")
	require.NoError(t, err)
	assert.Same(t, store, got)

	unit, ok := reg.Unit("shard-1")
	require.True(t, ok)
	assert.True(t, unit.Installed())
	assert.Equal(t, uint64(1024), unit.CapacityBytes)

	require.NoError(t, reg.Remove("shard-1"))
	assert.ErrorIs(t, reg.Remove("shard-1"), ErrUnitNotFound)
}

func TestRegistry_ListingsAreSorted(t *testing.T) {
	reg := NewRegistry()
	for _, addr := range []chunk.Address{"shard-c", "shard-a", "shard-b"} {
		require.NoError(t, reg.Allocate(Unit{Address: addr}))
	}
	require.NoError(t, reg.Install("shard-b", newChunkStore(t, "shard-b")))
	require.NoError(t, reg.Install("shard-a", newChunkStore(t, "shard-a")))

	units := reg.Units()
	require.Len(t, units, 3)
	assert.Equal(t, chunk.Address("shard-a"), units[0].Address)
	assert.Equal(t, chunk.Address("shard-c"), units[2].Address)

	stores := reg.Stores()
	require.Len(t, stores, 2)
	assert.Equal(t, chunk.Address("shard-a"), stores[0].Address())
	assert.Equal(t, chunk.Address("shard-b"), stores[1].Address())
}

func TestRegistry_UnitCopiesControllers(t *testing.T) {
	reg := NewRegistry()
	controllers := []identity.Principal{identity.FromPublicKey([]byte("svc"))}
	require.NoError(t, reg.Allocate(Unit{Address: "shard-1", Controllers: controllers}))

	controllers[0] = identity.Anonymous
	unit, ok := reg.Unit("shard-1")
	require.True(t, ok)
	assert.NotEqual(t, identity.Anonymous, unit.Controllers[0])
}
