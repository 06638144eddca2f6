package testing

import (
	"bytes"
	"sort"
	"sync"
	"testing"

	"github.com/marmos91/dittovault/pkg/store/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests exercises Put/Get/Delete/Exists.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Get_NotFound", suite.testGetNotFound)
	t.Run("PutGet_RoundTrip", suite.testPutGet)
	t.Run("Put_Overwrites", suite.testPutOverwrites)
	t.Run("Put_EmptyBlob", suite.testPutEmpty)
	t.Run("Put_LargeBlob", suite.testPutLarge)
	t.Run("Get_ReturnsCopy", suite.testGetReturnsCopy)
	t.Run("Delete_RemovesBlob", suite.testDelete)
	t.Run("Delete_MissingIsNoop", suite.testDeleteMissing)
	t.Run("Keys_IsolatedByOwner", suite.testOwnerIsolation)
}

// RunListTests exercises List.
func (suite *StoreTestSuite) RunListTests(t *testing.T) {
	t.Run("List_Empty", suite.testListEmpty)
	t.Run("List_AfterWrites", suite.testListAfterWrites)
}

// RunConcurrencyTests exercises concurrent writers.
func (suite *StoreTestSuite) RunConcurrencyTests(t *testing.T) {
	t.Run("ConcurrentPuts", suite.testConcurrentPuts)
}

// ============================================================================
// Basic Tests
// ============================================================================

func (suite *StoreTestSuite) testGetNotFound(t *testing.T) {
	store := suite.newStore(t)

	_, err := store.Get(testContext(), testKey(1, "alice"))
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)

	exists, err := store.Exists(testContext(), testKey(1, "alice"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	store := suite.newStore(t)
	key := testKey(1, "alice")

	require.NoError(t, store.Put(testContext(), key, []byte("hello")))

	data, err := store.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	exists, err := store.Exists(testContext(), key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func (suite *StoreTestSuite) testPutOverwrites(t *testing.T) {
	store := suite.newStore(t)
	key := testKey(1, "alice")

	require.NoError(t, store.Put(testContext(), key, []byte("first")))
	require.NoError(t, store.Put(testContext(), key, []byte("second")))

	data, err := store.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func (suite *StoreTestSuite) testPutEmpty(t *testing.T) {
	store := suite.newStore(t)
	key := testKey(1, "alice")

	require.NoError(t, store.Put(testContext(), key, []byte{}))

	data, err := store.Get(testContext(), key)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func (suite *StoreTestSuite) testPutLarge(t *testing.T) {
	store := suite.newStore(t)
	key := testKey(1, "alice")
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024) // 1MB

	require.NoError(t, store.Put(testContext(), key, payload))

	data, err := store.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func (suite *StoreTestSuite) testGetReturnsCopy(t *testing.T) {
	store := suite.newStore(t)
	key := testKey(1, "alice")
	payload := []byte("immutable")

	require.NoError(t, store.Put(testContext(), key, payload))
	payload[0] = 'X'

	data, err := store.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), data)

	data[0] = 'Y'
	again, err := store.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), again)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	store := suite.newStore(t)
	key := testKey(1, "alice")

	require.NoError(t, store.Put(testContext(), key, []byte("bye")))
	require.NoError(t, store.Delete(testContext(), key))

	_, err := store.Get(testContext(), key)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func (suite *StoreTestSuite) testDeleteMissing(t *testing.T) {
	store := suite.newStore(t)
	assert.NoError(t, store.Delete(testContext(), testKey(99, "alice")))
}

func (suite *StoreTestSuite) testOwnerIsolation(t *testing.T) {
	store := suite.newStore(t)

	require.NoError(t, store.Put(testContext(), testKey(1, "alice"), []byte("alice")))
	require.NoError(t, store.Put(testContext(), testKey(1, "bob"), []byte("bob")))

	data, err := store.Get(testContext(), testKey(1, "alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), data)

	require.NoError(t, store.Delete(testContext(), testKey(1, "bob")))

	data, err = store.Get(testContext(), testKey(1, "alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), data)
}

// ============================================================================
// List Tests
// ============================================================================

func (suite *StoreTestSuite) testListEmpty(t *testing.T) {
	store := suite.newStore(t)

	keys, err := store.List(testContext())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func (suite *StoreTestSuite) testListAfterWrites(t *testing.T) {
	store := suite.newStore(t)
	want := []blob.Key{testKey(1, "alice"), testKey(2, "alice"), testKey(3, "bob")}

	for _, k := range want {
		require.NoError(t, store.Put(testContext(), k, []byte(k.String())))
	}
	require.NoError(t, store.Delete(testContext(), testKey(2, "alice")))

	keys, err := store.List(testContext())
	require.NoError(t, err)

	sortKeys(keys)
	expected := []blob.Key{testKey(1, "alice"), testKey(3, "bob")}
	sortKeys(expected)
	assert.Equal(t, expected, keys)
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func (suite *StoreTestSuite) testConcurrentPuts(t *testing.T) {
	store := suite.newStore(t)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := range writers {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			errs <- store.Put(testContext(), testKey(id, "alice"), []byte{byte(id)})
		}(uint64(i + 1))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	keys, err := store.List(testContext())
	require.NoError(t, err)
	assert.Len(t, keys, writers)
}

func sortKeys(keys []blob.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
