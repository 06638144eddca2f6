package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/store/blob"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a conformance suite for blob.Store implementations. It
// tests the interface contract, not implementation details, so the same suite
// runs against memory, filesystem, badger and S3 backends.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &blobtesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) blob.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store for each test.
	NewStore func(t *testing.T) blob.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("ListOperations", suite.RunListTests)
	t.Run("Concurrency", suite.RunConcurrencyTests)
}

func (suite *StoreTestSuite) newStore(t *testing.T) blob.Store {
	t.Helper()
	store := suite.NewStore(t)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testContext() context.Context {
	return context.Background()
}

func testKey(id uint64, owner string) blob.Key {
	return blob.Key{ChunkID: id, Owner: identity.FromPublicKey([]byte(owner))}
}
