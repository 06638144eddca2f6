// Package blob defines the raw byte storage underneath a chunk shard.
//
// A blob Store knows nothing about ownership rules or counters: it maps a
// Key (chunk id + owner) to bytes. The chunk store layered on top enforces
// the shard's access rules and keeps the index.
//
// Implementations:
//   - memory: in-process map, volatile
//   - fs: one file per blob under a per-shard directory
//   - badger: shared BadgerDB with a per-shard key prefix
//   - s3: S3 or compatible object storage with a per-shard key prefix
package blob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittovault/pkg/identity"
)

var (
	// ErrBlobNotFound is returned by Get when the key holds no blob.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("blob store closed")

	// ErrInvalidKey is returned when a stored key cannot be parsed.
	ErrInvalidKey = errors.New("invalid blob key")
)

// Key identifies one blob inside a shard.
type Key struct {
	ChunkID uint64
	Owner   identity.Principal
}

// String renders the key as "<owner>/<zero-padded chunk id>". The padding keeps
// lexical order equal to numeric order for listing backends.
func (k Key) String() string {
	return fmt.Sprintf("%s/%020d", k.Owner, k.ChunkID)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	owner, id, ok := strings.Cut(s, "/")
	if !ok || owner == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	chunkID, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}
	return Key{ChunkID: chunkID, Owner: identity.Principal(owner)}, nil
}

// Store is a keyed byte store.
//
// All methods must be safe for concurrent use. Put overwrites. Delete is
// idempotent: deleting a missing key is not an error.
type Store interface {
	// Put stores data under key, replacing any previous blob.
	Put(ctx context.Context, key Key, data []byte) error

	// Get returns a copy of the blob, or ErrBlobNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Delete removes the blob if present.
	Delete(ctx context.Context, key Key) error

	// Exists reports whether key holds a blob.
	Exists(ctx context.Context, key Key) (bool, error)

	// List returns every key held by the store, in no particular order.
	List(ctx context.Context) ([]Key, error)

	// Durable reports whether blobs survive a process restart. Snapshots of
	// shards backed by a non-durable store embed the blob bytes.
	Durable() bool

	// Close releases resources held by the store.
	Close() error
}

// Factory opens the blob store of one shard. The shard name is a stable,
// filesystem- and key-safe identifier (the shard address).
type Factory func(ctx context.Context, shard string) (Store, error)

// Metrics observes backend operations. Implementations must be safe for
// concurrent use; a nil Metrics is replaced by a no-op.
type Metrics interface {
	// ObserveOperation records one backend call with its outcome.
	ObserveOperation(backend, operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by a read or write.
	RecordBytes(backend, operation string, bytes int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, string, int)                      {}

// MetricsOrNoop returns m, or a no-op implementation when m is nil.
func MetricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
