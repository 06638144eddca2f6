package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// ErrSnapshotNotFound is returned by Load when no snapshot of a kind exists.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Storage keeps the latest snapshot blob of each component.
//
// Save replaces the previous blob of the same kind atomically: a concurrent
// or interrupted Save never leaves a partially written blob visible to Load.
type Storage interface {
	Save(ctx context.Context, kind Kind, data []byte) error
	Load(ctx context.Context, kind Kind) ([]byte, error)
	Close() error
}

// ============================================================================
// Memory
// ============================================================================

// MemoryStorage keeps snapshots in process memory. Useful for tests and for
// ephemeral nodes.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[Kind][]byte
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[Kind][]byte)}
}

func (m *MemoryStorage) Save(ctx context.Context, kind Kind, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[kind] = slices.Clone(data)
	return nil
}

func (m *MemoryStorage) Load(ctx context.Context, kind Kind) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[kind]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return slices.Clone(data), nil
}

func (m *MemoryStorage) Close() error { return nil }

// ============================================================================
// Filesystem
// ============================================================================

// FileStorage keeps one file per kind under a directory, written to a
// temporary file and renamed into place.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(kind Kind) string {
	return filepath.Join(f.dir, string(kind)+".snap")
}

func (f *FileStorage) Save(ctx context.Context, kind Kind, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, string(kind)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, f.path(kind)); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

func (f *FileStorage) Load(ctx context.Context, kind Kind) ([]byte, error) {
	data, err := os.ReadFile(f.path(kind))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

func (f *FileStorage) Close() error { return nil }

// ============================================================================
// BadgerDB
// ============================================================================

const badgerKeyPrefix = "snapshot:"

// BadgerStorage keeps snapshots as values in a BadgerDB database.
type BadgerStorage struct {
	db     *badgerdb.DB
	ownsDB bool
}

// NewBadgerStorage wraps an open database. Close does not close db.
func NewBadgerStorage(db *badgerdb.DB) *BadgerStorage {
	return &BadgerStorage{db: db}
}

// OpenBadgerStorage opens a dedicated database at path. Close closes it.
func OpenBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badgerdb.DefaultOptions(path).WithLoggingLevel(badgerdb.WARNING)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	return &BadgerStorage{db: db, ownsDB: true}, nil
}

func badgerKey(kind Kind) []byte {
	return []byte(badgerKeyPrefix + string(kind))
}

func (b *BadgerStorage) Save(ctx context.Context, kind Kind, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(badgerKey(kind), slices.Clone(data))
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (b *BadgerStorage) Load(ctx context.Context, kind Kind) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(badgerKey(kind))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}

func (b *BadgerStorage) Close() error {
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}
