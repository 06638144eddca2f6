// Package badger implements blob storage on a shared BadgerDB instance.
//
// Key Namespace:
//
//	b:<shard>:<owner>/<zero-padded chunk id>  ->  blob bytes
//
// Every shard gets its own prefix inside one database, so a node hosting many
// shards keeps a single set of files and a single block cache.
package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittovault/pkg/store/blob"
)

const namespace = "b:"

// Config controls how the shared database is opened.
type Config struct {
	// DBPath is the database directory. Ignored when InMemory is set.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in RAM (tests, ephemeral nodes).
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB sets the block cache size (default 256MB).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb"`

	// IndexCacheSizeMB sets the index cache size (default 128MB).
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb"`
}

// Open opens a BadgerDB tuned for blob payloads.
func Open(cfg Config) (*badgerdb.DB, error) {
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("badger blob store: db_path is required")
		}
		opts = badgerdb.DefaultOptions(cfg.DBPath)
	}

	opts = opts.WithLoggingLevel(badgerdb.WARNING)
	opts = opts.WithCompression(options.ZSTD)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 256
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 128
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}
	return db, nil
}

// Store is a view of one shard's blobs inside a shared database.
//
// Thread Safety: BadgerDB transactions are safe for concurrent use.
type Store struct {
	db     *badgerdb.DB
	prefix []byte
}

// New returns the store of one shard. The database is owned by the caller;
// Close on the store does not close it.
func New(db *badgerdb.DB, shard string) *Store {
	return &Store{
		db:     db,
		prefix: []byte(namespace + shard + ":"),
	}
}

// Factory returns a factory that maps every shard onto db.
func Factory(db *badgerdb.DB) blob.Factory {
	return func(ctx context.Context, shard string) (blob.Store, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if shard == "" {
			return nil, fmt.Errorf("invalid shard name %q", shard)
		}
		return New(db, shard), nil
	}
}

func (s *Store) dbKey(key blob.Key) []byte {
	k := make([]byte, 0, len(s.prefix)+64)
	k = append(k, s.prefix...)
	return append(k, key.String()...)
}

func (s *Store) Put(ctx context.Context, key blob.Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value := make([]byte, len(data))
	copy(value, data)

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(s.dbKey(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key blob.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(s.dbKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, blob.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key blob.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(s.dbKey(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key blob.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(s.dbKey(key))
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

func (s *Store) List(ctx context.Context) ([]blob.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]blob.Key, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			raw := it.Item().KeyCopy(nil)
			key, err := blob.ParseKey(string(raw[len(s.prefix):]))
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return keys, nil
}

// Durable is false for in-memory databases.
func (s *Store) Durable() bool {
	return !s.db.Opts().InMemory
}

// Close is a no-op; the shared database is closed by its owner.
func (s *Store) Close() error {
	return nil
}
