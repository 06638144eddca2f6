// Package memory implements an in-process blob store.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/dittovault/pkg/store/blob"
)

// Store keeps blobs in a map.
//
// Characteristics:
//   - Fast: all operations are memory-speed
//   - Volatile: data is lost on restart, so shard snapshots embed the bytes
//   - Thread-safe: protected by an RWMutex; data is copied on the way in and out
type Store struct {
	mu     sync.RWMutex
	data   map[blob.Key][]byte
	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[blob.Key][]byte)}
}

// Factory opens a fresh memory store for every shard.
func Factory() blob.Factory {
	return func(ctx context.Context, _ string) (blob.Store, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return New(), nil
	}
}

func (s *Store) Put(ctx context.Context, key blob.Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return blob.ErrClosed
	}
	s.data[key] = buf
	return nil
}

func (s *Store) Get(ctx context.Context, key blob.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, blob.ErrClosed
	}

	data, ok := s.data[key]
	if !ok {
		return nil, blob.ErrBlobNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key blob.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return blob.ErrClosed
	}
	delete(s.data, key)
	return nil
}

func (s *Store) Exists(ctx context.Context, key blob.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, blob.ErrClosed
	}
	_, ok := s.data[key]
	return ok, nil
}

func (s *Store) List(ctx context.Context) ([]blob.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, blob.ErrClosed
	}

	keys := make([]blob.Key, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Durable is false: memory blobs do not survive a restart.
func (s *Store) Durable() bool {
	return false
}

// Size returns the total number of bytes held.
func (s *Store) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, data := range s.data {
		total += uint64(len(data))
	}
	return total
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}
