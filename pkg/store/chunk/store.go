// Package chunk implements the per-shard chunk service.
//
// A shard belongs to exactly one owner. Only that owner may put, read and
// delete chunks through the owner-scoped operations; trusted callers (the
// asset store and the orphan collector) delete through the admin path.
// Chunk ids come from a per-shard counter that starts at 1 and never repeats.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittovault/internal/logger"
	"github.com/marmos91/dittovault/pkg/apierror"
	"github.com/marmos91/dittovault/pkg/auth"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/metrics"
	"github.com/marmos91/dittovault/pkg/store/blob"
)

const component = "chunks"

// Address identifies a chunk shard. Addresses are assigned by the hosting
// platform and are stable for the life of the shard.
type Address string

// ID is a chunk identifier, unique within one shard.
type ID = uint64

// Ref is the reference an asset keeps to one of its chunks.
type Ref struct {
	ID    ID      `json:"id"`
	Index uint32  `json:"index"`
	Shard Address `json:"shard"`
}

// PostChunk is an upload request.
type PostChunk struct {
	Blob  []byte
	Index uint32
}

// State is the administrative summary of a shard.
type State struct {
	Owner       identity.Principal `json:"owner"`
	NextChunkID ID                 `json:"next_chunk_id"`
	Keys        []blob.Key         `json:"keys"`
}

// Entry is one stored chunk with its bytes.
type Entry struct {
	Key  blob.Key `json:"key"`
	Blob []byte   `json:"blob"`
}

// InventoryItem describes an indexed chunk without its bytes.
type InventoryItem struct {
	Key       blob.Key
	Size      uint64
	CreatedAt time.Time
}

type indexEntry struct {
	size      uint64
	createdAt time.Time
}

// Config wires a Store.
type Config struct {
	// Address of this shard.
	Address Address

	// Owner is the only principal allowed through owner-scoped operations.
	Owner identity.Principal

	// Backend holds the chunk bytes.
	Backend blob.Store

	// Gate classifies callers.
	Gate *auth.Gate

	// Metrics is optional.
	Metrics metrics.StoreMetrics

	// Now is the clock used for creation timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Store is one chunk shard.
//
// Thread Safety: a single mutex serializes every state mutation, including
// the backend write, so the counter, the index and the backend never
// disagree about a committed chunk.
type Store struct {
	mu          sync.RWMutex
	address     Address
	owner       identity.Principal
	nextChunkID ID
	index       map[blob.Key]indexEntry

	backend blob.Store
	gate    *auth.Gate
	metrics metrics.StoreMetrics
	now     func() time.Time
}

// New creates an empty shard.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("chunk store: address is required")
	}
	if cfg.Owner.IsZero() {
		return nil, fmt.Errorf("chunk store: owner is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("chunk store: backend is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("chunk store: gate is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopStoreMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		address: cfg.Address,
		owner:   cfg.Owner,
		index:   make(map[blob.Key]indexEntry),
		backend: cfg.Backend,
		gate:    cfg.Gate,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}, nil
}

// Address returns the shard address.
func (s *Store) Address() Address {
	return s.address
}

// Owner returns the shard owner.
func (s *Store) Owner() identity.Principal {
	return s.owner
}

// Backend returns the blob store underneath the shard.
func (s *Store) Backend() blob.Store {
	return s.backend
}

func (s *Store) observe(operation string, start time.Time, err error) {
	s.metrics.ObserveOperation(component, operation, time.Since(start), err)
}

// checkOwner runs the anonymous gate and then the owner check.
func (s *Store) checkOwner(caller identity.Principal) error {
	if err := s.gate.ClassifyAnonymous(caller); err != nil {
		return err
	}
	if caller != s.owner {
		return apierror.NewUnauthorized(apierror.MsgCallerNotShardOwner)
	}
	return nil
}

// Put stores a chunk and returns its reference. The new id is one greater
// than any id previously issued by this shard.
func (s *Store) Put(ctx context.Context, caller identity.Principal, chunk PostChunk) (ref Ref, err error) {
	start := time.Now()
	defer func() { s.observe("Put", start, err) }()

	if err := s.checkOwner(caller); err != nil {
		return Ref{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextChunkID++
	id := s.nextChunkID
	key := blob.Key{ChunkID: id, Owner: caller}

	// A failed write leaves a gap in the id sequence; ids are never reused.
	if err := s.backend.Put(ctx, key, chunk.Blob); err != nil {
		return Ref{}, fmt.Errorf("failed to store chunk %d: %w", id, err)
	}

	s.index[key] = indexEntry{size: uint64(len(chunk.Blob)), createdAt: s.now()}
	s.metrics.SetObjects(component, "chunks", len(s.index))

	return Ref{ID: id, Index: chunk.Index, Shard: s.address}, nil
}

// Get returns the bytes of one of the caller's chunks.
func (s *Store) Get(ctx context.Context, caller identity.Principal, id ID) (data []byte, err error) {
	start := time.Now()
	defer func() { s.observe("Get", start, err) }()

	if err := s.checkOwner(caller); err != nil {
		return nil, err
	}

	key := blob.Key{ChunkID: id, Owner: caller}

	s.mu.RLock()
	_, ok := s.index[key]
	s.mu.RUnlock()
	if !ok {
		return nil, apierror.NewNotFound(apierror.MsgChunksNotFound)
	}

	data, err = s.backend.Get(ctx, key)
	if errors.Is(err, blob.ErrBlobNotFound) {
		logger.Warn("chunk indexed but missing from backend: shard=%s key=%s", s.address, key)
		return nil, apierror.NewNotFound(apierror.MsgChunksNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", id, err)
	}
	return data, nil
}

// Delete removes the caller's chunks. Ids that do not exist are skipped.
// Returns the ids that were removed, in input order.
func (s *Store) Delete(ctx context.Context, caller identity.Principal, ids []ID) (deleted []ID, err error) {
	start := time.Now()
	defer func() { s.observe("Delete", start, err) }()

	if err := s.checkOwner(caller); err != nil {
		return nil, err
	}
	return s.deleteFor(ctx, caller, ids)
}

// DeleteViaTrustedCaller removes chunks of owner on behalf of a trusted
// caller. Ids that do not exist are skipped.
func (s *Store) DeleteViaTrustedCaller(ctx context.Context, caller, owner identity.Principal, ids []ID) (deleted []ID, err error) {
	start := time.Now()
	defer func() { s.observe("DeleteViaTrustedCaller", start, err) }()

	if err := s.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return nil, err
	}
	return s.deleteFor(ctx, owner, ids)
}

func (s *Store) deleteFor(ctx context.Context, owner identity.Principal, ids []ID) ([]ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := make([]ID, 0, len(ids))
	for _, id := range ids {
		key := blob.Key{ChunkID: id, Owner: owner}
		if _, ok := s.index[key]; !ok {
			continue
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			s.metrics.SetObjects(component, "chunks", len(s.index))
			return deleted, fmt.Errorf("failed to delete chunk %d: %w", id, err)
		}
		delete(s.index, key)
		deleted = append(deleted, id)
	}

	s.metrics.SetObjects(component, "chunks", len(s.index))
	return deleted, nil
}

// GetState returns the owner, counter and all keys. Admin only.
func (s *Store) GetState(caller identity.Principal) (State, error) {
	if err := s.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return State{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return State{
		Owner:       s.owner,
		NextChunkID: s.nextChunkID,
		Keys:        s.sortedKeysLocked(),
	}, nil
}

// ListAll returns every chunk with its bytes. Admin only.
func (s *Store) ListAll(ctx context.Context, caller identity.Principal) ([]Entry, error) {
	if err := s.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.sortedKeysLocked()
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		data, err := s.backend.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
		}
		entries = append(entries, Entry{Key: key, Blob: data})
	}
	return entries, nil
}

// Inventory lists the indexed chunks with size and creation time.
func (s *Store) Inventory() []InventoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]InventoryItem, 0, len(s.index))
	for _, key := range s.sortedKeysLocked() {
		e := s.index[key]
		items = append(items, InventoryItem{Key: key, Size: e.size, CreatedAt: e.createdAt})
	}
	return items
}

// Reconcile deletes backend blobs that have no index entry, such as blobs
// written after the last snapshot of a shard on a durable backend. Returns
// the number of blobs removed.
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list backend: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if _, ok := s.index[key]; ok {
			continue
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("failed to delete stray blob %s: %w", key, err)
		}
		removed++
	}
	if removed > 0 {
		logger.Info("reconciled shard: shard=%s stray_blobs=%d", s.address, removed)
	}
	return removed, nil
}

// UsedBytes sums the sizes of all indexed chunks.
func (s *Store) UsedBytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, e := range s.index {
		total += e.size
	}
	return total
}

func (s *Store) sortedKeysLocked() []blob.Key {
	keys := make([]blob.Key, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Owner != keys[j].Owner {
			return keys[i].Owner < keys[j].Owner
		}
		return keys[i].ChunkID < keys[j].ChunkID
	})
	return keys
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
