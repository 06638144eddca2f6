// Package metadata implements the asset metadata store: a per-owner tree of
// folders, files and tokenized assets whose file content lives in chunk
// shards.
//
// Replacing a file's content deletes the previous chunks from their shards
// before the new metadata is committed. The deletion is bounded by a timeout
// and its failures are logged and swallowed; bytes left behind are reclaimed
// by the orphan collector.
package metadata

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/dittovault/internal/logger"
	"github.com/marmos91/dittovault/pkg/apierror"
	"github.com/marmos91/dittovault/pkg/auth"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/metrics"
	"github.com/marmos91/dittovault/pkg/store/chunk"
)

const component = "assets"

// DefaultCleanupTimeout bounds one cleanup fan-out when Config leaves it unset.
const DefaultCleanupTimeout = 5 * time.Second

// ShardClient deletes chunks on a shard on behalf of a trusted caller.
type ShardClient interface {
	DeleteChunks(ctx context.Context, caller identity.Principal, shard chunk.Address, owner identity.Principal, ids []chunk.ID) ([]chunk.ID, error)
}

// Config wires a Store.
type Config struct {
	// Service is the store's own principal. It must be trusted by the shards
	// for cleanup to succeed.
	Service identity.Principal

	// Gate classifies callers.
	Gate *auth.Gate

	// Shards receives cleanup calls.
	Shards ShardClient

	// CleanupTimeout bounds how long Upsert and DeleteTree wait for cleanup.
	CleanupTimeout time.Duration

	// Metrics is optional.
	Metrics metrics.StoreMetrics

	// Clock returns the current time in nanoseconds. Defaults to wall time.
	Clock func() uint64
}

// State is the administrative view of the store.
type State struct {
	NextID      AssetID                          `json:"next_id"`
	OwnerAssets map[identity.Principal][]AssetID `json:"owner_assets"`
}

// Store is the asset metadata store.
//
// Thread Safety: mu guards every map and the id counter. Cleanup calls run
// without holding mu.
type Store struct {
	mu          sync.RWMutex
	nextID      AssetID
	assets      map[AssetID]*Asset
	ownerAssets map[identity.Principal][]AssetID

	service        identity.Principal
	gate           *auth.Gate
	shards         ShardClient
	cleanupTimeout time.Duration
	metrics        metrics.StoreMetrics
	clock          func() uint64
}

// New creates an empty store.
func New(cfg Config) (*Store, error) {
	if cfg.Service.IsZero() || cfg.Service.IsAnonymous() {
		return nil, fmt.Errorf("asset store: service principal is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("asset store: gate is required")
	}
	if cfg.Shards == nil {
		return nil, fmt.Errorf("asset store: shard client is required")
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = DefaultCleanupTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopStoreMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() uint64 { return uint64(time.Now().UnixNano()) }
	}

	return &Store{
		assets:         make(map[AssetID]*Asset),
		ownerAssets:    make(map[identity.Principal][]AssetID),
		service:        cfg.Service,
		gate:           cfg.Gate,
		shards:         cfg.Shards,
		cleanupTimeout: cfg.CleanupTimeout,
		metrics:        cfg.Metrics,
		clock:          cfg.Clock,
	}, nil
}

func (s *Store) observe(operation string, start time.Time, err error) {
	s.metrics.ObserveOperation(component, operation, time.Since(start), err)
}

// ownedLocked resolves id within the owner's index.
func (s *Store) ownedLocked(owner identity.Principal, id AssetID) (*Asset, bool) {
	if !slices.Contains(s.ownerAssets[owner], id) {
		return nil, false
	}
	a, ok := s.assets[id]
	return a, ok
}

// ListForOwner returns the owner's assets ordered by id.
func (s *Store) ListForOwner(owner identity.Principal) []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Clone(s.ownerAssets[owner])
	slices.Sort(ids)

	out := make([]Asset, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.assets[id]; ok {
			out = append(out, a.Clone())
		}
	}
	return out
}

// ListMine returns the caller's assets ordered by id.
func (s *Store) ListMine(ctx context.Context, caller identity.Principal) (assets []Asset, err error) {
	start := time.Now()
	defer func() { s.observe("ListMine", start, err) }()

	if err := s.gate.ClassifyAnonymous(caller); err != nil {
		return nil, err
	}
	return s.ListForOwner(caller), nil
}

// Upsert creates an asset or replaces the content of an existing one.
//
// When the draft is a File naming an existing file of the caller, the chunks
// of that file are deleted from their shards first, whatever the outcome of
// the metadata write. Chunks that the draft keeps referencing are spared.
// A draft whose kind differs from the stored asset is rejected with
// InvalidArgument. A draft id that does not resolve to one of the caller's
// assets creates a new asset with a fresh id.
func (s *Store) Upsert(ctx context.Context, caller identity.Principal, draft Draft) (asset Asset, err error) {
	start := time.Now()
	defer func() { s.observe("Upsert", start, err) }()

	// ===== Step 1: Validate =====
	if err := s.gate.ClassifyAnonymous(caller); err != nil {
		return Asset{}, err
	}
	if err := draft.Type.Validate(); err != nil {
		return Asset{}, err
	}
	if draft.Type.Kind != KindFile && len(draft.Chunks) > 0 {
		return Asset{}, apierror.NewInvalidArgument("only file assets carry chunks")
	}
	settings, err := draft.Settings.normalized()
	if err != nil {
		return Asset{}, err
	}

	// ===== Step 2: Clean up previous content =====
	if draft.ID != nil {
		s.mu.RLock()
		var (
			previous []chunk.Ref
			kind     Kind
			exists   bool
		)
		if a, ok := s.ownedLocked(caller, *draft.ID); ok {
			previous = slices.Clone(a.Chunks)
			kind = a.Type.Kind
			exists = true
		}
		s.mu.RUnlock()

		if exists && kind != draft.Type.Kind {
			return Asset{}, apierror.NewInvalidArgument("asset %d is a %s, draft is a %s", *draft.ID, kind, draft.Type.Kind)
		}
		if kind == KindFile {
			if stale := staleRefs(previous, draft.Chunks); len(stale) > 0 {
				s.cleanup(ctx, caller, stale)
			}
		}
	}

	// ===== Step 3: Commit =====
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	if draft.ID != nil {
		if a, ok := s.ownedLocked(caller, *draft.ID); ok {
			if a.Type.Kind != draft.Type.Kind {
				return Asset{}, apierror.NewInvalidArgument("asset %d is a %s, draft is a %s", a.ID, a.Type.Kind, draft.Type.Kind)
			}
			a.Size = draft.Size
			if a.Type.Kind == KindFile {
				a.Chunks = slices.Clone(draft.Chunks)
			}
			a.UpdatedAt = now
			logger.Debug("asset updated: owner=%s id=%d size=%d chunks=%d", caller, a.ID, a.Size, len(a.Chunks))
			return a.Clone(), nil
		}
	}

	s.nextID++
	a := &Asset{
		ID:        s.nextID,
		Owner:     caller,
		ParentID:  draft.ParentID,
		Type:      draft.Type,
		Name:      draft.Name,
		Size:      draft.Size,
		MimeType:  draft.MimeType,
		CreatedAt: now,
		UpdatedAt: now,
		Chunks:    slices.Clone(draft.Chunks),
		Settings:  settings,
	}
	if draft.Type.allowsExtension() {
		a.Extension = draft.Extension
	}
	*a = a.Clone()

	s.assets[a.ID] = a
	s.ownerAssets[caller] = append(s.ownerAssets[caller], a.ID)
	s.metrics.SetObjects(component, "assets", len(s.assets))

	logger.Debug("asset created: owner=%s id=%d kind=%s", caller, a.ID, a.Type.Kind)
	return a.Clone(), nil
}

// Edit applies a patch to one of the caller's assets. A parent that would
// place the asset under itself is rejected like in MoveMany.
func (s *Store) Edit(ctx context.Context, caller identity.Principal, patch Patch) (asset Asset, err error) {
	start := time.Now()
	defer func() { s.observe("Edit", start, err) }()

	if err := s.gate.ClassifyAnonymous(caller); err != nil {
		return Asset{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.ownedLocked(caller, patch.ID)
	if !ok {
		return Asset{}, apierror.NewNotFound(apierror.MsgAssetNotFound)
	}

	if patch.ParentID != nil && s.createsCycleLocked(a.ID, map[AssetID]*AssetID{a.ID: patch.ParentID}) {
		return Asset{}, apierror.NewInvalidArgument("moving asset %d under %d creates a cycle", a.ID, *patch.ParentID)
	}

	a.ParentID = clonePtr(patch.ParentID)
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.IsFavorite != nil {
		a.IsFavorite = *patch.IsFavorite
	}
	if a.Type.allowsExtension() {
		if patch.Extension != nil {
			a.Extension = *patch.Extension
		}
	} else {
		a.Extension = ""
	}
	a.UpdatedAt = s.clock()

	return a.Clone(), nil
}

// MoveMany reparents several of the caller's assets. Every id is resolved
// and every move checked before anything is mutated. Returns the moved assets
// in input order.
func (s *Store) MoveMany(ctx context.Context, caller identity.Principal, moves []Move) (moved []Asset, err error) {
	start := time.Now()
	defer func() { s.observe("MoveMany", start, err) }()

	if err := s.gate.ClassifyAnonymous(caller); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parents := make(map[AssetID]*AssetID, len(moves))
	for _, m := range moves {
		if _, ok := s.ownedLocked(caller, m.ID); !ok {
			return nil, apierror.NewNotFound(apierror.MsgAssetNotFound)
		}
		parents[m.ID] = m.NewParentID
	}
	for _, m := range moves {
		if s.createsCycleLocked(m.ID, parents) {
			return nil, apierror.NewInvalidArgument("moving asset %d under %d creates a cycle", m.ID, *m.NewParentID)
		}
	}

	now := s.clock()
	moved = make([]Asset, 0, len(moves))
	for _, m := range moves {
		a := s.assets[m.ID]
		a.ParentID = clonePtr(parents[m.ID])
		a.UpdatedAt = now
		moved = append(moved, a.Clone())
	}
	return moved, nil
}

// createsCycleLocked walks up from id using the pending parents first and
// the stored parents otherwise.
func (s *Store) createsCycleLocked(id AssetID, pending map[AssetID]*AssetID) bool {
	parentOf := func(x AssetID) *AssetID {
		if p, ok := pending[x]; ok {
			return p
		}
		if a, ok := s.assets[x]; ok {
			return a.ParentID
		}
		return nil
	}

	steps := 0
	for p := parentOf(id); p != nil; p = parentOf(*p) {
		if *p == id {
			return true
		}
		if steps++; steps > len(s.assets) {
			return true
		}
	}
	return false
}

// DeleteMany removes exactly the given ids. It fails with NotFound unless
// every id belongs to the caller. Children of deleted folders are kept.
// Returns the deleted ids, deduplicated, in input order.
func (s *Store) DeleteMany(ctx context.Context, caller identity.Principal, ids []AssetID) (deleted []AssetID, err error) {
	start := time.Now()
	defer func() { s.observe("DeleteMany", start, err) }()

	if err := s.gate.ClassifyAnonymous(caller); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted = dedup(ids)
	for _, id := range deleted {
		if _, ok := s.ownedLocked(caller, id); !ok {
			return nil, apierror.NewNotFound(apierror.MsgAssetNotFound)
		}
	}
	s.removeLocked(caller, deleted)
	return deleted, nil
}

// Descendants returns every asset below id in the owner's tree, ordered by id.
func (s *Store) Descendants(owner identity.Principal, id AssetID) ([]AssetID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.ownedLocked(owner, id); !ok {
		return nil, apierror.NewNotFound(apierror.MsgAssetNotFound)
	}
	return s.descendantsLocked(owner, id), nil
}

func (s *Store) descendantsLocked(owner identity.Principal, root AssetID) []AssetID {
	children := make(map[AssetID][]AssetID)
	for _, id := range s.ownerAssets[owner] {
		if a, ok := s.assets[id]; ok && a.ParentID != nil {
			children[*a.ParentID] = append(children[*a.ParentID], id)
		}
	}

	seen := map[AssetID]bool{root: true}
	var out []AssetID
	queue := []AssetID{root}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range children[next] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	slices.Sort(out)
	return out
}

// DeleteTree removes the given ids and all their descendants, then deletes
// the chunks of every removed file. Returns the removed ids in ascending
// order.
func (s *Store) DeleteTree(ctx context.Context, caller identity.Principal, ids []AssetID) (deleted []AssetID, err error) {
	start := time.Now()
	defer func() { s.observe("DeleteTree", start, err) }()

	if err := s.gate.ClassifyAnonymous(caller); err != nil {
		return nil, err
	}

	s.mu.Lock()
	roots := dedup(ids)
	for _, id := range roots {
		if _, ok := s.ownedLocked(caller, id); !ok {
			s.mu.Unlock()
			return nil, apierror.NewNotFound(apierror.MsgAssetNotFound)
		}
	}

	set := make(map[AssetID]struct{})
	for _, id := range roots {
		set[id] = struct{}{}
		for _, d := range s.descendantsLocked(caller, id) {
			set[d] = struct{}{}
		}
	}
	deleted = make([]AssetID, 0, len(set))
	for id := range set {
		deleted = append(deleted, id)
	}
	slices.Sort(deleted)

	var refs []chunk.Ref
	for _, id := range deleted {
		refs = append(refs, s.assets[id].Chunks...)
	}
	s.removeLocked(caller, deleted)
	s.mu.Unlock()

	if len(refs) > 0 {
		s.cleanup(ctx, caller, refs)
	}
	return deleted, nil
}

func (s *Store) removeLocked(owner identity.Principal, ids []AssetID) {
	drop := make(map[AssetID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
		delete(s.assets, id)
	}

	remaining := s.ownerAssets[owner][:0]
	for _, id := range s.ownerAssets[owner] {
		if _, ok := drop[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		delete(s.ownerAssets, owner)
	} else {
		s.ownerAssets[owner] = remaining
	}
	s.metrics.SetObjects(component, "assets", len(s.assets))
}

// GetState returns the id counter and the ownership index. Admin only.
func (s *Store) GetState(caller identity.Principal) (State, error) {
	if err := s.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return State{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	index := make(map[identity.Principal][]AssetID, len(s.ownerAssets))
	for owner, ids := range s.ownerAssets {
		index[owner] = slices.Clone(ids)
	}
	return State{NextID: s.nextID, OwnerAssets: index}, nil
}

// ListAll returns every asset ordered by id. Admin only.
func (s *Store) ListAll(caller identity.Principal) ([]Asset, error) {
	if err := s.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedAssetsLocked(), nil
}

func (s *Store) sortedAssetsLocked() []Asset {
	ids := make([]AssetID, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Asset, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.assets[id].Clone())
	}
	return out
}

// ChunkKey names a chunk within a shard.
type ChunkKey struct {
	Owner identity.Principal
	ID    chunk.ID
}

// ChunkReferences returns, per shard, every chunk referenced by an asset.
func (s *Store) ChunkReferences() map[chunk.Address]map[ChunkKey]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make(map[chunk.Address]map[ChunkKey]struct{})
	for _, a := range s.assets {
		for _, ref := range a.Chunks {
			keys, ok := refs[ref.Shard]
			if !ok {
				keys = make(map[ChunkKey]struct{})
				refs[ref.Shard] = keys
			}
			keys[ChunkKey{Owner: a.Owner, ID: ref.ID}] = struct{}{}
		}
	}
	return refs
}

func dedup(ids []AssetID) []AssetID {
	seen := make(map[AssetID]struct{}, len(ids))
	out := make([]AssetID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
