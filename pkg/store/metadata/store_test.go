package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittovault/pkg/apierror"
	"github.com/marmos91/dittovault/pkg/auth"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/store/blob/memory"
	"github.com/marmos91/dittovault/pkg/store/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice   = identity.FromPublicKey([]byte("alice"))
	bob     = identity.FromPublicKey([]byte("bob"))
	service = identity.Opaque([]byte("asset-store"))
)

// fakeShards routes cleanup calls to in-process chunk stores.
type fakeShards struct {
	mu     sync.Mutex
	stores map[chunk.Address]*chunk.Store
	calls  []cleanupCall
	fail   error
	block  chan struct{}
}

type cleanupCall struct {
	Caller identity.Principal
	Shard  chunk.Address
	Owner  identity.Principal
	IDs    []chunk.ID
}

func newFakeShards() *fakeShards {
	return &fakeShards{stores: make(map[chunk.Address]*chunk.Store)}
}

func (f *fakeShards) DeleteChunks(ctx context.Context, caller identity.Principal, shard chunk.Address, owner identity.Principal, ids []chunk.ID) ([]chunk.ID, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cleanupCall{Caller: caller, Shard: shard, Owner: owner, IDs: ids})
	store := f.stores[shard]
	fail := f.fail
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	if store == nil {
		return nil, errors.New("unknown shard")
	}
	return store.DeleteViaTrustedCaller(ctx, caller, owner, ids)
}

func (f *fakeShards) Calls() []cleanupCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cleanupCall(nil), f.calls...)
}

func (f *fakeShards) addShard(t *testing.T, addr chunk.Address, owner identity.Principal) *chunk.Store {
	t.Helper()
	s, err := chunk.New(chunk.Config{
		Address: addr,
		Owner:   owner,
		Backend: memory.New(),
		Gate:    auth.NewGate(service),
	})
	require.NoError(t, err)
	f.mu.Lock()
	f.stores[addr] = s
	f.mu.Unlock()
	return s
}

func testClock() func() uint64 {
	var mu sync.Mutex
	var now uint64
	return func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		now += 1000
		return now
	}
}

func newTestStore(t *testing.T, shards ShardClient) *Store {
	t.Helper()
	s, err := New(Config{
		Service:        service,
		Gate:           auth.NewGate(service),
		Shards:         shards,
		CleanupTimeout: time.Second,
		Clock:          testClock(),
	})
	require.NoError(t, err)
	return s
}

func idPtr(id AssetID) *AssetID { return &id }
func strPtr(s string) *string   { return &s }
func boolPtr(b bool) *bool      { return &b }

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Gate: auth.NewGate(), Shards: newFakeShards()})
	assert.Error(t, err)
	_, err = New(Config{Service: identity.Anonymous, Gate: auth.NewGate(), Shards: newFakeShards()})
	assert.Error(t, err)
	_, err = New(Config{Service: service, Shards: newFakeShards()})
	assert.Error(t, err)
	_, err = New(Config{Service: service, Gate: auth.NewGate()})
	assert.Error(t, err)
}

func TestUpsert_Create(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeShards())

	t.Run("ids strictly increase", func(t *testing.T) {
		var last AssetID
		for range 5 {
			a, err := s.Upsert(ctx, alice, Draft{Type: Folder(), Name: "dir"})
			require.NoError(t, err)
			assert.Greater(t, a.ID, last)
			last = a.ID
		}
	})

	t.Run("new asset defaults", func(t *testing.T) {
		a, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "a.txt", Extension: "txt", Size: 3})
		require.NoError(t, err)
		assert.Equal(t, alice, a.Owner)
		assert.False(t, a.IsFavorite)
		assert.Equal(t, a.CreatedAt, a.UpdatedAt)
		assert.Equal(t, "txt", a.Extension)
		assert.Equal(t, Private, a.Settings.Privacy)
	})

	t.Run("folder and token drop extension", func(t *testing.T) {
		f, err := s.Upsert(ctx, alice, Draft{Type: Folder(), Name: "pics", Extension: "png"})
		require.NoError(t, err)
		assert.Empty(t, f.Extension)

		tok, err := s.Upsert(ctx, alice, Draft{
			Type:      Tokenized(TokenRef{Collection: bob, Index: 7}),
			Name:      "nft",
			Extension: "png",
		})
		require.NoError(t, err)
		assert.Empty(t, tok.Extension)
		require.NotNil(t, tok.Type.Token)
		assert.Equal(t, uint64(7), tok.Type.Token.Index)
	})

	t.Run("unresolvable id creates", func(t *testing.T) {
		a, err := s.Upsert(ctx, alice, Draft{ID: idPtr(9999), Type: File(), Name: "ghost"})
		require.NoError(t, err)
		assert.NotEqual(t, AssetID(9999), a.ID)
	})

	t.Run("another owner's id creates", func(t *testing.T) {
		mine, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "mine"})
		require.NoError(t, err)
		theirs, err := s.Upsert(ctx, bob, Draft{ID: idPtr(mine.ID), Type: File(), Name: "theirs", Size: 9})
		require.NoError(t, err)
		assert.NotEqual(t, mine.ID, theirs.ID)

		list := s.ListForOwner(alice)
		for _, a := range list {
			if a.ID == mine.ID {
				assert.Equal(t, uint64(0), a.Size)
			}
		}
	})
}

func TestUpsert_Rejects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeShards())

	_, err := s.Upsert(ctx, identity.Anonymous, Draft{Type: Folder()})
	assert.True(t, apierror.IsCode(err, apierror.Unauthorized))

	_, err = s.Upsert(ctx, alice, Draft{Type: Folder(), Chunks: []chunk.Ref{{ID: 1, Shard: "s"}}})
	assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))

	_, err = s.Upsert(ctx, alice, Draft{Type: AssetType{Kind: KindTokenized}})
	assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))

	_, err = s.Upsert(ctx, alice, Draft{Type: AssetType{Kind: "symlink"}})
	assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))

	_, err = s.Upsert(ctx, alice, Draft{Type: File(), Settings: Settings{Privacy: "friends"}})
	assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))
}

func TestUpsert_ReuploadDeletesOldChunks(t *testing.T) {
	ctx := context.Background()
	shards := newFakeShards()
	shard := shards.addShard(t, "shard-alice", alice)
	s := newTestStore(t, shards)

	var refs []chunk.Ref
	for i := range 3 {
		ref, err := shard.Put(ctx, alice, chunk.PostChunk{Blob: []byte{byte(i)}, Index: uint32(i)})
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	file, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "a.bin", Size: 3, Chunks: refs})
	require.NoError(t, err)
	assert.Empty(t, shards.Calls(), "create never cleans up")

	fresh, err := shard.Put(ctx, alice, chunk.PostChunk{Blob: []byte("new")})
	require.NoError(t, err)

	updated, err := s.Upsert(ctx, alice, Draft{ID: idPtr(file.ID), Type: File(), Size: 3, Chunks: []chunk.Ref{fresh}})
	require.NoError(t, err)
	assert.Equal(t, file.ID, updated.ID)
	assert.Equal(t, []chunk.Ref{fresh}, updated.Chunks)
	assert.Greater(t, updated.UpdatedAt, file.UpdatedAt)
	assert.Equal(t, file.CreatedAt, updated.CreatedAt)

	calls := shards.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, service, calls[0].Caller)
	assert.Equal(t, alice, calls[0].Owner)
	assert.Equal(t, chunk.Address("shard-alice"), calls[0].Shard)
	assert.ElementsMatch(t, []chunk.ID{refs[0].ID, refs[1].ID, refs[2].ID}, calls[0].IDs)

	for _, ref := range refs {
		_, err := shard.Get(ctx, alice, ref.ID)
		assert.True(t, apierror.IsCode(err, apierror.NotFound))
	}
	data, err := shard.Get(ctx, alice, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestUpsert_KeptChunksAreSpared(t *testing.T) {
	ctx := context.Background()
	shards := newFakeShards()
	shard := shards.addShard(t, "shard-alice", alice)
	s := newTestStore(t, shards)

	a, err := shard.Put(ctx, alice, chunk.PostChunk{Blob: []byte("a")})
	require.NoError(t, err)
	b, err := shard.Put(ctx, alice, chunk.PostChunk{Blob: []byte("b"), Index: 1})
	require.NoError(t, err)

	file, err := s.Upsert(ctx, alice, Draft{Type: File(), Chunks: []chunk.Ref{a, b}})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, alice, Draft{ID: idPtr(file.ID), Type: File(), Chunks: []chunk.Ref{a}})
	require.NoError(t, err)

	calls := shards.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []chunk.ID{b.ID}, calls[0].IDs)

	_, err = shard.Get(ctx, alice, a.ID)
	assert.NoError(t, err)
}

func TestUpsert_CleanupFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	shards := newFakeShards()
	s := newTestStore(t, shards)

	file, err := s.Upsert(ctx, alice, Draft{Type: File(), Chunks: []chunk.Ref{{ID: 1, Shard: "s1"}, {ID: 2, Shard: "s2"}}})
	require.NoError(t, err)

	shards.fail = errors.New("shard unreachable")
	updated, err := s.Upsert(ctx, alice, Draft{ID: idPtr(file.ID), Type: File(), Size: 10})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), updated.Size)
	assert.Empty(t, updated.Chunks)
	assert.Len(t, shards.Calls(), 2, "one call per shard")
}

func TestUpsert_CleanupTimeout(t *testing.T) {
	ctx := context.Background()
	shards := newFakeShards()
	shards.block = make(chan struct{})
	defer close(shards.block)

	s, err := New(Config{
		Service:        service,
		Gate:           auth.NewGate(service),
		Shards:         shards,
		CleanupTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	file, err := s.Upsert(ctx, alice, Draft{Type: File(), Chunks: []chunk.Ref{{ID: 1, Shard: "s1"}}})
	require.NoError(t, err)

	started := time.Now()
	_, err = s.Upsert(ctx, alice, Draft{ID: idPtr(file.ID), Type: File()})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestUpsert_FolderDraftSkipsCleanup(t *testing.T) {
	ctx := context.Background()
	shards := newFakeShards()
	s := newTestStore(t, shards)

	folder, err := s.Upsert(ctx, alice, Draft{Type: Folder(), Name: "docs"})
	require.NoError(t, err)
	updated, err := s.Upsert(ctx, alice, Draft{ID: idPtr(folder.ID), Type: Folder(), Size: 4})
	require.NoError(t, err)
	assert.Equal(t, folder.ID, updated.ID)
	assert.Empty(t, shards.Calls())
}

func TestUpsert_KindMismatchIsRejected(t *testing.T) {
	ctx := context.Background()
	shards := newFakeShards()
	shard := shards.addShard(t, "shard-alice", alice)
	s := newTestStore(t, shards)

	ref, err := shard.Put(ctx, alice, chunk.PostChunk{Blob: []byte("content")})
	require.NoError(t, err)
	file, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "a.bin", Size: 7, Chunks: []chunk.Ref{ref}})
	require.NoError(t, err)
	folder, err := s.Upsert(ctx, alice, Draft{Type: Folder(), Name: "docs"})
	require.NoError(t, err)

	t.Run("folder draft over a file", func(t *testing.T) {
		_, err := s.Upsert(ctx, alice, Draft{ID: idPtr(file.ID), Type: Folder()})
		assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))

		token := Tokenized(TokenRef{Collection: bob, Index: 3})
		_, err = s.Upsert(ctx, alice, Draft{ID: idPtr(file.ID), Type: token})
		assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))

		mine := s.ListForOwner(alice)
		require.Len(t, mine, 2)
		assert.Equal(t, KindFile, mine[0].Type.Kind)
		assert.Equal(t, []chunk.Ref{ref}, mine[0].Chunks)
		assert.Empty(t, shards.Calls())

		data, err := shard.Get(ctx, alice, ref.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("content"), data)
	})

	t.Run("file draft over a folder", func(t *testing.T) {
		upload, err := shard.Put(ctx, alice, chunk.PostChunk{Blob: []byte("orphan?"), Index: 1})
		require.NoError(t, err)

		_, err = s.Upsert(ctx, alice, Draft{ID: idPtr(folder.ID), Type: File(), Chunks: []chunk.Ref{upload}})
		assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))

		mine := s.ListForOwner(alice)
		require.Len(t, mine, 2)
		assert.Equal(t, KindFolder, mine[1].Type.Kind)
		assert.Empty(t, mine[1].Chunks)
		assert.Empty(t, shards.Calls())
	})
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeShards())

	folder, err := s.Upsert(ctx, alice, Draft{Type: Folder(), Name: "docs"})
	require.NoError(t, err)
	file, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "a", ParentID: idPtr(folder.ID)})
	require.NoError(t, err)

	t.Run("folder extension forced empty", func(t *testing.T) {
		got, err := s.Edit(ctx, alice, Patch{ID: folder.ID, Extension: strPtr("png")})
		require.NoError(t, err)
		assert.Empty(t, got.Extension)
	})

	t.Run("file extension applied", func(t *testing.T) {
		got, err := s.Edit(ctx, alice, Patch{ID: file.ID, ParentID: idPtr(folder.ID), Extension: strPtr("png")})
		require.NoError(t, err)
		assert.Equal(t, "png", got.Extension)
	})

	t.Run("absent fields untouched, parent always overwritten", func(t *testing.T) {
		got, err := s.Edit(ctx, alice, Patch{ID: file.ID})
		require.NoError(t, err)
		assert.Nil(t, got.ParentID)
		assert.Equal(t, "a", got.Name)
		assert.Equal(t, "png", got.Extension)
		assert.False(t, got.IsFavorite)
	})

	t.Run("name and favorite", func(t *testing.T) {
		got, err := s.Edit(ctx, alice, Patch{ID: file.ID, Name: strPtr("b"), IsFavorite: boolPtr(true)})
		require.NoError(t, err)
		assert.Equal(t, "b", got.Name)
		assert.True(t, got.IsFavorite)
		assert.Greater(t, got.UpdatedAt, file.UpdatedAt)
	})

	t.Run("other owner sees not found", func(t *testing.T) {
		_, err := s.Edit(ctx, bob, Patch{ID: file.ID, Name: strPtr("stolen")})
		assert.True(t, apierror.IsCode(err, apierror.NotFound))
	})

	t.Run("cycles rejected", func(t *testing.T) {
		_, err := s.Edit(ctx, alice, Patch{ID: folder.ID, ParentID: idPtr(folder.ID)})
		assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))

		_, err = s.Edit(ctx, alice, Patch{ID: file.ID, ParentID: idPtr(folder.ID)})
		require.NoError(t, err)
		_, err = s.Edit(ctx, alice, Patch{ID: folder.ID, ParentID: idPtr(file.ID), Name: strPtr("renamed")})
		assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))

		got := s.ListForOwner(alice)
		require.Len(t, got, 2)
		assert.Nil(t, got[0].ParentID)
		assert.Equal(t, "docs", got[0].Name)
	})
}

func TestMoveMany(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeShards())

	root, err := s.Upsert(ctx, alice, Draft{Type: Folder(), Name: "root"})
	require.NoError(t, err)
	sub, err := s.Upsert(ctx, alice, Draft{Type: Folder(), Name: "sub", ParentID: idPtr(root.ID)})
	require.NoError(t, err)
	a, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "a"})
	require.NoError(t, err)
	b, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "b"})
	require.NoError(t, err)

	t.Run("input order", func(t *testing.T) {
		moved, err := s.MoveMany(ctx, alice, []Move{
			{ID: b.ID, NewParentID: idPtr(sub.ID)},
			{ID: a.ID, NewParentID: idPtr(root.ID)},
		})
		require.NoError(t, err)
		require.Len(t, moved, 2)
		assert.Equal(t, b.ID, moved[0].ID)
		assert.Equal(t, sub.ID, *moved[0].ParentID)
		assert.Equal(t, a.ID, moved[1].ID)
	})

	t.Run("all or nothing", func(t *testing.T) {
		_, err := s.MoveMany(ctx, alice, []Move{
			{ID: a.ID, NewParentID: nil},
			{ID: 9999, NewParentID: nil},
		})
		assert.True(t, apierror.IsCode(err, apierror.NotFound))

		for _, asset := range s.ListForOwner(alice) {
			if asset.ID == a.ID {
				require.NotNil(t, asset.ParentID)
				assert.Equal(t, root.ID, *asset.ParentID)
			}
		}
	})

	t.Run("cycle rejected", func(t *testing.T) {
		_, err := s.MoveMany(ctx, alice, []Move{{ID: root.ID, NewParentID: idPtr(sub.ID)}})
		assert.True(t, apierror.IsCode(err, apierror.InvalidArgument))
	})

	t.Run("other owner", func(t *testing.T) {
		_, err := s.MoveMany(ctx, bob, []Move{{ID: a.ID}})
		assert.True(t, apierror.IsCode(err, apierror.NotFound))
	})
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeShards())

	var ids []AssetID
	for range 4 {
		a, err := s.Upsert(ctx, alice, Draft{Type: File()})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	other, err := s.Upsert(ctx, bob, Draft{Type: File()})
	require.NoError(t, err)

	_, err = s.DeleteMany(ctx, alice, []AssetID{ids[0], other.ID})
	assert.True(t, apierror.IsCode(err, apierror.NotFound))
	assert.Len(t, s.ListForOwner(alice), 4, "failed batch removes nothing")

	deleted, err := s.DeleteMany(ctx, alice, []AssetID{ids[2], ids[0], ids[2]})
	require.NoError(t, err)
	assert.Equal(t, []AssetID{ids[2], ids[0]}, deleted)

	remaining := s.ListForOwner(alice)
	require.Len(t, remaining, 2)
	assert.Equal(t, ids[1], remaining[0].ID)
	assert.Equal(t, ids[3], remaining[1].ID)
	assert.Len(t, s.ListForOwner(bob), 1)

	deleted, err = s.DeleteMany(ctx, alice, nil)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestDescendantsAndDeleteTree(t *testing.T) {
	ctx := context.Background()
	shards := newFakeShards()
	shard := shards.addShard(t, "shard-alice", alice)
	s := newTestStore(t, shards)

	root, err := s.Upsert(ctx, alice, Draft{Type: Folder(), Name: "root"})
	require.NoError(t, err)
	sub, err := s.Upsert(ctx, alice, Draft{Type: Folder(), Name: "sub", ParentID: idPtr(root.ID)})
	require.NoError(t, err)
	ref, err := shard.Put(ctx, alice, chunk.PostChunk{Blob: []byte("x")})
	require.NoError(t, err)
	leaf, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "leaf", ParentID: idPtr(sub.ID), Chunks: []chunk.Ref{ref}})
	require.NoError(t, err)
	sibling, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "sibling"})
	require.NoError(t, err)

	desc, err := s.Descendants(alice, root.ID)
	require.NoError(t, err)
	assert.Equal(t, []AssetID{sub.ID, leaf.ID}, desc)

	_, err = s.Descendants(bob, root.ID)
	assert.True(t, apierror.IsCode(err, apierror.NotFound))

	deleted, err := s.DeleteTree(ctx, alice, []AssetID{root.ID})
	require.NoError(t, err)
	assert.Equal(t, []AssetID{root.ID, sub.ID, leaf.ID}, deleted)

	remaining := s.ListForOwner(alice)
	require.Len(t, remaining, 1)
	assert.Equal(t, sibling.ID, remaining[0].ID)

	_, err = shard.Get(ctx, alice, ref.ID)
	assert.True(t, apierror.IsCode(err, apierror.NotFound))
}

func TestOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeShards())

	a, err := s.Upsert(ctx, alice, Draft{Type: File(), Name: "secret"})
	require.NoError(t, err)

	mine, err := s.ListMine(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = s.Edit(ctx, bob, Patch{ID: a.ID})
	assert.True(t, apierror.IsCode(err, apierror.NotFound))
	_, err = s.MoveMany(ctx, bob, []Move{{ID: a.ID}})
	assert.True(t, apierror.IsCode(err, apierror.NotFound))
	_, err = s.DeleteMany(ctx, bob, []AssetID{a.ID})
	assert.True(t, apierror.IsCode(err, apierror.NotFound))
	_, err = s.DeleteTree(ctx, bob, []AssetID{a.ID})
	assert.True(t, apierror.IsCode(err, apierror.NotFound))

	mine, err = s.ListMine(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "secret", mine[0].Name)
}

func TestAdminViews(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeShards())

	_, err := s.Upsert(ctx, alice, Draft{Type: Folder()})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, bob, Draft{Type: File(), Chunks: []chunk.Ref{{ID: 4, Shard: "shard-bob"}}})
	require.NoError(t, err)

	_, err = s.GetState(alice)
	assert.True(t, apierror.IsCode(err, apierror.Unauthorized))
	_, err = s.ListAll(alice)
	assert.True(t, apierror.IsCode(err, apierror.Unauthorized))

	state, err := s.GetState(service)
	require.NoError(t, err)
	assert.Equal(t, AssetID(2), state.NextID)
	assert.Equal(t, []AssetID{1}, state.OwnerAssets[alice])
	assert.Equal(t, []AssetID{2}, state.OwnerAssets[bob])

	all, err := s.ListAll(service)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	refs := s.ChunkReferences()
	assert.Equal(t, map[chunk.Address]map[ChunkKey]struct{}{
		"shard-bob": {{Owner: bob, ID: 4}: {}},
	}, refs)
}

func TestReturnedAssetsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeShards())

	a, err := s.Upsert(ctx, alice, Draft{Type: File(), Chunks: []chunk.Ref{{ID: 1, Shard: "s"}}})
	require.NoError(t, err)
	a.Chunks[0].ID = 99

	list := s.ListForOwner(alice)
	assert.Equal(t, chunk.ID(1), list[0].Chunks[0].ID)
}
