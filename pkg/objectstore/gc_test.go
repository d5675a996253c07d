package objectstore_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uberallfs/uberallfs/pkg/identifier"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
)

func TestDeleteMethodFor(t *testing.T) {
	tests := []struct {
		kind identifier.Kind
		want objectstore.DeleteMethod
	}{
		{identifier.NewKind(identifier.Directory, identifier.Private, identifier.Mutable), objectstore.DeleteImmediate},
		{identifier.NewKind(identifier.File, identifier.Private, identifier.Mutable), objectstore.DeleteImmediate},
		{identifier.NewKind(identifier.File, identifier.PublicAcl, identifier.Immutable), objectstore.DeleteExpire},
		{identifier.NewKind(identifier.File, identifier.Anonymous, identifier.Mutable), objectstore.DeleteUnknown},
		{identifier.NewKind(identifier.Directory, identifier.PublicAcl, identifier.Immutable), objectstore.DeleteUnknown},
	}
	for _, tt := range tests {
		var bin identifier.Bin
		id := identifier.New(tt.kind, bin)
		assert.Equal(t, tt.want, objectstore.DeleteMethodFor(id), tt.kind.String())
	}
}

func TestBuilderRealizeTwicePanics(t *testing.T) {
	store := newTestStore(t)

	builder := objectstore.Build(identifier.Directory, identifier.Private, identifier.Mutable)
	_, err := builder.Realize(store)
	require.NoError(t, err)

	assert.Panics(t, func() { builder.Realize(store) })
}

func TestRealizeUnsupportedKind(t *testing.T) {
	store := newTestStore(t)

	_, err := objectstore.Build(identifier.Directory, identifier.Anonymous, identifier.Immutable).Realize(store)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrUnsupportedObjectType), "got %v", err)
}

func TestCollectReachable(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	a, err := objectstore.Mkdir(store, "/a", objectstore.MkdirOptions{})
	require.NoError(t, err)
	b, err := objectstore.Mkdir(store, "/a/b", objectstore.MkdirOptions{})
	require.NoError(t, err)
	orphan := mkdirObject(t, store)

	inUse := make(map[identifier.Bin]struct{})
	require.NoError(t, store.CollectReachable(root, inUse))

	assert.Contains(t, inUse, root.Bin())
	assert.Contains(t, inUse, a.Bin())
	assert.Contains(t, inUse, b.Bin())
	assert.NotContains(t, inUse, orphan.Bin())
}

func TestCollectReachableHandlesCycles(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	a, err := objectstore.Mkdir(store, "/a", objectstore.MkdirOptions{})
	require.NoError(t, err)
	// a link back to the root creates a cycle
	require.NoError(t, store.CreateLink(root, objectstore.SubObject{Dir: a, Name: "up"}))

	inUse := make(map[identifier.Bin]struct{})
	require.NoError(t, store.CollectReachable(root, inUse))
	assert.Contains(t, inUse, a.Bin())
}

func TestGCDryRunReportsUnreachable(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	x, err := objectstore.Mkdir(store, "/x", objectstore.MkdirOptions{})
	require.NoError(t, err)

	// unlink manually by removing the link file
	link := filepath.Join(storeDir(t, store), "objects", root.Shard(), root.String(), "x")
	require.NoError(t, os.Remove(link))

	var report bytes.Buffer
	stats, err := store.GC([]identifier.Identifier{root}, objectstore.GCOptions{DryRun: true, Report: &report})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unreachable)
	assert.Zero(t, stats.Deleted)
	assert.Contains(t, report.String(), x.String())

	// dry run removed nothing
	_, err = store.ObjectMetadata(x)
	assert.NoError(t, err)
}

func TestGCDeletesUnreachable(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	x, err := objectstore.Mkdir(store, "/x", objectstore.MkdirOptions{})
	require.NoError(t, err)
	link := filepath.Join(storeDir(t, store), "objects", root.Shard(), root.String(), "x")
	require.NoError(t, os.Remove(link))

	stats, err := store.GC([]identifier.Identifier{root}, objectstore.GCOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unreachable)
	assert.Equal(t, 1, stats.Deleted)

	// the object is gone from disk and from all_objects
	_, err = store.ObjectMetadata(x)
	assert.ErrorIs(t, err, os.ErrNotExist)
	for id, err := range store.AllObjects() {
		require.NoError(t, err)
		assert.NotEqual(t, x, id)
	}

	// the root survives
	_, err = store.ObjectMetadata(root)
	assert.NoError(t, err)
}

func TestGCKeepsReachable(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	a, err := objectstore.Mkdir(store, "/a", objectstore.MkdirOptions{})
	require.NoError(t, err)
	b, err := objectstore.Mkdir(store, "/a/b", objectstore.MkdirOptions{Parents: true})
	require.NoError(t, err)

	stats, err := store.GC([]identifier.Identifier{root}, objectstore.GCOptions{})
	require.NoError(t, err)
	assert.Zero(t, stats.Unreachable)

	for _, id := range []identifier.Identifier{root, a, b} {
		_, err := store.ObjectMetadata(id)
		assert.NoError(t, err)
	}
}

func TestAllObjectsYieldsEveryObject(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	want := map[identifier.Identifier]bool{root: true}
	for range 5 {
		id := mkdirObject(t, store)
		want[id] = true
	}

	got := map[identifier.Identifier]bool{}
	for id, err := range store.AllObjects() {
		require.NoError(t, err)
		got[id] = true
	}
	assert.Equal(t, want, got)
}

func TestDeleteImmediateRemovesTree(t *testing.T) {
	store := newTestStore(t)

	dir := mkdirObject(t, store)
	inner := mkdirObject(t, store)
	require.NoError(t, store.CreateLink(inner, objectstore.SubObject{Dir: dir, Name: "inner"}))

	require.NoError(t, store.Delete(dir))
	_, err := store.ObjectMetadata(dir)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// tmp is left clean
	entries, err := os.ReadDir(filepath.Join(storeDir(t, store), "objects", "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteExpireMovesToTombstone(t *testing.T) {
	store := newTestStore(t)

	// materialize an expiring object by hand: kind (File, PublicAcl,
	// Immutable) has no realization, so place the file directly.
	var bin identifier.Bin
	bin[0] = 0xAB
	id := identifier.New(identifier.NewKind(identifier.File, identifier.PublicAcl, identifier.Immutable), bin)
	path := filepath.Join(storeDir(t, store), "objects", id.Shard(), id.String())
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o640))

	require.NoError(t, store.Delete(id))

	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(storeDir(t, store), "objects", "delete", id.String()))
	assert.NoError(t, err)
}

func TestDeleteUnknownMethodFails(t *testing.T) {
	store := newTestStore(t)

	var bin identifier.Bin
	id := identifier.New(identifier.NewKind(identifier.File, identifier.Anonymous, identifier.Mutable), bin)
	err := store.Delete(id)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrUnsupportedObjectType), "got %v", err)
}
