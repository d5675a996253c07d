package vfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/pkg/identifier"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
	"github.com/uberallfs/uberallfs/pkg/vfs"
)

func newTestVFS(t *testing.T) *vfs.VirtualFileSystem {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "teststore")
	require.NoError(t, objectstore.Init(dir, false, false))

	v, err := vfs.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestVFSPathLookup(t *testing.T) {
	v := newTestVFS(t)
	uid := vfs.UserID(1000)

	sub, err := objectstore.Mkdir(v.Store(), "/testdir", objectstore.MkdirOptions{})
	require.NoError(t, err)

	got, err := v.PathLookup(uid, "/testdir")
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	root, err := v.RootID()
	require.NoError(t, err)
	got, err = v.PathLookup(uid, "/")
	require.NoError(t, err)
	assert.Equal(t, root, got)

	_, err = v.PathLookup(uid, "/doesnotexist")
	assert.True(t, objectstore.IsCode(err, objectstore.ErrObjectNotFound), "got %v", err)
}

func TestVFSLookupForCreate(t *testing.T) {
	v := newTestVFS(t)
	uid := vfs.UserID(1000)

	root, err := v.RootID()
	require.NoError(t, err)

	parent, name, err := v.LookupForCreate(uid, "/newdir")
	require.NoError(t, err)
	assert.Equal(t, root, parent)
	assert.Equal(t, "newdir", name)

	// existing paths cannot be created again
	_, err = objectstore.Mkdir(v.Store(), "/newdir", objectstore.MkdirOptions{})
	require.NoError(t, err)
	_, _, err = v.LookupForCreate(uid, "/newdir")
	assert.True(t, objectstore.IsCode(err, objectstore.ErrObjectExists), "got %v", err)

	// more than one missing component is not a create target
	_, _, err = v.LookupForCreate(uid, "/a/b")
	assert.True(t, objectstore.IsCode(err, objectstore.ErrObjectNotFound), "got %v", err)
}

func TestVFSSubLookup(t *testing.T) {
	v := newTestVFS(t)
	uid := vfs.UserID(1000)

	root, err := v.RootID()
	require.NoError(t, err)
	sub, err := objectstore.Mkdir(v.Store(), "/child", objectstore.MkdirOptions{})
	require.NoError(t, err)

	got, err := v.SubLookup(uid, root, "child")
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	_, err = v.SubLookup(uid, root, "nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVFSMetadata(t *testing.T) {
	v := newTestVFS(t)
	uid := vfs.UserID(1000)

	root, err := v.RootID()
	require.NoError(t, err)

	stat, err := v.Metadata(uid, root)
	require.NoError(t, err)
	assert.NotZero(t, stat.Ino)
	assert.Equal(t, uint32(unix.S_IFDIR), stat.Mode&unix.S_IFMT)
}

func TestVFSListDirectory(t *testing.T) {
	v := newTestVFS(t)
	uid := vfs.UserID(1000)

	root, err := v.RootID()
	require.NoError(t, err)
	a, err := objectstore.Mkdir(v.Store(), "/a", objectstore.MkdirOptions{})
	require.NoError(t, err)

	entries, err := v.ListDirectory(uid, root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, a, entries[0].ID)
}

func TestVFSAccess(t *testing.T) {
	v := newTestVFS(t)
	uid := vfs.UserID(1000)

	root, err := v.RootID()
	require.NoError(t, err)

	assert.NoError(t, v.Access(uid, root, unix.R_OK))
	assert.NoError(t, v.Access(uid, root, unix.R_OK|unix.W_OK|unix.X_OK))

	var bin identifier.Bin
	anonDir := identifier.New(identifier.NewKind(identifier.Directory, identifier.Anonymous, identifier.Mutable), bin)
	assert.NoError(t, v.Access(uid, anonDir, unix.R_OK))
	assert.ErrorIs(t, v.Access(uid, anonDir, unix.W_OK), unix.EACCES)
}
