package objectstore_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uberallfs/uberallfs/pkg/identifier"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
)

// newTestStore initializes a fresh objectstore in a temp dir and opens it.
func newTestStore(t *testing.T) *objectstore.ObjectStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "teststore")
	require.NoError(t, objectstore.Init(dir, false, false))

	store, err := objectstore.Open(dir, objectstore.WaitForLock)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// mkdirObject realizes a private mutable directory object.
func mkdirObject(t *testing.T, store *objectstore.ObjectStore) identifier.Identifier {
	t.Helper()
	object, err := objectstore.Build(identifier.Directory, identifier.Private, identifier.Mutable).Realize(store)
	require.NoError(t, err)
	return object.ID
}

func TestInitRejectsExistingStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "teststore")

	require.NoError(t, objectstore.Init(dir, false, false))

	err := objectstore.Init(dir, false, false)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrObjectStoreExists), "got %v", err)

	assert.NoError(t, objectstore.Init(dir, true, false))
}

func TestInitRejectsForeignDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foreign"), []byte("x"), 0o644))

	err := objectstore.Init(dir, false, false)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrObjectStoreForeignExists), "got %v", err)
}

func TestInitRejectsNonDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	err := objectstore.Init(file, false, false)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrObjectStoreNoDir), "got %v", err)
}

func TestInitLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "teststore")
	require.NoError(t, objectstore.Init(dir, false, false))

	version, err := os.ReadFile(filepath.Join(dir, "objects", "version"))
	require.NoError(t, err)
	assert.Equal(t, "0\n", string(version))

	for _, sub := range []string{"tmp", "delete", "AA", "aa", "00", "--", "__", "Zz"} {
		info, err := os.Stat(filepath.Join(dir, "objects", sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir(), sub)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "objects"))
	require.NoError(t, err)
	// 4096 shards + tmp + delete + version + root
	assert.Len(t, entries, 4096+4)
}

func TestOpenRejectsForeignVersion(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "teststore")
	require.NoError(t, objectstore.Init(dir, false, false))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "objects", "version"), []byte("1\n"), 0o644))

	_, err := objectstore.Open(dir, objectstore.WaitForLock)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrUnsupportedObjectStore), "got %v", err)
}

func TestOpenTryLockContention(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "teststore")
	require.NoError(t, objectstore.Init(dir, false, false))

	first, err := objectstore.Open(dir, objectstore.TryLock)
	require.NoError(t, err)
	defer first.Close()

	_, err = objectstore.Open(dir, objectstore.TryLock)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrNoLock), "got %v", err)
}

func TestRootIDIsDirectory(t *testing.T) {
	store := newTestStore(t)

	root, err := store.RootID()
	require.NoError(t, err)
	assert.NoError(t, root.EnsureDir())
	assert.Equal(t, identifier.Private, root.SharingPolicy())
	assert.Equal(t, identifier.Mutable, root.Mutability())
}

func TestSetRootReplacesPointer(t *testing.T) {
	store := newTestStore(t)

	next := mkdirObject(t, store)
	require.NoError(t, store.SetRoot(next))

	root, err := store.RootID()
	require.NoError(t, err)
	assert.Equal(t, next, root)
}

func TestCreateDirectoryTwiceFails(t *testing.T) {
	store := newTestStore(t)
	id := mkdirObject(t, store)

	err := store.CreateDirectory(id, objectstore.NewDirectoryPermissions().Full())
	assert.True(t, objectstore.IsCode(err, objectstore.ErrObjectExists), "got %v", err)
}

func TestCreateLinkAndSubObjectID(t *testing.T) {
	store := newTestStore(t)

	root, err := store.RootID()
	require.NoError(t, err)
	child := mkdirObject(t, store)

	require.NoError(t, store.CreateLink(child, objectstore.SubObject{Dir: root, Name: "testdir"}))

	got, err := store.SubObjectID(objectstore.SubObject{Dir: root, Name: "testdir"})
	require.NoError(t, err)
	assert.Equal(t, child, got)

	// the shard dir holding the object carries the identifier's first two chars
	assert.Equal(t, child.String()[:2], child.Shard())
	_, err = os.Stat(filepath.Join(storeDir(t, store), "objects", child.Shard(), child.String()))
	assert.NoError(t, err)
}

func TestCreateLinkRejectsReservedPrefix(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)
	child := mkdirObject(t, store)

	err = store.CreateLink(child, objectstore.SubObject{Dir: root, Name: objectstore.ReservedPrefix + "evil"})
	assert.True(t, objectstore.IsCode(err, objectstore.ErrIllegalFileName), "got %v", err)
}

func TestCreateLinkDuplicateNameFails(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	a := mkdirObject(t, store)
	b := mkdirObject(t, store)

	require.NoError(t, store.CreateLink(a, objectstore.SubObject{Dir: root, Name: "name"}))
	err = store.CreateLink(b, objectstore.SubObject{Dir: root, Name: "name"})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrExist)

	// the first link is untouched
	got, err := store.SubObjectID(objectstore.SubObject{Dir: root, Name: "name"})
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestHardAliasing(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	child := mkdirObject(t, store)
	require.NoError(t, store.CreateLink(child, objectstore.SubObject{Dir: root, Name: "one"}))
	require.NoError(t, store.CreateLink(child, objectstore.SubObject{Dir: root, Name: "two"}))

	one, err := store.SubObjectID(objectstore.SubObject{Dir: root, Name: "one"})
	require.NoError(t, err)
	two, err := store.SubObjectID(objectstore.SubObject{Dir: root, Name: "two"})
	require.NoError(t, err)
	assert.Equal(t, one, two)
}

func TestListDirectory(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	want := map[string]identifier.Identifier{}
	for _, name := range []string{"alpha", "beta", "gamma"} {
		child := mkdirObject(t, store)
		require.NoError(t, store.CreateLink(child, objectstore.SubObject{Dir: root, Name: name}))
		want[name] = child
	}

	got := map[string]identifier.Identifier{}
	for entry, err := range store.ListDirectory(root) {
		require.NoError(t, err)
		got[entry.Name] = entry.ID
	}
	assert.Equal(t, want, got)
}

func TestListDirectorySkipsNonSymlinks(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	// a plain file inside the directory object is not a child
	inner := filepath.Join(storeDir(t, store), "objects", root.Shard(), root.String(), "plain")
	require.NoError(t, os.WriteFile(inner, []byte("x"), 0o644))

	for entry, err := range store.ListDirectory(root) {
		require.NoError(t, err)
		assert.NotEqual(t, "plain", entry.Name)
	}
}

func TestObjectMetadata(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	stat, err := store.ObjectMetadata(root)
	require.NoError(t, err)
	assert.NotZero(t, stat.Ino)
}

func TestDirectoryIterEntries(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	child := mkdirObject(t, store)
	require.NoError(t, store.CreateLink(child, objectstore.SubObject{Dir: root, Name: "sub"}))

	iter, err := store.DirectoryIter(root)
	require.NoError(t, err)
	defer iter.Close()

	entries := iter.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "sub", entries[0].Name)
	assert.Equal(t, child, entries[0].ID)
}

func TestCreateAndOpenFileObject(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RootID()
	require.NoError(t, err)

	object, err := objectstore.Build(identifier.File, identifier.Private, identifier.Mutable).Realize(store)
	require.NoError(t, err)
	require.NoError(t, store.CreateLink(object.ID, objectstore.SubObject{Dir: root, Name: "file"}))

	handle, err := store.OpenFile(object.ID, objectstore.NewFileAccess().ReadWrite())
	require.NoError(t, err)
	_, err = handle.File.WriteString("payload")
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	handle, err = store.OpenFile(object.ID, objectstore.NewFileAccess().ReadOnly())
	require.NoError(t, err)
	defer handle.Close()
	buf := make([]byte, 16)
	n, _ := handle.File.ReadAt(buf, 0)
	assert.Equal(t, "payload", string(buf[:n]))
}

// storeDir recovers the store directory of an open store through its
// objects fd.
func storeDir(t *testing.T, store *objectstore.ObjectStore) string {
	t.Helper()
	link, err := os.Readlink(filepath.Join("/proc/self/fd", strconv.Itoa(store.ObjectsFd())))
	require.NoError(t, err)
	return filepath.Dir(link)
}
