package objectstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/internal/logger"
	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// shardAlphabet is the URL-safe base64 alphabet; every two character
// combination names one shard directory.
const shardAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// shardNames returns all 4096 shard directory names in lexical order.
func shardNames() []string {
	sorted := []byte(shardAlphabet)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	names := make([]string, 0, len(sorted)*len(sorted))
	for _, a := range sorted {
		for _, b := range sorted {
			names = append(names, string([]byte{a, b}))
		}
	}
	return names
}

// validObjectstoreDir checks that dir is a legal init target: missing, an
// empty directory, or an existing objectstore when force is given.
func validObjectstoreDir(dir string, force bool) error {
	info, err := os.Lstat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return NewObjectStoreNoDirError(dir)
	}

	if _, err := os.Stat(dir + "/objects/version"); err == nil {
		if !force {
			return NewObjectStoreExistsError(dir)
		}
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return NewObjectStoreForeignExistsError(dir)
	}
	return nil
}

// CreateObjectstore creates and initializes the on-disk structure of a new
// objectstore at dir: objects/, tmp/, delete/, the 4096 shard directories
// and the version file. Pre-existing directories are accepted, which makes
// the operation idempotent under re-initialization.
func CreateObjectstore(dir string) error {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return err
	}

	logger.Debug("initialize objectstore", "dir", dir, "version", Version)

	lock, err := openDir(unix.AT_FDCWD, dir)
	if err != nil {
		return err
	}
	defer lock.Close()
	if err := lockFd(int(lock.Fd()), TryLock); err != nil {
		return err
	}

	fd := int(lock.Fd())
	for _, sub := range []string{"objects", "objects/tmp", "objects/delete"} {
		if err := mkdirExistOk(fd, sub); err != nil {
			return err
		}
	}

	if err := writeVersion(fd); err != nil {
		return err
	}

	for _, shard := range shardNames() {
		if err := mkdirExistOk(fd, "objects/"+shard); err != nil {
			return err
		}
	}
	return nil
}

// Init initializes a new objectstore at dir the way the CLI does: validate
// the target, create the structure and register a fresh private mutable
// directory as root unless noRoot is given.
func Init(dir string, force, noRoot bool) error {
	if err := validObjectstoreDir(dir, force); err != nil {
		return err
	}
	if err := CreateObjectstore(dir); err != nil {
		return err
	}

	store, err := Open(dir, WaitForLock)
	if err != nil {
		return err
	}
	defer store.Close()

	if noRoot {
		return nil
	}
	root, err := Build(identifier.Directory, identifier.Private, identifier.Mutable).Realize(store)
	if err != nil {
		return err
	}
	return store.SetRoot(root.ID)
}

func mkdirExistOk(dirfd int, name string) error {
	if err := unix.Mkdirat(dirfd, name, 0o777); err != nil && !errors.Is(err, unix.EEXIST) {
		return &fs.PathError{Op: "mkdirat", Path: name, Err: err}
	}
	return nil
}

func writeVersion(dirfd int) error {
	fd, err := unix.Openat(dirfd, "objects/version",
		unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return &fs.PathError{Op: "openat", Path: "objects/version", Err: err}
	}
	f := os.NewFile(uintptr(fd), "objects/version")
	defer f.Close()

	_, err = fmt.Fprintf(f, "%d\n", Version)
	return err
}
