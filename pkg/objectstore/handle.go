package objectstore

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// Handle is an owned handle to an object's on-disk resource. Dropping a
// handle closes the underlying descriptor; callers close exactly once.
type Handle interface {
	Close() error
}

// DirHandle is an open directory object.
type DirHandle struct {
	File *os.File
}

// Close implements Handle.
func (h *DirHandle) Close() error {
	return h.File.Close()
}

// FileHandle is an open file object.
type FileHandle struct {
	File *os.File
}

// Close implements Handle.
func (h *FileHandle) Close() error {
	return h.File.Close()
}

// DirIterHandle is a directory iterator with positionable entries, as the
// filesystem bridge consumes them.
type DirIterHandle struct {
	entries []SubEntry
}

// Entries returns the resolved directory entries.
func (h *DirIterHandle) Entries() []SubEntry {
	return h.entries
}

// Close implements Handle.
func (h *DirIterHandle) Close() error {
	return nil
}

// OpenDirectory opens a handle to a directory object. Directory opens never
// require write access.
func (s *ObjectStore) OpenDirectory(id identifier.Identifier) (*DirHandle, error) {
	if err := id.EnsureDir(); err != nil {
		return nil, err
	}
	dir, err := openDir(int(s.objects.Fd()), objectPath(id))
	if err != nil {
		return nil, err
	}
	s.countOp("open_directory")
	return &DirHandle{File: dir}, nil
}

// DirectoryIter opens an iterator handle over the entries of a directory
// object.
func (s *ObjectStore) DirectoryIter(id identifier.Identifier) (*DirIterHandle, error) {
	var entries []SubEntry
	for entry, err := range s.ListDirectory(id) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	s.countOp("directory_iter")
	return &DirIterHandle{entries: entries}, nil
}

// OpenFile opens a handle to a file object with the given access mode.
func (s *ObjectStore) OpenFile(id identifier.Identifier, access FileAccess) (*FileHandle, error) {
	if err := id.EnsureFile(); err != nil {
		return nil, err
	}
	p := objectPath(id)
	fd, err := unix.Openat(int(s.objects.Fd()), p, access.get(), 0)
	if err != nil {
		return nil, &fs.PathError{Op: "openat", Path: p, Err: err}
	}
	s.countOp("open_file")
	return &FileHandle{File: os.NewFile(uintptr(fd), p)}, nil
}

// CreateFile materializes a file object on disk and returns its handle.
// When parent is non-nil the new object is also linked under it; a failed
// link rolls the file back.
func (s *ObjectStore) CreateFile(id identifier.Identifier, parent *SubObject, access FileAccess, perm FilePermissions, attr FileAttributes) (*FileHandle, error) {
	if err := id.EnsureFile(); err != nil {
		return nil, err
	}
	p := objectPath(id)
	fd, err := unix.Openat(int(s.objects.Fd()), p,
		access.get()|unix.O_CREAT|unix.O_EXCL, perm.get()|attr.get())
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, NewObjectExistsError(id.String())
		}
		return nil, &fs.PathError{Op: "openat", Path: p, Err: err}
	}
	handle := &FileHandle{File: os.NewFile(uintptr(fd), p)}

	if parent != nil {
		if err := s.CreateLink(id, *parent); err != nil {
			handle.Close()
			unix.Unlinkat(int(s.objects.Fd()), p, 0)
			return nil, err
		}
	}
	s.countOp("create_file")
	return handle, nil
}
