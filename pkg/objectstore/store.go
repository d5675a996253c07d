// Package objectstore implements the content-addressed object store: a flat
// directory-of-directories on a host POSIX filesystem where every object is
// named by its identifier and directory objects reference their children by
// reserved-prefixed symlinks.
//
// All on-disk primitives operate relative to the file descriptor of the
// objects/ directory, never by absolute path, so the store is immune to
// concurrent renames of its parent. An exclusive advisory lock on the store
// directory gives single-writer semantics across processes; within a process
// every method is safe for concurrent use.
package objectstore

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/internal/logger"
	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// Version is the on-disk format this build reads and writes. Version 0 is an
// everlasting development format, incompatible with any other version
// including itself from former development cycles.
const Version = 0

// StoreMetrics receives operation counts from the store. Implementations
// must be safe for concurrent use; a nil StoreMetrics disables collection.
type StoreMetrics interface {
	// IncOp counts one completed store primitive ("create_directory",
	// "create_link", "sub_object_id", ...).
	IncOp(op string)

	// GCSweep records the outcome of one garbage collection pass.
	GCSweep(reachable, unreachable, deleted, expired int)
}

// SubObject is an identifier/name pair addressing an entry in a directory
// object.
type SubObject struct {
	Dir  identifier.Identifier
	Name string
}

// SubEntry is one resolved child of a directory object.
type SubEntry struct {
	Name string
	ID   identifier.Identifier
}

// ObjectStore is an open object store. It owns the directory handle and the
// advisory lock; Close releases both.
type ObjectStore struct {
	version int
	dir     *os.File // store root, holds the flock
	objects *os.File // objects/, base for all fd-relative primitives
	metrics StoreMetrics
}

// Option configures an ObjectStore on open.
type Option func(*ObjectStore)

// WithMetrics attaches a metrics sink to the store.
func WithMetrics(m StoreMetrics) Option {
	return func(s *ObjectStore) { s.metrics = m }
}

// Open opens the object store at dir, acquiring the store lock with the
// given method and verifying the on-disk version.
func Open(dir string, locking LockingMethod, opts ...Option) (*ObjectStore, error) {
	dirFile, err := openDir(unix.AT_FDCWD, dir)
	if err != nil {
		return nil, err
	}

	if err := lockFd(int(dirFile.Fd()), locking); err != nil {
		dirFile.Close()
		return nil, err
	}

	version, err := readVersion(dirFile)
	if err != nil {
		dirFile.Close()
		return nil, err
	}
	logger.Debug("open objectstore", "dir", dir, "version", version)
	if version != Version {
		dirFile.Close()
		return nil, NewUnsupportedObjectStoreError(version)
	}

	objects, err := openDir(int(dirFile.Fd()), "objects")
	if err != nil {
		dirFile.Close()
		return nil, err
	}

	s := &ObjectStore{
		version: version,
		dir:     dirFile,
		objects: objects,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the store handles, releasing the advisory lock.
func (s *ObjectStore) Close() error {
	err := s.objects.Close()
	if err2 := s.dir.Close(); err == nil {
		err = err2
	}
	return err
}

// ObjectsFd returns the raw file descriptor of the objects directory.
func (s *ObjectStore) ObjectsFd() int {
	return int(s.objects.Fd())
}

func (s *ObjectStore) countOp(op string) {
	if s.metrics != nil {
		s.metrics.IncOp(op)
	}
}

// readVersion reads the on-disk format version from objects/version. The
// file holds a single decimal ASCII line.
func readVersion(dir *os.File) (int, error) {
	fd, err := unix.Openat(int(dir.Fd()), "objects/version", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, &fs.PathError{Op: "openat", Path: "objects/version", Err: err}
	}
	f := os.NewFile(uintptr(fd), "objects/version")
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		return 0, err
	}
	version, err := strconv.Atoi(strings.TrimSuffix(line, "\n"))
	if err != nil {
		return 0, NewFatalError("malformed version file: " + err.Error())
	}
	return version, nil
}

// openDir opens a directory relative to dirfd and wraps it in an os.File.
func openDir(dirfd int, name string) (*os.File, error) {
	fd, err := unix.Openat(dirfd, name, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &fs.PathError{Op: "openat", Path: name, Err: err}
	}
	return os.NewFile(uintptr(fd), name), nil
}

// RootID returns the identifier of the store's root object, read from the
// objects/root symlink.
func (s *ObjectStore) RootID() (identifier.Identifier, error) {
	target, err := s.readlink("root")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return identifier.Identifier{}, NewFatalError("root directory not found")
		}
		return identifier.Identifier{}, err
	}
	return identifier.Parse(path.Base(target))
}

// SetRoot atomically registers the store's root directory. The old root
// pointer is removed first; both steps happen under the store lock.
func (s *ObjectStore) SetRoot(id identifier.Identifier) error {
	if err := id.EnsureDir(); err != nil {
		return err
	}
	logger.Info("set_root", "id", id.String())
	unix.Unlinkat(int(s.objects.Fd()), "root", 0)
	if err := unix.Symlinkat(objectPath(id), int(s.objects.Fd()), "root"); err != nil {
		return &fs.PathError{Op: "symlinkat", Path: "root", Err: err}
	}
	s.countOp("set_root")
	return nil
}

// CreateDirectory creates the on-disk directory of a directory object.
// Fails with ObjectExists when the object is already present.
func (s *ObjectStore) CreateDirectory(id identifier.Identifier, perm DirectoryPermissions) error {
	if err := id.EnsureDir(); err != nil {
		return err
	}
	p := objectPath(id)
	logger.Info("create_directory", "path", p)
	if err := unix.Mkdirat(int(s.objects.Fd()), p, perm.get()); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return NewObjectExistsError(id.String())
		}
		return &fs.PathError{Op: "mkdirat", Path: p, Err: err}
	}
	s.countOp("create_directory")
	return nil
}

// CreateLink links the child object under parent. The link name must not
// carry the reserved prefix. Creation is atomic; an existing entry surfaces
// the underlying EEXIST unchanged.
func (s *ObjectStore) CreateLink(child identifier.Identifier, parent SubObject) error {
	if err := parent.Dir.EnsureDir(); err != nil {
		return err
	}
	if strings.HasPrefix(parent.Name, ReservedPrefix) {
		logger.Warn("link: illegal file name", "name", parent.Name)
		return NewIllegalFileNameError(parent.Name)
	}

	source := subObjectPath(parent)
	dest := linkTarget(child)
	logger.Debug("link", "source", source, "dest", dest)

	if err := unix.Symlinkat(dest, int(s.objects.Fd()), source); err != nil {
		return &fs.PathError{Op: "symlinkat", Path: source, Err: err}
	}
	s.countOp("create_link")
	return nil
}

// SubObjectID resolves the identifier of a directory entry by reading its
// child symlink. A missing entry surfaces the host NotFound error; path
// traversal treats that as the end of the resolved prefix.
func (s *ObjectStore) SubObjectID(sub SubObject) (identifier.Identifier, error) {
	if err := sub.Dir.EnsureDir(); err != nil {
		return identifier.Identifier{}, err
	}
	target, err := s.readlink(subObjectPath(sub))
	if err != nil {
		return identifier.Identifier{}, err
	}
	id, err := parseLinkTarget(target)
	if err != nil {
		return identifier.Identifier{}, err
	}
	s.countOp("sub_object_id")
	return id, nil
}

func (s *ObjectStore) readlink(p string) (string, error) {
	// Reserved prefix plus identifier is 55 bytes; anything longer than the
	// buffer is malformed anyway.
	var buf [128]byte
	n, err := unix.Readlinkat(int(s.objects.Fd()), p, buf[:])
	if err != nil {
		return "", &fs.PathError{Op: "readlinkat", Path: p, Err: err}
	}
	return string(buf[:n]), nil
}

// ListDirectory yields one (name, child) entry per well-formed child symlink
// of the directory object. Entries that are not symlinks are not children
// and are skipped; a symlink with an unparseable target aborts the sequence
// with its error.
func (s *ObjectStore) ListDirectory(id identifier.Identifier) iter.Seq2[SubEntry, error] {
	return func(yield func(SubEntry, error) bool) {
		if err := id.EnsureDir(); err != nil {
			yield(SubEntry{}, err)
			return
		}
		dir, err := openDir(int(s.objects.Fd()), objectPath(id))
		if err != nil {
			yield(SubEntry{}, err)
			return
		}
		defer dir.Close()

		s.countOp("list_directory")
		for {
			entries, readErr := dir.ReadDir(64)
			for _, entry := range entries {
				if entry.Type()&fs.ModeSymlink == 0 {
					continue
				}
				child, err := s.SubObjectID(SubObject{Dir: id, Name: entry.Name()})
				if err != nil {
					yield(SubEntry{}, err)
					return
				}
				if !yield(SubEntry{Name: entry.Name(), ID: child}, nil) {
					return
				}
			}
			if readErr != nil {
				if !errors.Is(readErr, io.EOF) {
					yield(SubEntry{}, readErr)
				}
				return
			}
		}
	}
}

// ObjectMetadata returns the host filesystem metadata of the object's
// on-disk inode.
func (s *ObjectStore) ObjectMetadata(id identifier.Identifier) (unix.Stat_t, error) {
	var stat unix.Stat_t
	p := objectPath(id)
	if err := unix.Fstatat(int(s.objects.Fd()), p, &stat, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return unix.Stat_t{}, &fs.PathError{Op: "fstatat", Path: p, Err: err}
	}
	s.countOp("object_metadata")
	return stat, nil
}

// IdentifierLookup resolves an abbreviated identifier to a full one. A full
// length prefix is validated for existence; shorter prefixes scan the shard
// directory and must match exactly one object.
func (s *ObjectStore) IdentifierLookup(prefix string) (identifier.Identifier, error) {
	logger.Debug("identifier_lookup", "prefix", prefix)
	switch l := len(prefix); {
	case l < 4 || l > identifier.TextLen:
		return identifier.Identifier{}, NewInvalidIdentifierError(
			"abbreviated identifiers must be between 4 and 44 characters in length")

	case l == identifier.TextLen:
		var stat unix.Stat_t
		p := prefix[:2] + "/" + prefix
		if err := unix.Fstatat(int(s.objects.Fd()), p, &stat, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			if errors.Is(err, unix.ENOENT) {
				return identifier.Identifier{}, NewObjectNotFoundError(prefix)
			}
			return identifier.Identifier{}, &fs.PathError{Op: "fstatat", Path: p, Err: err}
		}
		return identifier.Parse(prefix)

	default:
		shard, err := openDir(int(s.objects.Fd()), prefix[:2])
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return identifier.Identifier{}, NewObjectNotFoundError(prefix)
			}
			return identifier.Identifier{}, err
		}
		defer shard.Close()

		entries, err := shard.ReadDir(-1)
		if err != nil {
			return identifier.Identifier{}, err
		}
		found := ""
		for _, entry := range entries {
			name := entry.Name()
			if len(name) == identifier.TextLen && strings.HasPrefix(name, prefix) {
				if found != "" {
					return identifier.Identifier{}, NewIdentifierAmbiguousError(prefix)
				}
				found = name
			}
		}
		if found == "" {
			return identifier.Identifier{}, NewObjectNotFoundError(prefix)
		}
		return identifier.Parse(found)
	}
}

// PathLookup resolves a path to the deepest existing identifier and the
// unconsumed suffix. Two path forms are accepted: "/rest" starts traversal
// at the store root, "<prefix>//rest" starts at the object named by the
// abbreviated identifier. When parents is non-nil the identifiers leading
// to the result are appended to it.
func (s *ObjectStore) PathLookup(p string, parents *[]identifier.Identifier) (identifier.Identifier, string, error) {
	if p == "" {
		root, err := s.RootID()
		return root, "", err
	}

	prefix, rest, err := splitPath(p)
	if err != nil {
		return identifier.Identifier{}, "", err
	}

	var root identifier.Identifier
	if prefix == "" {
		root, err = s.RootID()
	} else {
		root, err = s.IdentifierLookup(prefix)
	}
	if err != nil {
		return identifier.Identifier{}, "", err
	}

	components, err := normalizeComponents(rest)
	if err != nil {
		return identifier.Identifier{}, "", err
	}

	return s.traversePath(root, components, parents)
}

// traversePath walks components from root, following existing entries.
// Only NotFound stops consumption; any other error aborts the traversal.
func (s *ObjectStore) traversePath(root identifier.Identifier, components []string, parents *[]identifier.Identifier) (identifier.Identifier, string, error) {
	for i, name := range components {
		logger.Debug("traverse element", "name", name)
		sub, err := s.SubObjectID(SubObject{Dir: root, Name: name})
		switch {
		case err == nil:
			if parents != nil {
				*parents = append(*parents, root)
			}
			root = sub
		case errors.Is(err, fs.ErrNotExist):
			return root, strings.Join(components[i:], "/"), nil
		default:
			logger.Error("traverse failed", "name", name, "error", err)
			return identifier.Identifier{}, "", err
		}
	}
	return root, "", nil
}

// AllObjects yields every identifier stored in the 4096 shard directories,
// in lexical shard order. Entries whose name does not parse as a 44
// character identifier are not objects and are skipped.
func (s *ObjectStore) AllObjects() iter.Seq2[identifier.Identifier, error] {
	return func(yield func(identifier.Identifier, error) bool) {
		for _, shard := range shardNames() {
			dir, err := openDir(int(s.objects.Fd()), shard)
			if err != nil {
				yield(identifier.Identifier{}, err)
				return
			}
			entries, err := dir.ReadDir(-1)
			dir.Close()
			if err != nil {
				yield(identifier.Identifier{}, err)
				return
			}
			for _, entry := range entries {
				id, err := identifier.Parse(entry.Name())
				if err != nil {
					continue
				}
				if !yield(id, nil) {
					return
				}
			}
		}
	}
}
