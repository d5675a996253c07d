package objectstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/internal/logger"
	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// GCOptions control a garbage collection pass.
type GCOptions struct {
	// DryRun reports what would be done instead of changing anything.
	DryRun bool

	// Report receives one line of intent per object on dry runs. Ignored
	// when nil or when DryRun is false.
	Report io.Writer
}

// GCStats summarizes one garbage collection pass.
type GCStats struct {
	Reachable   int
	Unreachable int
	Deleted     int
	Expired     int
}

// CollectReachable walks all objects reachable from root and records their
// binary identifiers in inUse. Can be called with multiple roots to fill
// the set incrementally. Children of file type are terminal; directories
// are visited breadth-first; any other object type is fatal.
func (s *ObjectStore) CollectReachable(root identifier.Identifier, inUse map[identifier.Bin]struct{}) error {
	toVisit := []identifier.Identifier{root}

	for len(toVisit) > 0 {
		id := toVisit[0]
		toVisit = toVisit[1:]

		bin := id.Bin()
		if _, ok := inUse[bin]; ok {
			continue
		}
		logger.Debug("gc: visit", "id", id.String())
		inUse[bin] = struct{}{}

		for entry, err := range s.ListDirectory(id) {
			if err != nil {
				return err
			}
			switch entry.ID.ObjectType() {
			case identifier.File:
				inUse[entry.ID.Bin()] = struct{}{}
			case identifier.Directory:
				if _, ok := inUse[entry.ID.Bin()]; !ok {
					toVisit = append(toVisit, entry.ID)
				}
			default:
				return NewUnsupportedObjectTypeError(entry.ID.Kind())
			}
		}
	}
	return nil
}

// Unreachable yields every stored identifier not reachable from the given
// roots.
func (s *ObjectStore) Unreachable(roots []identifier.Identifier) (iter.Seq2[identifier.Identifier, error], int, error) {
	inUse := make(map[identifier.Bin]struct{})
	for _, root := range roots {
		if err := s.CollectReachable(root, inUse); err != nil {
			return nil, 0, err
		}
	}

	seq := func(yield func(identifier.Identifier, error) bool) {
		for id, err := range s.AllObjects() {
			if err != nil {
				yield(identifier.Identifier{}, err)
				return
			}
			if _, ok := inUse[id.Bin()]; ok {
				continue
			}
			if !yield(id, nil) {
				return
			}
		}
	}
	return seq, len(inUse), nil
}

// GC discovers all objects reachable from roots and disposes of everything
// else according to each object's delete method. A dry run reports intent
// without side effects but is otherwise identical.
func (s *ObjectStore) GC(roots []identifier.Identifier, opts GCOptions) (GCStats, error) {
	unreachable, reachable, err := s.Unreachable(roots)
	if err != nil {
		return GCStats{}, err
	}
	stats := GCStats{Reachable: reachable}

	for id, err := range unreachable {
		if err != nil {
			return stats, err
		}
		stats.Unreachable++

		method := DeleteMethodFor(id)
		if opts.DryRun {
			if method == DeleteUnknown {
				return stats, NewUnsupportedObjectTypeError(id.Kind())
			}
			if opts.Report != nil {
				fmt.Fprintf(opts.Report, "Would %s: %s\n", method, id)
			}
			continue
		}
		if err := s.Delete(id); err != nil {
			return stats, err
		}
		switch method {
		case DeleteImmediate:
			stats.Deleted++
		case DeleteExpire:
			stats.Expired++
		}
	}

	if s.metrics != nil {
		s.metrics.GCSweep(stats.Reachable, stats.Unreachable, stats.Deleted, stats.Expired)
	}
	logger.Info("gc finished",
		"reachable", stats.Reachable,
		"unreachable", stats.Unreachable,
		"deleted", stats.Deleted,
		"expired", stats.Expired,
		"dry_run", opts.DryRun)
	return stats, nil
}

// Delete is the low-level object deletion; it removes the object's data no
// matter whether it is still referenced. Immediate objects disappear
// atomically via a rename into tmp/; expiring objects move to the delete/
// tombstone area.
func (s *ObjectStore) Delete(id identifier.Identifier) error {
	method := DeleteMethodFor(id)
	logger.Debug("delete object", "method", method.String(), "id", id.String())

	fd := int(s.objects.Fd())
	switch method {
	case DeleteImmediate:
		tmp := "tmp/" + id.String()
		if err := unix.Renameat(fd, objectPath(id), fd, tmp); err != nil {
			return &fs.PathError{Op: "renameat", Path: objectPath(id), Err: err}
		}
		s.countOp("delete")
		return removeAllAt(fd, tmp)

	case DeleteExpire:
		if err := unix.Renameat(fd, objectPath(id), fd, "delete/"+id.String()); err != nil {
			return &fs.PathError{Op: "renameat", Path: objectPath(id), Err: err}
		}
		s.countOp("expire")
		return nil

	default:
		return NewUnsupportedObjectTypeError(id.Kind())
	}
}

// removeAllAt removes the file or directory tree at path relative to dirfd.
func removeAllAt(dirfd int, path string) error {
	err := unix.Unlinkat(dirfd, path, 0)
	switch {
	case err == nil || errors.Is(err, unix.ENOENT):
		return nil
	case !errors.Is(err, unix.EISDIR) && !errors.Is(err, unix.EPERM):
		return &fs.PathError{Op: "unlinkat", Path: path, Err: err}
	}

	dir, err := openDir(dirfd, path)
	if err != nil {
		return err
	}
	entries, err := dir.ReadDir(-1)
	dir.Close()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := removeAllAt(dirfd, path+"/"+entry.Name()); err != nil {
			return err
		}
	}

	if err := unix.Unlinkat(dirfd, path, unix.AT_REMOVEDIR); err != nil {
		return &fs.PathError{Op: "unlinkat", Path: path, Err: err}
	}
	return nil
}
