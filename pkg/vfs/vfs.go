package vfs

import (
	"strings"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/pkg/identifier"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
)

// VirtualFileSystem is the stable facade over the objectstore. The store is
// shared; every filesystem-facing call passes through the permission gate
// before dispatching to a store primitive.
type VirtualFileSystem struct {
	store       *objectstore.ObjectStore
	permissions *PermissionController
}

// New opens the objectstore at dir and wraps it in a VirtualFileSystem.
func New(dir string, opts ...objectstore.Option) (*VirtualFileSystem, error) {
	store, err := objectstore.Open(dir, objectstore.WaitForLock, opts...)
	if err != nil {
		return nil, err
	}
	return &VirtualFileSystem{
		store:       store,
		permissions: NewPermissionController(store),
	}, nil
}

// Close closes the underlying store.
func (v *VirtualFileSystem) Close() error {
	return v.store.Close()
}

// Store exposes the shared objectstore for bridge-side handle management.
func (v *VirtualFileSystem) Store() *objectstore.ObjectStore {
	return v.store
}

// Permissions exposes the permission controller for key management.
func (v *VirtualFileSystem) Permissions() *PermissionController {
	return v.permissions
}

func (v *VirtualFileSystem) check(id identifier.Identifier, uid UserID) PermissionCheck {
	return v.permissions.Check(id, uid)
}

// RootID returns the identifier of the store root.
func (v *VirtualFileSystem) RootID() (identifier.Identifier, error) {
	return v.store.RootID()
}

// PathLookup resolves path to an identifier. The path must resolve
// completely; an unconsumed remainder is NotFound. Create-style calls use
// LookupForCreate instead.
func (v *VirtualFileSystem) PathLookup(uid UserID, path string) (identifier.Identifier, error) {
	id, rest, err := v.store.PathLookup(path, nil)
	if err != nil {
		return identifier.Identifier{}, err
	}
	if rest != "" {
		return identifier.Identifier{}, objectstore.NewObjectNotFoundError(rest)
	}

	check := v.check(id, uid)
	if id.ObjectType() == identifier.Directory {
		err = check.List()
	} else {
		err = check.Read()
	}
	if err != nil {
		return identifier.Identifier{}, err
	}
	return id, nil
}

// LookupForCreate resolves path for a create-style operation: everything
// but the final component must exist, and adding to the resolved directory
// must be permitted. Returns the parent identifier and the name to create.
func (v *VirtualFileSystem) LookupForCreate(uid UserID, path string) (identifier.Identifier, string, error) {
	id, rest, err := v.store.PathLookup(path, nil)
	if err != nil {
		return identifier.Identifier{}, "", err
	}
	if rest == "" {
		return identifier.Identifier{}, "", objectstore.NewObjectExistsError(path)
	}
	if strings.Contains(rest, "/") {
		return identifier.Identifier{}, "", objectstore.NewObjectNotFoundError(rest)
	}
	if err := v.check(id, uid).Add(); err != nil {
		return identifier.Identifier{}, "", err
	}
	return id, rest, nil
}

// Access checks whether uid may access the object in the given POSIX mode.
// Gate only; no I/O happens.
func (v *VirtualFileSystem) Access(uid UserID, id identifier.Identifier, mode uint32) error {
	check := v.check(id, uid)
	isDir := id.ObjectType() == identifier.Directory

	if mode&unix.R_OK != 0 {
		var err error
		if isDir {
			err = check.List()
		} else {
			err = check.Read()
		}
		if err != nil {
			return err
		}
	}
	if mode&unix.W_OK != 0 {
		var err error
		if isDir {
			err = check.Add()
		} else {
			err = check.Write()
		}
		if err != nil {
			return err
		}
	}
	if mode&unix.X_OK != 0 {
		if !isDir {
			return unix.EACCES
		}
		if err := check.List(); err != nil {
			return err
		}
	}
	return nil
}

// SubLookup resolves one directory entry to its identifier, gated on the
// resolved child.
func (v *VirtualFileSystem) SubLookup(uid UserID, parent identifier.Identifier, name string) (identifier.Identifier, error) {
	child, err := v.store.SubObjectID(objectstore.SubObject{Dir: parent, Name: name})
	if err != nil {
		return identifier.Identifier{}, err
	}

	check := v.check(child, uid)
	if child.ObjectType() == identifier.Directory {
		err = check.List()
	} else {
		err = check.Read()
	}
	if err != nil {
		return identifier.Identifier{}, err
	}
	return child, nil
}

// Metadata returns the stat record of the object, gated on read (files)
// respectively list (directories).
func (v *VirtualFileSystem) Metadata(uid UserID, id identifier.Identifier) (unix.Stat_t, error) {
	check := v.check(id, uid)
	var err error
	if id.ObjectType() == identifier.Directory {
		err = check.List()
	} else {
		err = check.Read()
	}
	if err != nil {
		return unix.Stat_t{}, err
	}
	return v.store.ObjectMetadata(id)
}

// ListDirectory returns the entries of a directory object, gated on list.
func (v *VirtualFileSystem) ListDirectory(uid UserID, id identifier.Identifier) ([]objectstore.SubEntry, error) {
	if err := v.check(id, uid).List(); err != nil {
		return nil, err
	}
	iter, err := v.store.DirectoryIter(id)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	return iter.Entries(), nil
}

// OpenFile opens a file object, gated on the requested access.
func (v *VirtualFileSystem) OpenFile(uid UserID, id identifier.Identifier, write bool) (*objectstore.FileHandle, error) {
	check := v.check(id, uid)
	if err := check.Read(); err != nil {
		return nil, err
	}
	access := objectstore.NewFileAccess().ReadOnly()
	if write {
		if err := check.Write(); err != nil {
			return nil, err
		}
		access = objectstore.NewFileAccess().ReadWrite()
	}
	return v.store.OpenFile(id, access)
}
