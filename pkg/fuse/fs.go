package fuse

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/internal/logger"
	"github.com/uberallfs/uberallfs/pkg/identifier"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
	"github.com/uberallfs/uberallfs/pkg/vfs"
)

// attrCacheTime bounds how long the kernel may cache entries and
// attributes served from the store.
const attrCacheTime = time.Second

// dirent is one positioned entry of an open directory handle.
type dirent struct {
	name  string
	inode uint64
	typ   fuseutil.DirentType
}

// dirHandle is the bridge-side handle of an open directory iterator.
type dirHandle struct {
	entries []dirent
}

// Close implements objectstore.Handle.
func (h *dirHandle) Close() error {
	return nil
}

// fileSystem serves kernel filesystem calls through the VFS layer. The
// mount is single-user: every call runs as the mounting uid.
type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	vfs     *vfs.VirtualFileSystem
	uid     vfs.UserID
	gid     uint32
	inodes  InodeDB
	handles *HandleDB
}

// newFileSystem builds the fuse server over an open VFS, registering the
// store root as inode 1.
func newFileSystem(v *vfs.VirtualFileSystem, inodes InodeDB, uid vfs.UserID, gid uint32) (fuseutil.FileSystem, error) {
	root, err := v.RootID()
	if err != nil {
		return nil, err
	}
	if _, err := inodes.Store(fuseops.RootInodeID, root); err != nil {
		return nil, err
	}
	return &fileSystem{
		vfs:     v,
		uid:     uid,
		gid:     gid,
		inodes:  inodes,
		handles: NewHandleDB(64),
	}, nil
}

// errno translates store and permission errors to the codes the kernel
// understands.
func errno(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fuse.ENOENT
	}
	return objectstore.Errno(err)
}

// resolve returns the identifier registered for an inode.
func (f *fileSystem) resolve(inode fuseops.InodeID) (identifier.Identifier, error) {
	entry, err := f.inodes.Get(uint64(inode))
	if err != nil {
		return identifier.Identifier{}, err
	}
	if entry == nil {
		return identifier.Identifier{}, fuse.ENOENT
	}
	return entry.Identifier(), nil
}

// attributes synthesizes kernel attributes from the object's stat record.
func (f *fileSystem) attributes(id identifier.Identifier) (fuseops.InodeAttributes, uint64, error) {
	stat, err := f.vfs.Metadata(f.uid, id)
	if err != nil {
		return fuseops.InodeAttributes{}, 0, err
	}

	mode := os.FileMode(stat.Mode & 0o777)
	if stat.Mode&unix.S_IFMT == unix.S_IFDIR {
		mode |= os.ModeDir
	}
	attrs := fuseops.InodeAttributes{
		Size:  uint64(stat.Size),
		Nlink: uint32(stat.Nlink),
		Mode:  mode,
		Atime: time.Unix(stat.Atim.Sec, stat.Atim.Nsec),
		Mtime: time.Unix(stat.Mtim.Sec, stat.Mtim.Nsec),
		Ctime: time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec),
		Uid:   uint32(f.uid),
		Gid:   f.gid,
	}
	return attrs, stat.Ino, nil
}

// StatFS implements fuseutil.FileSystem.
func (f *fileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	var stat unix.Statfs_t
	if err := unix.Fstatfs(f.vfs.Store().ObjectsFd(), &stat); err != nil {
		return errno(err)
	}
	op.BlockSize = uint32(stat.Bsize)
	op.Blocks = stat.Blocks
	op.BlocksFree = stat.Bfree
	op.BlocksAvailable = stat.Bavail
	op.IoSize = uint32(stat.Bsize)
	op.Inodes = stat.Files
	op.InodesFree = stat.Ffree
	return nil
}

// LookUpInode implements fuseutil.FileSystem.
func (f *fileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent, err := f.resolve(op.Parent)
	if err != nil {
		return errno(err)
	}

	child, err := f.vfs.SubLookup(f.uid, parent, op.Name)
	if err != nil {
		return errno(err)
	}
	attrs, inode, err := f.attributes(child)
	if err != nil {
		return errno(err)
	}
	if _, err := f.inodes.Store(inode, child); err != nil {
		return errno(err)
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:                fuseops.InodeID(inode),
		Attributes:           attrs,
		AttributesExpiration: time.Now().Add(attrCacheTime),
		EntryExpiration:      time.Now().Add(attrCacheTime),
	}
	return nil
}

// GetInodeAttributes implements fuseutil.FileSystem.
func (f *fileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	id, err := f.resolve(op.Inode)
	if err != nil {
		return errno(err)
	}
	attrs, _, err := f.attributes(id)
	if err != nil {
		return errno(err)
	}
	op.Attributes = attrs
	op.AttributesExpiration = time.Now().Add(attrCacheTime)
	return nil
}

// OpenDir implements fuseutil.FileSystem.
func (f *fileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	id, err := f.resolve(op.Inode)
	if err != nil {
		return errno(err)
	}

	entries, err := f.vfs.ListDirectory(f.uid, id)
	if err != nil {
		return errno(err)
	}

	handle := &dirHandle{entries: make([]dirent, 0, len(entries))}
	for _, entry := range entries {
		attrs, inode, err := f.attributes(entry.ID)
		if err != nil {
			return errno(err)
		}
		if _, err := f.inodes.Store(inode, entry.ID); err != nil {
			return errno(err)
		}
		typ := fuseutil.DT_File
		if attrs.Mode.IsDir() {
			typ = fuseutil.DT_Directory
		}
		handle.entries = append(handle.entries, dirent{name: entry.Name, inode: inode, typ: typ})
	}

	op.Handle = fuseops.HandleID(f.handles.Store(handle))
	return nil
}

// ReadDir implements fuseutil.FileSystem.
func (f *fileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	h, ok := f.handles.Get(uint64(op.Handle))
	if !ok {
		return fuse.EINVAL
	}
	dir, ok := h.(*dirHandle)
	if !ok {
		return fuse.EINVAL
	}

	if op.Offset > fuseops.DirOffset(len(dir.entries)) {
		return fuse.EINVAL
	}
	for i, entry := range dir.entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(i) + 1,
			Inode:  fuseops.InodeID(entry.inode),
			Name:   entry.name,
			Type:   entry.typ,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

// ReleaseDirHandle implements fuseutil.FileSystem.
func (f *fileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	handle, err := f.handles.Drop(uint64(op.Handle))
	if err != nil {
		return errno(err)
	}
	return handle.Close()
}

// OpenFile implements fuseutil.FileSystem.
func (f *fileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	id, err := f.resolve(op.Inode)
	if err != nil {
		return errno(err)
	}

	handle, err := f.vfs.OpenFile(f.uid, id, false)
	if err != nil {
		return errno(err)
	}
	op.Handle = fuseops.HandleID(f.handles.Store(handle))
	op.KeepPageCache = false
	return nil
}

// ReadFile implements fuseutil.FileSystem.
func (f *fileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	h, ok := f.handles.Get(uint64(op.Handle))
	if !ok {
		return fuse.EINVAL
	}
	file, ok := h.(*objectstore.FileHandle)
	if !ok {
		return fuse.EINVAL
	}

	n, err := file.File.ReadAt(op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil && !errors.Is(err, io.EOF) {
		return errno(err)
	}
	return nil
}

// ReleaseFileHandle implements fuseutil.FileSystem.
func (f *fileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	handle, err := f.handles.Drop(uint64(op.Handle))
	if err != nil {
		return errno(err)
	}
	if err := handle.Close(); err != nil {
		logger.Warn("release file handle", "error", err)
	}
	return nil
}
