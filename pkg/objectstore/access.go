package objectstore

import "golang.org/x/sys/unix"

// Access and permission flags for objects in the store, abstracted from the
// host filesystem implementation. The store is single user/group on the
// local host; "other" bits are never granted (the process umask additionally
// masks them out).

// FileAccess selects the open mode for file handles.
type FileAccess struct {
	flags int
}

// NewFileAccess returns an empty access specification.
func NewFileAccess() FileAccess {
	return FileAccess{}
}

// ReadOnly opens for reading.
func (a FileAccess) ReadOnly() FileAccess {
	a.flags |= unix.O_RDONLY
	return a
}

// WriteOnly opens for writing.
func (a FileAccess) WriteOnly() FileAccess {
	a.flags |= unix.O_WRONLY
	return a
}

// ReadWrite opens for reading and writing.
func (a FileAccess) ReadWrite() FileAccess {
	a.flags |= unix.O_RDWR
	return a
}

// Append sets append mode.
func (a FileAccess) Append() FileAccess {
	a.flags |= unix.O_APPEND
	return a
}

func (a FileAccess) get() int {
	return a.flags | unix.O_CLOEXEC
}

// FilePermissions selects the permission mode of created files.
type FilePermissions struct {
	mode uint32
}

// NewFilePermissions returns an empty permission set.
func NewFilePermissions() FilePermissions {
	return FilePermissions{}
}

// Read grants user and group read.
func (p FilePermissions) Read() FilePermissions {
	p.mode |= unix.S_IRUSR | unix.S_IRGRP
	return p
}

// Write grants user and group write.
func (p FilePermissions) Write() FilePermissions {
	p.mode |= unix.S_IWUSR | unix.S_IWGRP
	return p
}

// Full grants user and group read and write.
func (p FilePermissions) Full() FilePermissions {
	return p.Read().Write()
}

func (p FilePermissions) get() uint32 {
	return p.mode
}

// FileAttributes carries additional mode bits of created files.
type FileAttributes struct {
	mode uint32
}

// NewFileAttributes returns an empty attribute set.
func NewFileAttributes() FileAttributes {
	return FileAttributes{}
}

// Execute grants user and group execute.
func (a FileAttributes) Execute() FileAttributes {
	a.mode |= unix.S_IXUSR | unix.S_IXGRP
	return a
}

func (a FileAttributes) get() uint32 {
	return a.mode
}

// DirectoryPermissions selects the permission mode of created directories.
type DirectoryPermissions struct {
	mode uint32
}

// NewDirectoryPermissions returns an empty permission set.
func NewDirectoryPermissions() DirectoryPermissions {
	return DirectoryPermissions{}
}

// List grants user and group read (listing entries).
func (p DirectoryPermissions) List() DirectoryPermissions {
	p.mode |= unix.S_IRUSR | unix.S_IRGRP
	return p
}

// Read grants user and group search (resolving entries).
func (p DirectoryPermissions) Read() DirectoryPermissions {
	p.mode |= unix.S_IXUSR | unix.S_IXGRP
	return p
}

// Change grants user and group write (adding and removing entries).
func (p DirectoryPermissions) Change() DirectoryPermissions {
	p.mode |= unix.S_IWUSR | unix.S_IWGRP
	return p
}

// Full grants user and group everything.
func (p DirectoryPermissions) Full() DirectoryPermissions {
	return p.List().Read().Change()
}

func (p DirectoryPermissions) get() uint32 {
	return p.mode
}
