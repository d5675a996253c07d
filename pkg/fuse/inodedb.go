// Package fuse bridges the kernel filesystem interface to the VFS layer:
// it owns the inode and handle tables and serves filesystem calls through
// the permission-checking virtual layer.
package fuse

import (
	"sync"

	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// InodeEntry relates a kernel inode number to an identifier. Entries are
// shared: concurrent lookups receive the same entry and never clone the
// underlying identifier.
type InodeEntry struct {
	id identifier.Identifier
}

// Identifier returns the identifier of the entry.
func (e *InodeEntry) Identifier() identifier.Identifier {
	return e.id
}

// InodeDB relates local inode numbers to identifiers. Inode 1 is
// conventionally the root; all other inodes derive from the on-disk inode
// of the object's directory entry and are registered on first exposure.
// Implementations must be safe for concurrent use.
type InodeDB interface {
	// Store registers an inode and returns its shared entry.
	Store(inode uint64, id identifier.Identifier) (*InodeEntry, error)

	// Get returns the shared entry of a registered inode, or nil when the
	// inode is unknown.
	Get(inode uint64) (*InodeEntry, error)

	// Close releases the table.
	Close() error
}

// MemoryInodeDB is the in-process inode table; it lives for the lifetime of
// the mount.
type MemoryInodeDB struct {
	mu      sync.Mutex
	entries map[uint64]*InodeEntry
}

// NewMemoryInodeDB creates an empty in-memory inode table.
func NewMemoryInodeDB() *MemoryInodeDB {
	return &MemoryInodeDB{entries: make(map[uint64]*InodeEntry)}
}

// Store implements InodeDB.
func (db *MemoryInodeDB) Store(inode uint64, id identifier.Identifier) (*InodeEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if entry, ok := db.entries[inode]; ok && entry.id == id {
		return entry, nil
	}
	entry := &InodeEntry{id: id}
	db.entries[inode] = entry
	return entry, nil
}

// Get implements InodeDB.
func (db *MemoryInodeDB) Get(inode uint64) (*InodeEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.entries[inode], nil
}

// Close implements InodeDB.
func (db *MemoryInodeDB) Close() error {
	return nil
}
