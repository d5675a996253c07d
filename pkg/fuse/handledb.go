package fuse

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/pkg/objectstore"
)

// handleSlot is either a live handle or a link in the free chain. The free
// list is embedded: a free slot stores the index of the next free slot.
type handleSlot struct {
	handle   objectstore.Handle // nil marks the slot free
	nextFree uint64
}

// HandleDB maps open handles to dense small-integer indices, the way POSIX
// file descriptors work: indices are recycled through an embedded free
// list, so a stale index may refer to a new handle after reuse. Callers
// close each index exactly once. Slot 0 is a sentinel; index 0 never names
// a handle and terminates the free chain.
type HandleDB struct {
	mu      sync.Mutex
	handles []handleSlot
	freeIdx uint64
}

// NewHandleDB creates a HandleDB with preallocated capacity.
func NewHandleDB(capacity int) *HandleDB {
	handles := make([]handleSlot, 1, capacity+1)
	return &HandleDB{handles: handles}
}

// Store adds a handle and returns its index. Free slots are reused before
// the table grows, most recently dropped slot first.
func (db *HandleDB) Store(handle objectstore.Handle) uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.freeIdx != 0 {
		idx := db.freeIdx
		db.freeIdx = db.handles[idx].nextFree
		db.handles[idx] = handleSlot{handle: handle}
		return idx
	}
	db.handles = append(db.handles, handleSlot{handle: handle})
	return uint64(len(db.handles) - 1)
}

// Get returns the handle at fh. The reference is shared; the mutex is
// released before any I/O on the handle.
func (db *HandleDB) Get(fh uint64) (objectstore.Handle, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if fh == 0 || fh >= uint64(len(db.handles)) || db.handles[fh].handle == nil {
		return nil, false
	}
	return db.handles[fh].handle, true
}

// Drop removes the handle at fh, relinking the slot into the free chain.
// The handle itself is returned so the caller can close it outside the
// lock; dropping an unknown index is EBADF.
func (db *HandleDB) Drop(fh uint64) (objectstore.Handle, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if fh == 0 || fh >= uint64(len(db.handles)) || db.handles[fh].handle == nil {
		return nil, unix.EBADF
	}
	handle := db.handles[fh].handle
	db.handles[fh] = handleSlot{nextFree: db.freeIdx}
	db.freeIdx = fh
	return handle, nil
}
