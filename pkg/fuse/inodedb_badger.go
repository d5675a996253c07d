package fuse

import (
	"encoding/binary"
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// BadgerInodeDB is the disk-backed inode table for mounts whose inode
// population outgrows memory. It keeps the same contract as MemoryInodeDB;
// entries read back from disk are fresh allocations, sharing happens at the
// key-value layer.
type BadgerInodeDB struct {
	db *badger.DB
}

// NewBadgerInodeDB opens (or creates) a disk-backed inode table in dir.
func NewBadgerInodeDB(dir string) (*BadgerInodeDB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerInodeDB{db: db}, nil
}

func inodeKey(inode uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], inode)
	return key[:]
}

// Store implements InodeDB.
func (db *BadgerInodeDB) Store(inode uint64, id identifier.Identifier) (*InodeEntry, error) {
	err := db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(inodeKey(inode), id.Bytes())
	})
	if err != nil {
		return nil, err
	}
	return &InodeEntry{id: id}, nil
}

// Get implements InodeDB.
func (db *BadgerInodeDB) Get(inode uint64) (*InodeEntry, error) {
	var entry *InodeEntry
	err := db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(inodeKey(inode))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id, err := identifier.ParseBytes(val)
			if err != nil {
				return err
			}
			entry = &InodeEntry{id: id}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Close implements InodeDB.
func (db *BadgerInodeDB) Close() error {
	return db.db.Close()
}
