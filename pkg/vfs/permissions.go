// Package vfs provides the filesystem-alike access layer over the
// objectstore. Every operation is mediated by the permission gate, which
// decides on the identifier kind and (in the future) authenticated keys.
package vfs

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/pkg/identifier"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
)

// UserID is the numeric id the access checks run against. There is no
// concept of real or effective uids and no groups; ids are authenticated
// and mapped to public keys by the PermissionController.
type UserID uint32

// ExpirePolicy defines when an authenticated key expires and is removed.
type ExpirePolicy struct {
	kind     expireKind
	at       time.Time
	idleTime time.Duration
}

type expireKind int

const (
	expireNever expireKind = iota
	expireExact
	expireIdle
)

// ExpireNever keeps the key forever.
func ExpireNever() ExpirePolicy {
	return ExpirePolicy{kind: expireNever}
}

// ExpireAt expires the key at the given time.
func ExpireAt(at time.Time) ExpirePolicy {
	return ExpirePolicy{kind: expireExact, at: at}
}

// ExpireIdle expires the key when it was not used for idleTime.
func ExpireIdle(idleTime time.Duration) ExpirePolicy {
	return ExpirePolicy{kind: expireIdle, at: time.Now().Add(idleTime), idleTime: idleTime}
}

func (p ExpirePolicy) expired(now time.Time) bool {
	switch p.kind {
	case expireNever:
		return false
	default:
		return !p.at.After(now)
	}
}

// authenticatedEntry keys the table of authenticated users.
type authenticatedEntry struct {
	uid UserID
	// PLANNED: public key of the authenticated peer
}

// PermissionController stores authenticated keys and hands out permission
// checks. The key table is expired lazily by an insertion-driven sweep.
type PermissionController struct {
	store *objectstore.ObjectStore

	mu            sync.Mutex
	authenticated map[authenticatedEntry]ExpirePolicy
	gcCountdown   int
}

// NewPermissionController creates a PermissionController for a store.
func NewPermissionController(store *objectstore.ObjectStore) *PermissionController {
	return &PermissionController{
		store:         store,
		authenticated: make(map[authenticatedEntry]ExpirePolicy),
		gcCountdown:   63,
	}
}

// AddKey records an authenticated user with an expiry policy. Keys are
// authenticated externally by a challenge against a public key; only the
// outcome lives here.
func (c *PermissionController) AddKey(uid UserID, policy ExpirePolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.garbageCollectLocked()
	c.authenticated[authenticatedEntry{uid: uid}] = policy
}

// Authenticated reports whether uid currently holds an authenticated key,
// refreshing idle expiry on use.
func (c *PermissionController) Authenticated(uid UserID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := authenticatedEntry{uid: uid}
	policy, ok := c.authenticated[entry]
	if !ok {
		return false
	}
	now := time.Now()
	if policy.expired(now) {
		delete(c.authenticated, entry)
		return false
	}
	if policy.kind == expireIdle {
		policy.at = now.Add(policy.idleTime)
		c.authenticated[entry] = policy
	}
	return true
}

// garbageCollectLocked sweeps expired keys every half capacity insertions,
// with a floor of 128.
func (c *PermissionController) garbageCollectLocked() {
	c.gcCountdown--
	if c.gcCountdown > 0 {
		return
	}
	now := time.Now()
	for entry, policy := range c.authenticated {
		if policy.expired(now) {
			delete(c.authenticated, entry)
		}
	}
	capacity := len(c.authenticated)
	if capacity < 128 {
		capacity = 128
	}
	c.gcCountdown = capacity/2 - 1
}

// Check starts a permission check of uid against an identifier.
func (c *PermissionController) Check(id identifier.Identifier, uid UserID) PermissionCheck {
	return PermissionCheck{controller: c, id: id, uid: uid}
}

// PermissionCheck is the per-operation decision point. The decision table
// keys on the identifier's kind triple; ACL-gated cells are a capability
// hook consulting the authenticated key table, unimplemented by declaration.
type PermissionCheck struct {
	controller *PermissionController
	id         identifier.Identifier
	uid        UserID
}

func (p PermissionCheck) aclCheck() error {
	// PLANNED: evaluate the object's ACL against the authenticated key of
	// p.uid; until then PublicAcl objects are not accessible.
	return objectstore.NewNotSupportedError("acl check")
}

// Read gates reading a file object.
func (p PermissionCheck) Read() error {
	t, s, _ := p.id.Components()
	switch {
	case t != identifier.File:
		return unix.EINVAL
	case s == identifier.Private || s == identifier.Anonymous:
		return nil
	case s == identifier.PublicAcl:
		return p.aclCheck()
	default:
		return unix.EINVAL
	}
}

// Write gates writing a file object.
func (p PermissionCheck) Write() error {
	return p.modifyFile()
}

// Append gates appending to a file object.
func (p PermissionCheck) Append() error {
	return p.modifyFile()
}

func (p PermissionCheck) modifyFile() error {
	t, s, m := p.id.Components()
	switch {
	case t != identifier.File:
		return unix.EINVAL
	case s == identifier.Private:
		return nil
	case m == identifier.Immutable:
		return unix.EACCES
	case s == identifier.PublicAcl:
		return p.aclCheck()
	case s == identifier.Anonymous:
		return unix.EACCES
	default:
		return unix.EINVAL
	}
}

// List gates enumerating a directory object.
func (p PermissionCheck) List() error {
	t, s, _ := p.id.Components()
	switch {
	case t != identifier.Directory:
		return unix.EINVAL
	case s == identifier.Private || s == identifier.Anonymous:
		return nil
	case s == identifier.PublicAcl:
		return p.aclCheck()
	default:
		return unix.EINVAL
	}
}

// Add gates creating entries in a directory object.
func (p PermissionCheck) Add() error {
	return p.modifyDir()
}

// Rename gates renaming entries in a directory object.
func (p PermissionCheck) Rename() error {
	return p.modifyDir()
}

// Delete gates removing entries from a directory object.
func (p PermissionCheck) Delete() error {
	return p.modifyDir()
}

func (p PermissionCheck) modifyDir() error {
	t, s, m := p.id.Components()
	switch {
	case t != identifier.Directory:
		return unix.EINVAL
	case s == identifier.Private:
		return nil
	case m == identifier.Immutable:
		return unix.EACCES
	case s == identifier.PublicAcl:
		return p.aclCheck()
	case s == identifier.Anonymous:
		return unix.EACCES
	default:
		return unix.EINVAL
	}
}
