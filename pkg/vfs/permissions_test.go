package vfs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/pkg/identifier"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
	"github.com/uberallfs/uberallfs/pkg/vfs"
)

func idWithKind(t identifier.ObjectType, s identifier.SharingPolicy, m identifier.Mutability) identifier.Identifier {
	var bin identifier.Bin
	return identifier.New(identifier.NewKind(t, s, m), bin)
}

func TestPermissionTableRead(t *testing.T) {
	c := vfs.NewPermissionController(nil)

	assert.NoError(t, c.Check(idWithKind(identifier.File, identifier.Private, identifier.Mutable), 0).Read())
	assert.NoError(t, c.Check(idWithKind(identifier.File, identifier.Anonymous, identifier.Immutable), 0).Read())

	err := c.Check(idWithKind(identifier.File, identifier.PublicAcl, identifier.Mutable), 0).Read()
	assert.True(t, objectstore.IsCode(err, objectstore.ErrNotSupported), "got %v", err)

	// read on a directory is not a defined cell
	assert.ErrorIs(t, c.Check(idWithKind(identifier.Directory, identifier.Private, identifier.Mutable), 0).Read(), unix.EINVAL)
}

func TestPermissionTableWrite(t *testing.T) {
	c := vfs.NewPermissionController(nil)

	assert.NoError(t, c.Check(idWithKind(identifier.File, identifier.Private, identifier.Mutable), 0).Write())
	assert.NoError(t, c.Check(idWithKind(identifier.File, identifier.Private, identifier.Mutable), 0).Append())

	// immutable non-private files deny writes
	assert.ErrorIs(t, c.Check(idWithKind(identifier.File, identifier.Anonymous, identifier.Immutable), 0).Write(), unix.EACCES)
	// anonymous files deny writes
	assert.ErrorIs(t, c.Check(idWithKind(identifier.File, identifier.Anonymous, identifier.Mutable), 0).Write(), unix.EACCES)
	// write on a directory is not a defined cell
	assert.ErrorIs(t, c.Check(idWithKind(identifier.Directory, identifier.Private, identifier.Mutable), 0).Write(), unix.EINVAL)
}

func TestPermissionTableList(t *testing.T) {
	c := vfs.NewPermissionController(nil)

	assert.NoError(t, c.Check(idWithKind(identifier.Directory, identifier.Private, identifier.Mutable), 0).List())
	assert.NoError(t, c.Check(idWithKind(identifier.Directory, identifier.Anonymous, identifier.Mutable), 0).List())

	err := c.Check(idWithKind(identifier.Directory, identifier.PublicAcl, identifier.Mutable), 0).List()
	assert.True(t, objectstore.IsCode(err, objectstore.ErrNotSupported), "got %v", err)

	assert.ErrorIs(t, c.Check(idWithKind(identifier.File, identifier.Private, identifier.Mutable), 0).List(), unix.EINVAL)
}

func TestPermissionTableModifyDir(t *testing.T) {
	c := vfs.NewPermissionController(nil)

	private := idWithKind(identifier.Directory, identifier.Private, identifier.Mutable)
	assert.NoError(t, c.Check(private, 0).Add())
	assert.NoError(t, c.Check(private, 0).Rename())
	assert.NoError(t, c.Check(private, 0).Delete())

	anonymous := idWithKind(identifier.Directory, identifier.Anonymous, identifier.Mutable)
	assert.ErrorIs(t, c.Check(anonymous, 0).Add(), unix.EACCES)
	assert.ErrorIs(t, c.Check(anonymous, 0).Delete(), unix.EACCES)

	assert.ErrorIs(t, c.Check(idWithKind(identifier.File, identifier.Private, identifier.Mutable), 0).Add(), unix.EINVAL)
}

func TestAuthenticatedKeyExpiry(t *testing.T) {
	c := vfs.NewPermissionController(nil)

	c.AddKey(7, vfs.ExpireNever())
	assert.True(t, c.Authenticated(7))
	assert.False(t, c.Authenticated(8))

	c.AddKey(9, vfs.ExpireAt(time.Now().Add(-time.Second)))
	assert.False(t, c.Authenticated(9))

	c.AddKey(10, vfs.ExpireAt(time.Now().Add(time.Hour)))
	assert.True(t, c.Authenticated(10))

	c.AddKey(11, vfs.ExpireIdle(time.Hour))
	assert.True(t, c.Authenticated(11))
}
