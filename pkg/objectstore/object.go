package objectstore

import (
	"crypto/rand"

	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// Acl is the shape of an access control list attached to PublicAcl objects.
// Evaluation is a capability hook; only the shape is defined here.
type Acl struct{}

// Object is a realized store object bound to its identifier.
type Object struct {
	ID identifier.Identifier
}

// ObjectFrom binds an existing identifier to an Object.
func ObjectFrom(id identifier.Identifier) *Object {
	return &Object{ID: id}
}

// DeleteMethod describes how an unreachable object is disposed of. It is a
// pure function of the kind triple.
type DeleteMethod int

const (
	// DeleteUnknown marks kinds without a deletion policy; encountering one
	// during GC means the store is inconsistent.
	DeleteUnknown DeleteMethod = iota

	// DeleteImmediate removes the on-disk object right away.
	DeleteImmediate

	// DeleteExpire moves the object into the tombstone area for a later
	// expiry pass.
	DeleteExpire
)

// String implements fmt.Stringer.
func (m DeleteMethod) String() string {
	switch m {
	case DeleteImmediate:
		return "delete"
	case DeleteExpire:
		return "expire"
	default:
		return "unknown"
	}
}

// DeleteMethodFor returns the deletion policy of an identifier's kind.
func DeleteMethodFor(id identifier.Identifier) DeleteMethod {
	t, s, m := id.Components()
	switch {
	case s == identifier.Private && m == identifier.Mutable:
		return DeleteImmediate
	case t == identifier.File && s == identifier.PublicAcl && m == identifier.Immutable:
		return DeleteExpire
	default:
		return DeleteUnknown
	}
}

// DeleteMethod returns the deletion policy of the object.
func (o *Object) DeleteMethod() DeleteMethod {
	return DeleteMethodFor(o.ID)
}

// Builder assembles a new object before it exists on disk. Builders are
// single use; realizing twice is a program error.
type Builder struct {
	kind     identifier.Kind
	acl      *Acl
	realized bool
}

// Build starts a builder for an object of the given kind.
func Build(t identifier.ObjectType, s identifier.SharingPolicy, m identifier.Mutability) *Builder {
	return &Builder{kind: identifier.NewKind(t, s, m)}
}

// Acl attaches an access control list to the object under construction.
func (b *Builder) Acl(acl *Acl) *Builder {
	b.acl = acl
	return b
}

// Realize materializes the object in the store and returns it bound to its
// now-known identifier. Mutable objects draw a random payload from the
// process CSPRNG; realization dispatches on the kind triple.
func (b *Builder) Realize(store *ObjectStore) (*Object, error) {
	if b.realized {
		panic("objectstore: builder realized twice")
	}
	b.realized = true

	t, s, m := b.kind.Components()
	switch {
	case t == identifier.Directory && s == identifier.Private && m == identifier.Mutable:
		id, err := randomIdentifier(b.kind)
		if err != nil {
			return nil, err
		}
		if err := store.CreateDirectory(id, NewDirectoryPermissions().Full()); err != nil {
			return nil, err
		}
		return &Object{ID: id}, nil

	case t == identifier.File && s == identifier.Private && m == identifier.Mutable:
		id, err := randomIdentifier(b.kind)
		if err != nil {
			return nil, err
		}
		handle, err := store.CreateFile(id, nil, NewFileAccess().ReadWrite(), NewFilePermissions().Full(), NewFileAttributes())
		if err != nil {
			return nil, err
		}
		handle.Close()
		return &Object{ID: id}, nil

	default:
		// Content-hashed immutable objects and the reserved kinds have no
		// realization yet.
		return nil, NewUnsupportedObjectTypeError(b.kind)
	}
}

// randomIdentifier builds an identifier with an all-random payload.
func randomIdentifier(kind identifier.Kind) (identifier.Identifier, error) {
	var bin identifier.Bin
	if _, err := rand.Read(bin[:]); err != nil {
		return identifier.Identifier{}, err
	}
	return identifier.New(kind, bin), nil
}
