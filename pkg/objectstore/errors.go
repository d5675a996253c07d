package objectstore

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// StoreError is a domain error from objectstore operations.
//
// Host I/O errors are not converted into StoreError; they pass through
// wrapped so that errors.Is against io/fs sentinels and syscall errnos keeps
// working. The CLI and the filesystem bridge translate both families to
// POSIX error codes at their boundary.
type StoreError struct {
	// Code is the error category.
	Code ErrorCode

	// Message is a human-readable error description.
	Message string

	// Name is the identifier text, path or file name the error refers to
	// (if applicable).
	Name string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Name != "" {
		return e.Message + ": " + e.Name
	}
	return e.Message
}

// ErrorCode represents the category of an objectstore error.
type ErrorCode int

const (
	// ErrUnsupportedObjectStore indicates an on-disk version different from
	// the Version this build reads and writes.
	ErrUnsupportedObjectStore ErrorCode = iota

	// ErrObjectStoreExists indicates init without --force on an existing store.
	ErrObjectStoreExists

	// ErrObjectStoreForeignExists indicates init on a non-empty directory
	// that is not an objectstore.
	ErrObjectStoreForeignExists

	// ErrObjectStoreNoDir indicates the store path is not a directory.
	ErrObjectStoreNoDir

	// ErrNoLock indicates the store lock could not be acquired without waiting.
	ErrNoLock

	// ErrInvalidIdentifier indicates a malformed identifier or prefix.
	ErrInvalidIdentifier

	// ErrIdentifierAmbiguous indicates a prefix matching more than one object.
	ErrIdentifierAmbiguous

	// ErrUnsupportedObjectType indicates a kind triple with no realization
	// or deletion policy.
	ErrUnsupportedObjectType

	// ErrObjectExists indicates the object or link already exists.
	ErrObjectExists

	// ErrObjectNotFound indicates the named object does not exist.
	ErrObjectNotFound

	// ErrNoParent indicates a path ascending above its effective root.
	ErrNoParent

	// ErrInvalidPath indicates a path matching neither accepted form.
	ErrInvalidPath

	// ErrIllegalFileName indicates a user name starting with the reserved prefix.
	ErrIllegalFileName

	// ErrNotSupported indicates a declared but unimplemented capability
	// (ACL-gated checks).
	ErrNotSupported

	// ErrObjectStoreFatal indicates a detected store invariant violation.
	ErrObjectStoreFatal
)

// Errno maps an error to the POSIX error code reported at the CLI and
// bridge boundary. Host I/O errors keep their original errno.
func Errno(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}

	var mismatch *identifier.TypeMismatchError
	if errors.As(err, &mismatch) {
		if mismatch.Want == identifier.Directory {
			return unix.ENOTDIR
		}
		return unix.EISDIR
	}
	var parseErr *identifier.ParseError
	if errors.As(err, &parseErr) {
		return unix.EINVAL
	}

	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		if errors.Is(err, fs.ErrNotExist) {
			return unix.ENOENT
		}
		if errors.Is(err, fs.ErrExist) {
			return unix.EEXIST
		}
		if errors.Is(err, fs.ErrPermission) {
			return unix.EACCES
		}
		return unix.EIO
	}

	switch storeErr.Code {
	case ErrObjectExists, ErrObjectStoreExists:
		return unix.EEXIST
	case ErrObjectNotFound:
		return unix.ENOENT
	case ErrNoLock:
		return unix.EWOULDBLOCK
	case ErrNoParent, ErrInvalidPath, ErrInvalidIdentifier, ErrIdentifierAmbiguous, ErrIllegalFileName:
		return unix.EINVAL
	case ErrUnsupportedObjectType, ErrNotSupported:
		return unix.EOPNOTSUPP
	case ErrObjectStoreNoDir:
		return unix.ENOTDIR
	case ErrObjectStoreForeignExists:
		return unix.ENOTEMPTY
	default:
		return unix.EIO
	}
}

// NewUnsupportedObjectStoreError reports an on-disk version mismatch.
func NewUnsupportedObjectStoreError(version int) *StoreError {
	return &StoreError{
		Code:    ErrUnsupportedObjectStore,
		Message: fmt.Sprintf("unsupported objectstore version %d", version),
	}
}

// NewObjectStoreExistsError reports init on an existing store without force.
func NewObjectStoreExistsError(dir string) *StoreError {
	return &StoreError{
		Code:    ErrObjectStoreExists,
		Message: "exists already, no --force given",
		Name:    dir,
	}
}

// NewObjectStoreForeignExistsError reports init on a foreign non-empty directory.
func NewObjectStoreForeignExistsError(dir string) *StoreError {
	return &StoreError{
		Code:    ErrObjectStoreForeignExists,
		Message: "exists and is not empty",
		Name:    dir,
	}
}

// NewObjectStoreNoDirError reports a store path that is not a directory.
func NewObjectStoreNoDirError(dir string) *StoreError {
	return &StoreError{
		Code:    ErrObjectStoreNoDir,
		Message: "is not a directory",
		Name:    dir,
	}
}

// NewNoLockError reports lock contention under TryLock.
func NewNoLockError() *StoreError {
	return &StoreError{
		Code:    ErrNoLock,
		Message: "could not acquire lock on the objectstore",
	}
}

// NewInvalidIdentifierError reports a malformed identifier or prefix.
func NewInvalidIdentifierError(message string) *StoreError {
	return &StoreError{
		Code:    ErrInvalidIdentifier,
		Message: "invalid identifier: " + message,
	}
}

// NewIdentifierAmbiguousError reports a prefix with more than one match.
func NewIdentifierAmbiguousError(prefix string) *StoreError {
	return &StoreError{
		Code:    ErrIdentifierAmbiguous,
		Message: "ambiguous identifier",
		Name:    prefix,
	}
}

// NewUnsupportedObjectTypeError reports a kind with no policy.
func NewUnsupportedObjectTypeError(kind identifier.Kind) *StoreError {
	return &StoreError{
		Code:    ErrUnsupportedObjectType,
		Message: "unsupported object type " + kind.String(),
	}
}

// NewObjectExistsError reports a name that already exists.
func NewObjectExistsError(name string) *StoreError {
	return &StoreError{
		Code:    ErrObjectExists,
		Message: "object exists already",
		Name:    name,
	}
}

// NewObjectNotFoundError reports a missing object.
func NewObjectNotFoundError(name string) *StoreError {
	return &StoreError{
		Code:    ErrObjectNotFound,
		Message: "object not found",
		Name:    name,
	}
}

// NewNoParentError reports a path traversing above its root.
func NewNoParentError() *StoreError {
	return &StoreError{
		Code:    ErrNoParent,
		Message: "can not traverse into a parent object",
	}
}

// NewInvalidPathError reports a path of invalid shape.
func NewInvalidPathError(path string) *StoreError {
	return &StoreError{
		Code:    ErrInvalidPath,
		Message: "invalid path",
		Name:    path,
	}
}

// NewIllegalFileNameError reports a user name carrying the reserved prefix.
func NewIllegalFileNameError(name string) *StoreError {
	return &StoreError{
		Code:    ErrIllegalFileName,
		Message: "illegal file name",
		Name:    name,
	}
}

// NewNotSupportedError reports a declared but unimplemented capability.
func NewNotSupportedError(what string) *StoreError {
	return &StoreError{
		Code:    ErrNotSupported,
		Message: "not supported: " + what,
	}
}

// NewFatalError reports a store invariant violation.
func NewFatalError(message string) *StoreError {
	return &StoreError{
		Code:    ErrObjectStoreFatal,
		Message: "fatal objectstore error: " + message,
	}
}

// IsCode reports whether err is a StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr) && storeErr.Code == code
}
