package objectstore

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/internal/logger"
)

// LockingMethod selects how opening an objectstore obtains the advisory
// lock on its directory.
//
//   - TryLock: fail with NoLock immediately when the lock is contended.
//   - WaitForLock: block until the lock becomes available.
type LockingMethod int

const (
	TryLock LockingMethod = iota
	WaitForLock
)

// lockFd places an exclusive flock on fd. EINTR is retried internally; a
// contended lock either blocks or fails depending on the locking method.
func lockFd(fd int, method LockingMethod) error {
	var err error
	for {
		err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}

	if errors.Is(err, unix.EWOULDBLOCK) {
		if method != WaitForLock {
			return NewNoLockError()
		}
		logger.Warn("waiting for objectstore lock")
		for {
			err = unix.Flock(fd, unix.LOCK_EX)
			if !errors.Is(err, unix.EINTR) {
				break
			}
		}
	}

	if err != nil {
		logger.Debug("objectstore locking error", "error", err)
		return err
	}
	logger.Info("objectstore locked")
	return nil
}
