//go:build unix

package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// LockStore attempts to acquire an exclusive, non-blocking advisory lock
// guarding the store file at path.
//
// On Unix systems, this uses flock(2) to place an exclusive lock on a file
// named "<path>.lock" next to the store. If the lock cannot be acquired, the
// store is assumed to be in use by another writer.
//
// The returned file handle must remain open for the duration of the lock.
func LockStore(path string) (*os.File, error) {
	f, err := os.OpenFile(LockFilePath(path), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	return f, nil
}

// UnlockStore releases a lock acquired via LockStore.
//
// On Unix systems, this releases the advisory flock and closes the file. The
// lock file itself is left in place.
func UnlockStore(f *os.File) error {
	unlockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
