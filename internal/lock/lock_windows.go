//go:build windows

package lock

import (
	"fmt"
	"os"
)

// LockStore attempts to acquire an exclusive lock guarding the store file at
// path.
//
// On Windows, this is implemented by atomically creating a file named
// "<path>.lock". If the file already exists, the store is assumed to be in
// use by another writer.
//
// The returned file handle must be kept open for the duration of the lock.
func LockStore(path string) (*os.File, error) {
	f, err := os.OpenFile(LockFilePath(path), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("unable to open lock file: %w", err)
	}

	return f, nil
}

// UnlockStore releases a lock acquired via LockStore.
//
// On Windows, this removes the lock file from disk. UnlockStore should be
// called exactly once for each successful LockStore call.
func UnlockStore(f *os.File) error {
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
