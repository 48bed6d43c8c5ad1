package lock

import "errors"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("store already in use by another hierdb instance")

// LockFilePath is the path of the lock file guarding a store file.
func LockFilePath(storePath string) string {
	return storePath + ".lock"
}
