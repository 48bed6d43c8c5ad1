package block

import "errors"

// Sentinel errors of the block layer. The store re-exports them; callers
// match with errors.Is.
var (
	// ErrIO wraps failures of the backing file itself.
	ErrIO = errors.New("i/o error")

	// ErrFormat is returned when a header or block does not have the expected
	// layout: bad magic, block size mismatch, checksum failure, a reference
	// pointing outside the file or at a block of the wrong kind.
	ErrFormat = errors.New("format error")

	// ErrConsistency is returned when an internal invariant is violated, for
	// example a double free or a corrupted free list.
	ErrConsistency = errors.New("consistency error")

	// ErrOversize is returned when a write does not fit a block.
	ErrOversize = errors.New("oversize write")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store is closed")
)
