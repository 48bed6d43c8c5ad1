package core

import (
	"errors"

	"github.com/0xRadioAc7iv/go-hierdb/internal/block"
	"github.com/0xRadioAc7iv/go-hierdb/internal/lock"
)

// Errors of the block layer, re-exported so callers only import core.
var (
	ErrIO          = block.ErrIO
	ErrFormat      = block.ErrFormat
	ErrConsistency = block.ErrConsistency
	ErrOversize    = block.ErrOversize
	ErrClosed      = block.ErrClosed
	ErrLocked      = lock.ErrLocked
)

// Errors of the hierarchy. Every cursor and entry operation reports one of
// these (possibly wrapped) when its precondition does not hold.
var (
	// ErrDuplicateName is returned when a child array already holds the name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrNotFound is returned when a name is not present in a child array.
	ErrNotFound = errors.New("entry not found")

	// ErrNoCurrentEntry is returned by selection based cursor operations
	// when no entry is selected in the current frame.
	ErrNoCurrentEntry = errors.New("no current entry")

	// ErrNoData is returned when reading or removing the payload of an entry
	// that has none.
	ErrNoData = errors.New("entry has no data")

	// ErrAlreadyHasChildren is returned when creating a child array for an
	// entry that already has one.
	ErrAlreadyHasChildren = errors.New("entry already has a child array")

	// ErrChildArrayNotEmpty is returned when deleting a child array that
	// still holds entries.
	ErrChildArrayNotEmpty = errors.New("child array is not empty")

	// ErrEntryNotRemovable is returned when deleting an entry that still has
	// data or a child array attached.
	ErrEntryNotRemovable = errors.New("entry still has data or children")

	// ErrCannotDescend is returned when the entry has no child array.
	ErrCannotDescend = errors.New("entry has no child array")

	// ErrAtRoot is returned when ascending from the root frame.
	ErrAtRoot = errors.New("cursor is at the root")

	// ErrInvalidName is returned for empty names and the reserved "." and "..".
	ErrInvalidName = errors.New("invalid entry name")
)
