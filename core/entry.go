package core

import (
	"fmt"

	"github.com/0xRadioAc7iv/go-hierdb/internal/block"
	"github.com/0xRadioAc7iv/go-hierdb/internal/record"
)

// Entry is a handle to one named node within a child array. Handles are
// returned by Cursor.Lookup and Cursor.CreateEntry and stay usable until
// the entry is deleted; each call rereads the node, so a handle always sees
// the latest state written through any cursor.
//
// Operating on a handle whose entry has since been deleted fails with
// ErrNotFound, even when its node block has been reused by another entry.
type Entry struct {
	db    *DB
	array block.ID
	node  block.ID
	name  string
}

func (e *Entry) Name() string {
	return e.name
}

// load reads the node behind the handle and makes sure it still is the
// entry the handle was created for: the array must still link the name to
// the same node. Node blocks are reused after a delete, so checking the
// node alone is not enough.
func (e *Entry) load() (*node, error) {
	_, n, err := e.resolve()
	return n, err
}

func (e *Entry) resolve() (*childArray, *node, error) {
	b, err := e.db.blocks.Read(e.array)
	if err != nil {
		return nil, nil, err
	}
	if b.Kind != record.KindArray {
		return nil, nil, fmt.Errorf("%w: directory of %q was deleted", ErrNotFound, e.name)
	}

	arr, err := e.db.loadChildArray(e.array)
	if err != nil {
		return nil, nil, err
	}
	if linked, ok := arr.lookup(e.name); !ok || block.ID(linked.Node) != e.node {
		return nil, nil, fmt.Errorf("%w: %q was deleted", ErrNotFound, e.name)
	}

	n, err := e.db.readNode(e.node)
	if err != nil {
		return nil, nil, err
	}
	if n.rec.Name != e.name {
		return nil, nil, fmt.Errorf("%w: %q was deleted", ErrNotFound, e.name)
	}
	return arr, n, nil
}

func (e *Entry) HasData() (bool, error) {
	n, err := e.load()
	if err != nil {
		return false, err
	}
	return n.hasData(), nil
}

func (e *Entry) CanDescend() (bool, error) {
	n, err := e.load()
	if err != nil {
		return false, err
	}
	return n.canDescend(), nil
}

// SetData stores data as the payload of the entry, replacing any previous
// payload.
func (e *Entry) SetData(data []byte) error {
	n, err := e.load()
	if err != nil {
		return err
	}
	return e.db.writeBlob(n, data)
}

// Data returns the payload of the entry, or ErrNoData when it has none.
func (e *Entry) Data() ([]byte, error) {
	n, err := e.load()
	if err != nil {
		return nil, err
	}
	return e.db.readBlob(n)
}

// RemoveData releases the payload of the entry, or fails with ErrNoData
// when it has none.
func (e *Entry) RemoveData() error {
	n, err := e.load()
	if err != nil {
		return err
	}
	if err := e.db.releaseBlob(n); err != nil {
		return err
	}

	e.db.log.Debug("Removed payload", "entry", e.name)
	return nil
}

// CreateChildArray turns the entry into a directory with no children.
func (e *Entry) CreateChildArray() error {
	n, err := e.load()
	if err != nil {
		return err
	}
	if n.canDescend() {
		return fmt.Errorf("%w: %q", ErrAlreadyHasChildren, e.name)
	}

	id, err := e.db.newChildArray()
	if err != nil {
		return err
	}

	n.attachChildren(id)
	if err := e.db.writeNode(n); err != nil {
		e.db.freeIDs([]block.ID{id})
		return err
	}

	e.db.log.Debug("Created child array", "entry", e.name, "array", id)
	return nil
}

// DeleteChildArray removes the (empty) child array of the entry. Non-empty
// child arrays are rejected with ErrChildArrayNotEmpty; nothing is deleted
// recursively.
func (e *Entry) DeleteChildArray() error {
	n, err := e.load()
	if err != nil {
		return err
	}
	if !n.canDescend() {
		return fmt.Errorf("%w: %q", ErrCannotDescend, e.name)
	}

	arr, err := e.db.loadChildArray(n.children())
	if err != nil {
		return err
	}
	if !arr.isEmpty() {
		return fmt.Errorf("%w: %q holds %d entries", ErrChildArrayNotEmpty, e.name, arr.len())
	}

	n.detachChildren()
	if err := e.db.writeNode(n); err != nil {
		return err
	}
	if err := arr.free(); err != nil {
		return err
	}

	e.db.log.Debug("Deleted child array", "entry", e.name, "array", arr.id)
	return nil
}

// Delete unlinks the entry from its child array and frees its node. The
// entry must have neither data nor a child array.
func (e *Entry) Delete() error {
	arr, n, err := e.resolve()
	if err != nil {
		return err
	}
	if n.hasData() || n.canDescend() {
		return fmt.Errorf("%w: %q", ErrEntryNotRemovable, e.name)
	}

	if _, err := arr.remove(e.name); err != nil {
		return err
	}
	if err := e.db.blocks.Free(e.node); err != nil {
		return err
	}

	e.db.log.Debug("Deleted entry", "entry", e.name, "node", e.node)
	return nil
}
