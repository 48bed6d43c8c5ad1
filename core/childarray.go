package core

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/0xRadioAc7iv/go-hierdb/internal/block"
	"github.com/0xRadioAc7iv/go-hierdb/internal/record"
)

// childArray is a loaded child array: its entries in name order and the
// chain of segment blocks holding them. The first segment is the identity
// of the array and never changes while the array exists.
type childArray struct {
	db       *DB
	id       block.ID
	segments []*block.Block
	entries  []record.ArrayEntry
}

// newChildArray allocates an empty child array. A freshly allocated block
// has a zeroed payload, which decodes as a segment with no entries.
func (db *DB) newChildArray() (block.ID, error) {
	return db.blocks.Allocate(record.KindArray)
}

func (db *DB) loadChildArray(id block.ID) (*childArray, error) {
	a := &childArray{db: db, id: id}

	for cur := id; cur != block.Nil; {
		// A chain can never be longer than the file.
		if uint64(len(a.segments)) >= db.blocks.BlockCount() {
			return nil, fmt.Errorf("%w: child array %d has a cyclic chain", ErrFormat, id)
		}

		b, err := db.blocks.ReadKind(cur, record.KindArray)
		if err != nil {
			return nil, err
		}

		entries, err := record.DecodeArraySegment(b.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: child array segment %d: %w", ErrFormat, cur, err)
		}

		a.segments = append(a.segments, b)
		a.entries = append(a.entries, entries...)
		cur = b.Next
	}

	return a, nil
}

func compareEntry(e record.ArrayEntry, name string) int {
	return strings.Compare(e.Name, name)
}

// find returns the position of name, or the position it would be inserted at.
func (a *childArray) find(name string) (int, bool) {
	return slices.BinarySearchFunc(a.entries, name, compareEntry)
}

func (a *childArray) lookup(name string) (record.ArrayEntry, bool) {
	i, ok := a.find(name)
	if !ok {
		return record.ArrayEntry{}, false
	}
	return a.entries[i], true
}

func (a *childArray) len() int { return len(a.entries) }

func (a *childArray) isEmpty() bool { return len(a.entries) == 0 }

func (a *childArray) names() []string {
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.Name
	}
	return names
}

func (a *childArray) insert(name string, node block.ID) error {
	i, ok := a.find(name)
	if ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	a.entries = slices.Insert(a.entries, i, record.ArrayEntry{Name: name, Node: uint64(node)})
	if err := a.store(); err != nil {
		a.entries = slices.Delete(a.entries, i, i+1)
		return err
	}
	return nil
}

// remove unlinks name from the array. The node it references is left alone.
func (a *childArray) remove(name string) (record.ArrayEntry, error) {
	i, ok := a.find(name)
	if !ok {
		return record.ArrayEntry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	removed := a.entries[i]
	a.entries = slices.Delete(a.entries, i, i+1)
	if err := a.store(); err != nil {
		a.entries = slices.Insert(a.entries, i, removed)
		return record.ArrayEntry{}, err
	}
	return removed, nil
}

// pack splits the entries into per-segment groups, filling each segment
// before starting the next. A segment is full when its bytes are used up
// or its entry count would overflow. There is always at least one group.
func (a *childArray) pack() [][]record.ArrayEntry {
	capacity := a.db.blocks.PayloadSize() - record.ArraySegmentHeaderSizeBytes

	groups := [][]record.ArrayEntry{nil}
	used := 0
	for _, e := range a.entries {
		last := len(groups) - 1
		if used+e.Size() > capacity || len(groups[last]) == record.MaxSegmentEntries {
			groups = append(groups, nil)
			used = 0
			last++
		}
		groups[last] = append(groups[last], e)
		used += e.Size()
	}
	return groups
}

// store writes the entries back over the segment chain. The chain grows
// by allocating blocks and shrinks by freeing trailing ones. Segments are
// written tail first so every link points at an already written block;
// the first segment is written last.
func (a *childArray) store() error {
	groups := a.pack()

	ids := make([]block.ID, len(groups))
	for i := range ids {
		if i < len(a.segments) {
			ids[i] = a.segments[i].ID
			continue
		}

		id, err := a.db.blocks.Allocate(record.KindArray)
		if err != nil {
			a.db.freeIDs(ids[len(a.segments):i])
			return err
		}
		ids[i] = id
	}

	segments := make([]*block.Block, len(groups))
	for i := len(groups) - 1; i >= 0; i-- {
		payload, err := record.EncodeArraySegment(groups[i])
		if err != nil {
			a.db.freeIDs(ids[min(len(ids), len(a.segments)):])
			return fmt.Errorf("%w: %w", ErrOversize, err)
		}

		next := block.Nil
		if i+1 < len(ids) {
			next = ids[i+1]
		}

		b := &block.Block{ID: ids[i], Kind: record.KindArray, Next: next, Data: payload}
		segments[i] = b

		if i < len(a.segments) && unchanged(a.segments[i], b) {
			continue
		}
		if err := a.db.blocks.Write(b); err != nil {
			return err
		}
	}

	for _, stale := range a.segments[min(len(groups), len(a.segments)):] {
		if err := a.db.blocks.Free(stale.ID); err != nil {
			return err
		}
	}

	a.segments = segments
	return nil
}

// unchanged reports whether writing b would leave the stored block as is.
// Stored payloads are zero padded, so the tail past b.Data must be zero.
func unchanged(stored, b *block.Block) bool {
	if stored.Next != b.Next || stored.Flags != b.Flags || len(stored.Data) < len(b.Data) {
		return false
	}
	if !bytes.Equal(stored.Data[:len(b.Data)], b.Data) {
		return false
	}
	for _, c := range stored.Data[len(b.Data):] {
		if c != 0 {
			return false
		}
	}
	return true
}

// free releases every segment of the array. The caller must have detached
// the array from its node first.
func (a *childArray) free() error {
	for _, seg := range a.segments {
		if err := a.db.blocks.Free(seg.ID); err != nil {
			return err
		}
	}
	a.segments = nil
	return nil
}
