package core

import (
	"fmt"

	"github.com/0xRadioAc7iv/go-hierdb/internal/block"
)

// frame is one level of a cursor: a child array, the entry selected in it
// and the iteration position. pos is the name last selected or sought, so
// iteration survives the removal of the selected entry.
type frame struct {
	array   block.ID
	current *Entry
	pos     string
	done    bool
}

// Cursor walks and mutates the hierarchy. It holds a stack of frames whose
// bottom is the root child array; Descend pushes the child array of the
// selected entry and Ascend pops it again.
//
// Entry scoped operations come in two forms: on a handle returned by Lookup
// or CreateEntry, or on the entry selected in the current frame by SeekTo.
// The selection based form fails with ErrNoCurrentEntry when nothing is
// selected.
type Cursor struct {
	db     *DB
	frames []frame
}

func (c *Cursor) top() *frame {
	return &c.frames[len(c.frames)-1]
}

func (c *Cursor) array() (*childArray, error) {
	return c.db.loadChildArray(c.top().array)
}

func (c *Cursor) find(name string) (*Entry, bool, error) {
	arr, err := c.array()
	if err != nil {
		return nil, false, err
	}

	linked, ok := arr.lookup(name)
	if !ok {
		return nil, false, nil
	}
	return &Entry{db: c.db, array: arr.id, node: block.ID(linked.Node), name: linked.Name}, true, nil
}

func (c *Cursor) selectEntry(e *Entry) {
	f := c.top()
	f.current = e
	f.pos = e.name
	f.done = false
}

// SeekTo selects name in the current frame and reports whether it exists.
// When it does not, the selection is cleared.
func (c *Cursor) SeekTo(name string) (bool, error) {
	e, ok, err := c.find(name)
	if err != nil {
		return false, err
	}

	f := c.top()
	if !ok {
		f.current = nil
		f.pos = name
		return false, nil
	}

	c.selectEntry(e)
	return true, nil
}

// Lookup returns a handle for name in the current frame without changing the
// selection.
func (c *Cursor) Lookup(name string) (*Entry, error) {
	e, ok, err := c.find(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e, nil
}

// Current returns the selected entry of the current frame.
func (c *Cursor) Current() (*Entry, error) {
	if e := c.top().current; e != nil {
		return e, nil
	}
	return nil, ErrNoCurrentEntry
}

// CreateEntry creates name in the current frame, with no data and no child
// array, and selects it.
func (c *Cursor) CreateEntry(name string) (*Entry, error) {
	if err := c.db.validateName(name); err != nil {
		return nil, err
	}

	arr, err := c.array()
	if err != nil {
		return nil, err
	}
	if _, exists := arr.lookup(name); exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	n, err := c.db.createNode(name)
	if err != nil {
		return nil, err
	}
	if err := arr.insert(name, n.id); err != nil {
		c.db.freeIDs([]block.ID{n.id})
		return nil, err
	}

	c.db.log.Debug("Created entry", "entry", name, "node", n.id, "depth", c.Depth())

	e := &Entry{db: c.db, array: arr.id, node: n.id, name: name}
	c.selectEntry(e)
	return e, nil
}

func (c *Cursor) CreateChildArray() error {
	e, err := c.Current()
	if err != nil {
		return err
	}
	return e.CreateChildArray()
}

func (c *Cursor) DeleteChildArray() error {
	e, err := c.Current()
	if err != nil {
		return err
	}
	return e.DeleteChildArray()
}

// DeleteEntry deletes the selected entry and clears the selection.
func (c *Cursor) DeleteEntry() error {
	e, err := c.Current()
	if err != nil {
		return err
	}
	if err := e.Delete(); err != nil {
		return err
	}

	c.top().current = nil
	return nil
}

func (c *Cursor) SetData(data []byte) error {
	e, err := c.Current()
	if err != nil {
		return err
	}
	return e.SetData(data)
}

func (c *Cursor) GetData() ([]byte, error) {
	e, err := c.Current()
	if err != nil {
		return nil, err
	}
	return e.Data()
}

func (c *Cursor) RemoveData() error {
	e, err := c.Current()
	if err != nil {
		return err
	}
	return e.RemoveData()
}

func (c *Cursor) HasData() (bool, error) {
	e, err := c.Current()
	if err != nil {
		return false, err
	}
	return e.HasData()
}

func (c *Cursor) CanDescend() (bool, error) {
	e, err := c.Current()
	if err != nil {
		return false, err
	}
	return e.CanDescend()
}

// Descend enters the child array of the selected entry. The new frame has no
// selection.
func (c *Cursor) Descend() error {
	e, err := c.Current()
	if err != nil {
		return err
	}
	return c.DescendInto(e)
}

// DescendInto selects e, which must belong to the current frame, and enters
// its child array.
func (c *Cursor) DescendInto(e *Entry) error {
	if e.db != c.db || e.array != c.top().array {
		return fmt.Errorf("%w: %q is not in the current directory", ErrNotFound, e.name)
	}

	n, err := e.load()
	if err != nil {
		return err
	}
	if !n.canDescend() {
		return fmt.Errorf("%w: %q", ErrCannotDescend, e.name)
	}

	c.selectEntry(e)
	c.frames = append(c.frames, frame{array: n.children()})

	c.db.log.Debug("Descended", "entry", e.name, "depth", c.Depth())
	return nil
}

// Ascend returns to the parent frame, whose selection is the entry that was
// descended into.
func (c *Cursor) Ascend() error {
	if c.AtRoot() {
		return ErrAtRoot
	}

	c.frames = c.frames[:len(c.frames)-1]
	return nil
}

func (c *Cursor) AtRoot() bool {
	return len(c.frames) == 1
}

// Depth is the number of frames above the root.
func (c *Cursor) Depth() int {
	return len(c.frames) - 1
}

// Path returns the names of the directories from the root down to the
// current frame.
func (c *Cursor) Path() []string {
	path := make([]string, 0, c.Depth())
	for _, f := range c.frames[:len(c.frames)-1] {
		path = append(path, f.current.name)
	}
	return path
}

// Entries lists the names in the current frame in order.
func (c *Cursor) Entries() ([]string, error) {
	arr, err := c.array()
	if err != nil {
		return nil, err
	}
	return arr.names(), nil
}

// SeekBegin selects the first entry of the current frame. Together with
// Next and Done it iterates the frame in name order. Entries created or
// deleted during iteration are seen if they sort after the current position.
func (c *Cursor) SeekBegin() error {
	arr, err := c.array()
	if err != nil {
		return err
	}

	f := c.top()
	if arr.isEmpty() {
		f.current = nil
		f.pos = ""
		f.done = true
		return nil
	}

	first := arr.entries[0]
	c.selectEntry(&Entry{db: c.db, array: arr.id, node: block.ID(first.Node), name: first.Name})
	return nil
}

// Next selects the entry following the current position.
func (c *Cursor) Next() error {
	f := c.top()
	if f.done {
		return nil
	}

	arr, err := c.array()
	if err != nil {
		return err
	}

	i, found := arr.find(f.pos)
	if found {
		i++
	}
	if i >= arr.len() {
		f.current = nil
		f.done = true
		return nil
	}

	next := arr.entries[i]
	c.selectEntry(&Entry{db: c.db, array: arr.id, node: block.ID(next.Node), name: next.Name})
	return nil
}

// Done reports whether iteration has moved past the last entry.
func (c *Cursor) Done() bool {
	return c.top().done
}

// Name returns the name of the selected entry, or "" when there is none.
func (c *Cursor) Name() string {
	if e := c.top().current; e != nil {
		return e.name
	}
	return ""
}
