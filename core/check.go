package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0xRadioAc7iv/go-hierdb/internal/block"
	"github.com/0xRadioAc7iv/go-hierdb/internal/record"
)

type checker struct {
	db       *DB
	owners   map[block.ID]record.Kind
	findings []error
}

func (c *checker) report(format string, args ...any) {
	c.findings = append(c.findings, fmt.Errorf("%w: "+format, append([]any{ErrConsistency}, args...)...))
}

// claim records that id is referenced as a block of the given kind. It
// reports false when the block is already owned.
func (c *checker) claim(id block.ID, kind record.Kind, owner string) bool {
	if prev, ok := c.owners[id]; ok {
		c.report("block %d referenced as %s by %s, already owned as %s", id, kind, owner, prev)
		return false
	}
	c.owners[id] = kind
	return true
}

// AssertAllBlocksValid checks the whole store: every block must be either
// reachable from the root exactly once or on the free list, child arrays must
// be strictly ordered, node names must match the entries linking them and
// every payload must match its digest.
//
// All problems found are returned together, each wrapping ErrConsistency.
// It is a debugging aid that reads the entire file.
func (db *DB) AssertAllBlocksValid() error {
	c := &checker{db: db, owners: make(map[block.ID]record.Kind)}

	if root := db.blocks.Root(); root == block.Nil {
		c.report("store has no root child array")
	} else if err := c.walkArray(root, "/"); err != nil {
		return err
	}

	free, err := db.blocks.FreeList()
	if err != nil {
		if errors.Is(err, ErrIO) {
			return err
		}
		c.findings = append(c.findings, err)
	}
	for _, id := range free {
		c.claim(id, record.KindFree, "free list")
	}

	err = db.blocks.Scan(func(id block.ID, b *block.Block, err error) error {
		if err != nil {
			c.report("block %d: %v", id, err)
			return nil
		}

		kind, owned := c.owners[id]
		switch {
		case !owned:
			c.report("block %d (%s) is neither reachable nor free", id, b.Kind)
		case kind != b.Kind:
			c.report("block %d is a %s block, referenced as %s", id, b.Kind, kind)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(c.findings) > 0 {
		db.log.Warn("Consistency check failed", "findings", len(c.findings))
	} else {
		db.log.Debug("Consistency check passed", "blocks", db.blocks.BlockCount())
	}
	return errors.Join(c.findings...)
}

func (c *checker) walkArray(id block.ID, path string) error {
	if !c.claim(id, record.KindArray, path) {
		return nil
	}

	arr, err := c.db.loadChildArray(id)
	if err != nil {
		if errors.Is(err, ErrIO) {
			return err
		}
		c.report("child array of %s: %v", path, err)
		return nil
	}
	for _, seg := range arr.segments[1:] {
		if !c.claim(seg.ID, record.KindArray, path) {
			return nil
		}
	}

	limit := c.db.MaxNameSize()
	for i, e := range arr.entries {
		if i > 0 && arr.entries[i-1].Name >= e.Name {
			c.report("child array of %s is out of order at %q", path, e.Name)
		}
		if e.Name == "" || len(e.Name) > limit {
			c.report("child array of %s holds a name of %d bytes", path, len(e.Name))
		}

		if err := c.walkNode(block.ID(e.Node), e.Name, joinPath(path, e.Name)); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) walkNode(id block.ID, name, path string) error {
	if id == block.Nil || uint64(id) >= c.db.blocks.BlockCount() {
		c.report("%s references block %d outside the store", path, id)
		return nil
	}
	if !c.claim(id, record.KindNode, path) {
		return nil
	}

	n, err := c.db.readNode(id)
	if err != nil {
		if errors.Is(err, ErrIO) {
			return err
		}
		c.report("node of %s: %v", path, err)
		return nil
	}
	if n.rec.Name != name {
		c.report("node %d is named %q but linked as %q", id, n.rec.Name, name)
	}

	if n.hasData() {
		if err := c.walkBlob(n, path); err != nil {
			return err
		}
	}
	if n.canDescend() {
		return c.walkArray(n.children(), path)
	}
	return nil
}

func (c *checker) walkBlob(n *node, path string) error {
	for id, visited := n.blob(), uint64(0); id != block.Nil; visited++ {
		if visited >= c.db.blocks.BlockCount() {
			c.report("payload of %s has a cyclic chain", path)
			return nil
		}
		if !c.claim(id, record.KindBlob, path) {
			return nil
		}

		b, err := c.db.blocks.Read(id)
		if err != nil {
			if errors.Is(err, ErrIO) {
				return err
			}
			c.report("payload of %s: %v", path, err)
			return nil
		}
		id = b.Next
	}

	if _, err := c.db.readBlob(n); err != nil {
		if errors.Is(err, ErrIO) {
			return err
		}
		c.report("payload of %s: %v", path, err)
	}
	return nil
}

func joinPath(dir, name string) string {
	return strings.TrimSuffix(dir, "/") + "/" + name
}
