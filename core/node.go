package core

import (
	"fmt"

	"github.com/0xRadioAc7iv/go-hierdb/internal/block"
	"github.com/0xRadioAc7iv/go-hierdb/internal/record"
)

// node is a decoded node record together with the block it lives in.
type node struct {
	id  block.ID
	rec record.NodeRecord
}

func (n *node) blob() block.ID     { return block.ID(n.rec.Blob) }
func (n *node) children() block.ID { return block.ID(n.rec.Children) }
func (n *node) hasData() bool      { return n.rec.Blob != 0 }
func (n *node) canDescend() bool   { return n.rec.Children != 0 }

func (n *node) attachBlob(id block.ID)     { n.rec.Blob = uint64(id) }
func (n *node) detachBlob()                { n.rec.Blob = 0 }
func (n *node) attachChildren(id block.ID) { n.rec.Children = uint64(id) }
func (n *node) detachChildren()            { n.rec.Children = 0 }

// createNode allocates a node block named name with no data and no children.
func (db *DB) createNode(name string) (*node, error) {
	id, err := db.blocks.Allocate(record.KindNode)
	if err != nil {
		return nil, err
	}

	n := &node{id: id, rec: record.NodeRecord{Name: name}}
	if err := db.writeNode(n); err != nil {
		db.blocks.Free(id)
		return nil, err
	}

	return n, nil
}

func (db *DB) readNode(id block.ID) (*node, error) {
	b, err := db.blocks.ReadKind(id, record.KindNode)
	if err != nil {
		return nil, err
	}

	rec, err := record.DecodeNodeRecord(b.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: node %d: %w", ErrFormat, id, err)
	}

	return &node{id: id, rec: *rec}, nil
}

func (db *DB) writeNode(n *node) error {
	payload, err := record.EncodeNodeRecord(&n.rec)
	if err != nil {
		return fmt.Errorf("%w: node %d: %w", ErrOversize, n.id, err)
	}

	return db.blocks.Write(&block.Block{ID: n.id, Kind: record.KindNode, Data: payload})
}
