package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrTruncated     = errors.New("record truncated")
	ErrChecksum      = errors.New("block checksum mismatch")
	ErrBadMagic      = errors.New("unrecognized store header")
	ErrPayloadTooBig = errors.New("payload exceeds block capacity")
	ErrNameLength    = errors.New("invalid name length")
	ErrEntryCount    = errors.New("too many entries in segment")
)

// Kind tags what owns a block.
type Kind uint8

const (
	KindFree Kind = iota
	KindHeader
	KindNode
	KindArray
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindFree:
		return "free"
	case KindHeader:
		return "header"
	case KindNode:
		return "node"
	case KindArray:
		return "array"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Kind (1) + Flags (1) + Reserved (2) + CRC (4) + Next (8)
const BlockHeaderSizeBytes = 16

// The checksum covers the whole block except its own four bytes.
const (
	crcOffset       = 4
	checksummedFrom = 8
)

func blockCRC(data []byte) uint32 {
	return UpdateCRC(CalculateCRC(data[:crcOffset]), data[checksummedFrom:])
}

// FlagCompressed marks the first segment of a zstd-compressed blob.
const FlagCompressed uint8 = 1 << 0

// BlockHeader is the common prefix of every block.
type BlockHeader struct {
	Kind  Kind
	Flags uint8
	CRC   uint32
	Next  uint64 // Chain link, 0 when the block is the last of its chain
}

// EncodeBlock lays out a full block into dst. The payload is zero padded up
// to len(dst) and the checksum is computed last.
func EncodeBlock(dst []byte, hdr BlockHeader, payload []byte) error {
	if len(payload) > len(dst)-BlockHeaderSizeBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooBig, len(payload), len(dst)-BlockHeaderSizeBytes)
	}

	dst[0] = byte(hdr.Kind)
	dst[1] = hdr.Flags
	dst[2], dst[3] = 0, 0
	binary.LittleEndian.PutUint64(dst[8:16], hdr.Next)

	n := copy(dst[BlockHeaderSizeBytes:], payload)
	clear(dst[BlockHeaderSizeBytes+n:])

	binary.LittleEndian.PutUint32(dst[crcOffset:checksummedFrom], blockCRC(dst))
	return nil
}

// DecodeBlock validates the checksum of a raw block and splits it into its
// header and payload. The payload aliases data.
func DecodeBlock(data []byte) (BlockHeader, []byte, error) {
	if len(data) < BlockHeaderSizeBytes {
		return BlockHeader{}, nil, ErrTruncated
	}

	hdr := BlockHeader{
		Kind:  Kind(data[0]),
		Flags: data[1],
		CRC:   binary.LittleEndian.Uint32(data[crcOffset:checksummedFrom]),
		Next:  binary.LittleEndian.Uint64(data[8:16]),
	}

	if blockCRC(data) != hdr.CRC {
		return hdr, nil, ErrChecksum
	}

	return hdr, data[BlockHeaderSizeBytes:], nil
}

// StoreMagic opens every store file.
var StoreMagic = [8]byte{'H', 'I', 'E', 'R', 'D', 'B', 0x00, 0x01}

const StoreVersion = 1

// Magic (8) + Version (4) + BlockSize (4) + BlockCount (8) + FreeHead (8) +
// FreeCount (8) + Root (8) + StoreID (16) + Created (8)
const StoreHeaderSizeBytes = 72

// StoreHeader is the payload of block 0.
type StoreHeader struct {
	Version    uint32
	BlockSize  uint32
	BlockCount uint64 // Blocks in the file, block 0 included
	FreeHead   uint64
	FreeCount  uint64
	Root       uint64 // Root child array
	StoreID    [16]byte
	Created    int64 // Unix timestamp in nanoseconds
}

func EncodeStoreHeader(h *StoreHeader) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Grow(StoreHeaderSizeBytes)

	buf.Write(StoreMagic[:])
	fields := []any{h.Version, h.BlockSize, h.BlockCount, h.FreeHead, h.FreeCount, h.Root, h.StoreID, h.Created}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func DecodeStoreHeader(payload []byte) (*StoreHeader, error) {
	if len(payload) < StoreHeaderSizeBytes {
		return nil, ErrTruncated
	}
	if !bytes.Equal(payload[:len(StoreMagic)], StoreMagic[:]) {
		return nil, ErrBadMagic
	}

	h := &StoreHeader{}
	buf := bytes.NewReader(payload[len(StoreMagic):StoreHeaderSizeBytes])
	fields := []any{&h.Version, &h.BlockSize, &h.BlockCount, &h.FreeHead, &h.FreeCount, &h.Root, &h.StoreID, &h.Created}
	for _, f := range fields {
		if err := binary.Read(buf, binary.LittleEndian, f); err != nil {
			return nil, ErrTruncated
		}
	}

	return h, nil
}

// PeekBlockSize reads the block size out of the start of a store file
// without knowing the block size yet. prefix must cover the block header and
// the store header.
func PeekBlockSize(prefix []byte) (uint32, error) {
	if len(prefix) < BlockHeaderSizeBytes+StoreHeaderSizeBytes {
		return 0, ErrTruncated
	}
	if Kind(prefix[0]) != KindHeader {
		return 0, ErrBadMagic
	}

	payload := prefix[BlockHeaderSizeBytes:]
	if !bytes.Equal(payload[:len(StoreMagic)], StoreMagic[:]) {
		return 0, ErrBadMagic
	}

	// Magic (8) + Version (4)
	return binary.LittleEndian.Uint32(payload[12:16]), nil
}

// Blob (8) + Children (8) + NameSize (2)
const NodeRecordHeaderSizeBytes = 18

// NodeRecord is the payload of a node block.
type NodeRecord struct {
	Blob     uint64 // First blob segment, 0 when the node has no data
	Children uint64 // Child array, 0 when the node cannot be descended into
	Name     string
}

func EncodeNodeRecord(n *NodeRecord) ([]byte, error) {
	if len(n.Name) == 0 || len(n.Name) > MaxNameSize {
		return nil, fmt.Errorf("%w: %d", ErrNameLength, len(n.Name))
	}

	buf := &bytes.Buffer{}
	buf.Grow(NodeRecordHeaderSizeBytes + len(n.Name))

	if err := binary.Write(buf, binary.LittleEndian, n.Blob); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, n.Children); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(n.Name))); err != nil {
		return nil, err
	}
	buf.WriteString(n.Name)

	return buf.Bytes(), nil
}

func DecodeNodeRecord(payload []byte) (*NodeRecord, error) {
	var blob, children uint64
	var nameSize uint16

	buf := bytes.NewReader(payload)
	if err := binary.Read(buf, binary.LittleEndian, &blob); err != nil {
		return nil, ErrTruncated
	}
	if err := binary.Read(buf, binary.LittleEndian, &children); err != nil {
		return nil, ErrTruncated
	}
	if err := binary.Read(buf, binary.LittleEndian, &nameSize); err != nil {
		return nil, ErrTruncated
	}
	if nameSize == 0 {
		return nil, ErrNameLength
	}

	name := make([]byte, nameSize)
	if _, err := io.ReadFull(buf, name); err != nil {
		return nil, ErrTruncated
	}

	return &NodeRecord{Blob: blob, Children: children, Name: string(name)}, nil
}

// MaxNameSize is the limit imposed by the 16-bit length prefix. Block size
// imposes a tighter limit on small blocks, see MaxNameSizeFor.
const MaxNameSize = 1<<16 - 1

// MaxNameSizeFor returns the longest name that fits a node block (and
// therefore any child array segment) of the given block size.
func MaxNameSizeFor(blockSize int) int {
	return min(MaxNameSize, blockSize-BlockHeaderSizeBytes-NodeRecordHeaderSizeBytes)
}

// EntryCount (2)
const ArraySegmentHeaderSizeBytes = 2

// MaxSegmentEntries is the most entries one segment can count.
const MaxSegmentEntries = math.MaxUint16

// NameSize (2) + Node (8), name bytes excluded
const ArrayEntryOverheadBytes = 10

// ArrayEntry is one (name, node) pair of a child array.
type ArrayEntry struct {
	Name string
	Node uint64
}

// Size is the encoded size of the entry inside a segment.
func (e ArrayEntry) Size() int {
	return ArrayEntryOverheadBytes + len(e.Name)
}

func EncodeArraySegment(entries []ArrayEntry) ([]byte, error) {
	if len(entries) > MaxSegmentEntries {
		return nil, fmt.Errorf("%w: %d", ErrEntryCount, len(entries))
	}

	buf := &bytes.Buffer{}

	if err := binary.Write(buf, binary.LittleEndian, uint16(len(entries))); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if len(e.Name) == 0 || len(e.Name) > MaxNameSize {
			return nil, fmt.Errorf("%w: %d", ErrNameLength, len(e.Name))
		}
		if err := binary.Write(buf, binary.LittleEndian, uint16(len(e.Name))); err != nil {
			return nil, err
		}
		buf.WriteString(e.Name)
		if err := binary.Write(buf, binary.LittleEndian, e.Node); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func DecodeArraySegment(payload []byte) ([]ArrayEntry, error) {
	var count uint16

	buf := bytes.NewReader(payload)
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, ErrTruncated
	}

	entries := make([]ArrayEntry, 0, count)
	for n := uint16(0); n < count; n++ {
		var nameSize uint16
		var node uint64

		if err := binary.Read(buf, binary.LittleEndian, &nameSize); err != nil {
			return nil, ErrTruncated
		}
		if nameSize == 0 {
			return nil, ErrNameLength
		}
		name := make([]byte, nameSize)
		if _, err := io.ReadFull(buf, name); err != nil {
			return nil, ErrTruncated
		}
		if err := binary.Read(buf, binary.LittleEndian, &node); err != nil {
			return nil, ErrTruncated
		}

		entries = append(entries, ArrayEntry{Name: string(name), Node: node})
	}

	return entries, nil
}

// Length (8) + StoredLength (8) + Digest (32)
const BlobHeaderSizeBytes = 48

// BlobHeader opens the payload of the first segment of a blob chain.
type BlobHeader struct {
	Length       uint64 // Logical payload size
	StoredLength uint64 // Bytes stored across the chain, differs from Length when compressed
	Digest       [DigestSizeBytes]byte
}

func EncodeBlobHeader(h *BlobHeader) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Grow(BlobHeaderSizeBytes)

	if err := binary.Write(buf, binary.LittleEndian, h.Length); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.StoredLength); err != nil {
		return nil, err
	}
	buf.Write(h.Digest[:])

	return buf.Bytes(), nil
}

func DecodeBlobHeader(payload []byte) (*BlobHeader, error) {
	h := &BlobHeader{}

	buf := bytes.NewReader(payload)
	if err := binary.Read(buf, binary.LittleEndian, &h.Length); err != nil {
		return nil, ErrTruncated
	}
	if err := binary.Read(buf, binary.LittleEndian, &h.StoredLength); err != nil {
		return nil, ErrTruncated
	}
	if _, err := io.ReadFull(buf, h.Digest[:]); err != nil {
		return nil, ErrTruncated
	}

	return h, nil
}
