package core

import (
	"bytes"
	"fmt"

	"github.com/0xRadioAc7iv/go-hierdb/internal/block"
	"github.com/0xRadioAc7iv/go-hierdb/internal/record"
	"github.com/klauspost/compress/zstd"
)

func (db *DB) encoder() (*zstd.Encoder, error) {
	if db.enc == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
		if err != nil {
			return nil, err
		}
		db.enc = enc
	}
	return db.enc, nil
}

func (db *DB) decoder() (*zstd.Decoder, error) {
	if db.dec == nil {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		db.dec = dec
	}
	return db.dec, nil
}

// encodePayload returns the bytes to store for data and the block flags for
// the first segment. Compressed output is kept only when it is smaller.
func (db *DB) encodePayload(data []byte) ([]byte, uint8) {
	if db.opts.compressMin == 0 || len(data) < db.opts.compressMin {
		return data, 0
	}

	enc, err := db.encoder()
	if err != nil {
		db.log.Warn("Compression unavailable, storing raw payload", "error", err)
		return data, 0
	}

	compressed := enc.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return data, 0
	}
	return compressed, record.FlagCompressed
}

// blobSegments splits stored into per-block payloads. The first segment
// carries the blob header, so it holds less data than the rest. Empty data
// still produces a single segment.
func (db *DB) blobSegments(hdr []byte, stored []byte) [][]byte {
	payload := db.blocks.PayloadSize()

	firstCap := payload - len(hdr)
	n := min(firstCap, len(stored))

	first := make([]byte, 0, len(hdr)+n)
	first = append(first, hdr...)
	first = append(first, stored[:n]...)

	segments := [][]byte{first}
	for rest := stored[n:]; len(rest) > 0; {
		n := min(payload, len(rest))
		segments = append(segments, rest[:n])
		rest = rest[n:]
	}
	return segments
}

// writeBlob stores data as the payload of n, replacing any existing one.
// The new chain is written completely before the node points at it and the
// old chain is only freed afterwards, so a failure leaves either the old or
// the new payload attached.
func (db *DB) writeBlob(n *node, data []byte) error {
	stored, flags := db.encodePayload(data)

	hdr, err := record.EncodeBlobHeader(&record.BlobHeader{
		Length:       uint64(len(data)),
		StoredLength: uint64(len(stored)),
		Digest:       record.Digest(data),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}

	segments := db.blobSegments(hdr, stored)

	ids := make([]block.ID, 0, len(segments))
	for range segments {
		id, err := db.blocks.Allocate(record.KindBlob)
		if err != nil {
			db.freeIDs(ids)
			return err
		}
		ids = append(ids, id)
	}

	for i := len(segments) - 1; i >= 0; i-- {
		b := &block.Block{ID: ids[i], Kind: record.KindBlob, Data: segments[i]}
		if i == 0 {
			b.Flags = flags
		}
		if i+1 < len(ids) {
			b.Next = ids[i+1]
		}

		if err := db.blocks.Write(b); err != nil {
			db.freeIDs(ids)
			return err
		}
	}

	old := n.blob()
	n.attachBlob(ids[0])
	if err := db.writeNode(n); err != nil {
		n.attachBlob(old)
		db.freeIDs(ids)
		return err
	}

	if old != block.Nil {
		if err := db.freeChain(old, record.KindBlob); err != nil {
			return err
		}
	}

	db.log.Debug("Stored payload", "node", n.id, "bytes", len(data), "stored", len(stored), "blocks", len(ids))
	return nil
}

// readBlob returns the payload of n after checking its length and digest.
func (db *DB) readBlob(n *node) ([]byte, error) {
	if !n.hasData() {
		return nil, ErrNoData
	}

	first, err := db.blocks.ReadKind(n.blob(), record.KindBlob)
	if err != nil {
		return nil, err
	}

	hdr, err := record.DecodeBlobHeader(first.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: blob %d: %w", ErrFormat, first.ID, err)
	}

	maxStored := uint64(db.blocks.BlockCount()) * uint64(db.blocks.PayloadSize())
	if hdr.StoredLength > maxStored {
		return nil, fmt.Errorf("%w: blob %d claims %d stored bytes", ErrFormat, first.ID, hdr.StoredLength)
	}

	stored := make([]byte, 0, hdr.StoredLength)
	stored = appendUpTo(stored, first.Data[record.BlobHeaderSizeBytes:], hdr.StoredLength)

	visited := uint64(1)
	for next := first.Next; next != block.Nil; {
		if visited >= db.blocks.BlockCount() {
			return nil, fmt.Errorf("%w: blob %d has a cyclic chain", ErrFormat, first.ID)
		}
		visited++

		b, err := db.blocks.ReadKind(next, record.KindBlob)
		if err != nil {
			return nil, err
		}
		stored = appendUpTo(stored, b.Data, hdr.StoredLength)
		next = b.Next
	}

	if uint64(len(stored)) != hdr.StoredLength {
		return nil, fmt.Errorf("%w: blob %d holds %d of %d bytes", ErrFormat, first.ID, len(stored), hdr.StoredLength)
	}

	data := stored
	if first.Flags&record.FlagCompressed != 0 {
		dec, err := db.decoder()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		}
		data, err = dec.DecodeAll(stored, make([]byte, 0, hdr.Length))
		if err != nil {
			return nil, fmt.Errorf("%w: blob %d: %w", ErrFormat, first.ID, err)
		}
	}

	if uint64(len(data)) != hdr.Length {
		return nil, fmt.Errorf("%w: blob %d decodes to %d bytes, expected %d", ErrFormat, first.ID, len(data), hdr.Length)
	}
	if digest := record.Digest(data); !bytes.Equal(digest[:], hdr.Digest[:]) {
		return nil, fmt.Errorf("%w: blob %d digest mismatch", ErrFormat, first.ID)
	}

	return data, nil
}

func appendUpTo(dst, src []byte, limit uint64) []byte {
	room := limit - uint64(len(dst))
	if uint64(len(src)) > room {
		src = src[:room]
	}
	return append(dst, src...)
}

// releaseBlob detaches the payload of n and frees its chain.
func (db *DB) releaseBlob(n *node) error {
	if !n.hasData() {
		return ErrNoData
	}

	old := n.blob()
	n.detachBlob()
	if err := db.writeNode(n); err != nil {
		n.attachBlob(old)
		return err
	}

	return db.freeChain(old, record.KindBlob)
}

// freeChain frees every block of the chain starting at head. Each block's
// successor is read before the block itself is freed.
func (db *DB) freeChain(head block.ID, kind record.Kind) error {
	for id, visited := head, uint64(0); id != block.Nil; visited++ {
		if visited >= db.blocks.BlockCount() {
			return fmt.Errorf("%w: chain at %d is cyclic", ErrFormat, head)
		}

		b, err := db.blocks.ReadKind(id, kind)
		if err != nil {
			return err
		}
		if err := db.blocks.Free(id); err != nil {
			return err
		}
		id = b.Next
	}
	return nil
}

func (db *DB) freeIDs(ids []block.ID) {
	for _, id := range ids {
		if err := db.blocks.Free(id); err != nil {
			db.log.Warn("Failed to release block", "id", id, "error", err)
		}
	}
}
