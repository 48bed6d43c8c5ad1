package block

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/0xRadioAc7iv/go-hierdb/internal/record"
	"github.com/google/uuid"
)

// ID addresses a block by its index in the file. Block 0 is the store
// header, so no reference ever points at it and Nil doubles as "none".
type ID uint64

const Nil ID = 0

const (
	OneKilobyte = 1024
	OneMegabyte = 1024 * OneKilobyte
)

const (
	MinBlockSize     = 128
	MaxBlockSize     = OneMegabyte
	BlockSizeAlign   = 64
	DefaultBlockSize = 4 * OneKilobyte
)

// Block is a decoded block. Data is the payload following the common block
// header and is always PayloadSize bytes long when read.
type Block struct {
	ID    ID
	Kind  record.Kind
	Flags uint8
	Next  ID
	Data  []byte
}

type Options struct {
	Logger     *slog.Logger
	SyncWrites bool // fsync after every header update
	Truncate   bool // discard any existing content
}

// Store manages a single backing file as a sequence of fixed-size blocks.
//
// The header in block 0 records the block size, the number of blocks, the
// head of the free list and the root reference. Free blocks are chained
// through their Next field.
//
// Store is not safe for concurrent use.
type Store struct {
	file       *os.File
	path       string
	blockSize  int
	hdr        record.StoreHeader
	log        *slog.Logger
	syncWrites bool
}

// ValidateBlockSize reports whether size can be used for a new store.
func ValidateBlockSize(size int) error {
	if size < MinBlockSize || size > MaxBlockSize || size%BlockSizeAlign != 0 {
		return fmt.Errorf("%w: block size %d must be a multiple of %d in [%d, %d]",
			ErrFormat, size, BlockSizeAlign, MinBlockSize, MaxBlockSize)
	}
	return nil
}

// Open opens the store at path. A missing (or empty) file is created with
// blockSize when create is set. For an existing file, a non-zero blockSize
// must match the one recorded in its header; zero adopts the header's.
func Open(path string, blockSize int, create bool, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if blockSize != 0 {
		if err := ValidateBlockSize(blockSize); err != nil {
			return nil, err
		}
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	if opts.Truncate {
		flags |= os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	s := &Store{
		file:       f,
		path:       path,
		log:        logger.With("store", path),
		syncWrites: opts.SyncWrites,
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	if info.Size() == 0 {
		if !create && !opts.Truncate {
			f.Close()
			return nil, fmt.Errorf("%w: %s is empty", ErrFormat, path)
		}
		if blockSize == 0 {
			blockSize = DefaultBlockSize
		}
		err = s.format(blockSize)
	} else {
		err = s.load(blockSize, info.Size())
	}

	if err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

// format initializes an empty file with a header block only. The root
// reference stays Nil until the owner of the store allocates one.
func (s *Store) format(blockSize int) error {
	s.blockSize = blockSize
	s.hdr = record.StoreHeader{
		Version:    record.StoreVersion,
		BlockSize:  uint32(blockSize),
		BlockCount: 1,
		StoreID:    uuid.New(),
		Created:    time.Now().UnixNano(),
	}

	if err := s.writeHeader(); err != nil {
		return err
	}

	s.log.Info("Created new store", "blockSize", blockSize, "id", uuid.UUID(s.hdr.StoreID).String())
	return nil
}

func (s *Store) load(blockSize int, fileSize int64) error {
	prefix := make([]byte, record.BlockHeaderSizeBytes+record.StoreHeaderSizeBytes)
	if _, err := s.file.ReadAt(prefix, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s is too short to hold a header", ErrFormat, s.path)
		}
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	size, err := record.PeekBlockSize(prefix)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if blockSize != 0 && int(size) != blockSize {
		return fmt.Errorf("%w: store has block size %d, opened with %d", ErrFormat, size, blockSize)
	}
	if err := ValidateBlockSize(int(size)); err != nil {
		return err
	}
	s.blockSize = int(size)

	b, err := s.readKind(0, record.KindHeader)
	if err != nil {
		return err
	}

	hdr, err := record.DecodeStoreHeader(b.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if hdr.Version != record.StoreVersion {
		return fmt.Errorf("%w: unsupported store version %d", ErrFormat, hdr.Version)
	}
	if hdr.BlockCount == 0 || hdr.FreeHead >= hdr.BlockCount || hdr.Root >= hdr.BlockCount || hdr.FreeCount >= hdr.BlockCount {
		return fmt.Errorf("%w: header references outside %d blocks", ErrFormat, hdr.BlockCount)
	}
	s.hdr = *hdr

	want := int64(hdr.BlockCount) * int64(s.blockSize)
	switch {
	case fileSize < want:
		return fmt.Errorf("%w: file holds %d bytes, header expects %d", ErrFormat, fileSize, want)
	case fileSize > want:
		// An extension that never reached the header.
		s.log.Warn("Truncating torn store tail", "size", fileSize, "expected", want)
		if err := truncateAt(s.file, want); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}

	s.log.Debug("Opened store", "blockSize", s.blockSize, "blocks", hdr.BlockCount, "free", hdr.FreeCount)
	return nil
}

func (s *Store) BlockSize() int { return s.blockSize }

// PayloadSize is the number of bytes a block carries after its header.
func (s *Store) PayloadSize() int { return s.blockSize - record.BlockHeaderSizeBytes }

func (s *Store) BlockCount() uint64 { return s.hdr.BlockCount }

func (s *Store) FreeCount() uint64 { return s.hdr.FreeCount }

func (s *Store) Root() ID { return ID(s.hdr.Root) }

func (s *Store) StoreID() uuid.UUID { return uuid.UUID(s.hdr.StoreID) }

func (s *Store) Created() time.Time { return time.Unix(0, s.hdr.Created) }

func (s *Store) Path() string { return s.path }

// SetRoot records the root reference in the header.
func (s *Store) SetRoot(id ID) error {
	if err := s.checkRange(id); err != nil {
		return err
	}

	s.hdr.Root = uint64(id)
	return s.writeHeader()
}

// Allocate returns a block initialized as an empty block of the given kind,
// reusing the head of the free list when there is one and extending the
// file otherwise.
func (s *Store) Allocate(kind record.Kind) (ID, error) {
	if s.file == nil {
		return Nil, ErrClosed
	}
	if kind == record.KindFree || kind == record.KindHeader {
		return Nil, fmt.Errorf("%w: cannot allocate a %s block", ErrConsistency, kind)
	}

	if s.hdr.FreeHead != 0 {
		id := ID(s.hdr.FreeHead)

		b, err := s.Read(id)
		if err != nil {
			return Nil, err
		}
		if b.Kind != record.KindFree {
			return Nil, fmt.Errorf("%w: free list head %d is a %s block", ErrConsistency, id, b.Kind)
		}

		// Unlink first: a crash before the block is initialized leaks it
		// instead of handing it out twice.
		s.hdr.FreeHead = uint64(b.Next)
		s.hdr.FreeCount--
		if err := s.writeHeader(); err != nil {
			return Nil, err
		}
		if err := s.writeBlock(id, record.BlockHeader{Kind: kind}, nil); err != nil {
			return Nil, err
		}

		s.log.Debug("Allocated block", "id", id, "kind", kind, "reused", true)
		return id, nil
	}

	id := ID(s.hdr.BlockCount)
	if err := s.writeBlock(id, record.BlockHeader{Kind: kind}, nil); err != nil {
		return Nil, err
	}

	s.hdr.BlockCount++
	if err := s.writeHeader(); err != nil {
		return Nil, err
	}

	s.log.Debug("Allocated block", "id", id, "kind", kind, "reused", false)
	return id, nil
}

// Free returns a block to the free list. Freeing a block that is already
// free is reported as ErrConsistency.
func (s *Store) Free(id ID) error {
	b, err := s.Read(id)
	if err != nil {
		return err
	}

	switch b.Kind {
	case record.KindFree:
		return fmt.Errorf("%w: double free of block %d", ErrConsistency, id)
	case record.KindHeader:
		return fmt.Errorf("%w: cannot free header block %d", ErrConsistency, id)
	}

	if err := s.writeBlock(id, record.BlockHeader{Kind: record.KindFree, Next: s.hdr.FreeHead}, nil); err != nil {
		return err
	}

	s.hdr.FreeHead = uint64(id)
	s.hdr.FreeCount++
	if err := s.writeHeader(); err != nil {
		return err
	}

	s.log.Debug("Freed block", "id", id, "kind", b.Kind)
	return nil
}

// Read returns the block at id after validating its checksum.
func (s *Store) Read(id ID) (*Block, error) {
	if err := s.checkRange(id); err != nil {
		return nil, err
	}
	return s.read(id)
}

// ReadKind is Read plus a check that the block is of the expected kind.
func (s *Store) ReadKind(id ID, kind record.Kind) (*Block, error) {
	if err := s.checkRange(id); err != nil {
		return nil, err
	}
	return s.readKind(id, kind)
}

func (s *Store) readKind(id ID, kind record.Kind) (*Block, error) {
	b, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if b.Kind != kind {
		return nil, fmt.Errorf("%w: block %d is a %s block, want %s", ErrFormat, id, b.Kind, kind)
	}
	return b, nil
}

func (s *Store) read(id ID) (*Block, error) {
	if s.file == nil {
		return nil, ErrClosed
	}

	buf := make([]byte, s.blockSize)
	if _, err := s.file.ReadAt(buf, int64(id)*int64(s.blockSize)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: block %d is past the end of the file", ErrFormat, id)
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	hdr, payload, err := record.DecodeBlock(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", ErrFormat, id, err)
	}

	return &Block{ID: id, Kind: hdr.Kind, Flags: hdr.Flags, Next: ID(hdr.Next), Data: payload}, nil
}

// Write stores b. Payloads shorter than PayloadSize are zero padded, longer
// ones fail with ErrOversize. Only node, array and blob blocks can be
// written; the free list and the header are maintained by the store.
func (s *Store) Write(b *Block) error {
	if err := s.checkRange(b.ID); err != nil {
		return err
	}

	switch b.Kind {
	case record.KindNode, record.KindArray, record.KindBlob:
	default:
		return fmt.Errorf("%w: cannot write a %s block", ErrConsistency, b.Kind)
	}

	if b.Next != Nil {
		if err := s.checkRange(b.Next); err != nil {
			return err
		}
	}

	return s.writeBlock(b.ID, record.BlockHeader{Kind: b.Kind, Flags: b.Flags, Next: uint64(b.Next)}, b.Data)
}

func (s *Store) writeBlock(id ID, hdr record.BlockHeader, payload []byte) error {
	if s.file == nil {
		return ErrClosed
	}
	if len(payload) > s.PayloadSize() {
		return fmt.Errorf("%w: %d bytes into a %d byte payload", ErrOversize, len(payload), s.PayloadSize())
	}

	buf := make([]byte, s.blockSize)
	if err := record.EncodeBlock(buf, hdr, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrOversize, err)
	}

	if _, err := s.file.WriteAt(buf, int64(id)*int64(s.blockSize)); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

func (s *Store) writeHeader() error {
	payload, err := record.EncodeStoreHeader(&s.hdr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}

	if err := s.writeBlock(0, record.BlockHeader{Kind: record.KindHeader}, payload); err != nil {
		return err
	}

	if s.syncWrites {
		return s.Sync()
	}
	return nil
}

// checkRange validates a reference before it is dereferenced.
func (s *Store) checkRange(id ID) error {
	if id == Nil || uint64(id) >= s.hdr.BlockCount {
		return fmt.Errorf("%w: block reference %d outside [1, %d)", ErrFormat, id, s.hdr.BlockCount)
	}
	return nil
}

// Sync flushes the backing file to stable storage.
func (s *Store) Sync() error {
	if s.file == nil {
		return ErrClosed
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Close syncs and closes the backing file. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}

	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil

	if err := errors.Join(syncErr, closeErr); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

func truncateAt(f *os.File, offset int64) error {
	if err := f.Truncate(offset); err != nil {
		return err
	}
	return f.Sync()
}
