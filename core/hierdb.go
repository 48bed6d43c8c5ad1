package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/0xRadioAc7iv/go-hierdb/internal/block"
	"github.com/0xRadioAc7iv/go-hierdb/internal/lock"
	"github.com/0xRadioAc7iv/go-hierdb/internal/record"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// DB is an open hierarchical store: the block store plus the reference to
// its root child array. All navigation and mutation goes through cursors
// created with NewCursor.
//
// A DB has a single writer and no internal locking. Cursors over the same DB
// see each other's mutations immediately; callers that use more than one
// cursor, or more than one goroutine, must serialize access themselves.
type DB struct {
	blocks   *block.Store
	lockFile *os.File
	log      *slog.Logger
	opts     options

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Stats describes the block usage of a store.
type Stats struct {
	Path       string
	StoreID    uuid.UUID
	Created    time.Time
	BlockSize  int
	Blocks     uint64 // Blocks in the file, header included
	FreeBlocks uint64
	FileSize   uint64
}

// Open opens the store at path, creating it with blockSize when it does not
// exist and create is set. When the store exists, a non-zero blockSize must
// match the one it was created with.
//
// Open fails with ErrIO when the path is unusable, ErrFormat when the file
// is not a store (or has another block size) and ErrLocked when another
// process has it open.
func Open(path string, blockSize int, create bool, opts ...Option) (*DB, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	lf, err := lock.LockStore(path)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	blocks, err := block.Open(path, blockSize, create, block.Options{
		Logger:     o.logger,
		SyncWrites: o.syncWrites,
		Truncate:   o.truncate,
	})
	if err != nil {
		lock.UnlockStore(lf)
		return nil, err
	}

	db := &DB{
		blocks:   blocks,
		lockFile: lf,
		log:      o.logger.With("store", path),
		opts:     o,
	}

	if err := db.ensureRoot(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// ensureRoot allocates the root child array of a fresh store, or checks the
// recorded one of an existing store.
func (db *DB) ensureRoot() error {
	root := db.blocks.Root()
	if root != block.Nil {
		if _, err := db.blocks.ReadKind(root, record.KindArray); err != nil {
			return fmt.Errorf("root child array: %w", err)
		}
		return nil
	}

	id, err := db.newChildArray()
	if err != nil {
		return err
	}
	if err := db.blocks.SetRoot(id); err != nil {
		return err
	}

	db.log.Debug("Allocated root child array", "id", id)
	return nil
}

// NewCursor returns a cursor positioned at the root frame with no entry
// selected.
func (db *DB) NewCursor() *Cursor {
	return &Cursor{
		db:     db,
		frames: []frame{{array: db.blocks.Root()}},
	}
}

func (db *DB) BlockSize() int {
	return db.blocks.BlockSize()
}

// MaxNameSize is the longest entry name this store accepts.
func (db *DB) MaxNameSize() int {
	return record.MaxNameSizeFor(db.blocks.BlockSize())
}

func (db *DB) Stats() Stats {
	return Stats{
		Path:       db.blocks.Path(),
		StoreID:    db.blocks.StoreID(),
		Created:    db.blocks.Created(),
		BlockSize:  db.blocks.BlockSize(),
		Blocks:     db.blocks.BlockCount(),
		FreeBlocks: db.blocks.FreeCount(),
		FileSize:   db.blocks.BlockCount() * uint64(db.blocks.BlockSize()),
	}
}

// Sync flushes the store file to stable storage.
func (db *DB) Sync() error {
	return db.blocks.Sync()
}

// Close syncs and closes the store and releases its lock. Cursors must not
// be used afterwards.
func (db *DB) Close() error {
	if db.enc != nil {
		db.enc.Close()
		db.enc = nil
	}
	if db.dec != nil {
		db.dec.Close()
		db.dec = nil
	}

	err := db.blocks.Close()

	if db.lockFile != nil {
		if unlockErr := lock.UnlockStore(db.lockFile); unlockErr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrIO, unlockErr)
		}
		db.lockFile = nil
	}

	return err
}

func (db *DB) validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if limit := db.MaxNameSize(); len(name) > limit {
		return fmt.Errorf("%w: name of %d bytes exceeds %d", ErrOversize, len(name), limit)
	}
	return nil
}
