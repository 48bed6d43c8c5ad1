package block

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/0xRadioAc7iv/go-hierdb/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, blockSize int) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, blockSize, true, Options{})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s, path
}

func TestOpenCreatesHeaderOnlyStore(t *testing.T) {
	s, path := openTestStore(t, 256)

	assert.Equal(t, 256, s.BlockSize())
	assert.Equal(t, 256-record.BlockHeaderSizeBytes, s.PayloadSize())
	assert.Equal(t, uint64(1), s.BlockCount())
	assert.Equal(t, uint64(0), s.FreeCount())
	assert.Equal(t, Nil, s.Root())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(256), info.Size())
}

func TestOpenMissingFileWithoutCreate(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"), 256, false, Options{})
	require.ErrorIs(t, err, ErrIO)
}

func TestOpenInaccessiblePath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "no", "such", "dir", "test.db"), 256, true, Options{})
	require.ErrorIs(t, err, ErrIO)
}

func TestOpenRejectsInvalidBlockSize(t *testing.T) {
	for _, size := range []int{-1, 64, 100, MaxBlockSize + BlockSizeAlign, 2 * OneMegabyte} {
		_, err := Open(filepath.Join(t.TempDir(), "test.db"), size, true, Options{})
		assert.ErrorIs(t, err, ErrFormat, "block size %d", size)
	}

	for _, size := range []int{MinBlockSize, 4 * OneKilobyte, OneMegabyte} {
		assert.NoError(t, ValidateBlockSize(size), "block size %d", size)
	}
}

func TestReopenChecksBlockSize(t *testing.T) {
	s, path := openTestStore(t, 256)
	id := s.StoreID()
	require.NoError(t, s.Close())

	_, err := Open(path, 512, false, Options{})
	require.ErrorIs(t, err, ErrFormat)

	reopened, err := Open(path, 0, false, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 256, reopened.BlockSize())
	assert.Equal(t, id, reopened.StoreID())
}

func TestOpenRejectsUnrecognizedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, make([]byte, 512), 0644))

	_, err := Open(path, 256, false, Options{})
	require.ErrorIs(t, err, ErrFormat)
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	s, path := openTestStore(t, 256)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[200] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = Open(path, 256, false, Options{})
	require.ErrorIs(t, err, ErrFormat)
}

func TestOpenEmptyFileWithoutCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := Open(path, 256, false, Options{})
	require.ErrorIs(t, err, ErrFormat)
}

func TestAllocateExtendsThenReusesFreedBlocks(t *testing.T) {
	s, _ := openTestStore(t, 128)

	a, err := s.Allocate(record.KindNode)
	require.NoError(t, err)
	b, err := s.Allocate(record.KindBlob)
	require.NoError(t, err)

	assert.Equal(t, ID(1), a)
	assert.Equal(t, ID(2), b)
	assert.Equal(t, uint64(3), s.BlockCount())

	require.NoError(t, s.Free(a))
	require.NoError(t, s.Free(b))
	assert.Equal(t, uint64(2), s.FreeCount())

	ids, err := s.FreeList()
	require.NoError(t, err)
	assert.Equal(t, []ID{b, a}, ids)

	c, err := s.Allocate(record.KindArray)
	require.NoError(t, err)
	assert.Equal(t, b, c, "most recently freed block is handed out first")

	blk, err := s.Read(c)
	require.NoError(t, err)
	assert.Equal(t, record.KindArray, blk.Kind)
	assert.Equal(t, Nil, blk.Next)

	assert.Equal(t, uint64(3), s.BlockCount(), "reuse must not extend the file")
	assert.Equal(t, uint64(1), s.FreeCount())
}

func TestAllocateRejectsReservedKinds(t *testing.T) {
	s, _ := openTestStore(t, 128)

	_, err := s.Allocate(record.KindFree)
	require.ErrorIs(t, err, ErrConsistency)

	_, err = s.Allocate(record.KindHeader)
	require.ErrorIs(t, err, ErrConsistency)
}

func TestDoubleFree(t *testing.T) {
	s, _ := openTestStore(t, 128)

	id, err := s.Allocate(record.KindNode)
	require.NoError(t, err)
	require.NoError(t, s.Free(id))

	err = s.Free(id)
	require.ErrorIs(t, err, ErrConsistency)
	assert.Equal(t, uint64(1), s.FreeCount())
}

func TestFreeOutOfRange(t *testing.T) {
	s, _ := openTestStore(t, 128)

	require.ErrorIs(t, s.Free(Nil), ErrFormat)
	require.ErrorIs(t, s.Free(99), ErrFormat)
}

func TestWriteAndRead(t *testing.T) {
	s, _ := openTestStore(t, 128)

	first, err := s.Allocate(record.KindBlob)
	require.NoError(t, err)
	second, err := s.Allocate(record.KindBlob)
	require.NoError(t, err)

	require.NoError(t, s.Write(&Block{ID: first, Kind: record.KindBlob, Flags: record.FlagCompressed, Next: second, Data: []byte("hello")}))

	b, err := s.ReadKind(first, record.KindBlob)
	require.NoError(t, err)
	assert.Equal(t, second, b.Next)
	assert.Equal(t, record.FlagCompressed, b.Flags)
	assert.Len(t, b.Data, s.PayloadSize())
	assert.Equal(t, "hello", string(b.Data[:5]))
	assert.Equal(t, make([]byte, s.PayloadSize()-5), b.Data[5:])

	_, err = s.ReadKind(first, record.KindNode)
	require.ErrorIs(t, err, ErrFormat)
}

func TestWriteOversize(t *testing.T) {
	s, _ := openTestStore(t, 128)

	id, err := s.Allocate(record.KindBlob)
	require.NoError(t, err)

	err = s.Write(&Block{ID: id, Kind: record.KindBlob, Data: make([]byte, s.PayloadSize()+1)})
	require.ErrorIs(t, err, ErrOversize)

	require.NoError(t, s.Write(&Block{ID: id, Kind: record.KindBlob, Data: make([]byte, s.PayloadSize())}))
}

func TestWriteRejectsStoreManagedKindsAndBadLinks(t *testing.T) {
	s, _ := openTestStore(t, 128)

	id, err := s.Allocate(record.KindNode)
	require.NoError(t, err)

	require.ErrorIs(t, s.Write(&Block{ID: id, Kind: record.KindFree}), ErrConsistency)
	require.ErrorIs(t, s.Write(&Block{ID: id, Kind: record.KindHeader}), ErrConsistency)
	require.ErrorIs(t, s.Write(&Block{ID: id, Kind: record.KindBlob, Next: 42}), ErrFormat)
	require.ErrorIs(t, s.Write(&Block{ID: 42, Kind: record.KindBlob}), ErrFormat)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	s, path := openTestStore(t, 128)

	a, err := s.Allocate(record.KindArray)
	require.NoError(t, err)
	b, err := s.Allocate(record.KindNode)
	require.NoError(t, err)
	require.NoError(t, s.SetRoot(a))
	require.NoError(t, s.Free(b))
	require.NoError(t, s.Close())

	reopened, err := Open(path, 128, false, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, a, reopened.Root())
	assert.Equal(t, uint64(3), reopened.BlockCount())

	ids, err := reopened.FreeList()
	require.NoError(t, err)
	assert.Equal(t, []ID{b}, ids)
}

func TestOpenTruncatesTornTail(t *testing.T) {
	s, path := openTestStore(t, 128)

	_, err := s.Allocate(record.KindNode)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Simulate an extension that crashed before the header update.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 128+17))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path, 128, false, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*128), info.Size())
	assert.Equal(t, uint64(2), reopened.BlockCount())
}

func TestOpenRejectsShortFile(t *testing.T) {
	s, path := openTestStore(t, 128)

	_, err := s.Allocate(record.KindNode)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, os.Truncate(path, 128+64))

	_, err = Open(path, 128, false, Options{})
	require.ErrorIs(t, err, ErrFormat)
}

func TestFreeListDetectsCorruption(t *testing.T) {
	s, _ := openTestStore(t, 128)

	a, err := s.Allocate(record.KindNode)
	require.NoError(t, err)
	require.NoError(t, s.Free(a))

	// Reallocating the block behind the store's back leaves a free list
	// head that is no longer free.
	require.NoError(t, s.writeBlock(a, record.BlockHeader{Kind: record.KindNode}, nil))

	_, err = s.FreeList()
	require.ErrorIs(t, err, ErrConsistency)

	_, err = s.Allocate(record.KindNode)
	require.ErrorIs(t, err, ErrConsistency)
}

func TestFreeListDetectsCycle(t *testing.T) {
	s, _ := openTestStore(t, 128)

	a, err := s.Allocate(record.KindNode)
	require.NoError(t, err)
	require.NoError(t, s.Free(a))
	require.NoError(t, s.writeBlock(a, record.BlockHeader{Kind: record.KindFree, Next: uint64(a)}, nil))

	_, err = s.FreeList()
	require.ErrorIs(t, err, ErrConsistency)
}

func TestScanVisitsEveryBlock(t *testing.T) {
	s, _ := openTestStore(t, 128)

	for _, k := range []record.Kind{record.KindNode, record.KindArray, record.KindBlob} {
		_, err := s.Allocate(k)
		require.NoError(t, err)
	}
	require.NoError(t, s.Free(2))

	var kinds []record.Kind
	err := s.Scan(func(id ID, b *Block, err error) error {
		require.NoError(t, err)
		kinds = append(kinds, b.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []record.Kind{record.KindNode, record.KindFree, record.KindBlob}, kinds)

	visited := 0
	err = s.Scan(func(ID, *Block, error) error {
		visited++
		return ErrStopScan
	})
	require.NoError(t, err)
	assert.Equal(t, 1, visited)
}

func TestClosedStore(t *testing.T) {
	s, _ := openTestStore(t, 128)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Allocate(record.KindNode)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Sync(), ErrClosed)
}
