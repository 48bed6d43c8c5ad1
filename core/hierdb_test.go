package core_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/0xRadioAc7iv/go-hierdb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockData = "Hello World Hello World Hello World Hello World"

func openTestDB(t *testing.T, blockSize int, opts ...core.Option) (*core.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := core.Open(path, blockSize, true, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db, path
}

func addFile(t *testing.T, c *core.Cursor, name string, withData bool) {
	t.Helper()

	_, err := c.CreateEntry(name)
	require.NoError(t, err)

	if withData {
		require.NoError(t, c.SetData([]byte(blockData)))
	}

	hasData, err := c.HasData()
	require.NoError(t, err)
	assert.Equal(t, withData, hasData)
}

func addDirectory(t *testing.T, c *core.Cursor, name string) {
	t.Helper()

	_, err := c.CreateEntry(name)
	require.NoError(t, err)
	require.NoError(t, c.CreateChildArray())

	canDescend, err := c.CanDescend()
	require.NoError(t, err)
	assert.True(t, canDescend)
}

func seek(t *testing.T, c *core.Cursor, name string) bool {
	t.Helper()

	ok, err := c.SeekTo(name)
	require.NoError(t, err)
	return ok
}

func TestHierarchyScenario(t *testing.T) {
	db, _ := openTestDB(t, 0)
	c := db.NewCursor()

	addFile(t, c, "file1", true)
	addFile(t, c, "file2", false)
	addFile(t, c, "file3", false)

	addDirectory(t, c, "dir1")
	addDirectory(t, c, "dir2")
	addDirectory(t, c, "dir3")

	require.True(t, seek(t, c, "file1"))
	data, err := c.GetData()
	require.NoError(t, err)
	assert.Equal(t, blockData, string(data))

	require.True(t, seek(t, c, "dir1"))
	require.NoError(t, c.Descend())
	addFile(t, c, "dir1_file1", false)
	require.NoError(t, c.Ascend())

	require.True(t, seek(t, c, "file1"))
	require.NoError(t, c.RemoveData())
	require.NoError(t, c.DeleteEntry())

	require.True(t, seek(t, c, "file2"))
	require.NoError(t, c.DeleteEntry())

	assert.False(t, seek(t, c, "file1"))
	assert.False(t, seek(t, c, "file2"))
	assert.True(t, seek(t, c, "file3"))

	require.True(t, seek(t, c, "dir2"))
	require.NoError(t, c.DeleteChildArray())
	require.NoError(t, c.DeleteEntry())

	assert.True(t, seek(t, c, "dir1"))
	assert.False(t, seek(t, c, "dir2"))
	assert.True(t, seek(t, c, "dir3"))

	for name, want := range map[string]bool{"dir1": true, "dir3": true, "file3": false} {
		require.True(t, seek(t, c, name))
		canDescend, err := c.CanDescend()
		require.NoError(t, err)
		assert.Equal(t, want, canDescend, name)
	}

	names, err := c.Entries()
	require.NoError(t, err)
	assert.Equal(t, []string{"dir1", "dir3", "file3"}, names)

	require.NoError(t, db.AssertAllBlocksValid())
}

func TestOpenDefaultsAndStats(t *testing.T) {
	db, path := openTestDB(t, 0)

	stats := db.Stats()
	assert.Equal(t, path, stats.Path)
	assert.Equal(t, core.DefaultBlockSize, stats.BlockSize)
	assert.Equal(t, uint64(2), stats.Blocks, "header plus root child array")
	assert.Equal(t, uint64(0), stats.FreeBlocks)
	assert.Equal(t, uint64(2*core.DefaultBlockSize), stats.FileSize)
	assert.False(t, stats.Created.IsZero())
	assert.Equal(t, core.DefaultBlockSize-34, db.MaxNameSize())
}

func TestOpenMissingStoreWithoutCreate(t *testing.T) {
	_, err := core.Open(filepath.Join(t.TempDir(), "missing.db"), 0, false)
	require.ErrorIs(t, err, core.ErrIO)
}

func TestOpenLockedStore(t *testing.T) {
	_, path := openTestDB(t, 256)

	_, err := core.Open(path, 256, false)
	require.ErrorIs(t, err, core.ErrLocked)
}

func TestReopenPersistsHierarchy(t *testing.T) {
	db, path := openTestDB(t, 256)
	c := db.NewCursor()

	addDirectory(t, c, "etc")
	require.NoError(t, c.Descend())
	addFile(t, c, "passwd", true)
	id := db.Stats().StoreID
	require.NoError(t, db.Close())

	reopened, err := core.Open(path, 0, false)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, id, reopened.Stats().StoreID)
	assert.Equal(t, 256, reopened.BlockSize())

	c = reopened.NewCursor()
	require.True(t, seek(t, c, "etc"))
	require.NoError(t, c.Descend())
	require.True(t, seek(t, c, "passwd"))

	data, err := c.GetData()
	require.NoError(t, err)
	assert.Equal(t, blockData, string(data))

	require.NoError(t, reopened.AssertAllBlocksValid())
}

func TestReopenWithTruncateDiscardsContent(t *testing.T) {
	db, path := openTestDB(t, 256)
	addFile(t, db.NewCursor(), "stale", false)
	require.NoError(t, db.Close())

	fresh, err := core.Open(path, 256, true, core.WithTruncate())
	require.NoError(t, err)
	defer fresh.Close()

	names, err := fresh.NewCursor().Entries()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCompressionShrinksStoredPayload(t *testing.T) {
	payload := bytes.Repeat([]byte("hello hierdb "), 1000)

	plain, _ := openTestDB(t, 0)
	packed, _ := openTestDB(t, 0, core.WithCompression(core.DefaultCompressionMinSize))

	for _, db := range []*core.DB{plain, packed} {
		c := db.NewCursor()
		addFile(t, c, "log", false)
		require.NoError(t, c.SetData(payload))

		data, err := c.GetData()
		require.NoError(t, err)
		assert.Equal(t, payload, data)
		require.NoError(t, db.AssertAllBlocksValid())
	}

	assert.Less(t, packed.Stats().Blocks, plain.Stats().Blocks)
}

func TestConsistencyAfterChurn(t *testing.T) {
	db, _ := openTestDB(t, 128)
	c := db.NewCursor()

	addDirectory(t, c, "a")
	require.NoError(t, c.Descend())
	for i := 0; i < 30; i++ {
		name := string(rune('a'+i%26)) + string(rune('0'+i/26))
		addFile(t, c, name, i%3 == 0)
	}
	require.NoError(t, db.AssertAllBlocksValid())

	for err := c.SeekBegin(); !c.Done(); err = c.Next() {
		require.NoError(t, err)

		hasData, err := c.HasData()
		require.NoError(t, err)
		if hasData {
			require.NoError(t, c.RemoveData())
		}
		require.NoError(t, c.DeleteEntry())
	}
	require.NoError(t, c.Ascend())

	require.True(t, seek(t, c, "a"))
	require.NoError(t, c.DeleteChildArray())
	require.NoError(t, c.DeleteEntry())

	require.NoError(t, db.AssertAllBlocksValid())

	stats := db.Stats()
	assert.Equal(t, stats.Blocks-2, stats.FreeBlocks, "everything but the header and root is free")
}
