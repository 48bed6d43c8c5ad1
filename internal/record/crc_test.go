package record

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zeebo/blake3"
)

func TestCRC(t *testing.T) {
	data := []byte("Hello World Hello World")
	want := crc32.ChecksumIEEE(data)

	assert.Equal(t, want, CalculateCRC(data))
	assert.NotEqual(t, want, CalculateCRC(data[1:]))
}

func TestDigest(t *testing.T) {
	data := []byte("baseline")

	assert.Equal(t, blake3.Sum256(data), Digest(data))
	assert.NotEqual(t, Digest(data), Digest([]byte("baseline2")))
}

func TestUpdateCRC(t *testing.T) {
	a, b := []byte("Hello "), []byte("World")

	assert.Equal(t, CalculateCRC([]byte("Hello World")), UpdateCRC(CalculateCRC(a), b))
}
