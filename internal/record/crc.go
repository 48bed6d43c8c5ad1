package record

import (
	"hash/crc32"

	"github.com/zeebo/blake3"
)

// CalculateCRC computes the CRC32 checksum of a block body using the IEEE polynomial.
func CalculateCRC(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// UpdateCRC extends a running CRC32 checksum with data.
func UpdateCRC(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}

const DigestSizeBytes = 32

// Digest is the BLAKE3-256 sum of a logical blob payload. It is stored in the
// blob header and checked on every read.
func Digest(data []byte) [DigestSizeBytes]byte {
	return blake3.Sum256(data)
}
