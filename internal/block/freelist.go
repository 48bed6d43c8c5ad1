package block

import (
	"errors"
	"fmt"

	"github.com/0xRadioAc7iv/go-hierdb/internal/record"
)

// FreeList walks the free list from its head. It fails with ErrConsistency
// when the list leaves the file, revisits a block, reaches a block that is
// not free or disagrees with the free count of the header.
func (s *Store) FreeList() ([]ID, error) {
	ids := make([]ID, 0, s.hdr.FreeCount)
	seen := make(map[ID]struct{}, s.hdr.FreeCount)

	for id := ID(s.hdr.FreeHead); id != Nil; {
		if uint64(id) >= s.hdr.BlockCount {
			return ids, fmt.Errorf("%w: free list entry %d outside [1, %d)", ErrConsistency, id, s.hdr.BlockCount)
		}
		if _, dup := seen[id]; dup {
			return ids, fmt.Errorf("%w: free list visits block %d twice", ErrConsistency, id)
		}
		seen[id] = struct{}{}

		b, err := s.read(id)
		if err != nil {
			return ids, err
		}
		if b.Kind != record.KindFree {
			return ids, fmt.Errorf("%w: free list entry %d is a %s block", ErrConsistency, id, b.Kind)
		}

		ids = append(ids, id)
		id = b.Next
	}

	if uint64(len(ids)) != s.hdr.FreeCount {
		return ids, fmt.Errorf("%w: free list holds %d blocks, header counts %d", ErrConsistency, len(ids), s.hdr.FreeCount)
	}

	return ids, nil
}

// ErrStopScan can be returned by a Scan callback to end the scan early
// without an error.
var ErrStopScan = errors.New("stop scan")

// Scan calls fn for every block after the header, in file order. A block
// whose checksum fails is passed with a nil Block and the decoding error.
func (s *Store) Scan(fn func(id ID, b *Block, err error) error) error {
	for i := uint64(1); i < s.hdr.BlockCount; i++ {
		b, readErr := s.read(ID(i))
		if readErr != nil && errors.Is(readErr, ErrIO) {
			return readErr
		}

		if err := fn(ID(i), b, readErr); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}
