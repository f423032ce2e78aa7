package histfile

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/exp/mmap"
)

// recordSize is the on-disk footprint of one BinaryBar: seven 64-bit fields,
// little-endian, no padding.
const recordSize = 56

// Reader serves fixed-size bar records out of a memory-mapped flat file.
// Records are sorted by timestamp, one symbol per file.
type Reader struct {
	path string
	mm   *mmap.ReaderAt
}

func Open(path string) (*Reader, error) {
	mm, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bar file %q: %w", path, err)
	}
	if mm.Len()%recordSize != 0 {
		_ = mm.Close()
		return nil, fmt.Errorf("bar file %q: size %d is not a whole number of records", path, mm.Len())
	}
	return &Reader{path: path, mm: mm}, nil
}

func (r *Reader) Close() error { return r.mm.Close() }

// Len returns the record count.
func (r *Reader) Len() int { return r.mm.Len() / recordSize }

// At decodes the record at index i.
func (r *Reader) At(i int) (BinaryBar, error) {
	var buf [recordSize]byte
	if _, err := r.mm.ReadAt(buf[:], int64(i)*recordSize); err != nil {
		return BinaryBar{}, fmt.Errorf("bar file %q: record %d: %w", r.path, i, err)
	}
	return BinaryBar{
		TimeStamp: int64(binary.LittleEndian.Uint64(buf[0:])),
		Open:      math.Float64frombits(binary.LittleEndian.Uint64(buf[8:])),
		High:      math.Float64frombits(binary.LittleEndian.Uint64(buf[16:])),
		Low:       math.Float64frombits(binary.LittleEndian.Uint64(buf[24:])),
		Close:     math.Float64frombits(binary.LittleEndian.Uint64(buf[32:])),
		Volume:    int64(binary.LittleEndian.Uint64(buf[40:])),
		Amount:    math.Float64frombits(binary.LittleEndian.Uint64(buf[48:])),
	}, nil
}
