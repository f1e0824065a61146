package index

import "fmt"

// Offsets is a read-only line offset table: At(i) is the byte offset at
// which line i begins.
type Offsets interface {
	Len() int
	At(i int) int64
}

// SliceOffsets is an in-memory offset table.
type SliceOffsets []int64

func (s SliceOffsets) Len() int       { return len(s) }
func (s SliceOffsets) At(i int) int64 { return s[i] }

// Verify checks the offset table invariants: entry 0 is 0, entries are
// strictly increasing, and every entry lies inside a source of sourceSize
// bytes. It reads every entry once.
func Verify(o Offsets, sourceSize int64) error {
	n := o.Len()
	if n == 0 {
		return nil
	}
	if first := o.At(0); first != 0 {
		return fmt.Errorf("%w: first offset is %d, want 0", ErrCorruptIndex, first)
	}
	prev := int64(0)
	for i := 1; i < n; i++ {
		cur := o.At(i)
		if cur <= prev {
			return fmt.Errorf("%w: offset %d (%d) not after offset %d (%d)", ErrCorruptIndex, i, cur, i-1, prev)
		}
		prev = cur
	}
	if prev >= sourceSize {
		return fmt.Errorf("%w: last offset %d beyond source size %d", ErrCorruptIndex, prev, sourceSize)
	}
	return nil
}
