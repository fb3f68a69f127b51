// Package partition computes the byte ranges of the first partition and the
// DCT token partitions of a compressed VP8 frame.
package partition

import (
	"fmt"

	"github.com/rcarmo/go-vp8/internal/vp8"
)

// sizeFieldLen is the width of each explicit token partition size.
const sizeFieldLen = 3

// Range is a half-open byte range [Offset, Offset+Size) within the frame buffer.
type Range struct {
	Offset int `json:"offset"`
	Size   int `json:"size"`
}

// End returns the offset one past the last byte of the range.
func (r Range) End() int { return r.Offset + r.Size }

// Slice returns the bytes of frame covered by r.
func (r Range) Slice(frame []byte) []byte {
	return frame[r.Offset:r.End()]
}

// Table holds the first partition and the token partitions of one frame.
type Table struct {
	First  Range   `json:"first"`
	Tokens []Range `json:"tokens"`
	// SizeTable is the range of the explicit token partition size fields.
	SizeTable Range `json:"sizeTable"`
}

// Count returns the number of token partitions.
func (t *Table) Count() int { return len(t.Tokens) }

// TokenSizes returns the size of each token partition in order.
func (t *Table) TokenSizes() []int {
	sizes := make([]int, len(t.Tokens))
	for i, r := range t.Tokens {
		sizes[i] = r.Size
	}
	return sizes
}

// Compute derives the partition layout of frame. headerSize is the length of
// the uncompressed chunk (3 or 10 bytes), firstSize the first partition size
// from the frame tag and count the number of token partitions (1, 2, 4 or 8).
//
// The first count-1 token partition sizes are 3-byte little-endian fields
// directly after the first partition; the last token partition runs to the
// end of frame. Any partition that would end past the frame returns
// vp8.ErrMoreData.
func Compute(frame []byte, headerSize, firstSize, count int) (Table, error) {
	if count < 1 || count > vp8.MaxTokenPartitions || count&(count-1) != 0 {
		return Table{}, fmt.Errorf("partition: invalid token partition count %d: %w", count, vp8.ErrMalformedStream)
	}

	end := len(frame)
	t := Table{
		First: Range{Offset: headerSize, Size: firstSize},
	}
	if t.First.End() > end {
		return Table{}, fmt.Errorf("partition: first partition ends at %d past %d: %w", t.First.End(), end, vp8.ErrMoreData)
	}

	t.SizeTable = Range{Offset: t.First.End(), Size: sizeFieldLen * (count - 1)}
	if t.SizeTable.End() > end {
		return Table{}, fmt.Errorf("partition: size table ends at %d past %d: %w", t.SizeTable.End(), end, vp8.ErrMoreData)
	}

	t.Tokens = make([]Range, count)
	start := t.SizeTable.End()
	for i := 0; i < count-1; i++ {
		p := frame[t.SizeTable.Offset+sizeFieldLen*i:]
		size := int(p[0]) | int(p[1])<<8 | int(p[2])<<16

		t.Tokens[i] = Range{Offset: start, Size: size}
		start += size
		if start > end {
			return Table{}, fmt.Errorf("partition: token partition %d ends at %d past %d: %w", i, start, end, vp8.ErrMoreData)
		}
	}
	t.Tokens[count-1] = Range{Offset: start, Size: end - start}

	return t, nil
}
