// Package boolcoder implements the VP8 boolean entropy decoder (RFC 6386
// section 7) with the register layout hardware decoders expect to resume from.
package boolcoder

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/rcarmo/go-vp8/internal/vp8"
)

// MinInitBytes is the number of bytes Init loads into the value register.
const MinInitBytes = 4

// Decoder decodes probability-weighted binary symbols from one partition.
// The value register is a 32-bit window whose top byte is compared against
// the split; the low bits are look-ahead. bitCount is 8 minus the number of
// zero bits shifted into the bottom of the window since the last refill.
type Decoder struct {
	buf      []byte
	value    uint32
	rng      uint32
	bitCount int32
	pos      uint32
}

// State is the residual decoder state handed to hardware so it can resume
// decoding the partition where the header parser stopped.
type State struct {
	Range    uint32 `json:"range"`
	Value    uint32 `json:"value"`
	BitCount int32  `json:"bitCount"`
	Pos      uint32 `json:"pos"`
}

// New returns a decoder initialised over buf.
func New(buf []byte) (*Decoder, error) {
	d := &Decoder{}
	if err := d.Init(buf); err != nil {
		return nil, err
	}
	return d, nil
}

// Init loads the first four bytes of buf big-endian into the value register.
// The decoder borrows buf and must not outlive it.
func (d *Decoder) Init(buf []byte) error {
	if len(buf) < MinInitBytes {
		return fmt.Errorf("boolcoder: init with %d bytes: %w", len(buf), vp8.ErrMoreData)
	}

	d.buf = buf
	d.value = binary.BigEndian.Uint32(buf)
	d.rng = 255
	d.bitCount = 8
	d.pos = MinInitBytes

	return nil
}

// DecodeBit decodes one symbol whose probability of being zero is prob/256.
func (d *Decoder) DecodeBit(prob uint8) uint32 {
	split := 1 + (((d.rng - 1) * uint32(prob)) >> 8)
	bigSplit := split << 24

	var bit uint32
	if d.value >= bigSplit {
		d.rng -= split
		d.value -= bigSplit
		bit = 1
	} else {
		d.rng = split
	}

	if d.rng < 0x80 {
		shift := normShift(d.rng)
		d.rng <<= shift
		d.value <<= shift
		d.bitCount -= int32(shift)

		// shift is at most 7, so one byte always restores bitCount to [1,8]
		if d.bitCount <= 0 {
			d.value |= uint32(d.nextByte()) << uint(-d.bitCount)
			d.bitCount += 8
		}
	}

	return bit
}

// Decode decodes n symbols MSB-first, each with probability prob.
func (d *Decoder) Decode(n int, prob uint8) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = (v << 1) | d.DecodeBit(prob)
	}
	return v
}

// DecodeLiteral decodes an n-bit unsigned literal at probability 128.
func (d *Decoder) DecodeLiteral(n int) uint32 {
	return d.Decode(n, 128)
}

// DecodeFlag decodes a single bit at probability 128.
func (d *Decoder) DecodeFlag() bool {
	return d.DecodeBit(128) == 1
}

// Pos returns the offset of the next unread byte. It keeps counting past the
// end of the buffer.
func (d *Decoder) Pos() uint32 { return d.pos }

// BitCount returns the number of valid bits left in the current input byte.
func (d *Decoder) BitCount() int32 { return d.bitCount }

// Range returns the arithmetic range register.
func (d *Decoder) Range() uint32 { return d.rng }

// Value returns the 32-bit value window.
func (d *Decoder) Value() uint32 { return d.value }

// State returns a copy of the decoder registers.
func (d *Decoder) State() State {
	return State{
		Range:    d.rng,
		Value:    d.value,
		BitCount: d.bitCount,
		Pos:      d.pos,
	}
}

// ConsumedBits returns the number of input bits consumed so far.
func (d *Decoder) ConsumedBits() int {
	return int(d.pos)*8 - 24 - int(d.bitCount)
}

// nextByte reads past the end as zero, matching the padding encoders emit.
func (d *Decoder) nextByte() byte {
	var b byte
	if int(d.pos) < len(d.buf) {
		b = d.buf[d.pos]
	}
	d.pos++
	return b
}

// normShift returns the left shift that brings rng in [1,127] back to [128,255].
func normShift(rng uint32) uint32 {
	return uint32(bits.LeadingZeros8(uint8(rng)))
}
