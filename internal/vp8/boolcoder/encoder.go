package boolcoder

// Encoder is the RFC 6386 boolean encoder. It produces test vectors and
// synthetic partitions for the header parser.
type Encoder struct {
	out      []byte
	rng      uint32
	bottom   uint32
	bitCount int
}

// NewEncoder returns an encoder with an empty output buffer.
func NewEncoder() *Encoder {
	return &Encoder{
		rng:      255,
		bitCount: 24,
	}
}

// EncodeBit writes one symbol with probability-of-zero prob/256.
func (e *Encoder) EncodeBit(bit bool, prob uint8) {
	split := 1 + (((e.rng - 1) * uint32(prob)) >> 8)
	if bit {
		e.bottom += split
		e.rng -= split
	} else {
		e.rng = split
	}

	for e.rng < 128 {
		e.rng <<= 1
		if e.bottom&(1<<31) != 0 {
			e.carry()
		}
		e.bottom <<= 1
		e.bitCount--
		if e.bitCount == 0 {
			e.out = append(e.out, byte(e.bottom>>24))
			e.bottom &= (1 << 24) - 1
			e.bitCount = 8
		}
	}
}

// Encode writes the low n bits of v MSB-first, each with probability prob.
func (e *Encoder) Encode(v uint32, n int, prob uint8) {
	for i := n - 1; i >= 0; i-- {
		e.EncodeBit((v>>uint(i))&1 == 1, prob)
	}
}

// EncodeLiteral writes an n-bit literal at probability 128.
func (e *Encoder) EncodeLiteral(v uint32, n int) {
	e.Encode(v, n, 128)
}

// EncodeFlag writes a single bit at probability 128.
func (e *Encoder) EncodeFlag(b bool) {
	e.EncodeBit(b, 128)
}

// Bytes pads the stream with 32 zero symbols, flushes the pending bits and
// returns the output. The encoder must not be used afterwards.
func (e *Encoder) Bytes() []byte {
	for i := 0; i < 32; i++ {
		e.EncodeBit(false, 128)
	}

	c := e.bitCount
	v := e.bottom
	if v&(1<<uint(32-c)) != 0 {
		e.carry()
	}
	v <<= uint(c & 7)
	for c >>= 3; c > 0; c-- {
		v <<= 8
	}
	for i := 0; i < 4; i++ {
		e.out = append(e.out, byte(v>>24))
		v <<= 8
	}

	return e.out
}

func (e *Encoder) carry() {
	for i := len(e.out) - 1; i >= 0; i-- {
		if e.out[i] != 0xFF {
			e.out[i]++
			return
		}
		e.out[i] = 0
	}
}
