// Package headertest builds synthetic VP8 frames for tests. Frames are
// encoded with the boolean encoder so every header field can be chosen.
package headertest

import (
	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/boolcoder"
	"github.com/rcarmo/go-vp8/internal/vp8/probs"
)

// Segmentation describes the segmentation header fields. Feature values and
// tree probabilities are sent only when non-zero and not 255 respectively.
type Segmentation struct {
	UpdateMap  bool
	UpdateData bool
	AbsMode    bool
	Features   [vp8.NumFeatures][vp8.NumSegments]int8
	TreeProbs  [vp8.NumSegmentTreeProbs]uint8
}

// LoopFilter describes the loop filter fields. Deltas are sent only when
// non-zero.
type LoopFilter struct {
	Type        uint8
	Level       uint8
	Sharpness   uint8
	Adjust      bool
	DeltaUpdate bool
	RefDeltas   [vp8.NumRefFrames]int8
	ModeDeltas  [vp8.NumModeLFDeltas]int8
}

// CoeffIndex addresses one coefficient probability.
type CoeffIndex struct{ Plane, Band, Context, Node int }

// MVIndex addresses one motion vector probability.
type MVIndex struct{ List, Entry int }

// Frame describes a frame to build. The zero value is a shown inter frame
// with every optional field absent.
type Frame struct {
	Key     bool
	Version uint8
	Hidden  bool

	Width, Height  int
	HScale, VScale uint8
	ColorSpace     uint8
	Clamping       uint8

	Segmentation *Segmentation
	LoopFilter   LoopFilter

	// Log2Partitions selects 1, 2, 4 or 8 token partitions.
	Log2Partitions uint8
	// TokenPayloads overrides the generated token partitions.
	TokenPayloads [][]byte

	YACQP uint8
	// QDeltas are Y-DC, Y2-DC, Y2-AC, UV-DC and UV-AC in [-15, 15].
	QDeltas [5]int8

	RefreshMask  uint8
	CopyGolden   uint8
	CopyAltref   uint8
	SignBiasGold bool
	SignBiasAlt  bool
	RefreshLast  bool

	RefreshProbs bool
	CoeffUpdates map[CoeffIndex]uint8

	SkipEnabled bool
	SkipProb    uint8

	IntraProb, LastProb, GoldenProb uint8
	YModeProbs                      *[probs.NumYModeProbs]uint8
	UVModeProbs                     *[probs.NumUVModeProbs]uint8
	// MVUpdates maps an entry to the 7-bit value sent for it.
	MVUpdates map[MVIndex]uint8

	// ModeBits is the number of literal bits of stand-in macroblock data
	// appended to the first partition after the header.
	ModeBits int
}

// KeyFrame returns a shown key frame of the given size with default fields.
func KeyFrame(width, height int) Frame {
	return Frame{Key: true, Width: width, Height: height, RefreshProbs: true}
}

// InterFrame returns a shown inter frame that refreshes the last frame.
func InterFrame() Frame {
	return Frame{RefreshLast: true, RefreshProbs: true}
}

func encodeSigned(e *boolcoder.Encoder, v int8, magnitudeBits int) {
	m := uint32(v)
	sign := uint32(0)
	if v < 0 {
		m = uint32(-int32(v))
		sign = 1
	}
	e.EncodeLiteral(m<<1|sign, magnitudeBits+1)
}

// FirstPartition encodes the compressed header of f.
func (f Frame) FirstPartition() []byte {
	e := boolcoder.NewEncoder()

	if f.Key {
		e.EncodeLiteral(uint32(f.ColorSpace)<<1|uint32(f.Clamping), 2)
	}

	e.EncodeFlag(f.Segmentation != nil)
	if s := f.Segmentation; s != nil {
		e.EncodeFlag(s.UpdateMap)
		e.EncodeFlag(s.UpdateData)
		if s.UpdateData {
			e.EncodeFlag(s.AbsMode)
			for i := 0; i < vp8.NumFeatures; i++ {
				for j := 0; j < vp8.NumSegments; j++ {
					v := s.Features[i][j]
					e.EncodeFlag(v != 0)
					if v != 0 {
						encodeSigned(e, v, 7-i)
					}
				}
			}
		}
		if s.UpdateMap {
			for _, p := range s.TreeProbs {
				e.EncodeFlag(p != 255)
				if p != 255 {
					e.EncodeLiteral(uint32(p), 8)
				}
			}
		}
	}

	lf := f.LoopFilter
	e.EncodeLiteral(uint32(lf.Type)<<6|uint32(lf.Level&0x3F), 7)
	adjust := uint32(0)
	if lf.Adjust {
		adjust = 1
	}
	e.EncodeLiteral(uint32(lf.Sharpness)<<1|adjust, 4)
	if lf.Adjust {
		e.EncodeFlag(lf.DeltaUpdate)
		if lf.DeltaUpdate {
			for _, v := range lf.RefDeltas {
				e.EncodeFlag(v != 0)
				if v != 0 {
					encodeSigned(e, v, 6)
				}
			}
			for _, v := range lf.ModeDeltas {
				e.EncodeFlag(v != 0)
				if v != 0 {
					encodeSigned(e, v, 6)
				}
			}
		}
	}

	e.EncodeLiteral(uint32(f.Log2Partitions), 2)

	e.EncodeLiteral(uint32(f.YACQP), 7)
	for _, d := range f.QDeltas {
		e.EncodeFlag(d != 0)
		if d != 0 {
			encodeSigned(e, d, 4)
		}
	}

	if !f.Key {
		e.EncodeLiteral(uint32(f.RefreshMask), 2)
		if f.RefreshMask&2 == 0 {
			e.EncodeLiteral(uint32(f.CopyGolden), 2)
		}
		if f.RefreshMask&1 == 0 {
			e.EncodeLiteral(uint32(f.CopyAltref), 2)
		}
		e.EncodeFlag(f.SignBiasGold)
		e.EncodeFlag(f.SignBiasAlt)
	}

	e.EncodeFlag(f.RefreshProbs)
	if !f.Key {
		e.EncodeFlag(f.RefreshLast)
	}

	for i := 0; i < probs.NumPlanes; i++ {
		for j := 0; j < probs.NumBands; j++ {
			for k := 0; k < probs.NumContexts; k++ {
				for l := 0; l < probs.NumNodes; l++ {
					v, ok := f.CoeffUpdates[CoeffIndex{i, j, k, l}]
					e.EncodeBit(ok, probs.CoeffUpdateProbs[i][j][k][l])
					if ok {
						e.EncodeLiteral(uint32(v), 8)
					}
				}
			}
		}
	}

	e.EncodeFlag(f.SkipEnabled)
	if f.SkipEnabled {
		e.EncodeLiteral(uint32(f.SkipProb), 8)
	}

	if !f.Key {
		e.EncodeLiteral(uint32(f.IntraProb), 8)
		e.EncodeLiteral(uint32(f.LastProb), 8)
		e.EncodeLiteral(uint32(f.GoldenProb), 8)

		e.EncodeFlag(f.YModeProbs != nil)
		if f.YModeProbs != nil {
			for _, p := range f.YModeProbs {
				e.EncodeLiteral(uint32(p), 8)
			}
		}
		e.EncodeFlag(f.UVModeProbs != nil)
		if f.UVModeProbs != nil {
			for _, p := range f.UVModeProbs {
				e.EncodeLiteral(uint32(p), 8)
			}
		}

		for i := 0; i < probs.NumMVLists; i++ {
			for j := 0; j < probs.NumMVProbs; j++ {
				v, ok := f.MVUpdates[MVIndex{i, j}]
				e.EncodeBit(ok, probs.MVUpdateProbs[i][j])
				if ok {
					e.EncodeLiteral(uint32(v&0x7F), 7)
				}
			}
		}
	}

	for i := 0; i < f.ModeBits; i++ {
		e.EncodeFlag(i%3 == 0)
	}

	return e.Bytes()
}

// Tag returns the 3-byte frame tag for a first partition of firstSize bytes.
func (f Frame) Tag(firstSize int) []byte {
	raw := uint32(f.Version&7)<<1 | uint32(firstSize)<<5
	if !f.Key {
		raw |= 1
	}
	if !f.Hidden {
		raw |= 1 << 4
	}
	return []byte{byte(raw), byte(raw >> 8), byte(raw >> 16)}
}

// TokenPartitions returns the token partition payloads.
func (f Frame) TokenPartitions() [][]byte {
	if f.TokenPayloads != nil {
		return f.TokenPayloads
	}
	n := 1 << f.Log2Partitions
	parts := make([][]byte, n)
	for i := range parts {
		e := boolcoder.NewEncoder()
		e.EncodeLiteral(uint32(i), 8)
		parts[i] = e.Bytes()
	}
	return parts
}

// Bytes assembles the complete frame.
func (f Frame) Bytes() []byte {
	first := f.FirstPartition()

	out := f.Tag(len(first))
	if f.Key {
		out = append(out, vp8.StartCode[:]...)
		out = append(out,
			byte(f.Width), byte(f.Width>>8&0x3F)|f.HScale<<6,
			byte(f.Height), byte(f.Height>>8&0x3F)|f.VScale<<6)
	}
	out = append(out, first...)

	parts := f.TokenPartitions()
	for _, p := range parts[:len(parts)-1] {
		n := len(p)
		out = append(out, byte(n), byte(n>>8), byte(n>>16))
	}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
