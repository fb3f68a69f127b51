package header

import (
	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/boolcoder"
)

// Magnitude widths of sign+magnitude fields.
const (
	quantFeatureBits      = 7
	loopFilterFeatureBits = 6
	lfDeltaBits           = 6
)

// DecodeSigned reads a magnitudeBits+1 bit literal whose low bit is the sign
// and whose upper bits are the magnitude.
func DecodeSigned(d *boolcoder.Decoder, magnitudeBits int) int32 {
	bits := d.DecodeLiteral(magnitudeBits + 1)
	v := int32(bits >> 1)
	if bits&1 != 0 {
		v = -v
	}
	return v
}

// DecodeDeltaQP reads the five quantizer deltas in the order Y-DC, Y2-DC,
// Y2-AC, UV-DC, UV-AC.
//
// A 5-bit literal is read first and holds the leading flag bits. Each delta
// whose flag is set pulls 5 more bits into the same accumulator, from which
// the 4-bit magnitude is taken at the flag's shift and the following bit
// is the sign. The result equals reading flag, magnitude and sign per delta.
func DecodeDeltaQP(d *boolcoder.Decoder) [5]int32 {
	var deltas [5]int32

	bits := d.DecodeLiteral(5)
	if bits == 0 {
		return deltas
	}

	for i, shift := range [5]uint{5, 4, 3, 2, 1} {
		mask := uint32(1) << (shift - 1)
		if bits&mask == 0 {
			continue
		}
		bits = bits<<5 | d.DecodeLiteral(5)
		v := int32((bits >> shift) & 0xF)
		if bits&mask != 0 {
			v = -v
		}
		deltas[i] = v
	}

	return deltas
}

func parseSegmentation(d *boolcoder.Decoder, st *state, info *FrameInfo) {
	bits := d.DecodeLiteral(2)
	info.UpdateSegmentMap = bits>>1 == 1
	info.UpdateSegmentData = bits&1 == 1

	if info.UpdateSegmentData {
		st.segmentAbsMode = d.DecodeFlag()
		st.segmentFeatureData = [vp8.NumFeatures][vp8.NumSegments]int8{}

		for i := 0; i < vp8.NumFeatures; i++ {
			width := quantFeatureBits
			if i == vp8.FeatureLoopFilter {
				width = loopFilterFeatureBits
			}
			for j := 0; j < vp8.NumSegments; j++ {
				if d.DecodeFlag() {
					st.segmentFeatureData[i][j] = int8(DecodeSigned(d, width))
				}
			}
		}
	}

	if info.UpdateSegmentMap {
		for i := range st.segmentTreeProbs {
			st.segmentTreeProbs[i] = 255
			if d.DecodeFlag() {
				st.segmentTreeProbs[i] = uint8(d.DecodeLiteral(8))
			}
		}
	}
}

func parseLoopFilter(d *boolcoder.Decoder, st *state, info *FrameInfo) {
	bits := d.DecodeLiteral(7)
	info.LoopFilterType = uint8(bits >> 6)
	info.LoopFilterLevel = uint8(bits & 0x3F)

	bits = d.DecodeLiteral(4)
	info.SharpnessLevel = uint8(bits >> 1)
	info.LoopFilterAdjust = bits&1 == 1

	if info.LoopFilterAdjust {
		info.LoopFilterDeltaUpdate = d.DecodeFlag()
		if info.LoopFilterDeltaUpdate {
			for i := range st.refLFDeltas {
				if d.DecodeFlag() {
					st.refLFDeltas[i] = int8(DecodeSigned(d, lfDeltaBits))
				}
			}
			for i := range st.modeLFDeltas {
				if d.DecodeFlag() {
					st.modeLFDeltas[i] = int8(DecodeSigned(d, lfDeltaBits))
				}
			}
		}
	}

	info.RefLFDeltas = st.refLFDeltas
	info.ModeLFDeltas = st.modeLFDeltas
}

func parseQuant(d *boolcoder.Decoder, info *FrameInfo) QuantInfo {
	var q QuantInfo

	q.YACQP = int32(d.DecodeLiteral(7))
	deltas := DecodeDeltaQP(d)
	q.YDCDelta, q.Y2DCDelta, q.Y2ACDelta, q.UVDCDelta, q.UVACDelta =
		deltas[0], deltas[1], deltas[2], deltas[3], deltas[4]

	resolveSegmentQuant(&q, info)
	return q
}

// resolveSegmentQuant fills the per-segment indices from the base index, the
// segment quantizer feature and the deltas.
func resolveSegmentQuant(q *QuantInfo, info *FrameInfo) {
	clamp := func(v int32) int32 { return vp8.Clamp(v, 0, vp8.MaxQIndex) }

	for s := 0; s < vp8.NumSegments; s++ {
		qp := q.YACQP
		if info.SegmentationEnabled {
			feature := int32(info.SegmentFeatureData[vp8.FeatureQuant][s])
			if info.SegmentAbsMode {
				qp = clamp(feature)
			} else {
				qp = clamp(q.YACQP + feature)
			}
		}

		q.YACQ[s] = qp
		q.YDCQ[s] = clamp(qp + q.YDCDelta)
		q.Y2ACQ[s] = clamp(qp + q.Y2ACDelta)
		q.Y2DCQ[s] = clamp(qp + q.Y2DCDelta)
		q.UVACQ[s] = clamp(qp + q.UVACDelta)
		q.UVDCQ[s] = clamp(qp + q.UVDCDelta)
	}
}
